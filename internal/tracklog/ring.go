package tracklog

import (
	"errors"
	"io"
)

var errRingFull = errors.New("tracklog: buffer full")

// ring is a fixed-capacity byte FIFO. Its storage is allocated once; records
// are copied in and drained to the file in a single write.
type ring struct {
	buf     []byte
	scratch []byte
	start   int
	n       int
}

func newRing(size int) *ring {
	return &ring{buf: make([]byte, size), scratch: make([]byte, size)}
}

func (r *ring) Len() int  { return r.n }
func (r *ring) Cap() int  { return len(r.buf) }
func (r *ring) Free() int { return len(r.buf) - r.n }

// Write appends p whole or not at all.
func (r *ring) Write(p []byte) (int, error) {
	if len(p) > r.Free() {
		return 0, errRingFull
	}
	end := (r.start + r.n) % len(r.buf)
	k := copy(r.buf[end:], p)
	copy(r.buf, p[k:])
	r.n += len(p)
	return len(p), nil
}

// WriteTo drains the buffer to w. Bytes w did not accept stay buffered.
func (r *ring) WriteTo(w io.Writer) (int64, error) {
	if r.n == 0 {
		return 0, nil
	}
	var data []byte
	if r.start+r.n <= len(r.buf) {
		data = r.buf[r.start : r.start+r.n]
	} else {
		k := copy(r.scratch, r.buf[r.start:])
		copy(r.scratch[k:], r.buf[:r.n-k])
		data = r.scratch[:r.n]
	}
	written, err := w.Write(data)
	r.discard(written)
	return int64(written), err
}

func (r *ring) discard(k int) {
	if k >= r.n {
		r.start, r.n = 0, 0
		return
	}
	r.start = (r.start + k) % len(r.buf)
	r.n -= k
}
