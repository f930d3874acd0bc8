package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

// fakeBus emulates the receiver side of the register protocol.
type fakeBus struct {
	pending  []byte
	length   *uint32 // overrides len(pending) when set
	free     uint32
	written  []byte
	lastDesc []byte

	// failProbe rejects empty transactions to an address.
	failProbe map[uint16]bool
	// failTx rejects the next n non-empty transactions to an address; -1
	// rejects all of them.
	failTx map[uint16]int

	descs [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{failProbe: map[uint16]bool{}, failTx: map[uint16]int{}}
}

var errNack = errors.New("nack")

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		if b.failProbe[addr] {
			return errNack
		}
		return nil
	}
	if n := b.failTx[addr]; n != 0 {
		if n > 0 {
			b.failTx[addr] = n - 1
		}
		return errNack
	}

	switch addr {
	case AddrControl, AddrWriteCfg:
		b.lastDesc = append([]byte(nil), w...)
		b.descs = append(b.descs, b.lastDesc)
	case AddrReadData:
		switch binary.LittleEndian.Uint16(b.lastDesc[0:2]) {
		case regReadLength:
			n := uint32(len(b.pending))
			if b.length != nil {
				n = *b.length
			}
			binary.LittleEndian.PutUint32(r, n)
		case regFreeSpace:
			binary.LittleEndian.PutUint32(r, b.free)
		case regReadData:
			k := copy(r, b.pending)
			b.pending = b.pending[k:]
		}
	case AddrWriteData:
		b.written = append(b.written, w...)
	}
	return nil
}

func stubSleep(t *testing.T) *int {
	t.Helper()
	calls := 0
	old := sleep
	sleep = func(time.Duration) { calls++ }
	t.Cleanup(func() { sleep = old })
	return &calls
}

func TestDescriptor(t *testing.T) {
	want := []byte{0x08, 0x00, 0x51, 0xAA, 0x04, 0x00, 0x00, 0x00}
	if got := descriptor(regReadLength, 4); !bytes.Equal(got, want) {
		t.Fatalf("read length descriptor=% X want % X", got, want)
	}
	want = []byte{0x00, 0x21, 0x51, 0xAA, 0x10, 0x10, 0x00, 0x00}
	if got := descriptor(regWriteData, 0x1010); !bytes.Equal(got, want) {
		t.Fatalf("write data descriptor=% X want % X", got, want)
	}
}

func TestRegisterAcquire_NoData(t *testing.T) {
	stubSleep(t)
	r := NewRegister(newFakeBus(), RegisterOptions{})
	n, err := r.Acquire(make([]byte, 64))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
}

func TestRegisterAcquire_ReadsPayload(t *testing.T) {
	stubSleep(t)
	bus := newFakeBus()
	bus.pending = []byte("$GNRMC,092336.00,A*00\r\n")
	want := append([]byte(nil), bus.pending...)

	buf := make([]byte, 64)
	n, err := NewRegister(bus, RegisterOptions{}).Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("got %q want %q", buf[:n], want)
	}
}

func TestRegisterAcquire_LengthErrors(t *testing.T) {
	tests := []struct {
		name    string
		length  uint32
		bufSize int
		want    error
	}{
		{name: "over ceiling", length: MaxPayload + 1, bufSize: 64 * 1024, want: ErrMalformedLength},
		{name: "garbage length", length: 0xFFFFFFFF, bufSize: 64, want: ErrMalformedLength},
		{name: "buffer too small", length: 128, bufSize: 64, want: ErrBufferOverflow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stubSleep(t)
			bus := newFakeBus()
			l := tc.length
			bus.length = &l
			n, err := NewRegister(bus, RegisterOptions{}).Acquire(make([]byte, tc.bufSize))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if n != 0 {
				t.Fatalf("n=%d want 0", n)
			}
		})
	}
}

func TestRegisterAcquire_ChunksLargePayload(t *testing.T) {
	stubSleep(t)
	bus := newFakeBus()
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	bus.pending = append([]byte(nil), payload...)

	buf := make([]byte, MaxPayload)
	n, err := NewRegister(bus, RegisterOptions{}).Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != len(payload) || !bytes.Equal(buf[:n], payload) {
		t.Fatalf("payload mismatch: n=%d", n)
	}

	var sizes []uint32
	for _, d := range bus.descs {
		if binary.LittleEndian.Uint16(d[0:2]) == regReadData {
			sizes = append(sizes, binary.LittleEndian.Uint32(d[4:8]))
		}
	}
	want := []uint32{MaxChunk, MaxChunk, 10000 - 2*MaxChunk}
	if len(sizes) != len(want) {
		t.Fatalf("chunks=%v want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunks=%v want %v", sizes, want)
		}
	}
}

func TestRegisterAcquire_ProbeRecovery(t *testing.T) {
	tests := []struct {
		name      string
		failProbe []uint16
		want      RecoveryMode
		wantErr   error
	}{
		{name: "control ok", want: RecoveryNone},
		{name: "read data", failProbe: []uint16{AddrControl}, want: RecoveryReadData},
		{name: "write data", failProbe: []uint16{AddrControl, AddrReadData}, want: RecoveryWriteData},
		{name: "exhausted", failProbe: []uint16{AddrControl, AddrReadData, AddrWriteData}, wantErr: ErrNotResponding},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stubSleep(t)
			bus := newFakeBus()
			for _, a := range tc.failProbe {
				bus.failProbe[a] = true
			}
			bus.pending = []byte("x\r\n")
			r := NewRegister(bus, RegisterOptions{})
			_, err := r.Acquire(make([]byte, 16))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got := r.LastRecovery(); got != tc.want {
				t.Fatalf("recovery=%v want %v", got, tc.want)
			}
		})
	}
}

func TestRegisterAcquire_RetriesTransientFailure(t *testing.T) {
	sleeps := stubSleep(t)
	bus := newFakeBus()
	bus.pending = []byte("abc")
	bus.failTx[AddrReadData] = 1

	buf := make([]byte, 8)
	n, err := NewRegister(bus, RegisterOptions{Retries: 3, RetryDelay: time.Millisecond}).Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(buf[:n]) != "abc" {
		t.Fatalf("got %q", buf[:n])
	}
	if *sleeps != 1 {
		t.Fatalf("sleeps=%d want 1", *sleeps)
	}
}

func TestRegisterAcquire_RetriesExhausted(t *testing.T) {
	sleeps := stubSleep(t)
	bus := newFakeBus()
	bus.pending = []byte("abc")
	bus.failTx[AddrReadData] = -1

	_, err := NewRegister(bus, RegisterOptions{Retries: 3, RetryDelay: time.Millisecond}).Acquire(make([]byte, 8))
	if !errors.Is(err, ErrNotResponding) {
		t.Fatalf("err=%v want not responding", err)
	}
	if !errors.Is(err, errNack) {
		t.Fatalf("bus error not wrapped: %v", err)
	}
	if *sleeps != 2 {
		t.Fatalf("sleeps=%d want 2", *sleeps)
	}
}

func TestRegisterWriteCommand_SplitsByFreeSpace(t *testing.T) {
	stubSleep(t)
	bus := newFakeBus()
	bus.free = 10
	cmd := []byte("$PAIR062,0,1*3E\r\n$PAIR050,1000*12\r\n")

	if err := NewRegister(bus, RegisterOptions{}).WriteCommand(cmd); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !bytes.Equal(bus.written, cmd) {
		t.Fatalf("written=%q want %q", bus.written, cmd)
	}

	var sizes []uint32
	for _, d := range bus.descs {
		if binary.LittleEndian.Uint16(d[0:2]) == regWriteData {
			sizes = append(sizes, binary.LittleEndian.Uint32(d[4:8]))
		}
	}
	if len(sizes) != 4 || sizes[0] != 10 || sizes[3] != uint32(len(cmd)-30) {
		t.Fatalf("write chunks=%v", sizes)
	}
}

func TestRegisterWriteCommand_NoFreeSpace(t *testing.T) {
	sleeps := stubSleep(t)
	bus := newFakeBus()
	bus.free = 0
	err := NewRegister(bus, RegisterOptions{Retries: 2}).WriteCommand([]byte("$PAIR004*3E\r\n"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want timeout", err)
	}
	if *sleeps != 1 {
		t.Fatalf("sleeps=%d want 1", *sleeps)
	}
	if len(bus.written) != 0 {
		t.Fatalf("wrote %q with no free space", bus.written)
	}
}

func TestRetry(t *testing.T) {
	sleeps := stubSleep(t)
	calls := 0
	err := Retry(0, time.Second, func() error {
		calls++
		return errNack
	})
	if !errors.Is(err, errNack) || calls != 1 || *sleeps != 0 {
		t.Fatalf("err=%v calls=%d sleeps=%d", err, calls, *sleeps)
	}
}
