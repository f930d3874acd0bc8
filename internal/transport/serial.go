package transport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/tevino/abool/v2"
)

const (
	DefaultSerialMinBytes   = 256
	DefaultSerialInactivity = 50 * time.Millisecond
	DefaultSerialTimeout    = time.Second
)

type SerialOptions struct {
	PortName string
	BaudRate uint

	// A read ends at the first '\n' once MinBytes have been collected, after
	// Inactivity without a new byte, or at Timeout, whichever comes first.
	MinBytes   int
	Inactivity time.Duration
	Timeout    time.Duration

	Debug *abool.AtomicBool
}

func (o *SerialOptions) applyDefaults() {
	if o.MinBytes <= 0 {
		o.MinBytes = DefaultSerialMinBytes
	}
	if o.Inactivity <= 0 {
		o.Inactivity = DefaultSerialInactivity
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultSerialTimeout
	}
	if o.Debug == nil {
		o.Debug = abool.New()
	}
}

// Serial reads receiver output from a UART. The port must return from Read
// periodically with no data (a read timeout); OpenSerial configures that.
type Serial struct {
	port   io.ReadWriter
	closer io.Closer
	opts   SerialOptions
	now    func() time.Time

	readMu  sync.Mutex
	writeMu sync.Mutex
}

func NewSerial(port io.ReadWriter, opts SerialOptions) *Serial {
	opts.applyDefaults()
	s := &Serial{port: port, opts: opts, now: time.Now}
	if c, ok := port.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// go-serial applies read timeouts in steps of 100 ms.
const serialTimeoutStep = 100 * time.Millisecond

// interCharacterTimeout returns the port read timeout in milliseconds: the
// shorter of Inactivity and Timeout, rounded up to the 100 ms step. The port
// cannot return sooner than 100 ms, so Inactivity windows below that end a
// read after one step and Timeout can overrun by at most one step.
func interCharacterTimeout(opts SerialOptions) uint {
	d := opts.Inactivity
	if opts.Timeout < d {
		d = opts.Timeout
	}
	steps := (d + serialTimeoutStep - 1) / serialTimeoutStep
	if steps < 1 {
		steps = 1
	}
	return uint(steps * serialTimeoutStep / time.Millisecond)
}

// OpenSerial opens the UART 8N1 with a read timeout derived from the
// Inactivity and Timeout windows; see interCharacterTimeout.
func OpenSerial(opts SerialOptions) (*Serial, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = 115200
	}
	opts.applyDefaults()
	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: interCharacterTimeout(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", opts.PortName, err)
	}
	log.Printf("transport: serial port %s opened at %d baud", opts.PortName, opts.BaudRate)
	return NewSerial(port, opts), nil
}

// Acquire reads one burst of receiver output into buf, dropping bytes outside
// printable ASCII, CR, LF and TAB. A full buffer ends the read early.
func (s *Serial) Acquire(buf []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var b [1]byte
	n := 0
	start := s.now()
	last := start
	for n < len(buf) {
		now := s.now()
		if now.Sub(start) >= s.opts.Timeout {
			break
		}
		if n > 0 && now.Sub(last) >= s.opts.Inactivity {
			break
		}

		k, err := s.port.Read(b[:])
		if k == 1 {
			last = s.now()
			if keepByte(b[0]) {
				buf[n] = b[0]
				n++
			}
			if b[0] == '\n' && n >= s.opts.MinBytes {
				break
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return n, &TransportError{Kind: NotResponding, Op: "serial read", Err: err}
		}
	}

	if n == 0 {
		return 0, newError(Timeout, "serial read", "no data within %s", s.opts.Timeout)
	}
	if s.opts.Debug.IsSet() {
		log.Printf("transport: serial read %d bytes", n)
	}
	return n, nil
}

func (s *Serial) WriteCommand(cmd []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(cmd) > 0 {
		n, err := s.port.Write(cmd)
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &TransportError{Kind: NotResponding, Op: "serial write", Err: err}
		}
		cmd = cmd[n:]
	}
	return nil
}

func (s *Serial) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Sanitize removes bytes outside the allow-list in place and returns the
// shortened slice.
func Sanitize(b []byte) []byte {
	out := b[:0]
	for _, c := range b {
		if keepByte(c) {
			out = append(out, c)
		}
	}
	return out
}

func keepByte(c byte) bool {
	return (c >= 0x20 && c <= 0x7E) || c == '\r' || c == '\n' || c == '\t'
}
