package transport

import (
	"errors"
	"io"
	"testing"
	"time"
)

// fakePort serves data one byte per Read and then reports no data.
type fakePort struct {
	data    []byte
	endless byte // when non-zero, served forever after data runs out
	readErr error
	written []byte
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.data) > 0 {
		b[0] = p.data[0]
		p.data = p.data[1:]
		return 1, nil
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.endless != 0 {
		b[0] = p.endless
		return 1, nil
	}
	return 0, io.EOF
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.written = append(p.written, b...)
	return len(b), nil
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2025, 1, 23, 9, 23, 36, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestSerial(p *fakePort, opts SerialOptions) *Serial {
	s := NewSerial(p, opts)
	s.now = steppingClock(time.Millisecond)
	return s
}

func TestSerialAcquire_StopsAtLineAfterMinBytes(t *testing.T) {
	p := &fakePort{data: []byte("$A*00\r\n$GNRMC,1*00\r\n$GNGGA,2*00\r\n")}
	s := newTestSerial(p, SerialOptions{MinBytes: 10})

	buf := make([]byte, 128)
	n, err := s.Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := string(buf[:n]); got != "$A*00\r\n$GNRMC,1*00\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestSerialAcquire_InactivityEndsRead(t *testing.T) {
	p := &fakePort{data: []byte("$GNRMC,1")}
	s := newTestSerial(p, SerialOptions{MinBytes: 64, Inactivity: 20 * time.Millisecond, Timeout: time.Hour})

	buf := make([]byte, 128)
	n, err := s.Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := string(buf[:n]); got != "$GNRMC,1" {
		t.Fatalf("got %q", got)
	}
}

func TestSerialAcquire_TimeoutWithoutData(t *testing.T) {
	s := newTestSerial(&fakePort{}, SerialOptions{Timeout: 50 * time.Millisecond})
	n, err := s.Acquire(make([]byte, 16))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want timeout", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
}

func TestSerialAcquire_HardDeadlineOnEndlessStream(t *testing.T) {
	s := newTestSerial(&fakePort{endless: 'x'}, SerialOptions{Timeout: 30 * time.Millisecond})
	n, err := s.Acquire(make([]byte, 4096))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n == 0 || n >= 4096 {
		t.Fatalf("n=%d, expected the deadline to cut the read short", n)
	}
}

func TestSerialAcquire_FullBufferIsNotAnError(t *testing.T) {
	s := newTestSerial(&fakePort{data: []byte("$GNRMC,092336.00")}, SerialOptions{})
	buf := make([]byte, 6)
	n, err := s.Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(buf[:n]) != "$GNRMC" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestSerialAcquire_SanitizesControlBytes(t *testing.T) {
	p := &fakePort{data: []byte("\x00$GN\x07RMC,\x1b1*00\t\r\n")}
	s := newTestSerial(p, SerialOptions{MinBytes: 1})

	buf := make([]byte, 64)
	n, err := s.Acquire(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := string(buf[:n]); got != "$GNRMC,1*00\t\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestSerialAcquire_ReadError(t *testing.T) {
	boom := errors.New("device unplugged")
	s := newTestSerial(&fakePort{readErr: boom}, SerialOptions{})
	_, err := s.Acquire(make([]byte, 16))
	if !errors.Is(err, ErrNotResponding) || !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestSerialWriteCommand(t *testing.T) {
	p := &fakePort{}
	s := newTestSerial(p, SerialOptions{})
	if err := s.WriteCommand([]byte("$PAIR004*3E\r\n")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(p.written) != "$PAIR004*3E\r\n" {
		t.Fatalf("written=%q", p.written)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean", in: "$GNGGA,1*00\r\n", want: "$GNGGA,1*00\r\n"},
		{name: "high bytes", in: "$GN\xff\x80GGA", want: "$GNGGA"},
		{name: "nul and del", in: "\x00a\x7fb", want: "ab"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(Sanitize([]byte(tc.in))); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestInterCharacterTimeout(t *testing.T) {
	tests := []struct {
		inactivity, timeout time.Duration
		want                uint
	}{
		{DefaultSerialInactivity, DefaultSerialTimeout, 100},
		{time.Millisecond, time.Second, 100},
		{100 * time.Millisecond, time.Second, 100},
		{101 * time.Millisecond, time.Second, 200},
		{250 * time.Millisecond, time.Second, 300},
		{2 * time.Second, 400 * time.Millisecond, 400},
		{2 * time.Second, 450 * time.Millisecond, 500},
	}
	for _, tc := range tests {
		got := interCharacterTimeout(SerialOptions{Inactivity: tc.inactivity, Timeout: tc.timeout})
		if got != tc.want {
			t.Fatalf("inactivity=%v timeout=%v: got %d ms want %d", tc.inactivity, tc.timeout, got, tc.want)
		}
	}
}
