// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tevino/abool/v2"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/observability"
)

// LC76G I2C addresses.
const (
	AddrControl   = 0x50 // control, read-config
	AddrReadData  = 0x54
	AddrWriteCfg  = 0x58
	AddrWriteData = 0x32
)

const (
	// MaxPayload is the largest pending length accepted from the receiver.
	// Anything larger is a misread length, not real data.
	MaxPayload = 35 * 1024
	// MaxChunk is the largest single read or write transaction.
	MaxChunk = 4 * 1024

	DefaultRetries    = 3
	DefaultRetryDelay = 10 * time.Millisecond
)

// Descriptor registers. The value goes out little-endian in the first two
// bytes of the 8-byte descriptor.
const (
	regReadLength = 0x0008
	regFreeSpace  = 0x000C
	regReadData   = 0x2000
	regWriteData  = 0x2100
)

// descriptor builds reg(LE16) 0x51 0xAA n(LE32).
func descriptor(reg uint16, n uint32) []byte {
	d := make([]byte, 8)
	binary.LittleEndian.PutUint16(d[0:2], reg)
	d[2], d[3] = 0x51, 0xAA
	binary.LittleEndian.PutUint32(d[4:8], n)
	return d
}

// Bus is the subset of periph's i2c.Bus the register protocol needs.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// RecoveryMode records which address answered the last probe.
type RecoveryMode int

const (
	RecoveryNone RecoveryMode = iota
	RecoveryReadData
	RecoveryWriteData
)

func (m RecoveryMode) String() string {
	switch m {
	case RecoveryReadData:
		return "read_data"
	case RecoveryWriteData:
		return "write_data"
	default:
		return "none"
	}
}

type RegisterOptions struct {
	Retries    int
	RetryDelay time.Duration
	// BusSpeed is applied by OpenRegister when non-zero.
	BusSpeed physic.Frequency
	// Debug, when set, logs every transaction size.
	Debug *abool.AtomicBool
}

// Register talks to the receiver over its I2C register protocol.
type Register struct {
	bus    Bus
	closer io.Closer
	opts   RegisterOptions

	// busMu covers one complete transaction sequence. writeMu keeps a
	// multi-chunk command from interleaving with another command; reads may
	// still run between its chunks.
	busMu   sync.Mutex
	writeMu sync.Mutex

	lastRecovery RecoveryMode
}

func NewRegister(bus Bus, opts RegisterOptions) *Register {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Debug == nil {
		opts.Debug = abool.New()
	}
	return &Register{bus: bus, opts: opts}
}

// OpenRegister initializes periph, opens the named I2C bus ("" selects the
// first one) and wraps it.
func OpenRegister(busName string, opts RegisterOptions) (*Register, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("transport: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("transport: i2c open %q: %w", busName, err)
	}
	if opts.BusSpeed > 0 {
		if err := bus.SetSpeed(opts.BusSpeed); err != nil {
			log.Printf("transport: i2c bus %q: set speed %s: %v", busName, opts.BusSpeed, err)
		}
	}
	r := NewRegister(bus, opts)
	r.closer = bus
	log.Printf("transport: i2c bus %q opened (control 0x%02X)", busName, AddrControl)
	return r, nil
}

// LastRecovery reports which address answered the most recent probe.
func (r *Register) LastRecovery() RecoveryMode {
	r.busMu.Lock()
	defer r.busMu.Unlock()
	return r.lastRecovery
}

// Acquire reads all pending receiver output into buf.
func (r *Register) Acquire(buf []byte) (int, error) {
	r.busMu.Lock()
	defer r.busMu.Unlock()

	if err := r.probe(); err != nil {
		return 0, err
	}

	pending, err := r.query("read length", regReadLength)
	if err != nil {
		return 0, err
	}
	if pending == 0 {
		return 0, nil
	}
	if pending > MaxPayload {
		return 0, newError(MalformedLength, "read length", "%d bytes exceeds %d", pending, MaxPayload)
	}
	n := int(pending)
	if n > len(buf) {
		return 0, newError(BufferOverflow, "read length", "%d bytes pending, buffer holds %d", n, len(buf))
	}

	read := 0
	for read < n {
		chunk := min(n-read, MaxChunk)
		dst := buf[read : read+chunk]
		err := r.retry("read data", func() error {
			if err := r.bus.Tx(AddrControl, descriptor(regReadData, uint32(chunk)), nil); err != nil {
				return err
			}
			return r.bus.Tx(AddrReadData, nil, dst)
		})
		if err != nil {
			return 0, err
		}
		read += chunk
	}
	if r.opts.Debug.IsSet() {
		log.Printf("transport: read %d bytes", n)
	}
	return n, nil
}

// WriteCommand sends cmd in pieces no larger than the receiver's reported free
// space.
func (r *Register) WriteCommand(cmd []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	for sent := 0; sent < len(cmd); {
		n, err := r.writeChunk(cmd[sent:])
		if err != nil {
			return err
		}
		sent += n
	}
	if r.opts.Debug.IsSet() {
		log.Printf("transport: wrote %q", cmd)
	}
	return nil
}

func (r *Register) writeChunk(rest []byte) (int, error) {
	r.busMu.Lock()
	defer r.busMu.Unlock()

	if err := r.probe(); err != nil {
		return 0, err
	}

	var free int
	err := Retry(r.opts.Retries, r.opts.RetryDelay, func() error {
		n, err := r.queryOnce(AddrWriteCfg, regFreeSpace)
		if err != nil {
			return &TransportError{Kind: NotResponding, Op: "free space", Err: err}
		}
		if n == 0 {
			return newError(Timeout, "free space", "receiver input buffer full")
		}
		free = int(min(n, MaxChunk))
		return nil
	})
	if err != nil {
		return 0, err
	}

	chunk := min(len(rest), free)
	data := rest[:chunk]
	err = r.retry("write data", func() error {
		if err := r.bus.Tx(AddrWriteCfg, descriptor(regWriteData, uint32(chunk)), nil); err != nil {
			return err
		}
		return r.bus.Tx(AddrWriteData, data, nil)
	})
	if err != nil {
		return 0, err
	}
	return chunk, nil
}

// probe addresses the control register with an empty write. When that fails
// the read-data and write-data addresses are tried, which is often enough to
// release a bus left mid-transaction.
func (r *Register) probe() error {
	err := r.bus.Tx(AddrControl, nil, nil)
	if err == nil {
		r.lastRecovery = RecoveryNone
		return nil
	}
	for _, alt := range []struct {
		addr uint16
		mode RecoveryMode
	}{
		{AddrReadData, RecoveryReadData},
		{AddrWriteData, RecoveryWriteData},
	} {
		if e := r.bus.Tx(alt.addr, nil, nil); e == nil {
			r.lastRecovery = alt.mode
			observability.BusRecoveries.WithLabelValues(alt.mode.String()).Inc()
			log.Printf("transport: control 0x%02X not answering (%v), recovered via 0x%02X", AddrControl, err, alt.addr)
			return nil
		}
	}
	return &TransportError{Kind: NotResponding, Op: "probe", Err: err}
}

// query sends a length descriptor to the control address and reads the 4-byte
// little-endian answer, with retries.
func (r *Register) query(op string, reg uint16) (uint32, error) {
	var n uint32
	err := r.retry(op, func() error {
		v, err := r.queryOnce(AddrControl, reg)
		n = v
		return err
	})
	return n, err
}

func (r *Register) queryOnce(cfgAddr uint16, reg uint16) (uint32, error) {
	if err := r.bus.Tx(cfgAddr, descriptor(reg, 4), nil); err != nil {
		return 0, err
	}
	var b [4]byte
	if err := r.bus.Tx(AddrReadData, nil, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// retry wraps bus errors that survive all attempts as NotResponding.
func (r *Register) retry(op string, fn func() error) error {
	err := Retry(r.opts.Retries, r.opts.RetryDelay, fn)
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Kind: NotResponding, Op: op, Err: err}
}

func (r *Register) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
