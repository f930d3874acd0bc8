// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package receiver ties a transport, decoder and fix store together into the
// query surface used by the producer, console and web front ends.
package receiver

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool/v2"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/coord"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/observability"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/transport"
)

var sleep = time.Sleep

// ErrNoFix is returned by CoordinatesIn while the fix is invalid.
var ErrNoFix = errors.New("receiver: no valid fix")

// ResetLine drives the receiver's RESET input. gpio.PinIO satisfies it.
type ResetLine interface {
	Out(l gpio.Level) error
}

type Options struct {
	UTCOffset time.Duration
	// BufferSize bounds one acquisition; it defaults to the register
	// protocol's payload ceiling.
	BufferSize int

	// Debug is shared with the transport so one switch covers both layers.
	Debug *abool.AtomicBool

	ResetLine  ResetLine
	ResetPulse time.Duration
	// ResetSettle is how long to wait after releasing RESET.
	ResetSettle time.Duration
}

type Receiver struct {
	t     transport.Transport
	store *gps.FixStore
	dec   *gps.Decoder
	debug *abool.AtomicBool
	opts  Options

	mu  sync.Mutex // serializes Acquire, owns buf
	buf []byte

	failures atomic.Int64
}

func New(t transport.Transport, store *gps.FixStore, opts Options) *Receiver {
	if opts.BufferSize <= 0 {
		opts.BufferSize = transport.MaxPayload
	}
	if opts.Debug == nil {
		opts.Debug = abool.New()
	}
	if opts.ResetPulse <= 0 {
		opts.ResetPulse = 100 * time.Millisecond
	}
	if opts.ResetSettle <= 0 {
		opts.ResetSettle = time.Second
	}
	return &Receiver{
		t:     t,
		store: store,
		dec:   gps.NewDecoder(store, gps.DecoderOptions{UTCOffset: opts.UTCOffset, Debug: opts.Debug}),
		debug: opts.Debug,
		opts:  opts,
		buf:   make([]byte, opts.BufferSize),
	}
}

// OpenResetLine looks up a GPIO by name ("GPIO17") and drives it high
// (released).
func OpenResetLine(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("receiver: periph host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("receiver: reset pin %q not found", name)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("receiver: reset pin %q: %w", name, err)
	}
	return pin, nil
}

// Acquire pulls pending output from the transport and decodes it into the
// store. A transport error leaves the store as it was and increments
// ConsecutiveFailures.
func (r *Receiver) Acquire() (gps.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer observability.ObserveAcquireLatency(start)

	n, err := r.t.Acquire(r.buf)
	if err != nil {
		r.failures.Add(1)
		kind := "other"
		var te *transport.TransportError
		if errors.As(err, &te) {
			kind = te.Kind.String()
		}
		observability.TransportErrors.WithLabelValues(kind).Inc()
		return gps.Result{}, err
	}
	r.failures.Store(0)
	if n == 0 {
		observability.AcquisitionsEmpty.Inc()
		return gps.Result{}, nil
	}
	observability.Acquisitions.Inc()
	if r.debug.IsSet() {
		log.Printf("receiver: %d bytes: %q", n, r.buf[:n])
	}
	return r.dec.Decode(r.buf[:n]), nil
}

func (r *Receiver) CurrentFix() gps.Fix {
	return r.store.Snapshot()
}

// CoordinatesIn returns the current position converted to sys.
func (r *Receiver) CoordinatesIn(sys coord.System) (coord.Point, error) {
	f := r.store.Snapshot()
	if !f.Valid {
		return coord.Point{}, ErrNoFix
	}
	return coord.Convert(coord.Point{Lon: f.Longitude, Lat: f.Latitude}, coord.WGS84, sys)
}

// SendCommand frames body ("PAIR050,1000") and writes it to the receiver.
func (r *Receiver) SendCommand(body string) error {
	cmd := gps.FrameCommand(body)
	if err := r.t.WriteCommand(cmd); err != nil {
		return fmt.Errorf("receiver: send %q: %w", body, err)
	}
	log.Printf("receiver: sent %q", cmd)
	return nil
}

// SetFixInterval sets the position update period (100-1000 ms).
func (r *Receiver) SetFixInterval(ms int) error {
	if ms < 100 || ms > 1000 {
		return fmt.Errorf("receiver: fix interval %d ms out of range 100-1000", ms)
	}
	return r.SendCommand(gps.FixIntervalCommand(ms))
}

// SetOutputRate enables sentenceType every rate fixes (0 disables).
func (r *Receiver) SetOutputRate(sentenceType string, rate int) error {
	body, err := gps.OutputRateCommand(sentenceType, rate)
	if err != nil {
		return err
	}
	return r.SendCommand(body)
}

func (r *Receiver) SetDebug(on bool) {
	r.debug.SetTo(on)
	log.Printf("receiver: debug %v", on)
}

func (r *Receiver) Debug() bool { return r.debug.IsSet() }

func (r *Receiver) SatelliteCount() int { return r.store.Snapshot().Satellites }

// SignalStrength is the mean satellite SNR as 0-100.
func (r *Receiver) SignalStrength() int { return r.store.Snapshot().SignalPercent }

// ConsecutiveFailures counts transport errors since the last successful
// acquisition. Callers decide when it warrants a Reset.
func (r *Receiver) ConsecutiveFailures() int { return int(r.failures.Load()) }

// Reset pulses the RESET line when one is configured, then clears the fix
// and the failure count.
func (r *Receiver) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if line := r.opts.ResetLine; line != nil {
		if err := line.Out(gpio.Low); err != nil {
			return fmt.Errorf("receiver: reset assert: %w", err)
		}
		sleep(r.opts.ResetPulse)
		if err := line.Out(gpio.High); err != nil {
			return fmt.Errorf("receiver: reset release: %w", err)
		}
		sleep(r.opts.ResetSettle)
		log.Printf("receiver: hardware reset (%s pulse)", r.opts.ResetPulse)
	}
	r.store.Reset()
	r.failures.Store(0)
	return nil
}

func (r *Receiver) Close() error {
	return r.t.Close()
}
