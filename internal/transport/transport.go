// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport moves raw bytes between the host and the LC76G receiver,
// either over the receiver's I2C register protocol or over a serial line.
package transport

import "fmt"

// Transport is the contract shared by both variants.
//
// Acquire copies whatever the receiver has pending into buf and returns the
// number of bytes written. (0, nil) means the receiver had nothing to send.
// Failures are always *TransportError.
type Transport interface {
	Acquire(buf []byte) (int, error)
	WriteCommand(cmd []byte) error
	Close() error
}

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// NotResponding: the device did not acknowledge after all retries.
	NotResponding ErrorKind = iota + 1
	// Timeout: no data arrived before the hard deadline.
	Timeout
	// MalformedLength: the reported payload length exceeds the sanity ceiling.
	MalformedLength
	// BufferOverflow: the payload does not fit in the caller's buffer.
	BufferOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case NotResponding:
		return "not_responding"
	case Timeout:
		return "timeout"
	case MalformedLength:
		return "malformed_length"
	case BufferOverflow:
		return "buffer_overflow"
	default:
		return "unknown"
	}
}

type TransportError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	msg := "transport"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches on Kind so the sentinels below work with errors.Is.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotResponding   = &TransportError{Kind: NotResponding}
	ErrTimeout         = &TransportError{Kind: Timeout}
	ErrMalformedLength = &TransportError{Kind: MalformedLength}
	ErrBufferOverflow  = &TransportError{Kind: BufferOverflow}
)

func newError(kind ErrorKind, op string, format string, args ...any) *TransportError {
	return &TransportError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
