// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

// CommandTarget is the receiver surface the debug console drives.
// *receiver.Receiver satisfies it.
type CommandTarget interface {
	Acquire() (gps.Result, error)
	CurrentFix() gps.Fix
	SendCommand(body string) error
	SetFixInterval(ms int) error
	SetOutputRate(sentenceType string, rate int) error
	SetDebug(on bool)
	Debug() bool
	ConsecutiveFailures() int
	Reset() error
}

// CommandSession holds WebSocket connection state for the receiver debug
// console.
type CommandSession struct {
	Conn   *websocket.Conn
	Target CommandTarget
}

// CommandRequest is one message from the browser. Which fields matter depends
// on Action.
type CommandRequest struct {
	Action   string `json:"action"`
	Body     string `json:"body,omitempty"`     // "send": command without '$' or checksum
	Interval int    `json:"interval,omitempty"` // "set_fix_interval": milliseconds
	Sentence string `json:"sentence,omitempty"` // "set_output_rate": GGA, RMC, ...
	Rate     int    `json:"rate,omitempty"`     // "set_output_rate": 0-20
	On       bool   `json:"on,omitempty"`       // "debug"
}

type CommandResponse struct {
	Type      string      `json:"type"` // "status", "acquire", "ack", "error"
	Message   string      `json:"message,omitempty"`
	Command   string      `json:"command,omitempty"`
	Fix       *gps.Fix    `json:"fix,omitempty"`
	Result    *gps.Result `json:"result,omitempty"`
	Failures  int         `json:"failures"`
	Debug     bool        `json:"debug"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// HandleCommandWS returns the WebSocket handler for the receiver debug
// console.
func HandleCommandWS(target CommandTarget) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("gnss_debug: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		session := &CommandSession{Conn: conn, Target: target}

		// Send status on connection
		if err := conn.WriteJSON(session.status()); err != nil {
			log.Printf("gnss_debug: error sending status: %v", err)
			return
		}

		// Message loop
		for {
			var req CommandRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("gnss_debug: websocket error: %v", err)
				}
				return
			}
			if err := conn.WriteJSON(session.dispatch(req)); err != nil {
				log.Printf("gnss_debug: websocket write error: %v", err)
				return
			}
		}
	}
}

func (s *CommandSession) dispatch(req CommandRequest) CommandResponse {
	switch req.Action {
	case "status":
		return s.status()
	case "acquire":
		return s.handleAcquire()
	case "send":
		if req.Body == "" {
			return s.errorf("send: empty command body")
		}
		return s.ack(req.Body, s.Target.SendCommand(req.Body))
	case "set_fix_interval":
		return s.ack(gps.FixIntervalCommand(req.Interval), s.Target.SetFixInterval(req.Interval))
	case "set_output_rate":
		body, err := gps.OutputRateCommand(req.Sentence, req.Rate)
		if err != nil {
			return s.errorf("%v", err)
		}
		return s.ack(body, s.Target.SetOutputRate(req.Sentence, req.Rate))
	case "hot_start":
		return s.ack(gps.HotStartCommand(), s.Target.SendCommand(gps.HotStartCommand()))
	case "warm_start":
		return s.ack(gps.WarmStartCommand(), s.Target.SendCommand(gps.WarmStartCommand()))
	case "cold_start":
		return s.ack(gps.ColdStartCommand(), s.Target.SendCommand(gps.ColdStartCommand()))
	case "debug":
		s.Target.SetDebug(req.On)
		return s.status()
	case "reset":
		if err := s.Target.Reset(); err != nil {
			return s.errorf("reset: %v", err)
		}
		return s.status()
	case "":
		return s.errorf("missing or invalid action field")
	default:
		return s.errorf("unknown action: %s", req.Action)
	}
}

func (s *CommandSession) handleAcquire() CommandResponse {
	res, err := s.Target.Acquire()
	if err != nil {
		resp := s.errorf("acquire: %v", err)
		resp.Failures = s.Target.ConsecutiveFailures()
		return resp
	}
	fix := s.Target.CurrentFix()
	return CommandResponse{
		Type:      "acquire",
		Fix:       &fix,
		Result:    &res,
		Failures:  s.Target.ConsecutiveFailures(),
		Debug:     s.Target.Debug(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (s *CommandSession) status() CommandResponse {
	fix := s.Target.CurrentFix()
	return CommandResponse{
		Type:      "status",
		Fix:       &fix,
		Failures:  s.Target.ConsecutiveFailures(),
		Debug:     s.Target.Debug(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (s *CommandSession) ack(body string, err error) CommandResponse {
	if err != nil {
		resp := s.errorf("%v", err)
		resp.Command = body
		return resp
	}
	return CommandResponse{
		Type:    "ack",
		Command: body,
		Debug:   s.Target.Debug(),
	}
}

func (s *CommandSession) errorf(format string, args ...any) CommandResponse {
	return CommandResponse{
		Type:    "error",
		Message: fmt.Sprintf(format, args...),
		Debug:   s.Target.Debug(),
	}
}
