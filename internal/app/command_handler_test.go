package app

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

type fakeTarget struct {
	fakeSource
	sent  []string
	debug bool
}

func (f *fakeTarget) SendCommand(body string) error {
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeTarget) SetFixInterval(ms int) error {
	if ms < 100 || ms > 1000 {
		return errors.New("fix interval out of range")
	}
	return f.SendCommand(gps.FixIntervalCommand(ms))
}

func (f *fakeTarget) SetOutputRate(sentenceType string, rate int) error {
	body, err := gps.OutputRateCommand(sentenceType, rate)
	if err != nil {
		return err
	}
	return f.SendCommand(body)
}

func (f *fakeTarget) SetDebug(on bool) { f.debug = on }
func (f *fakeTarget) Debug() bool { return f.debug }

func TestCommandDispatch(t *testing.T) {
	tests := []struct {
		name     string
		req      CommandRequest
		wantType string
		wantCmd  string
		wantSent string
		wantMsg  string
	}{
		{name: "send", req: CommandRequest{Action: "send", Body: "PAIR021"}, wantType: "ack", wantCmd: "PAIR021", wantSent: "PAIR021"},
		{name: "send empty", req: CommandRequest{Action: "send"}, wantType: "error", wantMsg: "empty"},
		{name: "fix interval", req: CommandRequest{Action: "set_fix_interval", Interval: 200}, wantType: "ack", wantCmd: "PAIR050,200", wantSent: "PAIR050,200"},
		{name: "fix interval range", req: CommandRequest{Action: "set_fix_interval", Interval: 5}, wantType: "error", wantMsg: "out of range"},
		{name: "output rate", req: CommandRequest{Action: "set_output_rate", Sentence: "rmc", Rate: 1}, wantType: "ack", wantCmd: "PAIR062,4,1", wantSent: "PAIR062,4,1"},
		{name: "output rate unknown", req: CommandRequest{Action: "set_output_rate", Sentence: "ZDA", Rate: 1}, wantType: "error", wantMsg: "ZDA"},
		{name: "hot start", req: CommandRequest{Action: "hot_start"}, wantType: "ack", wantCmd: "PAIR004", wantSent: "PAIR004"},
		{name: "warm start", req: CommandRequest{Action: "warm_start"}, wantType: "ack", wantCmd: "PAIR005", wantSent: "PAIR005"},
		{name: "cold start", req: CommandRequest{Action: "cold_start"}, wantType: "ack", wantCmd: "PAIR006", wantSent: "PAIR006"},
		{name: "missing action", req: CommandRequest{}, wantType: "error", wantMsg: "missing"},
		{name: "unknown action", req: CommandRequest{Action: "flash"}, wantType: "error", wantMsg: "unknown action: flash"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := &fakeTarget{}
			s := &CommandSession{Target: target}
			resp := s.dispatch(tc.req)
			if resp.Type != tc.wantType {
				t.Fatalf("type=%q want %q (%+v)", resp.Type, tc.wantType, resp)
			}
			if resp.Command != tc.wantCmd && tc.wantCmd != "" {
				t.Fatalf("command=%q want %q", resp.Command, tc.wantCmd)
			}
			if tc.wantMsg != "" && !strings.Contains(resp.Message, tc.wantMsg) {
				t.Fatalf("message=%q want substring %q", resp.Message, tc.wantMsg)
			}
			if tc.wantSent == "" && len(target.sent) != 0 {
				t.Fatalf("sent %v", target.sent)
			}
			if tc.wantSent != "" && (len(target.sent) != 1 || target.sent[0] != tc.wantSent) {
				t.Fatalf("sent=%v want [%s]", target.sent, tc.wantSent)
			}
		})
	}
}

func TestCommandDispatch_AcquireDebugReset(t *testing.T) {
	target := &fakeTarget{fakeSource: fakeSource{
		results: []gps.Result{{Accepted: 3, Changed: true}},
		errs:    []error{nil, errors.New("nack")},
		fix:     beijingFix,
	}}
	s := &CommandSession{Target: target}

	resp := s.dispatch(CommandRequest{Action: "acquire"})
	if resp.Type != "acquire" || resp.Result == nil || resp.Result.Accepted != 3 {
		t.Fatalf("acquire=%+v", resp)
	}
	if resp.Fix == nil || *resp.Fix != beijingFix {
		t.Fatalf("fix=%+v", resp.Fix)
	}

	resp = s.dispatch(CommandRequest{Action: "acquire"})
	if resp.Type != "error" || resp.Failures != 1 {
		t.Fatalf("failed acquire=%+v", resp)
	}

	resp = s.dispatch(CommandRequest{Action: "debug", On: true})
	if !resp.Debug || !target.debug {
		t.Fatalf("debug not enabled: %+v", resp)
	}

	resp = s.dispatch(CommandRequest{Action: "reset"})
	if resp.Type != "status" || target.resets != 1 || resp.Failures != 0 {
		t.Fatalf("reset=%+v resets=%d", resp, target.resets)
	}
}

func TestHandleCommandWS(t *testing.T) {
	target := &fakeTarget{fakeSource: fakeSource{fix: beijingFix}}
	ts := httptest.NewServer(HandleCommandWS(target))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello CommandResponse
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if hello.Type != "status" || hello.Fix == nil || hello.Fix.Satellites != 8 {
		t.Fatalf("status=%+v", hello)
	}

	if err := conn.WriteJSON(CommandRequest{Action: "cold_start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack CommandResponse
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "ack" || ack.Command != "PAIR006" {
		t.Fatalf("ack=%+v", ack)
	}
}
