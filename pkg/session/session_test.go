package session

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// mockConn implements Transport for tests, capturing output.
type mockConn struct {
	mu       sync.Mutex
	out      []string
	closes   int
	reason   string
	protocol string
}

func (m *mockConn) WriteText(text string, meta map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = append(m.out, text)
}

func (m *mockConn) Close(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.reason = reason
}

func (m *mockConn) Protocol() string {
	if m.protocol != "" {
		return m.protocol
	}
	return "test"
}

func (m *mockConn) Addr() string { return "127.0.0.1:9" }

func (m *mockConn) Output() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.out...)
}

func (m *mockConn) OutputContains(sub string) bool {
	for _, line := range m.Output() {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func (m *mockConn) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func TestDataInDispatchesToExecutor(t *testing.T) {
	var gotText string
	var gotSess *Session
	exec := func(s *Session, text string, meta map[string]any) {
		gotSess = s
		gotText = text
	}
	s := NewSession(1, &mockConn{}, exec)

	s.DataIn("look", nil)

	if gotSess != s || gotText != "look" {
		t.Errorf("executor got (%v, %q), want (%v, %q)", gotSess, gotText, s, "look")
	}
	if s.CmdCount() != 1 {
		t.Errorf("cmd count = %d, want 1", s.CmdCount())
	}
}

func TestDataInIdleShortCircuits(t *testing.T) {
	called := false
	s := NewSession(1, &mockConn{}, func(*Session, string, map[string]any) {
		called = true
	})
	before := s.IdleTime()
	time.Sleep(5 * time.Millisecond)

	s.DataIn("idle", nil)

	if called {
		t.Error("idle input must not reach the executor")
	}
	if s.CmdCount() != 0 {
		t.Errorf("idle input must not count as a command, got %d", s.CmdCount())
	}
	if s.IdleTime() > before+4*time.Millisecond {
		t.Error("idle input must still touch the activity timer")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	conn := &mockConn{}
	s := NewSession(1, conn, nil)

	teardowns := 0
	s.OnClose = func(*Session, string) { teardowns++ }

	s.Disconnect("bye")
	s.Disconnect("bye again")

	if conn.Closes() != 1 {
		t.Errorf("transport closed %d times, want 1", conn.Closes())
	}
	if teardowns != 1 {
		t.Errorf("teardown ran %d times, want 1", teardowns)
	}
	if conn.reason != "bye" {
		t.Errorf("close reason = %q, want %q", conn.reason, "bye")
	}
}

func TestDataOutAfterCloseDropped(t *testing.T) {
	conn := &mockConn{}
	s := NewSession(1, conn, nil)
	s.Disconnect("")
	n := len(conn.Output())
	s.DataOut("too late", nil)
	if len(conn.Output()) != n {
		t.Error("output after disconnect must be dropped")
	}
}

func TestSessionTimerCancelledOnDisconnect(t *testing.T) {
	conn := &mockConn{}
	s := NewSession(1, conn, nil)
	fired := make(chan struct{}, 1)
	s.After(10*time.Millisecond, func() { fired <- struct{}{} })
	s.Disconnect("")

	select {
	case <-fired:
		t.Error("timer fired after disconnect")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestProtocolFlags(t *testing.T) {
	s := NewSession(1, &mockConn{}, nil)
	s.SetProtocolFlag("TTYPE", map[string]any{"init_done": true, "ANSI": true})
	s.SetProtocolFlag("MCCP", true)

	v, ok := s.ProtocolFlag("TTYPE")
	if !ok {
		t.Fatal("TTYPE flag missing")
	}
	tm := v.(map[string]any)
	if tm["init_done"] != true || tm["ANSI"] != true {
		t.Errorf("TTYPE flags = %v", tm)
	}
	if v, _ := s.ProtocolFlag("MCCP"); v != true {
		t.Error("MCCP flag missing")
	}
	if _, ok := s.ProtocolFlag("MSSP"); ok {
		t.Error("unexpected MSSP flag")
	}
}

func TestEncodeWithFallback(t *testing.T) {
	// "héllo" fits latin-1; "héllo☂" does not and must fall through.
	b, used, err := EncodeWithFallback("héllo", "latin-1", []string{"utf-8"})
	if err != nil || used != "latin-1" {
		t.Fatalf("latin-1 should encode héllo, used=%q err=%v", used, err)
	}
	if len(b) != 5 {
		t.Errorf("latin-1 bytes = %d, want 5", len(b))
	}

	_, used, err = EncodeWithFallback("héllo☂", "latin-1", []string{"utf-8"})
	if err != nil || used != "utf-8" {
		t.Fatalf("expected utf-8 fallback, used=%q err=%v", used, err)
	}

	// No candidate can represent the text: error, caller sends a notice.
	_, _, err = EncodeWithFallback("☂", "latin-1", []string{"cp437"})
	if err == nil {
		t.Error("expected failure when no encoding fits")
	}
}

func TestDecodeBytes(t *testing.T) {
	if got := DecodeBytes([]byte("plain"), nil); got != "plain" {
		t.Errorf("utf-8 passthrough = %q", got)
	}
	// 0xE9 is é in latin-1 and invalid as UTF-8.
	if got := DecodeBytes([]byte{0xE9}, []string{"latin-1"}); got != "é" {
		t.Errorf("latin-1 decode = %q, want é", got)
	}
}
