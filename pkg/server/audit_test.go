package server

import (
	"path/filepath"
	"testing"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/signals"
)

func TestAuditLogRecordsLifecycleEvents(t *testing.T) {
	audit, err := OpenAuditLog(filepath.Join(t.TempDir(), "audit.db"), 0)
	if err != nil {
		t.Fatalf("OpenAuditLog: %v", err)
	}
	defer audit.Close()

	bus := signals.NewBus()
	audit.Subscribe(bus)

	acct := session.NewAccount(1, "alice", nil)
	bus.Send(signals.AccountPostLogin, acct, signals.Kwargs("session", nil))
	bus.Send(signals.AccountPostLoginFail, nil, signals.Kwargs("name", "mallory", "addr", "10.0.0.1"))
	obj := session.NewObject(10, "Warrior", acct, nil)
	bus.Send(signals.ObjectPostPuppet, obj, signals.Kwargs("account", acct))
	bus.Send(signals.AccountPostLogout, acct, signals.Kwargs("reason", "quit"))

	events, err := audit.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}

	// Newest first.
	if events[0].Event != "logout" || events[0].Detail != "quit" {
		t.Errorf("newest = %+v, want logout/quit", events[0])
	}
	if events[1].Event != "puppet" || events[1].Subject != "Warrior" || events[1].Account != "alice" {
		t.Errorf("puppet row = %+v", events[1])
	}
	if events[2].Event != "login-fail" || events[2].Account != "mallory" || events[2].Addr != "10.0.0.1" {
		t.Errorf("login-fail row = %+v", events[2])
	}
	if events[3].Event != "login" || events[3].Account != "alice" {
		t.Errorf("login row = %+v", events[3])
	}
}
