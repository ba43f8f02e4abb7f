package server

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/signals"
)

// AuditLog records account lifecycle events in a SQLite database so
// staff can answer "who logged in from where" after the fact. It is a
// passive signal-bus subscriber; nothing in the session core knows it
// exists.
type AuditLog struct {
	db        *sql.DB
	retention time.Duration
	stop      chan struct{}
}

// OpenAuditLog opens (or creates) the audit database, sets WAL mode and
// ensures the schema exists. retentionHours of 0 keeps rows forever.
func OpenAuditLog(path string, retentionHours int) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: setting WAL mode: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		event TEXT NOT NULL,
		account TEXT,
		subject TEXT,
		addr TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_events(at);
	CREATE INDEX IF NOT EXISTS idx_audit_account ON audit_events(account);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating schema: %w", err)
	}
	a := &AuditLog{
		db:        db,
		retention: time.Duration(retentionHours) * time.Hour,
		stop:      make(chan struct{}),
	}
	if a.retention > 0 {
		go a.retentionLoop()
	}
	return a, nil
}

// Close stops the retention loop and closes the database.
func (a *AuditLog) Close() error {
	close(a.stop)
	return a.db.Close()
}

// Subscribe attaches the audit writers to the lifecycle bus.
func (a *AuditLog) Subscribe(bus *signals.Bus) {
	bus.Connect(signals.AccountPostLogin, func(sender any, kwargs map[string]any) {
		acct, _ := sender.(*session.Account)
		a.write("login", nameOf(acct), "", addrOf(kwargs), "")
	})
	bus.Connect(signals.AccountPostLogout, func(sender any, kwargs map[string]any) {
		acct, _ := sender.(*session.Account)
		reason, _ := kwargs["reason"].(string)
		a.write("logout", nameOf(acct), "", addrOf(kwargs), reason)
	})
	bus.Connect(signals.AccountPostLoginFail, func(sender any, kwargs map[string]any) {
		name, _ := kwargs["name"].(string)
		addr, _ := kwargs["addr"].(string)
		a.write("login-fail", name, "", addr, "")
	})
	bus.Connect(signals.AccountPostCreate, func(sender any, kwargs map[string]any) {
		name, _ := kwargs["name"].(string)
		a.write("account-create", name, "", addrOf(kwargs), "")
	})
	bus.Connect(signals.ObjectPostPuppet, func(sender any, kwargs map[string]any) {
		obj, _ := sender.(*session.Object)
		acct, _ := kwargs["account"].(*session.Account)
		a.write("puppet", nameOf(acct), objNameOf(obj), addrOf(kwargs), "")
	})
	bus.Connect(signals.ObjectPostUnpuppet, func(sender any, kwargs map[string]any) {
		obj, _ := sender.(*session.Object)
		reason, _ := kwargs["reason"].(string)
		a.write("unpuppet", "", objNameOf(obj), addrOf(kwargs), reason)
	})
}

func (a *AuditLog) write(event, account, subject, addr, detail string) {
	_, err := a.db.Exec(
		"INSERT INTO audit_events (event, account, subject, addr, detail) VALUES (?, ?, ?, ?, ?)",
		event, account, subject, addr, detail)
	if err != nil {
		log.Printf("audit: writing %s event: %v", event, err)
	}
}

// Recent returns the newest events, newest first, for staff inspection.
func (a *AuditLog) Recent(limit int) ([]AuditEvent, error) {
	rows, err := a.db.Query(
		"SELECT at, event, account, subject, addr, detail FROM audit_events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.At, &ev.Event, &ev.Account, &ev.Subject, &ev.Addr, &ev.Detail); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	At      time.Time
	Event   string
	Account string
	Subject string
	Addr    string
	Detail  string
}

// retentionLoop purges expired rows hourly.
func (a *AuditLog) retentionLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-a.retention)
			res, err := a.db.Exec("DELETE FROM audit_events WHERE at < ?", cutoff)
			if err != nil {
				log.Printf("audit: retention purge: %v", err)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				log.Printf("audit: purged %d expired events", n)
			}
		case <-a.stop:
			return
		}
	}
}

func nameOf(a *session.Account) string {
	if a == nil {
		return ""
	}
	return a.Name
}

func objNameOf(o *session.Object) string {
	if o == nil {
		return ""
	}
	return o.Name
}

func addrOf(kwargs map[string]any) string {
	if s, ok := kwargs["session"].(*session.Session); ok && s != nil {
		return s.Address()
	}
	return ""
}
