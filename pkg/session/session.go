// Package session implements the session/account/object linking core:
// per-connection Session state, the process-wide registry of live
// sessions, and the validated link/unlink state machines that attach
// sessions to accounts and puppeted objects under the configured
// multisession policy.
//
// Protocol adapters (telnet, SSH, WebSocket) sit below this package and
// expose themselves through the Transport interface; game logic sits
// above it and is reached only through the injected Executor and the
// signals bus.
package session

import (
	"sync"
	"time"
)

// Transport is the downward-facing interface a protocol adapter
// implements. One transport belongs to exactly one Session.
type Transport interface {
	// WriteText delivers one unit of output to the client, applying any
	// protocol-specific framing, markup and encoding.
	WriteText(text string, meta map[string]any)
	// Close tears down the network connection. reason is a human-readable
	// string already delivered to the client by the session layer.
	Close(reason string)
	// Protocol names the wire protocol ("telnet", "telnet/tls", "ssh",
	// "websocket").
	Protocol() string
	// Addr is the remote address.
	Addr() string
}

// Executor dispatches one line of player input to the external command
// parser. The session passes itself; the executor resolves the acting
// entity via Puppet()/Account(). It must not block unrelated
// connections: slow commands are the executor's problem to queue.
type Executor func(s *Session, text string, meta map[string]any)

// Session is the runtime state of one live network connection. It is
// created on transport connect, before authentication, and exists only
// in memory: a server restart drops all sessions (entities survive via
// the store and the resync path).
type Session struct {
	id       uint64
	conn     Transport
	executor Executor
	connTime time.Time

	mu         sync.Mutex
	lastActive time.Time
	cmdCount   int64
	encoding   string
	fallbacks  []string
	loggedIn   bool
	account    *Account
	puppet     *Object
	closed     bool

	flagsMu sync.RWMutex
	flags   map[string]any

	timersMu sync.Mutex
	timers   []*time.Timer

	closeOnce sync.Once
	registry  *Registry
	// OnClose runs once at the end of teardown, after unlinking and
	// registry removal. Set by the server for bookkeeping (metrics, logs).
	OnClose func(s *Session, reason string)
}

// NewSession wraps a transport into a Session. The id comes from the
// registry's monotone counter; the session is not yet registered.
func NewSession(id uint64, conn Transport, executor Executor) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		conn:       conn,
		executor:   executor,
		connTime:   now,
		lastActive: now,
		encoding:   "utf-8",
		flags:      make(map[string]any),
	}
}

// ID returns the process-unique session id.
func (s *Session) ID() uint64 { return s.id }

// Protocol returns the transport's protocol name.
func (s *Session) Protocol() string { return s.conn.Protocol() }

// Address returns the remote address.
func (s *Session) Address() string { return s.conn.Addr() }

// ConnTime returns when the connection was established.
func (s *Session) ConnTime() time.Time { return s.connTime }

// IdleTime returns how long since the last input.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// CmdCount returns the number of visible commands this session has sent.
func (s *Session) CmdCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdCount
}

// Touch updates the last-active timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// SetEncoding sets the primary text encoding and the ordered fallback
// chain tried when it cannot represent outgoing text.
func (s *Session) SetEncoding(primary string, fallbacks []string) {
	s.mu.Lock()
	s.encoding = primary
	s.fallbacks = append([]string(nil), fallbacks...)
	s.mu.Unlock()
}

// Encoding returns the primary encoding and fallback chain.
func (s *Session) Encoding() (string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoding, append([]string(nil), s.fallbacks...)
}

// SetProtocolFlag records a negotiated capability (e.g. the TTYPE result
// map, MCCP on/off, NAWS size).
func (s *Session) SetProtocolFlag(name string, val any) {
	s.flagsMu.Lock()
	s.flags[name] = val
	s.flagsMu.Unlock()
}

// ProtocolFlag looks up a negotiated capability.
func (s *Session) ProtocolFlag(name string) (any, bool) {
	s.flagsMu.RLock()
	defer s.flagsMu.RUnlock()
	v, ok := s.flags[name]
	return v, ok
}

// ProtocolFlags returns a copy of the capability map.
func (s *Session) ProtocolFlags() map[string]any {
	s.flagsMu.RLock()
	defer s.flagsMu.RUnlock()
	out := make(map[string]any, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

// LoggedIn reports whether the session is linked to an account.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Account returns the linked account, or nil before authentication.
func (s *Session) Account() *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Puppet returns the puppeted object, or nil when the session is OOC.
func (s *Session) Puppet() *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puppet
}

func (s *Session) setAccount(a *Account) {
	s.mu.Lock()
	s.account = a
	s.loggedIn = a != nil
	s.mu.Unlock()
}

func (s *Session) setPuppet(o *Object) {
	s.mu.Lock()
	s.puppet = o
	s.mu.Unlock()
}

// DataIn forwards one line of input to the linked entity's command
// executor: the puppet when puppeting, otherwise the account's OOC
// handler. The special input "idle" only touches the idle timer; it
// neither counts as a command nor reaches the executor.
func (s *Session) DataIn(text string, meta map[string]any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastActive = time.Now()
	if text == "idle" {
		s.mu.Unlock()
		return
	}
	s.cmdCount++
	exec := s.executor
	s.mu.Unlock()

	if exec != nil {
		exec(s, text, meta)
	}
}

// DataOut writes text to the client through the transport.
func (s *Session) DataOut(text string, meta map[string]any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.conn.WriteText(text, meta)
}

// Msg is shorthand for DataOut with no metadata.
func (s *Session) Msg(text string) {
	s.DataOut(text, nil)
}

// After schedules fn on a timer owned by this session. The timer is
// cancelled on disconnect, and a timer that has already fired checks the
// closed flag so it never acts on a dead session.
func (s *Session) After(d time.Duration, fn func()) {
	t := time.AfterFunc(d, func() {
		if s.IsClosed() {
			return
		}
		fn()
	})
	s.timersMu.Lock()
	s.timers = append(s.timers, t)
	s.timersMu.Unlock()
}

func (s *Session) stopTimers() {
	s.timersMu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.timersMu.Unlock()
}

// IsClosed reports whether teardown has started.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Disconnect tears the session down: pending negotiation timers are
// cancelled, the puppet and account are unlinked (running their full
// unlink hook sequences), the session leaves the registry and the
// transport is closed. Idempotent; only the first call does anything.
func (s *Session) Disconnect(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.stopTimers()

		if reason != "" {
			s.conn.WriteText(reason, nil)
		}
		if p := s.Puppet(); p != nil {
			p.Sessions.Remove(s, true, reason)
		}
		if a := s.Account(); a != nil {
			a.Sessions.Remove(s, true, reason)
		}
		if s.registry != nil {
			s.registry.Remove(s)
		}
		s.conn.Close(reason)
		if s.OnClose != nil {
			s.OnClose(s, reason)
		}
	})
}
