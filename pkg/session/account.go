package session

import (
	"sync"
	"time"
)

// Account is the authenticated identity behind one or more sessions. It
// is distinct from any in-game object it controls; a session links to an
// account at login and may then, separately, puppet objects.
type Account struct {
	ID      uint64
	Name    string
	Created time.Time

	// Sessions is the link-lifecycle handler for this account.
	Sessions *AccountSessions

	mu           sync.Mutex
	lastLogin    time.Time
	lastLogout   time.Time
	loginCount   int
	lastPuppetID uint64
}

// NewAccount creates an account with the given link hooks. Nil hooks get
// the no-op base, useful in tests.
func NewAccount(id uint64, name string, hooks AccountHooks) *Account {
	if hooks == nil {
		hooks = BaseAccountHooks{}
	}
	a := &Account{ID: id, Name: name, Created: time.Now()}
	a.Sessions = &AccountSessions{
		account: a,
		hooks:   hooks,
		index:   make(map[uint64]*Session),
	}
	return a
}

// Msg broadcasts text to every session linked to the account. Under the
// sharing multisession modes this is how shared-puppet output reaches
// all controlling clients.
func (a *Account) Msg(text string, meta map[string]any) {
	for _, s := range a.Sessions.All() {
		s.DataOut(text, meta)
	}
}

// LastLogin returns when the account last completed a login.
func (a *Account) LastLogin() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLogin
}

// LastLogout returns when the account's final session last disconnected.
func (a *Account) LastLogout() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLogout
}

// LoginCount returns how many logins the account has completed.
func (a *Account) LoginCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginCount
}

// LastPuppet returns the id of the object this account most recently
// puppeted, for auto-puppet on the next login.
func (a *Account) LastPuppet() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPuppetID
}

// SetLastPuppet records the most recently puppeted object.
func (a *Account) SetLastPuppet(id uint64) {
	a.mu.Lock()
	a.lastPuppetID = id
	a.mu.Unlock()
}

// SeedLoginStats primes login bookkeeping from persisted state, so an
// account loaded from the store does not look brand new.
func (a *Account) SeedLoginStats(count int, lastLogin, lastLogout time.Time) {
	a.mu.Lock()
	a.loginCount = count
	a.lastLogin = lastLogin
	a.lastLogout = lastLogout
	a.mu.Unlock()
}

// recordLogin stamps a login and reports whether it was the first ever.
func (a *Account) recordLogin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	first := a.loginCount == 0
	a.loginCount++
	a.lastLogin = time.Now()
	return first
}

func (a *Account) recordLastLogout() {
	a.mu.Lock()
	a.lastLogout = time.Now()
	a.mu.Unlock()
}

// AccountSessions manages the ordered set of sessions linked to one
// account: an insertion-ordered list (oldest first) plus an id index for
// O(1) lookup, kept consistent under one mutex. Every session in the
// list has its account back-reference pointing here.
type AccountSessions struct {
	account *Account
	hooks   AccountHooks

	mu    sync.Mutex
	order []*Session
	index map[uint64]*Session
}

// Add runs the validated link sequence for a session. On denial the
// reason is delivered to the session as a user-visible message and Add
// returns false; the handler never panics past the hook layer. force
// bypasses soft denials; resync suppresses signals when relinking across
// a controlled restart.
func (h *AccountSessions) Add(s *Session, force, resync bool) bool {
	if s == nil {
		return false
	}
	if d := h.validate(s); d != nil && !force {
		s.DataOut(d.Message, nil)
		return false
	}

	h.hooks.AtBeforeLink(h.account, s)

	h.mu.Lock()
	if _, dup := h.index[s.ID()]; !dup {
		h.order = append(h.order, s)
		h.index[s.ID()] = s
	}
	h.mu.Unlock()
	// Back-reference is attached with the list so the two can never
	// disagree, whatever the hooks do.
	s.setAccount(h.account)

	h.hooks.AtLink(h.account, s)
	h.hooks.AtAfterLink(h.account, s, resync)
	return true
}

// Remove runs the unlink sequence. Removing a session that is not linked
// returns false without side effects, keeping teardown idempotent.
func (h *AccountSessions) Remove(s *Session, force bool, reason string) bool {
	if s == nil {
		return false
	}
	h.mu.Lock()
	_, linked := h.index[s.ID()]
	h.mu.Unlock()
	if !linked {
		return false
	}

	h.hooks.AtBeforeUnlink(h.account, s, reason)

	h.mu.Lock()
	delete(h.index, s.ID())
	for i, cur := range h.order {
		if cur.ID() == s.ID() {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	last := len(h.order) == 0
	h.mu.Unlock()
	if s.Account() == h.account {
		s.setAccount(nil)
	}

	h.hooks.AtUnlink(h.account, s)
	h.hooks.AtAfterUnlink(h.account, s, reason, last)
	return true
}

func (h *AccountSessions) validate(s *Session) *Deny {
	h.mu.Lock()
	_, linked := h.index[s.ID()]
	h.mu.Unlock()
	if linked {
		return deny(DenyAlreadyLinked, "You are already connected to this account.")
	}
	if other := s.Account(); other != nil && other != h.account {
		return deny(DenyAlreadyLinked, "This session is already logged in to another account.")
	}
	return nil
}

// All returns the linked sessions in link order (oldest first).
func (h *AccountSessions) All() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Session(nil), h.order...)
}

// Get looks up a linked session by id.
func (h *AccountSessions) Get(id uint64) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index[id]
}

// Count returns the number of linked sessions.
func (h *AccountSessions) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
