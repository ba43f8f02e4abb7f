package session

import (
	"fmt"
	"sync"
)

// Object is an in-game entity (typically a character) that a session can
// puppet on behalf of its account. Only the linking-relevant surface
// lives here; everything an object *does* belongs to external game
// logic.
type Object struct {
	ID    uint64
	Name  string
	Owner *Account

	// AccessFunc is the external permission check consulted at link time
	// (entity.access(account, "puppet", default)). Nil falls back to an
	// owner check.
	AccessFunc func(acct *Account, action string, def bool) bool

	Sessions *ObjectSessions
}

// NewObject creates an object with the given link hooks. Nil hooks get
// the no-op base.
func NewObject(id uint64, name string, owner *Account, hooks ObjectHooks) *Object {
	if hooks == nil {
		hooks = BaseObjectHooks{}
	}
	o := &Object{ID: id, Name: name, Owner: owner}
	o.Sessions = &ObjectSessions{
		object: o,
		hooks:  hooks,
		index:  make(map[uint64]*Session),
	}
	return o
}

// Access runs the external permission check.
func (o *Object) Access(acct *Account, action string, def bool) bool {
	if o.AccessFunc != nil {
		return o.AccessFunc(acct, action, def)
	}
	if o.Owner != nil {
		return o.Owner == acct
	}
	return def
}

// Msg broadcasts text to every session puppeting this object.
func (o *Object) Msg(text string, meta map[string]any) {
	for _, s := range o.Sessions.All() {
		s.DataOut(text, meta)
	}
}

// ControllingAccount returns the account whose sessions currently puppet
// this object, or nil when unpuppeted. By invariant there is never more
// than one.
func (o *Object) ControllingAccount() *Account {
	for _, s := range o.Sessions.All() {
		if a := s.Account(); a != nil {
			return a
		}
	}
	return nil
}

// ObjectSessions manages the sessions puppeting one object: an ordered
// list plus id index kept consistent under one mutex, mirroring the
// sessions' own puppet back-references.
type ObjectSessions struct {
	object *Object
	hooks  ObjectHooks

	mu    sync.Mutex
	order []*Session
	index map[uint64]*Session
}

// Add runs the validated puppet sequence. Soft denials (not logged in,
// already puppeting, no permission) are bypassed by force; the
// cross-account rule is a hard access-control invariant and holds even
// under force. Denial reasons are delivered to the requesting session as
// distinct user-visible messages.
func (h *ObjectSessions) Add(s *Session, force, resync bool) bool {
	if s == nil {
		return false
	}
	if d, hard := h.validate(s); d != nil && (hard || !force) {
		s.DataOut(d.Message, nil)
		return false
	}

	h.hooks.AtBeforeLink(h.object, s)

	h.mu.Lock()
	if _, dup := h.index[s.ID()]; !dup {
		h.order = append(h.order, s)
		h.index[s.ID()] = s
	}
	h.mu.Unlock()
	s.setPuppet(h.object)

	h.hooks.AtLink(h.object, s)
	h.hooks.AtAfterLink(h.object, s, resync)
	return true
}

// Remove runs the unpuppet sequence; idempotent like the account side.
func (h *ObjectSessions) Remove(s *Session, force bool, reason string) bool {
	if s == nil {
		return false
	}
	h.mu.Lock()
	_, linked := h.index[s.ID()]
	h.mu.Unlock()
	if !linked {
		return false
	}

	h.hooks.AtBeforeUnlink(h.object, s, reason)

	h.mu.Lock()
	delete(h.index, s.ID())
	for i, cur := range h.order {
		if cur.ID() == s.ID() {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	if s.Puppet() == h.object {
		s.setPuppet(nil)
	}

	h.hooks.AtUnlink(h.object, s)
	h.hooks.AtAfterUnlink(h.object, s, reason)
	return true
}

// validate returns the denial, if any, and whether it is a hard
// invariant that force may not bypass.
func (h *ObjectSessions) validate(s *Session) (*Deny, bool) {
	o := h.object
	acct := s.Account()
	if acct == nil {
		return deny(DenyNotAuthenticated,
			"You must be logged in to an account before you can puppet an object."), false
	}
	if s.Puppet() == o {
		return deny(DenyAlreadyLinked,
			fmt.Sprintf("You are already puppeting %s.", o.Name)), false
	}
	if !o.Access(acct, "puppet", false) {
		return deny(DenyNoPermission,
			fmt.Sprintf("You don't have permission to puppet %s.", o.Name)), false
	}
	if other := o.ControllingAccount(); other != nil && other != acct {
		return deny(DenyPuppetedByOther,
			fmt.Sprintf("%s is already puppeted by another account.", o.Name)), true
	}
	return nil, false
}

// All returns the puppeting sessions in link order.
func (h *ObjectSessions) All() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Session(nil), h.order...)
}

// Count returns the number of puppeting sessions.
func (h *ObjectSessions) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
