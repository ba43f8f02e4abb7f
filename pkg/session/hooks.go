package session

import (
	"fmt"

	"github.com/duskhaven-mud/duskhaven/pkg/signals"
)

// AccountHooks is the hook sequence run around linking a session to an
// account. Stages fire in a fixed order: validate (in the handler) →
// AtBeforeLink → list mutation → AtLink → AtAfterLink, and symmetrically
// for unlink. Implementations embed BaseAccountHooks and override only
// the stages they need.
type AccountHooks interface {
	// AtBeforeLink may perform side-effecting cleanup, such as
	// disconnecting conflicting sessions under the single-session policy.
	AtBeforeLink(a *Account, s *Session)
	// AtLink runs once the list entry and the session's back-reference
	// are both attached.
	AtLink(a *Account, s *Session)
	// AtAfterLink fires lifecycle signals and persists last-used
	// bookkeeping. resync is true when relinking across a controlled
	// restart, which suppresses signals and announcements.
	AtAfterLink(a *Account, s *Session, resync bool)

	AtBeforeUnlink(a *Account, s *Session, reason string)
	// AtUnlink runs once the list entry and back-reference are detached.
	AtUnlink(a *Account, s *Session)
	// AtAfterUnlink fires logout signals; last is true when this was the
	// account's final session, which stamps the disconnected-at time.
	AtAfterUnlink(a *Account, s *Session, reason string, last bool)
}

// ObjectHooks is the hook sequence around puppeting an object.
type ObjectHooks interface {
	AtBeforeLink(o *Object, s *Session)
	AtLink(o *Object, s *Session)
	AtAfterLink(o *Object, s *Session, resync bool)

	AtBeforeUnlink(o *Object, s *Session, reason string)
	AtUnlink(o *Object, s *Session)
	AtAfterUnlink(o *Object, s *Session, reason string)
}

// BaseAccountHooks is a no-op implementation for embedding.
type BaseAccountHooks struct{}

func (BaseAccountHooks) AtBeforeLink(*Account, *Session)                {}
func (BaseAccountHooks) AtLink(*Account, *Session)                      {}
func (BaseAccountHooks) AtAfterLink(*Account, *Session, bool)           {}
func (BaseAccountHooks) AtBeforeUnlink(*Account, *Session, string)      {}
func (BaseAccountHooks) AtUnlink(*Account, *Session)                    {}
func (BaseAccountHooks) AtAfterUnlink(*Account, *Session, string, bool) {}

// BaseObjectHooks is a no-op implementation for embedding.
type BaseObjectHooks struct{}

func (BaseObjectHooks) AtBeforeLink(*Object, *Session)           {}
func (BaseObjectHooks) AtLink(*Object, *Session)                 {}
func (BaseObjectHooks) AtAfterLink(*Object, *Session, bool)      {}
func (BaseObjectHooks) AtBeforeUnlink(*Object, *Session, string) {}
func (BaseObjectHooks) AtUnlink(*Object, *Session)               {}
func (BaseObjectHooks) AtAfterUnlink(*Object, *Session, string)  {}

// PolicyAccountHooks is the standard account link policy: multisession
// mode enforcement, login/logout signals and last-login persistence.
type PolicyAccountHooks struct {
	BaseAccountHooks
	// Mode returns the current multisession mode (live config lookup).
	Mode func() Mode
	Bus  *signals.Bus
	// OnLogin persists login bookkeeping (nil ok).
	OnLogin func(a *Account, s *Session, first bool)
	// OnLastLogout persists the disconnected-at stamp (nil ok).
	OnLastLogout func(a *Account, s *Session)
}

func (h *PolicyAccountHooks) mode() Mode {
	if h.Mode == nil {
		return 0
	}
	return h.Mode()
}

// AtBeforeLink evicts all prior sessions of the account under
// multisession mode 0.
func (h *PolicyAccountHooks) AtBeforeLink(a *Account, s *Session) {
	if h.mode().AllowsMultipleSessions() {
		return
	}
	for _, other := range a.Sessions.All() {
		if other != s {
			other.Disconnect("You have been logged in from elsewhere. Disconnecting.")
		}
	}
}

func (h *PolicyAccountHooks) AtAfterLink(a *Account, s *Session, resync bool) {
	first := a.recordLogin()
	if resync {
		return
	}
	if h.Bus != nil {
		if first {
			h.Bus.Send(signals.AccountPostFirstLogin, a, signals.Kwargs("session", s))
		}
		h.Bus.Send(signals.AccountPostLogin, a, signals.Kwargs("session", s))
	}
	if h.OnLogin != nil {
		h.OnLogin(a, s, first)
	}
}

func (h *PolicyAccountHooks) AtAfterUnlink(a *Account, s *Session, reason string, last bool) {
	if h.Bus != nil {
		h.Bus.Send(signals.AccountPostLogout, a, signals.Kwargs("session", s, "reason", reason))
	}
	if last {
		a.recordLastLogout()
		if h.Bus != nil {
			h.Bus.Send(signals.AccountPostLastLogout, a, signals.Kwargs("session", s, "reason", reason))
		}
		if h.OnLastLogout != nil {
			h.OnLastLogout(a, s)
		}
	}
}

// PolicyObjectHooks is the standard puppet link policy: leave the old
// body, take over or share sibling-session puppets per the multisession
// mode, and fire puppet/unpuppet signals.
type PolicyObjectHooks struct {
	BaseObjectHooks
	Mode func() Mode
	Bus  *signals.Bus
	// OnPuppet persists the account's last-puppeted reference (nil ok).
	OnPuppet func(o *Object, s *Session)
}

func (h *PolicyObjectHooks) mode() Mode {
	if h.Mode == nil {
		return 0
	}
	return h.Mode()
}

// AtBeforeLink unlinks the session's current puppet, then resolves
// sibling-session conflicts: under a sharing mode both sessions stay
// linked; otherwise the object is taken over from the other session.
func (h *PolicyObjectHooks) AtBeforeLink(o *Object, s *Session) {
	if cur := s.Puppet(); cur != nil && cur != o {
		cur.Sessions.Remove(s, true, "unpuppet")
	}
	if h.mode().SharesPuppets() {
		return
	}
	for _, other := range o.Sessions.All() {
		if other == s {
			continue
		}
		other.DataOut(fmt.Sprintf("%s is being taken over from another of your sessions.", o.Name), nil)
		o.Sessions.Remove(other, true, "taken over by another session")
		s.DataOut(fmt.Sprintf("Taking over %s from another of your sessions.", o.Name), nil)
	}
}

func (h *PolicyObjectHooks) AtAfterLink(o *Object, s *Session, resync bool) {
	if resync {
		return
	}
	if h.Bus != nil {
		h.Bus.Send(signals.ObjectPostPuppet, o, signals.Kwargs("session", s, "account", s.Account()))
	}
	if h.OnPuppet != nil {
		h.OnPuppet(o, s)
	}
}

func (h *PolicyObjectHooks) AtAfterUnlink(o *Object, s *Session, reason string) {
	if h.Bus != nil {
		h.Bus.Send(signals.ObjectPostUnpuppet, o, signals.Kwargs("session", s, "reason", reason))
	}
}
