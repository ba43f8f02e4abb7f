package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/signals"
	"github.com/duskhaven-mud/duskhaven/pkg/store"
)

// World maps persisted account and character records to their live
// session-layer counterparts. Each record gets exactly one live entity;
// lookups by the same id always return the same pointer, which is what
// makes the link-handler invariants hold across transports.
type World struct {
	store *store.Store
	live  *LiveConfig
	bus   *signals.Bus

	mu       sync.Mutex
	accounts map[uint64]*session.Account
	objects  map[uint64]*session.Object
}

// NewWorld creates the roster over an open store.
func NewWorld(st *store.Store, live *LiveConfig, bus *signals.Bus) *World {
	return &World{
		store:    st,
		live:     live,
		bus:      bus,
		accounts: make(map[uint64]*session.Account),
		objects:  make(map[uint64]*session.Object),
	}
}

// Bus returns the lifecycle signal bus.
func (w *World) Bus() *signals.Bus { return w.bus }

// Store returns the backing store.
func (w *World) Store() *store.Store { return w.store }

// Account returns the live account for a stored record, creating and
// seeding it on first use.
func (w *World) Account(rec *store.Account) *session.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a, ok := w.accounts[rec.ID]; ok {
		return a
	}
	hooks := &session.PolicyAccountHooks{
		Mode: w.live.Mode,
		Bus:  w.bus,
		OnLogin: func(a *session.Account, s *session.Session, first bool) {
			if err := w.store.RecordLogin(a.ID); err != nil {
				log.Printf("world: record login for %q: %v", a.Name, err)
			}
		},
		OnLastLogout: func(a *session.Account, s *session.Session) {
			if err := w.store.RecordLogout(a.ID); err != nil {
				log.Printf("world: record logout for %q: %v", a.Name, err)
			}
		},
	}
	a := session.NewAccount(rec.ID, rec.Name, hooks)
	a.SeedLoginStats(rec.LoginCount, rec.LastLogin, rec.LastLogout)
	a.SetLastPuppet(rec.LastPuppetID)
	w.accounts[rec.ID] = a
	return a
}

// AccountByName loads an account record by name and returns its live
// entity.
func (w *World) AccountByName(name string) (*session.Account, error) {
	rec, err := w.store.GetAccountByName(name)
	if err != nil {
		return nil, err
	}
	return w.Account(rec), nil
}

// Object returns the live puppetable object for a stored character,
// creating it on first use. The owning account is materialized too so
// the puppet permission check has something to compare against.
func (w *World) Object(rec *store.Character) (*session.Object, error) {
	ownerRec, err := w.store.GetAccount(rec.AccountID)
	if err != nil {
		return nil, fmt.Errorf("world: character %q owner #%d: %w", rec.Name, rec.AccountID, err)
	}
	owner := w.Account(ownerRec)

	w.mu.Lock()
	defer w.mu.Unlock()
	if o, ok := w.objects[rec.ID]; ok {
		return o, nil
	}
	hooks := &session.PolicyObjectHooks{
		Mode: w.live.Mode,
		Bus:  w.bus,
		OnPuppet: func(o *session.Object, s *session.Session) {
			if a := s.Account(); a != nil {
				a.SetLastPuppet(o.ID)
				if err := w.store.RecordLastPuppet(a.ID, o.ID); err != nil {
					log.Printf("world: record last puppet for %q: %v", a.Name, err)
				}
			}
		},
	}
	o := session.NewObject(rec.ID, rec.Name, owner, hooks)
	w.objects[rec.ID] = o
	return o, nil
}

// ObjectByName loads a character record by name and returns its live
// entity.
func (w *World) ObjectByName(name string) (*session.Object, error) {
	rec, err := w.store.GetCharacterByName(name)
	if err != nil {
		return nil, err
	}
	return w.Object(rec)
}

// ObjectByID loads a character record by id and returns its live
// entity.
func (w *World) ObjectByID(id uint64) (*session.Object, error) {
	rec, err := w.store.GetCharacter(id)
	if err != nil {
		return nil, err
	}
	return w.Object(rec)
}

// CharactersFor returns the live objects for every character owned by
// the account.
func (w *World) CharactersFor(a *session.Account) ([]*session.Object, error) {
	recs, err := w.store.CharactersFor(a.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*session.Object, 0, len(recs))
	for _, rec := range recs {
		o, err := w.Object(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// AutoPuppet puppets the account's most recent character, or its only
// character, onto the freshly linked session. No character is not an
// error; the session just stays OOC.
func (w *World) AutoPuppet(s *session.Session, a *session.Account) {
	var target *session.Object
	if id := a.LastPuppet(); id != 0 {
		if o, err := w.ObjectByID(id); err == nil {
			target = o
		}
	}
	if target == nil {
		chars, err := w.CharactersFor(a)
		if err != nil || len(chars) != 1 {
			return
		}
		target = chars[0]
	}
	if target.Sessions.Add(s, false, false) {
		s.DataOut(fmt.Sprintf("You become %s.", target.Name), nil)
	}
}
