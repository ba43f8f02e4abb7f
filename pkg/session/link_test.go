package session

import (
	"testing"

	"github.com/duskhaven-mud/duskhaven/pkg/signals"
)

// testWorld bundles the pieces most link tests need.
type testWorld struct {
	mode Mode
	bus  *signals.Bus
	reg  *Registry
}

func newTestWorld(mode Mode) *testWorld {
	return &testWorld{mode: mode, bus: signals.NewBus(), reg: NewRegistry()}
}

func (w *testWorld) modeFn() Mode { return w.mode }

func (w *testWorld) account(id uint64, name string) *Account {
	return NewAccount(id, name, &PolicyAccountHooks{Mode: w.modeFn, Bus: w.bus})
}

func (w *testWorld) object(id uint64, name string, owner *Account) *Object {
	return NewObject(id, name, owner, &PolicyObjectHooks{Mode: w.modeFn, Bus: w.bus})
}

func (w *testWorld) session() (*Session, *mockConn) {
	conn := &mockConn{}
	s := NewSession(w.reg.NextID(), conn, nil)
	if err := w.reg.Add(s); err != nil {
		panic(err)
	}
	return s, conn
}

func TestAccountLinkBackReferences(t *testing.T) {
	w := newTestWorld(1)
	acct := w.account(1, "alice")
	s, _ := w.session()

	if !acct.Sessions.Add(s, false, false) {
		t.Fatal("link should succeed")
	}
	if s.Account() != acct {
		t.Error("session back-reference not set")
	}
	if !s.LoggedIn() {
		t.Error("session should be logged in")
	}
	if acct.Sessions.Get(s.ID()) != s {
		t.Error("account index missing the session")
	}

	acct.Sessions.Remove(s, false, "logout")
	if s.Account() != nil || s.LoggedIn() {
		t.Error("unlink must clear the back-reference")
	}
	if acct.Sessions.Count() != 0 {
		t.Error("account list should be empty")
	}
}

func TestMode0EvictsPriorSession(t *testing.T) {
	w := newTestWorld(0)
	acct := w.account(1, "alice")
	s1, c1 := w.session()
	s2, _ := w.session()

	acct.Sessions.Add(s1, false, false)
	if !acct.Sessions.Add(s2, false, false) {
		t.Fatal("second link should succeed")
	}

	linked := acct.Sessions.All()
	if len(linked) != 1 || linked[0] != s2 {
		t.Fatalf("exactly the newest session must remain linked, got %v", linked)
	}
	if !s1.IsClosed() {
		t.Error("evicted session must be disconnected")
	}
	if !c1.OutputContains("logged in from elsewhere") {
		t.Errorf("evicted session must be told why, got %v", c1.Output())
	}
}

func TestMultisessionAllowsSecondSession(t *testing.T) {
	w := newTestWorld(1)
	acct := w.account(1, "alice")
	s1, _ := w.session()
	s2, _ := w.session()

	acct.Sessions.Add(s1, false, false)
	acct.Sessions.Add(s2, false, false)

	if acct.Sessions.Count() != 2 {
		t.Errorf("mode 1 should keep both sessions, got %d", acct.Sessions.Count())
	}
	if s1.IsClosed() {
		t.Error("mode 1 must not evict the prior session")
	}
}

func TestAccountBroadcast(t *testing.T) {
	w := newTestWorld(1)
	acct := w.account(1, "alice")
	s1, c1 := w.session()
	s2, c2 := w.session()
	acct.Sessions.Add(s1, false, false)
	acct.Sessions.Add(s2, false, false)

	acct.Msg("You hear a distant bell.", nil)

	if !c1.OutputContains("distant bell") || !c2.OutputContains("distant bell") {
		t.Error("output must be broadcast to all of the account's sessions")
	}
}

func TestPuppetRequiresLogin(t *testing.T) {
	w := newTestWorld(2)
	acct := w.account(1, "alice")
	obj := w.object(10, "alice-char", acct)
	s, conn := w.session()

	if obj.Sessions.Add(s, false, false) {
		t.Fatal("unauthenticated session must not puppet")
	}
	if !conn.OutputContains("must be logged in") {
		t.Errorf("expected not-authenticated message, got %v", conn.Output())
	}
}

func TestPuppetDenyMessagesAreDistinct(t *testing.T) {
	w := newTestWorld(2)
	alice := w.account(1, "alice")
	obj := w.object(10, "alice-char", alice)

	s, conn := w.session()
	alice.Sessions.Add(s, false, false)
	obj.Sessions.Add(s, false, false)

	// Already puppeting this target.
	if obj.Sessions.Add(s, false, false) {
		t.Fatal("re-puppet of same target should be denied")
	}
	if !conn.OutputContains("already puppeting") {
		t.Errorf("expected already-puppeting message, got %v", conn.Output())
	}

	// No permission.
	bob := w.account(2, "bob")
	locked := w.object(11, "vault-golem", alice)
	sb, cb := w.session()
	bob.Sessions.Add(sb, false, false)
	if locked.Sessions.Add(sb, false, false) {
		t.Fatal("puppet without permission should be denied")
	}
	if !cb.OutputContains("permission") {
		t.Errorf("expected permission message, got %v", cb.Output())
	}
}

func TestCrossAccountPuppetDenied(t *testing.T) {
	w := newTestWorld(2)
	alice := w.account(1, "alice")
	bob := w.account(2, "bob")
	obj := w.object(10, "shared-char", alice)
	// Both accounts pass the permission check; only the co-puppet
	// invariant stands between bob and the object.
	obj.AccessFunc = func(*Account, string, bool) bool { return true }

	sa, _ := w.session()
	alice.Sessions.Add(sa, false, false)
	if !obj.Sessions.Add(sa, false, false) {
		t.Fatal("alice should puppet fine")
	}

	sb, cb := w.session()
	bob.Sessions.Add(sb, false, false)
	if obj.Sessions.Add(sb, false, false) {
		t.Fatal("cross-account co-puppet must be denied")
	}
	if !cb.OutputContains("already puppeted by another") {
		t.Errorf("expected puppeted-by-another message, got %v", cb.Output())
	}

	// Even force cannot bypass the hard invariant.
	if obj.Sessions.Add(sb, true, false) {
		t.Fatal("force must not bypass the cross-account rule")
	}

	linked := obj.Sessions.All()
	if len(linked) != 1 || linked[0] != sa {
		t.Errorf("object must remain linked only to alice's session, got %v", linked)
	}
}

func TestTakeoverSameAccountNonSharing(t *testing.T) {
	w := newTestWorld(2)
	alice := w.account(1, "alice")
	obj := w.object(10, "alice-char", alice)

	s1, c1 := w.session()
	s2, c2 := w.session()
	alice.Sessions.Add(s1, false, false)
	alice.Sessions.Add(s2, false, false)
	obj.Sessions.Add(s1, false, false)

	if !obj.Sessions.Add(s2, false, false) {
		t.Fatal("takeover should succeed")
	}

	if s1.Puppet() != nil {
		t.Error("old session must be unlinked from the puppet")
	}
	if s2.Puppet() != obj {
		t.Error("new session must hold the puppet")
	}
	linked := obj.Sessions.All()
	if len(linked) != 1 || linked[0] != s2 {
		t.Errorf("object should be linked only to the new session, got %v", linked)
	}
	if !c1.OutputContains("taken over") {
		t.Errorf("old session must get a takeover notice, got %v", c1.Output())
	}
	if !c2.OutputContains("Taking over") {
		t.Errorf("new session must get a takeover notice, got %v", c2.Output())
	}
}

func TestSharingModeCoPuppets(t *testing.T) {
	w := newTestWorld(3)
	alice := w.account(1, "alice")
	obj := w.object(10, "alice-char", alice)

	s1, _ := w.session()
	s2, _ := w.session()
	alice.Sessions.Add(s1, false, false)
	alice.Sessions.Add(s2, false, false)
	obj.Sessions.Add(s1, false, false)

	if !obj.Sessions.Add(s2, false, false) {
		t.Fatal("sharing mode must allow co-puppeting")
	}
	if obj.Sessions.Count() != 2 {
		t.Errorf("both sessions should stay linked, got %d", obj.Sessions.Count())
	}
	if s1.Puppet() != obj || s2.Puppet() != obj {
		t.Error("both sessions must reference the puppet")
	}
}

func TestPuppetSwitchLeavesOldBody(t *testing.T) {
	w := newTestWorld(2)
	alice := w.account(1, "alice")
	char1 := w.object(10, "warrior", alice)
	char2 := w.object(11, "mage", alice)

	s, _ := w.session()
	alice.Sessions.Add(s, false, false)
	char1.Sessions.Add(s, false, false)
	char2.Sessions.Add(s, false, false)

	if s.Puppet() != char2 {
		t.Error("session should puppet the new object")
	}
	if char1.Sessions.Count() != 0 {
		t.Error("old object must drop the session")
	}
}

func TestLinkSignals(t *testing.T) {
	w := newTestWorld(1)
	var fired []string
	for _, name := range []string{
		signals.AccountPostFirstLogin,
		signals.AccountPostLogin,
		signals.AccountPostLogout,
		signals.AccountPostLastLogout,
		signals.ObjectPostPuppet,
		signals.ObjectPostUnpuppet,
	} {
		name := name
		w.bus.Connect(name, func(sender any, kwargs map[string]any) {
			fired = append(fired, name)
		})
	}

	acct := w.account(1, "alice")
	obj := w.object(10, "alice-char", acct)
	s, _ := w.session()

	acct.Sessions.Add(s, false, false)
	obj.Sessions.Add(s, false, false)
	s.Disconnect("quit")

	want := []string{
		signals.AccountPostFirstLogin,
		signals.AccountPostLogin,
		signals.ObjectPostPuppet,
		signals.ObjectPostUnpuppet,
		signals.AccountPostLogout,
		signals.AccountPostLastLogout,
	}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("signal %d = %s, want %s (all: %v)", i, fired[i], want[i], fired)
		}
	}
}

func TestSecondLoginIsNotFirst(t *testing.T) {
	w := newTestWorld(1)
	firsts := 0
	w.bus.Connect(signals.AccountPostFirstLogin, func(any, map[string]any) { firsts++ })

	acct := w.account(1, "alice")
	s1, _ := w.session()
	acct.Sessions.Add(s1, false, false)
	acct.Sessions.Remove(s1, false, "quit")
	s2, _ := w.session()
	acct.Sessions.Add(s2, false, false)

	if firsts != 1 {
		t.Errorf("first-login fired %d times, want 1", firsts)
	}
}

func TestResyncSuppressesSignals(t *testing.T) {
	w := newTestWorld(1)
	logins := 0
	w.bus.Connect(signals.AccountPostLogin, func(any, map[string]any) { logins++ })

	acct := w.account(1, "alice")
	s, _ := w.session()
	if !acct.Sessions.Add(s, false, true) {
		t.Fatal("resync link should succeed")
	}
	if logins != 0 {
		t.Error("resync link must not fire login signals")
	}
	if s.Account() != acct {
		t.Error("resync link must still attach the session")
	}
}

func TestDisconnectCleansEverything(t *testing.T) {
	w := newTestWorld(1)
	acct := w.account(1, "alice")
	obj := w.object(10, "alice-char", acct)
	s, _ := w.session()
	acct.Sessions.Add(s, false, false)
	obj.Sessions.Add(s, false, false)

	s.Disconnect("quit")

	if w.reg.Get(s.ID()) != nil {
		t.Error("session must leave the registry")
	}
	if acct.Sessions.Count() != 0 {
		t.Error("session must leave the account list")
	}
	if obj.Sessions.Count() != 0 {
		t.Error("session must leave the object list")
	}
}
