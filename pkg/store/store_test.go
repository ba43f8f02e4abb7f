package store

import (
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndLookupAccount(t *testing.T) {
	s := openTestStore(t)

	acct, err := s.CreateAccount("Alice", "sekrit")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acct.ID == 0 {
		t.Error("account id should be assigned")
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte("sekrit")) != nil {
		t.Error("stored hash must verify the password")
	}

	// Lookup is case-insensitive.
	got, err := s.GetAccountByName("alice")
	if err != nil {
		t.Fatalf("GetAccountByName: %v", err)
	}
	if got.ID != acct.ID || got.Name != "Alice" {
		t.Errorf("lookup got #%d %q, want #%d Alice", got.ID, got.Name, acct.ID)
	}

	if _, err := s.GetAccountByName("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account: got %v, want ErrNotFound", err)
	}
}

func TestDuplicateAccountName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateAccount("alice", "pw"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := s.CreateAccount("ALICE", "pw2"); !errors.Is(err, ErrNameTaken) {
		t.Errorf("duplicate name: got %v, want ErrNameTaken", err)
	}
}

func TestLoginBookkeeping(t *testing.T) {
	s := openTestStore(t)
	acct, _ := s.CreateAccount("alice", "pw")

	if err := s.RecordLogin(acct.ID); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := s.RecordLogin(acct.ID); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := s.RecordLogout(acct.ID); err != nil {
		t.Fatalf("RecordLogout: %v", err)
	}

	got, err := s.GetAccount(acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.LoginCount != 2 {
		t.Errorf("LoginCount = %d, want 2", got.LoginCount)
	}
	if got.LastLogin.IsZero() || got.LastLogout.IsZero() {
		t.Error("login/logout stamps must be set")
	}
}

func TestSetPasswordClearsLegacyHash(t *testing.T) {
	s := openTestStore(t)
	acct, _ := s.CreateAccount("alice", "old")
	acct.LegacyHash = "XXtfi3r2qmOE2"
	if err := s.PutAccount(acct); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	if err := s.SetPassword(acct.ID, "newpass"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	got, _ := s.GetAccount(acct.ID)
	if got.LegacyHash != "" {
		t.Error("SetPassword must clear the legacy hash")
	}
	if bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("newpass")) != nil {
		t.Error("new hash must verify the new password")
	}
}

func TestRenameAccountFixesIndex(t *testing.T) {
	s := openTestStore(t)
	acct, _ := s.CreateAccount("alice", "pw")

	if err := s.RenameAccount(acct.ID, "alicia"); err != nil {
		t.Fatalf("RenameAccount: %v", err)
	}
	if _, err := s.GetAccountByName("alice"); !errors.Is(err, ErrNotFound) {
		t.Error("old name must be dropped from the index")
	}
	got, err := s.GetAccountByName("alicia")
	if err != nil || got.ID != acct.ID {
		t.Errorf("new name lookup: %v, %v", got, err)
	}
}

func TestCharacterLifecycle(t *testing.T) {
	s := openTestStore(t)
	alice, _ := s.CreateAccount("alice", "pw")
	bob, _ := s.CreateAccount("bob", "pw")

	warrior, err := s.CreateCharacter(alice.ID, "Warrior")
	if err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	if _, err := s.CreateCharacter(alice.ID, "Mage"); err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	if _, err := s.CreateCharacter(bob.ID, "warrior"); !errors.Is(err, ErrNameTaken) {
		t.Errorf("character names share a namespace, got %v", err)
	}

	chars, err := s.CharactersFor(alice.ID)
	if err != nil {
		t.Fatalf("CharactersFor: %v", err)
	}
	if len(chars) != 2 {
		t.Errorf("alice should own 2 characters, got %d", len(chars))
	}

	got, err := s.GetCharacterByName("warrior")
	if err != nil || got.ID != warrior.ID {
		t.Errorf("GetCharacterByName: %v, %v", got, err)
	}

	if err := s.DeleteCharacter(warrior.ID); err != nil {
		t.Fatalf("DeleteCharacter: %v", err)
	}
	if _, err := s.GetCharacterByName("warrior"); !errors.Is(err, ErrNotFound) {
		t.Error("deleted character must leave the name index")
	}
}

func TestLastPuppetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	acct, _ := s.CreateAccount("alice", "pw")
	ch, _ := s.CreateCharacter(acct.ID, "warrior")

	if err := s.RecordLastPuppet(acct.ID, ch.ID); err != nil {
		t.Fatalf("RecordLastPuppet: %v", err)
	}
	got, _ := s.GetAccount(acct.ID)
	if got.LastPuppetID != ch.ID {
		t.Errorf("LastPuppetID = %d, want %d", got.LastPuppetID, ch.ID)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	acct, _ := s.CreateAccount("alice", "pw")
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetAccountByName("alice")
	if err != nil || got.ID != acct.ID {
		t.Errorf("account must survive reopen: %v, %v", got, err)
	}
}
