// Package store persists accounts and their characters in a bbolt
// database. Records are gob-encoded; secondary name indexes map
// lowercase names to ids for login-time lookup.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

// Bucket name constants for bbolt storage.
var (
	bucketAccounts     = []byte("accounts")
	bucketAccountNames = []byte("accountnames")
	bucketCharacters   = []byte("characters")
	bucketCharNames    = []byte("charnames")
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("store: not found")

// ErrNameTaken is returned when a create collides with an existing name.
var ErrNameTaken = errors.New("store: name already in use")

// Account is the persisted account record. PasswordHash is bcrypt;
// LegacyHash, when non-empty, is a DES crypt(3) hash imported from an
// older game and is cleared the first time the password verifies and
// gets re-hashed.
type Account struct {
	ID           uint64
	Name         string
	PasswordHash string
	LegacyHash   string
	Email        string
	Created      time.Time
	LastLogin    time.Time
	LastLogout   time.Time
	LoginCount   int
	LastPuppetID uint64
	Banned       bool
	Admin        bool
}

// Character is a persisted puppetable character record.
type Character struct {
	ID        uint64
	Name      string
	AccountID uint64
	Created   time.Time
	Desc      string
}

// Store wraps a bbolt database holding accounts and characters.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketAccountNames, bucketCharacters, bucketCharNames} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Backup creates a hot snapshot of the database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("store: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("store: write backup: %w", err)
		}
		log.Printf("store: backup written to %s", path)
		return nil
	})
}

// CreateAccount creates a new account with a bcrypt password hash. The
// name index guarantees case-insensitive uniqueness.
func (s *Store) CreateAccount(name, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("store: hash password: %w", err)
	}
	acct := &Account{
		Name:         name,
		PasswordHash: string(hash),
		Created:      time.Now(),
	}
	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketAccountNames)
		if names.Get(nameKey(name)) != nil {
			return ErrNameTaken
		}
		id, err := tx.Bucket(bucketAccounts).NextSequence()
		if err != nil {
			return err
		}
		acct.ID = id
		data, err := encodeAccount(acct)
		if err != nil {
			return fmt.Errorf("encode account %q: %w", name, err)
		}
		if err := tx.Bucket(bucketAccounts).Put(idToKey(id), data); err != nil {
			return err
		}
		return names.Put(nameKey(name), idToKey(id))
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// PutAccount persists an account record (write-through).
func (s *Store) PutAccount(acct *Account) error {
	data, err := encodeAccount(acct)
	if err != nil {
		return fmt.Errorf("store: encode account #%d: %w", acct.ID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(idToKey(acct.ID), data)
	})
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(id uint64) (*Account, error) {
	var acct *Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get(idToKey(id))
		if v == nil {
			return ErrNotFound
		}
		var err error
		acct, err = decodeAccount(v)
		return err
	})
	return acct, err
}

// GetAccountByName loads an account by case-insensitive name.
func (s *Store) GetAccountByName(name string) (*Account, error) {
	var acct *Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		idk := tx.Bucket(bucketAccountNames).Get(nameKey(name))
		if idk == nil {
			return ErrNotFound
		}
		v := tx.Bucket(bucketAccounts).Get(idk)
		if v == nil {
			return ErrNotFound
		}
		var err error
		acct, err = decodeAccount(v)
		return err
	})
	return acct, err
}

// RenameAccount changes an account's name and fixes the name index.
func (s *Store) RenameAccount(id uint64, newName string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketAccountNames)
		if names.Get(nameKey(newName)) != nil {
			return ErrNameTaken
		}
		v := tx.Bucket(bucketAccounts).Get(idToKey(id))
		if v == nil {
			return ErrNotFound
		}
		acct, err := decodeAccount(v)
		if err != nil {
			return err
		}
		names.Delete(nameKey(acct.Name))
		acct.Name = newName
		data, err := encodeAccount(acct)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketAccounts).Put(idToKey(id), data); err != nil {
			return err
		}
		return names.Put(nameKey(newName), idToKey(id))
	})
}

// SetPassword replaces the account's hash with a fresh bcrypt hash and
// clears any legacy hash.
func (s *Store) SetPassword(id uint64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("store: hash password: %w", err)
	}
	return s.updateAccount(id, func(acct *Account) {
		acct.PasswordHash = string(hash)
		acct.LegacyHash = ""
	})
}

// RecordLogin stamps login bookkeeping on the stored record.
func (s *Store) RecordLogin(id uint64) error {
	return s.updateAccount(id, func(acct *Account) {
		acct.LastLogin = time.Now()
		acct.LoginCount++
	})
}

// RecordLogout stamps the last-logout time on the stored record.
func (s *Store) RecordLogout(id uint64) error {
	return s.updateAccount(id, func(acct *Account) {
		acct.LastLogout = time.Now()
	})
}

// SetAdmin grants or revokes the admin bit.
func (s *Store) SetAdmin(id uint64, admin bool) error {
	return s.updateAccount(id, func(acct *Account) {
		acct.Admin = admin
	})
}

// RecordLastPuppet remembers the most recently puppeted character for
// auto-puppet on the next login.
func (s *Store) RecordLastPuppet(id, charID uint64) error {
	return s.updateAccount(id, func(acct *Account) {
		acct.LastPuppetID = charID
	})
}

// updateAccount applies fn to the stored record inside one transaction.
func (s *Store) updateAccount(id uint64, fn func(*Account)) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		v := b.Get(idToKey(id))
		if v == nil {
			return ErrNotFound
		}
		acct, err := decodeAccount(v)
		if err != nil {
			return err
		}
		fn(acct)
		data, err := encodeAccount(acct)
		if err != nil {
			return err
		}
		return b.Put(idToKey(id), data)
	})
}

// CreateCharacter creates a character owned by the given account.
// Character names share one global namespace.
func (s *Store) CreateCharacter(accountID uint64, name string) (*Character, error) {
	ch := &Character{
		Name:      name,
		AccountID: accountID,
		Created:   time.Now(),
	}
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketCharNames)
		if names.Get(nameKey(name)) != nil {
			return ErrNameTaken
		}
		id, err := tx.Bucket(bucketCharacters).NextSequence()
		if err != nil {
			return err
		}
		ch.ID = id
		data, err := encodeCharacter(ch)
		if err != nil {
			return fmt.Errorf("encode character %q: %w", name, err)
		}
		if err := tx.Bucket(bucketCharacters).Put(idToKey(id), data); err != nil {
			return err
		}
		return names.Put(nameKey(name), idToKey(id))
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// PutCharacter persists a character record.
func (s *Store) PutCharacter(ch *Character) error {
	data, err := encodeCharacter(ch)
	if err != nil {
		return fmt.Errorf("store: encode character #%d: %w", ch.ID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCharacters).Put(idToKey(ch.ID), data)
	})
}

// GetCharacter loads a character by id.
func (s *Store) GetCharacter(id uint64) (*Character, error) {
	var ch *Character
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketCharacters).Get(idToKey(id))
		if v == nil {
			return ErrNotFound
		}
		var err error
		ch, err = decodeCharacter(v)
		return err
	})
	return ch, err
}

// GetCharacterByName loads a character by case-insensitive name.
func (s *Store) GetCharacterByName(name string) (*Character, error) {
	var ch *Character
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		idk := tx.Bucket(bucketCharNames).Get(nameKey(name))
		if idk == nil {
			return ErrNotFound
		}
		v := tx.Bucket(bucketCharacters).Get(idk)
		if v == nil {
			return ErrNotFound
		}
		var err error
		ch, err = decodeCharacter(v)
		return err
	})
	return ch, err
}

// CharactersFor returns every character owned by the account.
func (s *Store) CharactersFor(accountID uint64) ([]*Character, error) {
	var out []*Character
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCharacters).ForEach(func(k, v []byte) error {
			ch, err := decodeCharacter(v)
			if err != nil {
				return fmt.Errorf("decode character: %w", err)
			}
			if ch.AccountID == accountID {
				out = append(out, ch)
			}
			return nil
		})
	})
	return out, err
}

// DeleteCharacter removes a character and its name index entry.
func (s *Store) DeleteCharacter(id uint64) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCharacters)
		v := b.Get(idToKey(id))
		if v == nil {
			return ErrNotFound
		}
		ch, err := decodeCharacter(v)
		if err != nil {
			return err
		}
		tx.Bucket(bucketCharNames).Delete(nameKey(ch.Name))
		return b.Delete(idToKey(id))
	})
}

// AccountCount returns the number of stored accounts.
func (s *Store) AccountCount() int {
	n := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketAccounts).Stats().KeyN
		return nil
	})
	return n
}

// idToKey converts an id to an 8-byte big-endian key.
func idToKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// nameKey lowercases a name for case-insensitive index lookup.
func nameKey(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}
