package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	legacycrypt "github.com/duskhaven-mud/duskhaven/pkg/crypt"
	"github.com/duskhaven-mud/duskhaven/pkg/store"
)

// ErrInvalidCredentials is returned for a bad name or password. The two
// cases are deliberately indistinguishable to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrBanned is returned when the account exists but is banned.
var ErrBanned = errors.New("account is banned")

// Claims holds the JWT claims for an authenticated account session.
type Claims struct {
	AccountID   uint64 `json:"account_id"`
	AccountName string `json:"account_name"`
	jwt.RegisteredClaims
}

// AuthService authenticates accounts against the store and issues JWT
// tokens for the web transport.
type AuthService struct {
	store  *store.Store
	jwtKey []byte
	expiry time.Duration
}

// NewAuthService creates an auth service. If jwtSecret is empty, a
// random 32-byte key is generated; tokens then do not survive restarts.
func NewAuthService(st *store.Store, jwtSecret string, expirySeconds int) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := 24 * time.Hour
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &AuthService{store: st, jwtKey: key, expiry: expiry}
}

// Authenticate verifies name and password against the stored account.
// Bcrypt hashes are checked first; accounts imported from older games
// carry a DES crypt(3) hash instead, which is verified and then
// upgraded to bcrypt in place.
func (a *AuthService) Authenticate(name, password string) (*store.Account, error) {
	acct, err := a.store.GetAccountByName(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if acct.Banned {
		return nil, ErrBanned
	}

	if acct.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) == nil {
			return acct, nil
		}
		return nil, ErrInvalidCredentials
	}

	if acct.LegacyHash != "" && legacycrypt.CheckPassword(password, acct.LegacyHash) {
		// Re-hash with bcrypt now that we have the plaintext.
		if err := a.store.SetPassword(acct.ID, password); err != nil {
			log.Printf("auth: upgrading legacy hash for %q: %v", acct.Name, err)
		} else {
			log.Printf("auth: upgraded legacy password hash for %q", acct.Name)
		}
		return acct, nil
	}
	return nil, ErrInvalidCredentials
}

// Login authenticates an account and returns a JWT token.
func (a *AuthService) Login(name, password string) (string, error) {
	acct, err := a.Authenticate(name, password)
	if err != nil {
		return "", err
	}
	return a.IssueToken(acct)
}

// IssueToken signs a JWT for an already-authenticated account.
func (a *AuthService) IssueToken(acct *store.Account) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID:   acct.ID,
		AccountName: acct.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("#%d", acct.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "duskhaven",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateToken parses and validates a JWT token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RefreshToken creates a new token with a fresh expiry for an existing
// valid token.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// GenerateJWTSecret generates a random hex-encoded secret suitable for
// the jwt_secret config key.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
