// Package credential persists the bearer token the backend issues at
// login, the way the web client kept it in local storage.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/renameio/v2"
)

// Claims is the unverified view of a backend token. The backend signs with
// its own secret, so nothing here is trusted for authorization.
type Claims struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp
}

// Expired reports whether the token's exp lies before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect decodes the JWT payload without verifying its signature.
func Inspect(token string) (Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("decode token: %w", err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("decode token: unexpected claims type")
	}

	var claims Claims
	switch sub := mc["sub"].(type) {
	case string:
		claims.Subject = sub
	case float64:
		// The backend sends sub as a string; other issuers use a number.
		claims.Subject = fmt.Sprintf("%.0f", sub)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("decode token exp: %w", err)
	}
	if exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// Store keeps a single token in a file. A missing file means signed out.
type Store struct {
	path string
	now  func() time.Time

	mu    sync.RWMutex
	token string
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Load reads the persisted token, if any.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.set("")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	s.set(strings.TrimSpace(string(data)))
	return nil
}

// Save persists token atomically and makes it current.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	s.set(token)
	return nil
}

// Clear signs out: the file is removed and Token returns "".
func (s *Store) Clear() error {
	s.set("")
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Token returns the current token, or "" when none is stored or it has
// expired. Tokens that are not JWTs are passed through as-is.
func (s *Store) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return ""
	}
	if claims, err := Inspect(token); err == nil && claims.Expired(s.now()) {
		return ""
	}
	return token
}

// Claims decodes the current token. ok is false when signed out.
func (s *Store) Claims() (claims Claims, ok bool) {
	token := s.Token()
	if token == "" {
		return Claims{}, false
	}
	claims, err := Inspect(token)
	if err != nil {
		return Claims{}, true
	}
	return claims, true
}

func (s *Store) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
