// Package tokenstore reads, writes and validates the persisted bearer token
// and the user fields stored next to it.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stopshop/models"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenKeys are checked in order; older clients wrote the token under the
// later names.
var TokenKeys = []string{"token", "authToken", "jwtToken", "accessToken"}

// UserKeys hold the denormalized profile.
var UserKeys = []string{"user", "userName", "userEmail", "userAvatar", "userRole"}

var (
	ErrNoToken      = errors.New("no token")
	ErrTokenExpired = errors.New("token expired or invalid")
)

// Store reads credentials from a list of storages, local before session.
// Only the login and logout flows write to it.
type Store struct {
	storages []Storage
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a Store over storages. The first storage receives writes.
func New(storages []Storage, opts ...Option) *Store {
	s := &Store{storages: storages, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetToken returns the first non-empty token found. Storage read errors
// are logged and skipped.
func (s *Store) GetToken(ctx context.Context) (string, bool) {
	for _, st := range s.storages {
		for _, key := range TokenKeys {
			v, err := st.Get(ctx, key)
			if err != nil {
				s.log.Warn("token read failed", zap.String("key", key), zap.Error(err))
				continue
			}
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// IsValid decodes the token's exp claim without checking the signature.
// A missing, malformed or past exp is invalid. It never panics.
func (s *Store) IsValid(token string) bool {
	return ValidAt(token, s.now())
}

// ValidAt reports whether token carries an exp claim later than now.
func ValidAt(token string, now time.Time) (valid bool) {
	defer func() {
		if recover() != nil {
			valid = false
		}
	}()
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Before(exp.Time)
}

// ValidToken returns the current token if it is still valid.
func (s *Store) ValidToken(ctx context.Context) (string, error) {
	tok, ok := s.GetToken(ctx)
	if !ok {
		return "", ErrNoToken
	}
	if !s.IsValid(tok) {
		return "", ErrTokenExpired
	}
	return tok, nil
}

// Clear removes every token and user key from every storage. It attempts
// all removals and returns the joined errors.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, st := range s.storages {
		for _, key := range append(append([]string{}, TokenKeys...), UserKeys...) {
			if err := st.Remove(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SaveSession writes token and profile to the primary storage.
func (s *Store) SaveSession(ctx context.Context, token string, p models.Profile) error {
	if len(s.storages) == 0 {
		return errors.New("no storage configured")
	}
	st := s.storages[0]
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	// Profile first so a watcher that sees the token can read the user.
	fields := [][2]string{
		{"user", string(raw)},
		{"userName", p.Name},
		{"userEmail", p.Email},
		{"userAvatar", p.Avatar},
		{"userRole", p.Role},
		{"token", token},
	}
	for _, f := range fields {
		if err := st.Set(ctx, f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// Profile returns the stored user, falling back to the flat fields when
// the JSON copy is missing.
func (s *Store) Profile(ctx context.Context) (models.Profile, bool) {
	for _, st := range s.storages {
		raw, err := st.Get(ctx, "user")
		if err == nil && raw != "" {
			var p models.Profile
			if json.Unmarshal([]byte(raw), &p) == nil {
				return p, true
			}
		}
		name, _ := st.Get(ctx, "userName")
		email, _ := st.Get(ctx, "userEmail")
		if name == "" && email == "" {
			continue
		}
		avatar, _ := st.Get(ctx, "userAvatar")
		role, _ := st.Get(ctx, "userRole")
		return models.Profile{Name: name, Email: email, Avatar: avatar, Role: role}, true
	}
	return models.Profile{}, false
}
