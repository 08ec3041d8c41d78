package rdx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const revokedPrefix = "auth:token:revoked:"

// Connect dials redis and checks the connection.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return conn, nil
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedPrefix + hex.EncodeToString(sum[:])
}

// Revocations records logged-out tokens in redis until they would have
// expired anyway.
type Revocations struct {
	conn *redis.Client
}

func NewRevocations(conn *redis.Client) *Revocations {
	return &Revocations{conn: conn}
}

// Revoke marks token unusable until until.
func (r *Revocations) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.conn.Set(ctx, tokenKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *Revocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.conn.Exists(ctx, tokenKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocations is the single-process stand-in used when no redis is
// configured.
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, token string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until.After(m.now()) {
		m.revoked[tokenKey(token)] = until
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[tokenKey(token)]
	return ok && until.After(m.now()), nil
}

// Sweep drops entries whose tokens have expired and returns how many went.
func (m *MemoryRevocations) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, until := range m.revoked {
		if !until.After(now) {
			delete(m.revoked, k)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx ends.
func (m *MemoryRevocations) RunSweeper(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Debug("swept revoked tokens", zap.Int("count", n))
			}
		}
	}
}
