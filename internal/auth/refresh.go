package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshMismatch reports a refresh token that is unknown or superseded.
var ErrRefreshMismatch = errors.New("refresh token not recognized")

// RefreshStore persists the latest refresh token per subject, so a stolen
// older token stops working once a newer pair is issued.
type RefreshStore interface {
	Save(ctx context.Context, subject, token string, exp time.Time) error
	Validate(ctx context.Context, subject, token string) error
}

// MemoryRefreshStore keeps refresh tokens in process memory.
type MemoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]storedToken
}

type storedToken struct {
	token string
	exp   time.Time
}

// NewMemoryRefreshStore creates an empty store.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: make(map[string]storedToken)}
}

func (s *MemoryRefreshStore) Save(_ context.Context, subject, token string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[subject] = storedToken{token: token, exp: exp}
	return nil
}

func (s *MemoryRefreshStore) Validate(_ context.Context, subject, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tokens[subject]
	if !ok || stored.token != token || time.Now().After(stored.exp) {
		return ErrRefreshMismatch
	}
	return nil
}

// RedisRefreshStore keeps refresh tokens in Redis with a TTL matching the
// token expiry.
type RedisRefreshStore struct {
	client *redis.Client
}

// NewRedisRefreshStore creates a store over a redis client.
func NewRedisRefreshStore(client *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{client: client}
}

func refreshKey(subject string) string {
	return "auth:refresh:" + subject
}

func (s *RedisRefreshStore) Save(ctx context.Context, subject, token string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.client.Set(ctx, refreshKey(subject), token, ttl).Err()
}

func (s *RedisRefreshStore) Validate(ctx context.Context, subject, token string) error {
	stored, err := s.client.Get(ctx, refreshKey(subject)).Result()
	if err != nil || stored != token {
		return ErrRefreshMismatch
	}
	return nil
}
