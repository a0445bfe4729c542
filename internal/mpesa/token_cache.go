package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

const (
	tokenKey = "daraja_token"
	// tokenExpiryBuffer is subtracted from the provider's advertised lifetime
	// so a token is never used right at its expiry edge.
	tokenExpiryBuffer = 60 * time.Second
)

// CachedToken is a gateway access token with its expiry time.
type CachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *CachedToken) IsValid() bool {
	if t == nil || t.Token == "" {
		return false
	}
	return time.Now().Add(tokenExpiryBuffer).Before(t.ExpiresAt)
}

// TokenStore persists tokens across process restarts and instances.
type TokenStore interface {
	GetToken(ctx context.Context) (*CachedToken, error)
	SetToken(ctx context.Context, token string, expiresIn time.Duration) error
	DeleteToken(ctx context.Context) error
}

// RedisTokenStore keeps the token in Redis so every instance shares one
// token per credential set.
type RedisTokenStore struct {
	Client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{Client: client}
}

func (s *RedisTokenStore) GetToken(ctx context.Context) (*CachedToken, error) {
	raw, err := s.Client.Get(ctx, tokenKey).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from redis: %w", err)
	}

	var cached CachedToken
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}
	if !cached.IsValid() {
		return nil, nil
	}
	return &cached, nil
}

func (s *RedisTokenStore) SetToken(ctx context.Context, token string, expiresIn time.Duration) error {
	cached := &CachedToken{
		Token:     token,
		ExpiresAt: time.Now().Add(expiresIn),
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.Client.Set(ctx, tokenKey, raw, expiresIn+tokenExpiryBuffer).Err(); err != nil {
		return fmt.Errorf("failed to store token in redis: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) DeleteToken(ctx context.Context) error {
	return s.Client.Del(ctx, tokenKey).Err()
}

// TokenSource hands out a valid access token, fetching from the gateway only
// when the cached one is missing or expired. Concurrent callers that miss the
// cache share a single upstream fetch.
type TokenSource struct {
	store TokenStore
	fetch func(ctx context.Context) (token string, expiresIn time.Duration, err error)
	group singleflight.Group
}

func NewTokenSource(store TokenStore, fetch func(ctx context.Context) (string, time.Duration, error)) *TokenSource {
	return &TokenSource{store: store, fetch: fetch}
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	cached, err := ts.store.GetToken(ctx)
	if err != nil {
		return "", err
	}
	if cached.IsValid() {
		return cached.Token, nil
	}

	v, err, _ := ts.group.Do(tokenKey, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the flight.
		if cached, err := ts.store.GetToken(ctx); err == nil && cached.IsValid() {
			return cached.Token, nil
		}
		token, expiresIn, err := ts.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := ts.store.SetToken(ctx, token, expiresIn); err != nil {
			return nil, err
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Used when the gateway rejects a request with a 401-class response.
func (ts *TokenSource) Invalidate(ctx context.Context) error {
	return ts.store.DeleteToken(ctx)
}
