package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists provider tokens per browser session so a restarted
// process can resume them.
type TokenStore interface {
	Load(ctx context.Context, sid string) (*Session, error)
	Save(ctx context.Context, sid string, s *Session) error
	Delete(ctx context.Context, sid string) error
}

// MemoryTokens keeps tokens in process memory.
type MemoryTokens struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{sessions: make(map[string]Session)}
}

func (m *MemoryTokens) Load(_ context.Context, sid string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryTokens) Save(_ context.Context, sid string, s *Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sid] = *s
	return nil
}

func (m *MemoryTokens) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sid)
	return nil
}

const redisKeyPrefix = "tradeshell:tokens:"

// RedisTokens keeps tokens in Redis, expiring them with the browser session.
type RedisTokens struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokens parses url (redis://...) and verifies the connection.
func NewRedisTokens(ctx context.Context, url string, ttl time.Duration) (*RedisTokens, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisTokens{client: client, ttl: ttl}, nil
}

func (r *RedisTokens) Load(ctx context.Context, sid string) (*Session, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return &s, nil
}

func (r *RedisTokens) Save(ctx context.Context, sid string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+sid, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

func (r *RedisTokens) Delete(ctx context.Context, sid string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+sid).Err(); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}

func (r *RedisTokens) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisTokens) Close() error {
	return r.client.Close()
}
