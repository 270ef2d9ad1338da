package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeRegistry reserves join codes so two creators never get the same one
type CodeRegistry interface {
	// Reserve claims code for collection; false means it is already taken
	Reserve(ctx context.Context, collection, code string) (bool, error)
	Release(ctx context.Context, collection, code string) error
}

type codeRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCodeRegistry creates a Redis backed registry. Reservations expire
// after 24h, matching how long a classroom code stays meaningful.
func NewCodeRegistry(client *redis.Client) CodeRegistry {
	return &codeRegistry{
		client: client,
		ttl:    24 * time.Hour,
	}
}

func (c *codeRegistry) key(collection, code string) string {
	return fmt.Sprintf("code:%s:%s", collection, code)
}

func (c *codeRegistry) Reserve(ctx context.Context, collection, code string) (bool, error) {
	return c.client.SetNX(ctx, c.key(collection, code), 1, c.ttl).Result()
}

func (c *codeRegistry) Release(ctx context.Context, collection, code string) error {
	return c.client.Del(ctx, c.key(collection, code)).Err()
}

type memoryCodeRegistry struct {
	mu    sync.Mutex
	codes map[string]struct{}
}

// NewMemoryCodeRegistry creates a process-local registry for the memory
// store driver and tests
func NewMemoryCodeRegistry() CodeRegistry {
	return &memoryCodeRegistry{codes: make(map[string]struct{})}
}

func (m *memoryCodeRegistry) Reserve(_ context.Context, collection, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := collection + ":" + code
	if _, taken := m.codes[k]; taken {
		return false, nil
	}
	m.codes[k] = struct{}{}
	return true, nil
}

func (m *memoryCodeRegistry) Release(_ context.Context, collection, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, collection+":"+code)
	return nil
}
