package llm

import (
	"sync"

	"github.com/JeremySu0818/GeminiAPIChat/internal/keypool"
)

// ClientSource yields the client bound to the currently active API key
// and rebuilds it when the key pool fails over.
type ClientSource interface {
	// Client returns the client for the pool's current key.
	Client() (Client, error)

	// Rotate advances the key pool and returns a client for the new key.
	Rotate() (Client, error)
}

// Source builds provider clients from a key pool. The client is cached
// and rebuilt only when the pool cursor has moved since the last build,
// so concurrent readers share one client per key.
type Source struct {
	provider Provider
	pool     *keypool.Pool

	mu     sync.Mutex
	client Client
	key    string
}

// NewSource creates a client source for the given provider and pool.
func NewSource(provider Provider, pool *keypool.Pool) *Source {
	return &Source{provider: provider, pool: pool}
}

// Client returns the client for the currently active key.
func (s *Source) Client() (Client, error) {
	return s.clientFor(s.pool.Current())
}

// Rotate advances the pool and rebuilds the client for the new key.
func (s *Source) Rotate() (Client, error) {
	return s.clientFor(s.pool.Advance())
}

// Pool exposes the underlying key pool for diagnostics.
func (s *Source) Pool() *keypool.Pool {
	return s.pool
}

func (s *Source) clientFor(key string) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.key == key {
		return s.client, nil
	}

	client, err := NewClient(s.provider, key)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.key = key
	return client, nil
}
