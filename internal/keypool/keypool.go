// Package keypool tracks the ordered pool of upstream API keys and the
// index of the one currently in use.
package keypool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/metrics"
)

// Pool is a fixed, ordered set of API keys with a single shared cursor.
// The cursor wraps around on Advance, so the pool never runs out. The
// cursor is process state only; it resets to zero on restart.
type Pool struct {
	mu    sync.Mutex
	keys  []string
	index int
	log   *logger.Logger
}

// New creates a pool from an ordered key list.
func New(keys []string, log *logger.Logger) *Pool {
	if len(keys) == 0 {
		panic("keypool: no API keys configured")
	}
	return &Pool{keys: keys, log: log}
}

// Current returns the key at the current index.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.index]
}

// Advance moves the cursor to the next key, wrapping at the end of the
// pool, and returns the new key. Callers invoke it after the current key
// was rejected upstream; it never fails.
func (p *Pool) Advance() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.index
	p.index = (p.index + 1) % len(p.keys)

	p.log.Warn("switched API key",
		zap.Int("from", prev),
		zap.Int("to", p.index),
		zap.Int("pool_size", len(p.keys)),
	)
	metrics.KeyRotationsTotal.Inc()

	return p.keys[p.index]
}

// Index returns the current cursor position.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Size returns the number of keys in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}
