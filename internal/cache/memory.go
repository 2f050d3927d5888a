package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with per-key TTLs.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]item
	now  func() time.Time
}

type item struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]item), now: time.Now}
}

// lookup returns a live entry, evicting it when expired. Callers hold mu.
func (p *MemoryProvider) lookup(key string) (item, bool) {
	it, ok := p.data[key]
	if !ok {
		return item{}, false
	}
	if !it.expiresAt.IsZero() && !p.now().Before(it.expiresAt) {
		delete(p.data, key)
		return item{}, false
	}
	return it, true
}

func (p *MemoryProvider) store(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = p.now().Add(ttl)
	}
	p.data[key] = item{value: append([]byte(nil), value...), expiresAt: expires}
}

// Get retrieves a cached value if present and not expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with optional TTL.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store(key, value, ttl)
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lookup(key); ok {
		return false, nil
	}
	p.store(key, value, ttl)
	return true, nil
}

// CompareAndDelete removes key when its live value equals value.
func (p *MemoryProvider) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.lookup(key)
	if !ok || !bytes.Equal(it.value, value) {
		return false, nil
	}
	delete(p.data, key)
	return true, nil
}

// Del removes an entry.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

// Close is a no-op.
func (p *MemoryProvider) Close() error { return nil }
