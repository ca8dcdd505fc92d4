package provider

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// numShards is the number of independently-locked buckets a
// MemoryProvider splits its key space across. Sharding by key hash lets
// concurrent readers and writers touching different keys proceed
// without contending on one global mutex.
const numShards = 16

type shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// MemoryProvider is the in-process Provider implementation: an entirely
// volatile key-value store, useful for tests and ephemeral pipelines.
type MemoryProvider struct {
	shards   [numShards]*shard
	readonly atomic.Bool
}

// NewMemory returns an empty MemoryProvider.
func NewMemory() *MemoryProvider {
	m := &MemoryProvider{}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[string][]byte)}
	}
	return m
}

func (m *MemoryProvider) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return m.shards[h%uint64(numShards)]
}

func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryProvider) Set(_ context.Context, key string, data []byte) error {
	if err := m.CheckReadonly(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cp
	return nil
}

func (m *MemoryProvider) Delete(_ context.Context, key string) error {
	if err := m.CheckReadonly(); err != nil {
		return err
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (m *MemoryProvider) Contains(_ context.Context, key string) (bool, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (m *MemoryProvider) IterKeys(_ context.Context, prefix string, fn func(key string) error) error {
	for _, s := range m.shards {
		s.mu.RLock()
		keys := make([]string, 0, len(s.data))
		for k := range s.data {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		s.mu.RUnlock()
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MemoryProvider) Clear(_ context.Context, prefix string) error {
	if err := m.CheckReadonly(); err != nil {
		return err
	}
	for _, s := range m.shards {
		s.mu.Lock()
		for k := range s.data {
			if strings.HasPrefix(k, prefix) {
				delete(s.data, k)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

func (m *MemoryProvider) CheckReadonly() error {
	if m.readonly.Load() {
		return &ReadonlyError{}
	}
	return nil
}

// SetReadonly toggles this provider's read-only mode, for tests and for
// callers simulating a frozen snapshot.
func (m *MemoryProvider) SetReadonly(readonly bool) {
	m.readonly.Store(readonly)
}

var _ Provider = (*MemoryProvider)(nil)
