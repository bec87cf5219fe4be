package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	data   map[string]record
	closed bool
	now    func() time.Time
}

func NewMemory() Store {
	return &memoryStore{data: map[string]record{}, now: time.Now}
}

func (m *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	r, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if r.expired(m.now().UnixMilli()) {
		delete(m.data, key)
		return nil, false, nil
	}
	return slices.Clone(r.Val), true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = record{Val: slices.Clone(val), Until: untilMS(m.now(), ttl)}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.data = nil
	m.mu.Unlock()
	return nil
}
