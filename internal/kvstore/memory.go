package kvstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It backs tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]string
	notifier *Notifier
	clock    func() time.Time
	closed   bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]string),
		notifier: NewNotifier(),
		clock:    time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	value, ok := s.records[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.records[key] = value
	s.mu.Unlock()
	s.notifier.Publish(Change{Key: key, Value: value, Timestamp: s.clock().UTC()})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.records, key)
	s.mu.Unlock()
	s.notifier.Publish(Change{Key: key, Deleted: true, Timestamp: s.clock().UTC()})
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, keys ...string) (<-chan Change, func()) {
	return s.notifier.Subscribe(ctx, keys...)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.notifier.Close()
	return nil
}
