package forum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
)

type sequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type failingIDGenerator struct{}

func (failingIDGenerator) NewID() (string, error) {
	return "", errors.New("exhausted ids")
}

// steppingClock advances by step on every reading so consecutive writes get distinct timestamps.
type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

// failingStore fails reads or writes. A non-empty setKey limits write failures to that key.
type failingStore struct {
	kvstore.Store
	getErr error
	setErr error
	setKey string
}

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil && (s.setKey == "" || s.setKey == key) {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

func newTestRepository(t *testing.T) (*Repository, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return newTestRepositoryWithStore(t, store), store
}

func newTestRepositoryWithStore(t *testing.T, store kvstore.Store) *Repository {
	t.Helper()
	clock := &steppingClock{current: time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC), step: time.Second}
	repository, err := NewRepository(RepositoryConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{prefix: "id"},
	})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repository
}

func mustCreateThread(t *testing.T, repository *Repository, title string) Thread {
	t.Helper()
	thread, err := repository.CreateThread(context.Background(), title, "content of "+title, "alice")
	if err != nil {
		t.Fatalf("create thread failed: %v", err)
	}
	return thread
}

func mustCreateReply(t *testing.T, repository *Repository, threadID, content string) Reply {
	t.Helper()
	reply, err := repository.CreateReply(context.Background(), threadID, content, "bob")
	if err != nil {
		t.Fatalf("create reply failed: %v", err)
	}
	return reply
}

func mustThread(t *testing.T, repository *Repository, id string) Thread {
	t.Helper()
	thread, ok, err := repository.Thread(context.Background(), id)
	if err != nil {
		t.Fatalf("get thread failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected thread %s to exist", id)
	}
	return thread
}
