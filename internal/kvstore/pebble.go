package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStore persists one Pebble key per record with synced writes.
type PebbleStore struct {
	db       *pebble.DB
	notifier *Notifier
	clock    func() time.Time
}

// OpenPebble opens (or creates) a Pebble database at dir. Options may be nil.
func OpenPebble(dir string, options *pebble.Options) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("kvstore: pebble directory is required")
	}
	if options == nil {
		options = &pebble.Options{}
	}
	db, err := pebble.Open(dir, options)
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &PebbleStore{
		db:       db,
		notifier: NewNotifier(),
		clock:    time.Now,
	}, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	// data is only valid until closer is closed.
	value := string(data)
	if closeErr := closer.Close(); closeErr != nil {
		return "", false, closeErr
	}
	return value, true, nil
}

func (s *PebbleStore) Set(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	s.notifier.Publish(Change{Key: key, Value: value, Timestamp: s.clock().UTC()})
	return nil
}

func (s *PebbleStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	s.notifier.Publish(Change{Key: key, Deleted: true, Timestamp: s.clock().UTC()})
	return nil
}

func (s *PebbleStore) Subscribe(ctx context.Context, keys ...string) (<-chan Change, func()) {
	return s.notifier.Subscribe(ctx, keys...)
}

func (s *PebbleStore) Close() error {
	s.notifier.Close()
	return s.db.Close()
}
