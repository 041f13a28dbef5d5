package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultRedisKeyPrefix = "corkboard:"
	redisChangesChannel   = "changes"
)

// RedisStoreConfig configures the Redis backend.
type RedisStoreConfig struct {
	Client    *redis.Client
	KeyPrefix string
	Logger    *zap.Logger
}

// RedisStore keeps records in Redis and relays writes over a pub/sub channel, so every
// process sharing the Redis instance observes every other process's writes.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	notifier  *Notifier
	logger    *zap.Logger
	clock     func() time.Time

	pubsub   *redis.PubSub
	stopOnce sync.Once
	done     chan struct{}
}

type redisChange struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Deleted   bool   `json:"deleted"`
	Timestamp int64  `json:"ts_ms"`
}

// NewRedisStore subscribes to the change channel and starts relaying notifications.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("kvstore: redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &RedisStore{
		client:    cfg.Client,
		keyPrefix: prefix,
		notifier:  NewNotifier(),
		logger:    logger,
		clock:     time.Now,
		done:      make(chan struct{}),
	}

	pubsub := cfg.Client.Subscribe(ctx, store.channelName())
	// Receive blocks until the subscription is confirmed so no write is missed afterwards.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", store.channelName(), err)
	}
	store.pubsub = pubsub
	go store.relay(pubsub.Channel())
	return store, nil
}

func (s *RedisStore) recordKey(key string) string {
	return s.keyPrefix + "record:" + key
}

func (s *RedisStore) channelName() string {
	return s.keyPrefix + redisChangesChannel
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	value, err := s.client.Get(ctx, s.recordKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.recordKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	s.announce(ctx, redisChange{Key: key, Value: value, Timestamp: s.clock().UTC().UnixMilli()})
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.recordKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	s.announce(ctx, redisChange{Key: key, Deleted: true, Timestamp: s.clock().UTC().UnixMilli()})
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, keys ...string) (<-chan Change, func()) {
	return s.notifier.Subscribe(ctx, keys...)
}

// Close stops the relay and closes the pub/sub connection. The client is owned by the caller.
func (s *RedisStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.notifier.Close()
	})
	return err
}

// announce publishes a change. A failed publish is logged, not returned: the write
// already succeeded and peers converge on their next read.
func (s *RedisStore) announce(ctx context.Context, change redisChange) {
	payload, err := json.Marshal(change)
	if err != nil {
		s.logger.Warn("redis change encode failed", zap.String("key", change.Key), zap.Error(err))
		return
	}
	if err := s.client.Publish(ctx, s.channelName(), payload).Err(); err != nil {
		s.logger.Warn("redis change publish failed", zap.String("key", change.Key), zap.Error(err))
	}
}

func (s *RedisStore) relay(messages <-chan *redis.Message) {
	for {
		select {
		case <-s.done:
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			var change redisChange
			if err := json.Unmarshal([]byte(message.Payload), &change); err != nil {
				s.logger.Warn("redis change decode failed", zap.Error(err))
				continue
			}
			s.notifier.Publish(Change{
				Key:       change.Key,
				Value:     change.Value,
				Deleted:   change.Deleted,
				Timestamp: time.UnixMilli(change.Timestamp).UTC(),
			})
		}
	}
}
