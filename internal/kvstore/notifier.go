package kvstore

import (
	"context"
	"sync"
)

const (
	defaultSubscriberBuffer = 16
	wildcardKey             = "*"
)

// Notifier fans store changes out to in-process subscribers keyed by record key.
// Publish never blocks; a subscriber whose buffer is full misses the change.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	closed      bool
}

type subscriber struct {
	id     int64
	keys   []string
	stream chan Change
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.stream)
		close(s.done)
	})
}

// NewNotifier constructs an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultSubscriberBuffer,
	}
}

// Subscribe registers a stream for keys. An empty key list subscribes to every key.
func (n *Notifier) Subscribe(ctx context.Context, keys ...string) (<-chan Change, func()) {
	if len(keys) == 0 {
		keys = []string{wildcardKey}
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}
	n.nextID++
	sub := &subscriber{
		id:     n.nextID,
		keys:   dedupeKeys(keys),
		stream: make(chan Change, n.bufferSize),
		done:   make(chan struct{}),
	}
	for _, key := range sub.keys {
		if _, ok := n.subscribers[key]; !ok {
			n.subscribers[key] = make(map[int64]*subscriber)
		}
		n.subscribers[key][sub.id] = sub
	}
	n.mu.Unlock()

	cancel := func() {
		n.unregister(sub)
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.stream, cancel
}

// Publish delivers change to every subscriber of its key and to wildcard subscribers.
func (n *Notifier) Publish(change Change) {
	if change.Key == "" {
		return
	}
	n.mu.RLock()
	targets := make([]*subscriber, 0, len(n.subscribers[change.Key])+len(n.subscribers[wildcardKey]))
	for _, sub := range n.subscribers[change.Key] {
		targets = append(targets, sub)
	}
	for _, sub := range n.subscribers[wildcardKey] {
		targets = append(targets, sub)
	}
	// Delivery happens under the read lock so unregister cannot close a stream mid-send.
	for _, sub := range targets {
		select {
		case sub.stream <- change:
		default:
		}
	}
	n.mu.RUnlock()
}

// Close unregisters every subscriber and closes their streams.
func (n *Notifier) Close() {
	n.mu.Lock()
	all := make(map[int64]*subscriber)
	for _, subs := range n.subscribers {
		for id, sub := range subs {
			all[id] = sub
		}
	}
	n.subscribers = make(map[string]map[int64]*subscriber)
	n.closed = true
	n.mu.Unlock()
	for _, sub := range all {
		sub.close()
	}
}

func (n *Notifier) unregister(sub *subscriber) {
	n.mu.Lock()
	for _, key := range sub.keys {
		subs := n.subscribers[key]
		if subs == nil {
			continue
		}
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(n.subscribers, key)
		}
	}
	n.mu.Unlock()
	sub.close()
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
