// Package presence tracks which sessions are currently active on the board.
//
// Every session periodically writes a heartbeat into one shared map kept under
// KeyOnlineUsers. Entries that have not been refreshed within the timeout are
// pruned by whichever session writes next. Presence is best effort: two writers
// racing on the map may drop each other's update until the next heartbeat.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"go.uber.org/zap"
)

// KeyOnlineUsers holds the presence map.
const KeyOnlineUsers = "forum_online_users"

const (
	DefaultTimeout  = 15 * time.Second
	DefaultInterval = 5 * time.Second
)

var (
	errMissingStore   = errors.New("presence: store is required")
	errMissingSession = errors.New("presence: session id is required")
)

// Entry is one session's liveness record. LastSeen is unix milliseconds.
type Entry struct {
	Username string `json:"username"`
	LastSeen int64  `json:"lastSeen"`
}

// Update is delivered to subscribers whenever the presence map is rewritten.
type Update struct {
	Count   int
	Entries map[string]Entry
}

// CountObserver receives the number of surviving entries after each write.
type CountObserver func(count int)

// BoardConfig describes the dependencies of a Board.
type BoardConfig struct {
	Store    kvstore.Store
	Clock    func() time.Time
	Timeout  time.Duration
	Logger   *zap.Logger
	Observer CountObserver
}

// Board applies heartbeats and departures to the shared presence map.
type Board struct {
	store    kvstore.Store
	clock    func() time.Time
	timeout  time.Duration
	logger   *zap.Logger
	observer CountObserver
	writeMu  sync.Mutex
}

// NewBoard validates the configuration and constructs a Board.
func NewBoard(cfg BoardConfig) (*Board, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		store:    cfg.Store,
		clock:    clock,
		timeout:  timeout,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// Timeout reports how long an entry survives without a heartbeat.
func (board *Board) Timeout() time.Duration {
	return board.timeout
}

// Heartbeat refreshes the session's entry, prunes stale entries and returns the
// number of entries that remain.
func (board *Board) Heartbeat(ctx context.Context, sessionID, username string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, errMissingSession
	}
	board.writeMu.Lock()
	defer board.writeMu.Unlock()

	entries, err := board.load(ctx)
	if err != nil {
		return 0, err
	}
	now := board.clock().UnixMilli()
	entries[sessionID] = Entry{Username: username, LastSeen: now}
	for id, entry := range entries {
		if board.stale(entry, now) {
			delete(entries, id)
		}
	}
	if err := board.save(ctx, entries); err != nil {
		return 0, err
	}
	board.observe(len(entries))
	return len(entries), nil
}

// Leave removes the session's entry. Leaving twice is a no-op.
func (board *Board) Leave(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errMissingSession
	}
	board.writeMu.Lock()
	defer board.writeMu.Unlock()

	entries, err := board.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := entries[sessionID]; !ok {
		return nil
	}
	delete(entries, sessionID)
	if err := board.save(ctx, entries); err != nil {
		return err
	}
	board.observe(len(entries))
	return nil
}

// Count returns the number of entries that are not stale. It never writes.
func (board *Board) Count(ctx context.Context) (int, error) {
	entries, err := board.load(ctx)
	if err != nil {
		return 0, err
	}
	now := board.clock().UnixMilli()
	count := 0
	for _, entry := range entries {
		if !board.stale(entry, now) {
			count++
		}
	}
	return count, nil
}

// Entries returns the decoded presence map as persisted, stale entries included.
func (board *Board) Entries(ctx context.Context) (map[string]Entry, error) {
	return board.load(ctx)
}

// Subscribe streams presence map rewrites, including this process's own. The
// count of each update is the size of the new map, not a recomputation.
func (board *Board) Subscribe(ctx context.Context) (<-chan Update, func()) {
	changes, cancel := board.store.Subscribe(ctx, KeyOnlineUsers)
	updates := make(chan Update, 1)
	go func() {
		defer close(updates)
		for change := range changes {
			entries := map[string]Entry{}
			if !change.Deleted {
				decoded, err := DecodeEntries(change.Value)
				if err != nil {
					board.logger.Warn("ignoring malformed presence change", zap.Error(err))
					continue
				}
				entries = decoded
			}
			update := Update{Count: len(entries), Entries: entries}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, cancel
}

func (board *Board) stale(entry Entry, nowMillis int64) bool {
	return nowMillis-entry.LastSeen > board.timeout.Milliseconds()
}

func (board *Board) observe(count int) {
	if board.observer != nil {
		board.observer(count)
	}
}

func (board *Board) load(ctx context.Context) (map[string]Entry, error) {
	raw, ok, err := board.store.Get(ctx, KeyOnlineUsers)
	if err != nil {
		board.logger.Error("presence read failed", zap.Error(err))
		return nil, fmt.Errorf("presence: read: %w", err)
	}
	if !ok {
		return map[string]Entry{}, nil
	}
	entries, err := DecodeEntries(raw)
	if err != nil {
		board.logger.Warn("malformed presence record treated as empty", zap.Error(err))
		return map[string]Entry{}, nil
	}
	return entries, nil
}

func (board *Board) save(ctx context.Context, entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("presence: encode: %w", err)
	}
	if err := board.store.Set(ctx, KeyOnlineUsers, string(data)); err != nil {
		board.logger.Error("presence write failed", zap.Error(err))
		return fmt.Errorf("presence: write: %w", err)
	}
	return nil
}

// DecodeEntries parses a persisted presence map. An empty value decodes to an empty map.
func DecodeEntries(raw string) (map[string]Entry, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]Entry{}, nil
	}
	entries := map[string]Entry{}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("presence: decode: %w", err)
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries, nil
}
