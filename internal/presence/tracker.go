package presence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errMissingBoard = errors.New("presence: board is required")

// TrackerConfig describes one session's presence lifecycle.
type TrackerConfig struct {
	Board     *Board
	SessionID string
	Interval  time.Duration
	Logger    *zap.Logger
	// OnCount is invoked whenever the displayed count changes.
	OnCount func(count int)
}

// Tracker keeps a single session registered on the board while it runs. The
// session id is fixed for the tracker's lifetime.
type Tracker struct {
	board     *Board
	sessionID string
	interval  time.Duration
	logger    *zap.Logger
	onCount   func(count int)

	// lifecycle serializes Start and Stop end to end.
	lifecycle sync.Mutex

	mu       sync.Mutex
	username string
	count    int
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTracker constructs an unregistered Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Board == nil {
		return nil, errMissingBoard
	}
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		board:     cfg.Board,
		sessionID: sessionID,
		interval:  interval,
		logger:    logger.With(zap.String("session_id", sessionID)),
		onCount:   cfg.OnCount,
	}, nil
}

// SessionID returns the identifier this tracker heartbeats under.
func (tracker *Tracker) SessionID() string {
	return tracker.sessionID
}

// Count returns the currently displayed online count.
func (tracker *Tracker) Count() int {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return tracker.count
}

// Running reports whether the tracker is registered and heartbeating.
func (tracker *Tracker) Running() bool {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return tracker.cancel != nil
}

// Start registers the session under username, heartbeats immediately and then
// every interval. Starting again with the same name is a no-op; a different name
// restarts the session. An empty name stops the tracker and leaves it unregistered.
func (tracker *Tracker) Start(ctx context.Context, username string) error {
	tracker.lifecycle.Lock()
	defer tracker.lifecycle.Unlock()

	username = strings.TrimSpace(username)
	if username == "" {
		return tracker.stop(ctx)
	}

	tracker.mu.Lock()
	sameSession := tracker.cancel != nil && tracker.username == username
	tracker.mu.Unlock()
	if sameSession {
		return nil
	}

	if err := tracker.stop(ctx); err != nil {
		tracker.logger.Warn("presence leave before restart failed", zap.Error(err))
	}

	count, err := tracker.board.Heartbeat(ctx, tracker.sessionID, username)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, unsubscribe := tracker.board.Subscribe(runCtx)
	done := make(chan struct{})

	tracker.mu.Lock()
	tracker.username = username
	tracker.cancel = cancel
	tracker.done = done
	tracker.mu.Unlock()

	tracker.setCount(count)
	go tracker.run(runCtx, username, updates, unsubscribe, done)
	return nil
}

// Stop halts heartbeats, drops the change listener and removes the session's
// entry immediately. The displayed count resets to zero. Stopping an
// unregistered tracker is a no-op.
func (tracker *Tracker) Stop(ctx context.Context) error {
	tracker.lifecycle.Lock()
	defer tracker.lifecycle.Unlock()
	return tracker.stop(ctx)
}

// stop expects the lifecycle lock to be held.
func (tracker *Tracker) stop(ctx context.Context) error {
	tracker.mu.Lock()
	cancel := tracker.cancel
	done := tracker.done
	tracker.cancel = nil
	tracker.done = nil
	tracker.username = ""
	tracker.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	tracker.mu.Lock()
	tracker.count = 0
	tracker.mu.Unlock()
	return tracker.board.Leave(ctx, tracker.sessionID)
}

func (tracker *Tracker) run(ctx context.Context, username string, updates <-chan Update, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()

	ticker := time.NewTicker(tracker.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := tracker.board.Heartbeat(ctx, tracker.sessionID, username)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				tracker.logger.Warn("presence heartbeat failed", zap.Error(err))
				continue
			}
			tracker.setCount(count)
		case update, ok := <-updates:
			if !ok {
				return
			}
			tracker.setCount(update.Count)
		}
	}
}

func (tracker *Tracker) setCount(count int) {
	tracker.mu.Lock()
	changed := tracker.count != count
	tracker.count = count
	tracker.mu.Unlock()
	if changed && tracker.onCount != nil {
		tracker.onCount(count)
	}
}
