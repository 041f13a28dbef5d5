package forum

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation code and wraps the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted error code, e.g. forum.create_reply.store_write_failed.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opRepositoryNew     = "forum.repository.new"
	opListThreads       = "forum.list_threads"
	opLatestThreads     = "forum.latest_threads"
	opGetThread         = "forum.get_thread"
	opCreateThread      = "forum.create_thread"
	opUpdateThread      = "forum.update_thread"
	opDeleteThread      = "forum.delete_thread"
	opListReplies       = "forum.list_replies"
	opCreateReply       = "forum.create_reply"
	opUpdateReply       = "forum.update_reply"
	opDeleteReply       = "forum.delete_reply"
	reasonMissingStore  = "missing_store"
	reasonMissingIDs    = "missing_id_provider"
	reasonStoreRead     = "store_read_failed"
	reasonStoreWrite    = "store_write_failed"
	reasonEncodeFailed  = "encode_failed"
	reasonIDGeneration  = "id_generation_failed"
	reasonMalformedData = "malformed_data"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Store      kvstore.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Repository owns the thread and reply collections. Every write reads the whole
// collection, modifies it, and writes the whole collection back. Writers in this
// process are serialized; writers in other processes sharing the store are not.
type Repository struct {
	store      kvstore.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	writeMu    sync.Mutex
}

// NewRepository validates the configuration and constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingIDs, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Threads returns the full thread collection in stored order.
func (repository *Repository) Threads(ctx context.Context) ([]Thread, error) {
	return repository.loadThreads(ctx, opListThreads)
}

// LatestThreads returns threads ordered by most recent activity, newest first,
// truncated to limit. A non-positive limit uses DefaultLatestLimit.
func (repository *Repository) LatestThreads(ctx context.Context, limit int) ([]Thread, error) {
	threads, err := repository.loadThreads(ctx, opLatestThreads)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	sort.SliceStable(threads, func(left, right int) bool {
		return threads[left].LastActivityAt.After(threads[right].LastActivityAt)
	})
	if len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// Thread returns the first thread with the given id.
func (repository *Repository) Thread(ctx context.Context, id string) (Thread, bool, error) {
	threads, err := repository.loadThreads(ctx, opGetThread)
	if err != nil {
		return Thread{}, false, err
	}
	index := indexOfThread(threads, id)
	if index < 0 {
		return Thread{}, false, nil
	}
	return threads[index], true, nil
}

// CreateThread appends a new thread. Title and content validation is the caller's job.
func (repository *Repository) CreateThread(ctx context.Context, title, content, author string) (Thread, error) {
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	threads, err := repository.loadThreadsForWrite(ctx, opCreateThread)
	if err != nil {
		return Thread{}, err
	}
	id, err := repository.idProvider.NewID()
	if err != nil {
		repository.logError(opCreateThread, reasonIDGeneration, err)
		return Thread{}, newServiceError(opCreateThread, reasonIDGeneration, err)
	}
	now := repository.now()
	thread := Thread{
		ID:             id,
		Title:          title,
		Author:         author,
		Content:        content,
		CreatedAt:      now,
		LastActivityAt: now,
		ReplyCount:     0,
	}
	threads = append(threads, thread)
	if err := repository.saveThreads(ctx, opCreateThread, threads); err != nil {
		return Thread{}, err
	}
	repository.logger.Debug("thread created", zap.String("thread_id", id), zap.String("author", author))
	return thread, nil
}

// UpdateThread replaces title and content in place. It reports whether the thread exists.
func (repository *Repository) UpdateThread(ctx context.Context, id, title, content string) (bool, error) {
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	threads, err := repository.loadThreadsForWrite(ctx, opUpdateThread)
	if err != nil {
		return false, err
	}
	index := indexOfThread(threads, id)
	if index < 0 {
		return false, nil
	}
	threads[index].Title = title
	threads[index].Content = content
	if err := repository.saveThreads(ctx, opUpdateThread, threads); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteThread removes the thread and every reply attached to it. Replies are
// pruned first, so a failed thread write leaves the thread without orphans.
func (repository *Repository) DeleteThread(ctx context.Context, id string) (bool, error) {
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	threads, err := repository.loadThreadsForWrite(ctx, opDeleteThread)
	if err != nil {
		return false, err
	}
	replies, err := repository.loadRepliesForWrite(ctx, opDeleteThread)
	if err != nil {
		return false, err
	}

	remaining := make([]Reply, 0, len(replies))
	for _, reply := range replies {
		if reply.ThreadID != id {
			remaining = append(remaining, reply)
		}
	}
	if len(remaining) != len(replies) {
		if err := repository.saveReplies(ctx, opDeleteThread, remaining); err != nil {
			return false, err
		}
	}

	index := indexOfThread(threads, id)
	if index < 0 {
		return false, nil
	}
	threads = append(threads[:index:index], threads[index+1:]...)
	if err := repository.saveThreads(ctx, opDeleteThread, threads); err != nil {
		return false, err
	}
	return true, nil
}

// Replies returns the replies of a thread in chronological order.
func (repository *Repository) Replies(ctx context.Context, threadID string) ([]Reply, error) {
	all, err := repository.loadReplies(ctx, opListReplies)
	if err != nil {
		return nil, err
	}
	replies := make([]Reply, 0)
	for _, reply := range all {
		if reply.ThreadID == threadID {
			replies = append(replies, reply)
		}
	}
	sort.SliceStable(replies, func(left, right int) bool {
		return replies[left].CreatedAt.Before(replies[right].CreatedAt)
	})
	return replies, nil
}

// CreateReply appends a reply and bumps the parent thread. A reply whose parent
// does not exist is still stored; the thread-side update is skipped. The two
// collections are written separately: when the thread write fails the reply stays
// stored, the failure is logged with the reply id and the reply is returned with
// the error.
func (repository *Repository) CreateReply(ctx context.Context, threadID, content, author string) (Reply, error) {
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	replies, err := repository.loadRepliesForWrite(ctx, opCreateReply)
	if err != nil {
		return Reply{}, err
	}
	threads, err := repository.loadThreadsForWrite(ctx, opCreateReply)
	if err != nil {
		return Reply{}, err
	}
	id, err := repository.idProvider.NewID()
	if err != nil {
		repository.logError(opCreateReply, reasonIDGeneration, err)
		return Reply{}, newServiceError(opCreateReply, reasonIDGeneration, err)
	}
	reply := Reply{
		ID:        id,
		ThreadID:  threadID,
		Author:    author,
		Content:   content,
		CreatedAt: repository.now(),
	}
	replies = append(replies, reply)
	if err := repository.saveReplies(ctx, opCreateReply, replies); err != nil {
		return Reply{}, err
	}

	index := indexOfThread(threads, threadID)
	if index < 0 {
		repository.logger.Warn("reply stored without parent thread",
			zap.String("reply_id", reply.ID),
			zap.String("thread_id", threadID))
		return reply, nil
	}
	threads[index].ReplyCount++
	threads[index].LastActivityAt = reply.CreatedAt
	if err := repository.saveThreads(ctx, opCreateReply, threads); err != nil {
		repository.logPartialWrite(opCreateReply, reply)
		return reply, err
	}
	return reply, nil
}

// UpdateReply replaces reply content in place. It reports whether the reply exists.
func (repository *Repository) UpdateReply(ctx context.Context, id, content string) (bool, error) {
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	replies, err := repository.loadRepliesForWrite(ctx, opUpdateReply)
	if err != nil {
		return false, err
	}
	index := indexOfReply(replies, id)
	if index < 0 {
		return false, nil
	}
	replies[index].Content = content
	if err := repository.saveReplies(ctx, opUpdateReply, replies); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteReply removes a reply and decrements its parent's reply count, never below
// zero. When the thread write fails after the reply was removed, the removal stands,
// the failure is logged with the reply id and true is returned with the error.
func (repository *Repository) DeleteReply(ctx context.Context, id string) (bool, error) {
	repository.writeMu.Lock()
	defer repository.writeMu.Unlock()

	replies, err := repository.loadRepliesForWrite(ctx, opDeleteReply)
	if err != nil {
		return false, err
	}
	threads, err := repository.loadThreadsForWrite(ctx, opDeleteReply)
	if err != nil {
		return false, err
	}
	index := indexOfReply(replies, id)
	if index < 0 {
		return false, nil
	}
	removed := replies[index]
	replies = append(replies[:index:index], replies[index+1:]...)
	if err := repository.saveReplies(ctx, opDeleteReply, replies); err != nil {
		return false, err
	}

	parent := indexOfThread(threads, removed.ThreadID)
	if parent < 0 || threads[parent].ReplyCount <= 0 {
		return true, nil
	}
	threads[parent].ReplyCount--
	if err := repository.saveThreads(ctx, opDeleteReply, threads); err != nil {
		repository.logPartialWrite(opDeleteReply, removed)
		return true, err
	}
	return true, nil
}

func (repository *Repository) now() time.Time {
	return repository.clock().UTC().Truncate(time.Millisecond)
}

// loadThreads serves read paths: undecodable data is logged and whatever decoded
// is returned.
func (repository *Repository) loadThreads(ctx context.Context, operation string) ([]Thread, error) {
	raw, err := repository.readRecord(ctx, operation, KeyThreads)
	if err != nil {
		return nil, err
	}
	threads, decodeErr := DecodeThreads(raw)
	if decodeErr != nil {
		repository.logger.Warn("malformed threads record read partially",
			zap.String("operation", operation),
			zap.String("reason", reasonMalformedData),
			zap.Int("decoded", len(threads)),
			zap.Error(decodeErr))
	}
	return threads, nil
}

// loadThreadsForWrite refuses undecodable data so a write never replaces records
// it could not read.
func (repository *Repository) loadThreadsForWrite(ctx context.Context, operation string) ([]Thread, error) {
	raw, err := repository.readRecord(ctx, operation, KeyThreads)
	if err != nil {
		return nil, err
	}
	threads, decodeErr := DecodeThreads(raw)
	if decodeErr != nil {
		repository.logError(operation, reasonMalformedData, decodeErr, zap.String("key", KeyThreads))
		return nil, newServiceError(operation, reasonMalformedData, decodeErr)
	}
	return threads, nil
}

func (repository *Repository) saveThreads(ctx context.Context, operation string, threads []Thread) error {
	encoded, err := EncodeThreads(threads)
	if err != nil {
		repository.logError(operation, reasonEncodeFailed, err)
		return newServiceError(operation, reasonEncodeFailed, err)
	}
	if err := repository.store.Set(ctx, KeyThreads, encoded); err != nil {
		repository.logError(operation, reasonStoreWrite, err, zap.String("key", KeyThreads))
		return newServiceError(operation, reasonStoreWrite, err)
	}
	return nil
}

func (repository *Repository) loadReplies(ctx context.Context, operation string) ([]Reply, error) {
	raw, err := repository.readRecord(ctx, operation, KeyReplies)
	if err != nil {
		return nil, err
	}
	replies, decodeErr := DecodeReplies(raw)
	if decodeErr != nil {
		repository.logger.Warn("malformed replies record read partially",
			zap.String("operation", operation),
			zap.String("reason", reasonMalformedData),
			zap.Int("decoded", len(replies)),
			zap.Error(decodeErr))
	}
	return replies, nil
}

func (repository *Repository) loadRepliesForWrite(ctx context.Context, operation string) ([]Reply, error) {
	raw, err := repository.readRecord(ctx, operation, KeyReplies)
	if err != nil {
		return nil, err
	}
	replies, decodeErr := DecodeReplies(raw)
	if decodeErr != nil {
		repository.logError(operation, reasonMalformedData, decodeErr, zap.String("key", KeyReplies))
		return nil, newServiceError(operation, reasonMalformedData, decodeErr)
	}
	return replies, nil
}

func (repository *Repository) saveReplies(ctx context.Context, operation string, replies []Reply) error {
	encoded, err := EncodeReplies(replies)
	if err != nil {
		repository.logError(operation, reasonEncodeFailed, err)
		return newServiceError(operation, reasonEncodeFailed, err)
	}
	if err := repository.store.Set(ctx, KeyReplies, encoded); err != nil {
		repository.logError(operation, reasonStoreWrite, err, zap.String("key", KeyReplies))
		return newServiceError(operation, reasonStoreWrite, err)
	}
	return nil
}

func (repository *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	repository.logger.Error("forum repository error", attrs...)
}

// readRecord returns the stored value for key, or an empty string when it is unset.
func (repository *Repository) readRecord(ctx context.Context, operation, key string) (string, error) {
	raw, ok, err := repository.store.Get(ctx, key)
	if err != nil {
		repository.logError(operation, reasonStoreRead, err, zap.String("key", key))
		return "", newServiceError(operation, reasonStoreRead, err)
	}
	if !ok {
		return "", nil
	}
	return raw, nil
}

func (repository *Repository) logPartialWrite(operation string, reply Reply) {
	repository.logger.Error("reply write applied without thread update",
		zap.String("operation", operation),
		zap.String("reply_id", reply.ID),
		zap.String("thread_id", reply.ThreadID))
}

func indexOfThread(threads []Thread, id string) int {
	for index, thread := range threads {
		if thread.ID == id {
			return index
		}
	}
	return -1
}

func indexOfReply(replies []Reply, id string) int {
	for index, reply := range replies {
		if reply.ID == id {
			return index
		}
	}
	return -1
}
