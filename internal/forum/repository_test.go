package forum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRepositoryValidatesDependencies(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()

	tests := []struct {
		name         string
		config       RepositoryConfig
		expectedCode string
	}{
		{
			name:         "missing-store",
			config:       RepositoryConfig{IDProvider: NewUUIDProvider()},
			expectedCode: "forum.repository.new.missing_store",
		},
		{
			name:         "missing-id-provider",
			config:       RepositoryConfig{Store: store},
			expectedCode: "forum.repository.new.missing_id_provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRepository(tt.config)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) {
				t.Fatalf("expected ServiceError, got %v", err)
			}
			if serviceErr.Code() != tt.expectedCode {
				t.Fatalf("expected code %s, got %s", tt.expectedCode, serviceErr.Code())
			}
		})
	}
}

func TestCreateThreadAppendsWithUniqueIDs(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()

	seen := map[string]struct{}{}
	for index := 0; index < 5; index++ {
		thread := mustCreateThread(t, repository, "topic")
		if _, duplicate := seen[thread.ID]; duplicate {
			t.Fatalf("duplicate thread id %s", thread.ID)
		}
		seen[thread.ID] = struct{}{}

		threads, err := repository.Threads(ctx)
		if err != nil {
			t.Fatalf("list threads failed: %v", err)
		}
		if len(threads) != index+1 {
			t.Fatalf("expected %d threads, got %d", index+1, len(threads))
		}
		if thread.ReplyCount != 0 {
			t.Fatalf("expected zero reply count, got %d", thread.ReplyCount)
		}
		if !thread.CreatedAt.Equal(thread.LastActivityAt) {
			t.Fatalf("expected created_at and last_activity_at to match on creation")
		}
	}
}

func TestCreateThreadPropagatesIDFailure(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	repository, err := NewRepository(RepositoryConfig{Store: store, IDProvider: failingIDGenerator{}})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	_, err = repository.CreateThread(context.Background(), "title", "content", "alice")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "forum.create_thread.id_generation_failed" {
		t.Fatalf("expected id generation failure, got %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), KeyThreads); ok {
		t.Fatalf("expected nothing persisted after id failure")
	}
}

func TestLatestThreadsOrdersByActivity(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()

	first := mustCreateThread(t, repository, "first")
	second := mustCreateThread(t, repository, "second")
	third := mustCreateThread(t, repository, "third")
	mustCreateReply(t, repository, first.ID, "bump")

	tests := []struct {
		name        string
		limit       int
		expectedIDs []string
	}{
		{name: "all", limit: 10, expectedIDs: []string{first.ID, third.ID, second.ID}},
		{name: "truncated", limit: 2, expectedIDs: []string{first.ID, third.ID}},
		{name: "default-limit", limit: 0, expectedIDs: []string{first.ID, third.ID, second.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			latest, err := repository.LatestThreads(ctx, tt.limit)
			if err != nil {
				t.Fatalf("latest threads failed: %v", err)
			}
			if len(latest) != len(tt.expectedIDs) {
				t.Fatalf("expected %d threads, got %d", len(tt.expectedIDs), len(latest))
			}
			for index, thread := range latest {
				if thread.ID != tt.expectedIDs[index] {
					t.Fatalf("position %d: expected %s, got %s", index, tt.expectedIDs[index], thread.ID)
				}
				if index > 0 && latest[index-1].LastActivityAt.Before(thread.LastActivityAt) {
					t.Fatalf("threads not sorted by activity at position %d", index)
				}
			}
		})
	}
}

func TestLatestThreadsDefaultLimit(t *testing.T) {
	repository, _ := newTestRepository(t)
	for index := 0; index < DefaultLatestLimit+3; index++ {
		mustCreateThread(t, repository, "topic")
	}
	latest, err := repository.LatestThreads(context.Background(), -1)
	if err != nil {
		t.Fatalf("latest threads failed: %v", err)
	}
	if len(latest) != DefaultLatestLimit {
		t.Fatalf("expected %d threads, got %d", DefaultLatestLimit, len(latest))
	}
}

func TestThreadReportsAbsence(t *testing.T) {
	repository, _ := newTestRepository(t)
	_, ok, err := repository.Thread(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected missing thread to be absent")
	}
}

func TestCreateReplyBumpsParent(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()

	thread := mustCreateThread(t, repository, "parent")
	reply := mustCreateReply(t, repository, thread.ID, "first reply")

	updated := mustThread(t, repository, thread.ID)
	if updated.ReplyCount != 1 {
		t.Fatalf("expected reply count 1, got %d", updated.ReplyCount)
	}
	if !updated.LastActivityAt.Equal(reply.CreatedAt) {
		t.Fatalf("expected last activity %s, got %s", reply.CreatedAt, updated.LastActivityAt)
	}
	if !updated.CreatedAt.Equal(thread.CreatedAt) {
		t.Fatalf("created_at must not change on reply")
	}

	replies, err := repository.Replies(ctx, thread.ID)
	if err != nil {
		t.Fatalf("list replies failed: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != reply.ID {
		t.Fatalf("unexpected replies %#v", replies)
	}
}

func TestCreateReplyKeepsOrphan(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	core, recorded := observer.New(zapcore.WarnLevel)
	repository, err := NewRepository(RepositoryConfig{
		Store:      store,
		IDProvider: &sequenceIDGenerator{prefix: "orphan"},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	ctx := context.Background()
	existing := mustCreateThread(t, repository, "bystander")

	reply, err := repository.CreateReply(ctx, "missing-thread", "hello?", "bob")
	if err != nil {
		t.Fatalf("create orphan reply failed: %v", err)
	}
	replies, err := repository.Replies(ctx, "missing-thread")
	if err != nil {
		t.Fatalf("list replies failed: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != reply.ID {
		t.Fatalf("expected orphan reply to be retrievable, got %#v", replies)
	}

	bystander := mustThread(t, repository, existing.ID)
	if bystander.ReplyCount != 0 || !bystander.LastActivityAt.Equal(existing.LastActivityAt) {
		t.Fatalf("orphan reply must not mutate unrelated threads: %#v", bystander)
	}

	entries := recorded.FilterMessage("reply stored without parent thread").All()
	if len(entries) != 1 {
		t.Fatalf("expected one orphan warning, got %d", len(entries))
	}
	if entries[0].ContextMap()["thread_id"] != "missing-thread" {
		t.Fatalf("unexpected warning context %#v", entries[0].ContextMap())
	}
}

func TestRepliesSortedChronologically(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	base := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	replies := []Reply{
		{ID: "r-late", ThreadID: "t", Content: "late", CreatedAt: base.Add(time.Minute)},
		{ID: "r-early", ThreadID: "t", Content: "early", CreatedAt: base},
		{ID: "r-other", ThreadID: "u", Content: "other", CreatedAt: base},
	}
	encoded, err := EncodeReplies(replies)
	if err != nil {
		t.Fatalf("encode replies failed: %v", err)
	}
	if err := store.Set(context.Background(), KeyReplies, encoded); err != nil {
		t.Fatalf("seed replies failed: %v", err)
	}
	repository := newTestRepositoryWithStore(t, store)

	listed, err := repository.Replies(context.Background(), "t")
	if err != nil {
		t.Fatalf("list replies failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "r-early" || listed[1].ID != "r-late" {
		t.Fatalf("unexpected reply order %#v", listed)
	}
}

func TestUpdateThreadLeavesTimestamps(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()
	thread := mustCreateThread(t, repository, "draft")

	found, err := repository.UpdateThread(ctx, thread.ID, "final", "edited")
	if err != nil || !found {
		t.Fatalf("expected update to succeed, found=%v err=%v", found, err)
	}
	updated := mustThread(t, repository, thread.ID)
	if updated.Title != "final" || updated.Content != "edited" {
		t.Fatalf("unexpected update result %#v", updated)
	}
	if !updated.CreatedAt.Equal(thread.CreatedAt) || !updated.LastActivityAt.Equal(thread.LastActivityAt) {
		t.Fatalf("update must not touch timestamps")
	}

	found, err = repository.UpdateThread(ctx, "missing", "x", "y")
	if err != nil || found {
		t.Fatalf("expected missing thread update to be a no-op, found=%v err=%v", found, err)
	}
}

func TestDeleteThreadCascadesReplies(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()
	doomed := mustCreateThread(t, repository, "doomed")
	survivor := mustCreateThread(t, repository, "survivor")
	mustCreateReply(t, repository, doomed.ID, "one")
	mustCreateReply(t, repository, doomed.ID, "two")
	kept := mustCreateReply(t, repository, survivor.ID, "kept")

	found, err := repository.DeleteThread(ctx, doomed.ID)
	if err != nil || !found {
		t.Fatalf("expected delete to succeed, found=%v err=%v", found, err)
	}
	if _, ok, _ := repository.Thread(ctx, doomed.ID); ok {
		t.Fatalf("expected thread to be removed")
	}
	replies, err := repository.Replies(ctx, doomed.ID)
	if err != nil {
		t.Fatalf("list replies failed: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("expected replies to be removed, got %d", len(replies))
	}
	survivorReplies, _ := repository.Replies(ctx, survivor.ID)
	if len(survivorReplies) != 1 || survivorReplies[0].ID != kept.ID {
		t.Fatalf("expected unrelated replies to survive, got %#v", survivorReplies)
	}

	found, err = repository.DeleteThread(ctx, doomed.ID)
	if err != nil || found {
		t.Fatalf("expected second delete to report not found, found=%v err=%v", found, err)
	}
}

func TestDeleteThreadRemovesOrphanReplies(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()
	mustCreateReply(t, repository, "ghost", "left behind")

	found, err := repository.DeleteThread(ctx, "ghost")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if found {
		t.Fatalf("expected missing thread to report not found")
	}
	replies, _ := repository.Replies(ctx, "ghost")
	if len(replies) != 0 {
		t.Fatalf("expected orphan replies to be swept, got %d", len(replies))
	}
}

func TestUpdateReplyReplacesContent(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()
	thread := mustCreateThread(t, repository, "parent")
	reply := mustCreateReply(t, repository, thread.ID, "typo")

	found, err := repository.UpdateReply(ctx, reply.ID, "fixed")
	if err != nil || !found {
		t.Fatalf("expected update to succeed, found=%v err=%v", found, err)
	}
	replies, _ := repository.Replies(ctx, thread.ID)
	if replies[0].Content != "fixed" || !replies[0].CreatedAt.Equal(reply.CreatedAt) {
		t.Fatalf("unexpected reply after update %#v", replies[0])
	}

	found, err = repository.UpdateReply(ctx, "missing", "x")
	if err != nil || found {
		t.Fatalf("expected missing reply update to be a no-op, found=%v err=%v", found, err)
	}
}

func TestDeleteReplyDecrementsParent(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()
	thread := mustCreateThread(t, repository, "parent")
	first := mustCreateReply(t, repository, thread.ID, "one")
	mustCreateReply(t, repository, thread.ID, "two")

	found, err := repository.DeleteReply(ctx, first.ID)
	if err != nil || !found {
		t.Fatalf("expected delete to succeed, found=%v err=%v", found, err)
	}
	if updated := mustThread(t, repository, thread.ID); updated.ReplyCount != 1 {
		t.Fatalf("expected reply count 1, got %d", updated.ReplyCount)
	}
	replies, _ := repository.Replies(ctx, thread.ID)
	if len(replies) != 1 {
		t.Fatalf("expected one remaining reply, got %d", len(replies))
	}
}

func TestDeleteReplyFloorsCountAtZero(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	created := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	threads, _ := EncodeThreads([]Thread{{ID: "t", Title: "t", CreatedAt: created, LastActivityAt: created}})
	replies, _ := EncodeReplies([]Reply{{ID: "r", ThreadID: "t", Content: "c", CreatedAt: created}})
	ctx := context.Background()
	_ = store.Set(ctx, KeyThreads, threads)
	_ = store.Set(ctx, KeyReplies, replies)
	repository := newTestRepositoryWithStore(t, store)

	found, err := repository.DeleteReply(ctx, "r")
	if err != nil || !found {
		t.Fatalf("expected delete to succeed, found=%v err=%v", found, err)
	}
	if thread := mustThread(t, repository, "t"); thread.ReplyCount != 0 {
		t.Fatalf("expected reply count to stay at 0, got %d", thread.ReplyCount)
	}
}

func TestMalformedCollectionsReadAsEmpty(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	_ = store.Set(ctx, KeyThreads, "{not json")
	_ = store.Set(ctx, KeyReplies, "[")
	repository := newTestRepositoryWithStore(t, store)

	threads, err := repository.Threads(ctx)
	if err != nil || len(threads) != 0 {
		t.Fatalf("expected empty threads, got %d err=%v", len(threads), err)
	}
	replies, err := repository.Replies(ctx, "any")
	if err != nil || len(replies) != 0 {
		t.Fatalf("expected empty replies, got %d err=%v", len(replies), err)
	}
}

func TestWritesRefuseMalformedCollections(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		invoke       func(*Repository) error
		expectedCode string
	}{
		{
			name: "create-thread",
			key:  KeyThreads,
			invoke: func(repository *Repository) error {
				_, err := repository.CreateThread(context.Background(), "fresh", "start", "alice")
				return err
			},
			expectedCode: "forum.create_thread.malformed_data",
		},
		{
			name: "delete-thread",
			key:  KeyReplies,
			invoke: func(repository *Repository) error {
				_, err := repository.DeleteThread(context.Background(), "t")
				return err
			},
			expectedCode: "forum.delete_thread.malformed_data",
		},
		{
			name: "create-reply",
			key:  KeyThreads,
			invoke: func(repository *Repository) error {
				_, err := repository.CreateReply(context.Background(), "t", "c", "bob")
				return err
			},
			expectedCode: "forum.create_reply.malformed_data",
		},
		{
			name: "delete-reply",
			key:  KeyReplies,
			invoke: func(repository *Repository) error {
				_, err := repository.DeleteReply(context.Background(), "r")
				return err
			},
			expectedCode: "forum.delete_reply.malformed_data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kvstore.NewMemoryStore()
			defer store.Close()
			ctx := context.Background()
			const blob = `[{"id":"keep","createdAt":"2024-03-01T10:00:00Z"}, 42]`
			_ = store.Set(ctx, tt.key, blob)
			core, logs := observer.New(zapcore.ErrorLevel)
			repository, err := NewRepository(RepositoryConfig{
				Store:      store,
				IDProvider: &sequenceIDGenerator{prefix: "id"},
				Logger:     zap.New(core),
			})
			if err != nil {
				t.Fatalf("failed to construct repository: %v", err)
			}

			err = tt.invoke(repository)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) {
				t.Fatalf("expected ServiceError, got %v", err)
			}
			if serviceErr.Code() != tt.expectedCode {
				t.Fatalf("expected code %s, got %s", tt.expectedCode, serviceErr.Code())
			}
			stored, _, _ := store.Get(ctx, tt.key)
			if stored != blob {
				t.Fatalf("expected malformed record untouched, got %s", stored)
			}
			if logs.FilterField(zap.String("reason", reasonMalformedData)).Len() == 0 {
				t.Fatalf("expected malformed_data error log")
			}
		})
	}
}

func TestCreateThreadKeepsRecordWithBadTimestamp(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	_ = store.Set(ctx, KeyThreads, `[
		{"id":"good","title":"Good","author":"a","content":"c","createdAt":"2024-03-01T10:00:00.000Z"},
		{"id":"bad","title":"Bad","author":"a","content":"c","createdAt":"not a time"}
	]`)
	_ = store.Set(ctx, KeyReplies, `[{"id":"r","threadId":"good","author":"b","content":"c","createdAt":"whenever"}]`)
	repository := newTestRepositoryWithStore(t, store)

	if _, err := repository.CreateThread(ctx, "fresh", "start", "alice"); err != nil {
		t.Fatalf("create over a bad timestamp failed: %v", err)
	}
	threads, err := repository.Threads(ctx)
	if err != nil {
		t.Fatalf("list threads failed: %v", err)
	}
	if len(threads) != 3 {
		t.Fatalf("expected existing records to survive the write, got %d", len(threads))
	}
	if good := mustThread(t, repository, "good"); good.Title != "Good" {
		t.Fatalf("unexpected surviving thread %#v", good)
	}
	mustThread(t, repository, "bad")

	if _, err := repository.CreateReply(ctx, "good", "more", "bob"); err != nil {
		t.Fatalf("reply over a bad timestamp failed: %v", err)
	}
	replies, _ := repository.Replies(ctx, "good")
	if len(replies) != 2 {
		t.Fatalf("expected both replies kept, got %d", len(replies))
	}
}

func TestDeleteThreadPrunesRepliesBeforeThread(t *testing.T) {
	backing := kvstore.NewMemoryStore()
	defer backing.Close()
	store := &failingStore{Store: backing}
	repository := newTestRepositoryWithStore(t, store)
	ctx := context.Background()
	thread := mustCreateThread(t, repository, "doomed")
	mustCreateReply(t, repository, thread.ID, "child")

	store.setErr = errors.New("threads unavailable")
	store.setKey = KeyThreads
	found, err := repository.DeleteThread(ctx, thread.ID)
	if err == nil || found {
		t.Fatalf("expected thread write failure, found=%v err=%v", found, err)
	}

	mustThread(t, repository, thread.ID)
	replies, _ := repository.Replies(ctx, thread.ID)
	if len(replies) != 0 {
		t.Fatalf("expected replies pruned before the thread write, got %d", len(replies))
	}
}

func TestReplyWritesLogThreadUpdateFailure(t *testing.T) {
	backing := kvstore.NewMemoryStore()
	defer backing.Close()
	store := &failingStore{Store: backing}
	core, logs := observer.New(zapcore.ErrorLevel)
	repository, err := NewRepository(RepositoryConfig{
		Store:      store,
		IDProvider: &sequenceIDGenerator{prefix: "id"},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	ctx := context.Background()
	thread := mustCreateThread(t, repository, "parent")
	existing := mustCreateReply(t, repository, thread.ID, "first")

	store.setErr = errors.New("threads unavailable")
	store.setKey = KeyThreads

	reply, err := repository.CreateReply(ctx, thread.ID, "second", "bob")
	if err == nil || reply.ID == "" {
		t.Fatalf("expected reply returned with the thread write error, reply=%#v err=%v", reply, err)
	}
	found, err := repository.DeleteReply(ctx, existing.ID)
	if err == nil || !found {
		t.Fatalf("expected removal reported with the thread write error, found=%v err=%v", found, err)
	}

	partial := logs.FilterMessage("reply write applied without thread update")
	if partial.Len() != 2 {
		t.Fatalf("expected two partial write logs, got %d", partial.Len())
	}
	if partial.FilterField(zap.String("reply_id", reply.ID)).Len() != 1 {
		t.Fatalf("expected log naming reply %s", reply.ID)
	}
	if partial.FilterField(zap.String("reply_id", existing.ID)).Len() != 1 {
		t.Fatalf("expected log naming reply %s", existing.ID)
	}

	replies, _ := repository.Replies(ctx, thread.ID)
	if len(replies) != 1 || replies[0].ID != reply.ID {
		t.Fatalf("expected reply collection to hold the new reply only, got %#v", replies)
	}
}

func TestStoreFailuresSurfaceAsServiceErrors(t *testing.T) {
	backing := kvstore.NewMemoryStore()
	defer backing.Close()
	readFailure := errors.New("disk gone")

	tests := []struct {
		name         string
		store        *failingStore
		invoke       func(*Repository) error
		expectedCode string
	}{
		{
			name:  "read",
			store: &failingStore{Store: backing, getErr: readFailure},
			invoke: func(repository *Repository) error {
				_, err := repository.Threads(context.Background())
				return err
			},
			expectedCode: "forum.list_threads.store_read_failed",
		},
		{
			name:  "write",
			store: &failingStore{Store: backing, setErr: readFailure},
			invoke: func(repository *Repository) error {
				_, err := repository.CreateReply(context.Background(), "t", "c", "a")
				return err
			},
			expectedCode: "forum.create_reply.store_write_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repository := newTestRepositoryWithStore(t, tt.store)
			err := tt.invoke(repository)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) {
				t.Fatalf("expected ServiceError, got %v", err)
			}
			if serviceErr.Code() != tt.expectedCode {
				t.Fatalf("expected code %s, got %s", tt.expectedCode, serviceErr.Code())
			}
			if !errors.Is(err, readFailure) {
				t.Fatalf("expected wrapped cause")
			}
		})
	}
}
