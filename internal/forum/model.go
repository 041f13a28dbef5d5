package forum

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store keys holding each collection.
const (
	KeyThreads    = "forum_threads"
	KeyReplies    = "forum_replies"
	KeyBlockedIPs = "forum_blocked_ips"
	KeyBackground = "forum_background"
)

// Content limits enforced by callers before invoking the repository.
const (
	MaxTitleLength        = 100
	MaxThreadContentChars = 2000
	MaxReplyContentChars  = 1000
	DefaultLatestLimit    = 10
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Thread is a top-level discussion post.
type Thread struct {
	ID             string
	Title          string
	Author         string
	Content        string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ReplyCount     int
}

// Reply is a response attached to exactly one thread.
type Reply struct {
	ID        string
	ThreadID  string
	Author    string
	Content   string
	CreatedAt time.Time
}

// threadRecord is the persisted shape. Older revisions omit lastActivityAt.
type threadRecord struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Author         string  `json:"author"`
	Content        string  `json:"content"`
	CreatedAt      string  `json:"createdAt"`
	LastActivityAt *string `json:"lastActivityAt,omitempty"`
	ReplyCount     *int    `json:"replyCount,omitempty"`
}

type replyRecord struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// DecodeThreads parses a persisted threads collection. An empty value decodes to an
// empty collection. Records missing lastActivityAt read it as createdAt, and an
// unparseable timestamp falls back rather than failing the record. Elements that are
// not thread objects are dropped; the surviving threads are returned together with
// an error naming the dropped elements.
func DecodeThreads(raw string) ([]Thread, error) {
	elements, err := decodeElements(raw, "threads")
	if err != nil || len(elements) == 0 {
		return []Thread{}, err
	}
	threads := make([]Thread, 0, len(elements))
	var dropped []error
	for index, element := range elements {
		var record threadRecord
		if err := json.Unmarshal(element, &record); err != nil {
			dropped = append(dropped, fmt.Errorf("thread %d: %w", index, err))
			continue
		}
		threads = append(threads, record.thread())
	}
	return threads, joinDropped("threads", dropped)
}

func (record threadRecord) thread() Thread {
	createdAt, createdErr := parseTimestamp(record.CreatedAt)
	var lastActivityAt time.Time
	if record.LastActivityAt != nil {
		if parsed, err := parseTimestamp(*record.LastActivityAt); err == nil {
			lastActivityAt = parsed
		}
	}
	if createdErr != nil {
		createdAt = lastActivityAt
	}
	if lastActivityAt.Before(createdAt) {
		lastActivityAt = createdAt
	}
	replyCount := 0
	if record.ReplyCount != nil && *record.ReplyCount > 0 {
		replyCount = *record.ReplyCount
	}
	return Thread{
		ID:             record.ID,
		Title:          record.Title,
		Author:         record.Author,
		Content:        record.Content,
		CreatedAt:      createdAt,
		LastActivityAt: lastActivityAt,
		ReplyCount:     replyCount,
	}
}

// EncodeThreads serializes threads in the canonical schema.
func EncodeThreads(threads []Thread) (string, error) {
	records := make([]threadRecord, 0, len(threads))
	for _, thread := range threads {
		lastActivityAt := formatTimestamp(thread.LastActivityAt)
		replyCount := thread.ReplyCount
		records = append(records, threadRecord{
			ID:             thread.ID,
			Title:          thread.Title,
			Author:         thread.Author,
			Content:        thread.Content,
			CreatedAt:      formatTimestamp(thread.CreatedAt),
			LastActivityAt: &lastActivityAt,
			ReplyCount:     &replyCount,
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode threads: %w", err)
	}
	return string(data), nil
}

// DecodeReplies parses a persisted replies collection with the same tolerance as
// DecodeThreads. An unparseable createdAt reads as the zero time.
func DecodeReplies(raw string) ([]Reply, error) {
	elements, err := decodeElements(raw, "replies")
	if err != nil || len(elements) == 0 {
		return []Reply{}, err
	}
	replies := make([]Reply, 0, len(elements))
	var dropped []error
	for index, element := range elements {
		var record replyRecord
		if err := json.Unmarshal(element, &record); err != nil {
			dropped = append(dropped, fmt.Errorf("reply %d: %w", index, err))
			continue
		}
		createdAt, err := parseTimestamp(record.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		replies = append(replies, Reply{
			ID:        record.ID,
			ThreadID:  record.ThreadID,
			Author:    record.Author,
			Content:   record.Content,
			CreatedAt: createdAt,
		})
	}
	return replies, joinDropped("replies", dropped)
}

func decodeElements(raw, collection string) ([]json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return elements, nil
}

func joinDropped(collection string, dropped []error) error {
	if len(dropped) == 0 {
		return nil
	}
	return fmt.Errorf("decode %s: dropped %d malformed records: %w", collection, len(dropped), errors.Join(dropped...))
}

// EncodeReplies serializes replies in the canonical schema.
func EncodeReplies(replies []Reply) (string, error) {
	records := make([]replyRecord, 0, len(replies))
	for _, reply := range replies {
		records = append(records, replyRecord{
			ID:        reply.ID,
			ThreadID:  reply.ThreadID,
			Author:    reply.Author,
			Content:   reply.Content,
			CreatedAt: formatTimestamp(reply.CreatedAt),
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode replies: %w", err)
	}
	return string(data), nil
}

func parseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}
