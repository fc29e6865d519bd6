// Package inbox is the daemon's message log: an append-only SQLite store of
// entries partitioned into named streams. It is the single source of truth
// for conversation state.
package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/logging"
)

// Stream names a partition of the log.
type Stream string

const (
	StreamUser       Stream = "user"
	StreamAssistant  Stream = "assistant"
	StreamSystem     Stream = "system"
	StreamToolCall   Stream = "tool-call"
	StreamToolResult Stream = "tool-result"
)

var (
	// ConversationStreams are projected into the model context.
	ConversationStreams = []Stream{StreamUser, StreamAssistant, StreamSystem, StreamToolCall, StreamToolResult}
	// VisibleStreams are the streams a client sees and syncs.
	VisibleStreams = []Stream{StreamUser, StreamAssistant, StreamSystem}
)

// ParseStream validates a stream name.
func ParseStream(s string) (Stream, error) {
	for _, st := range ConversationStreams {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stream %q", s)
}

// Entry is one immutable log record. CreatedAt is unix milliseconds.
type Entry struct {
	ID        string `json:"id"`
	Stream    Stream `json:"stream"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"createdAt"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store is safe for concurrent use. Appends are serialized so timestamps
// are strictly increasing in append order.
type Store struct {
	db    *sql.DB
	clock clock.Clock

	mu   sync.Mutex
	last int64
}

// New wraps a migrated database. The timestamp high-water mark is seeded
// from the stored entries so a restart never issues an older timestamp.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}

	var last sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM inbox_messages`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read log high-water mark: %w", err)
	}
	s.last = last.Int64
	return s, nil
}

// Append stores payload on stream and returns the new entry. The row is
// committed before Append returns. The payload is stored as-is.
func (s *Store) Append(ctx context.Context, stream Stream, payload string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	if now <= s.last {
		now = s.last + 1
	}
	e := Entry{
		ID:        uuid.New().String(),
		Stream:    stream,
		Payload:   payload,
		CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox_messages (id, stream, payload, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, string(e.Stream), e.Payload, e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to append to %s: %w", stream, err)
	}
	s.last = now
	return e, nil
}

// MustAppend is Append for runtime writers. A storage fault is fatal:
// durability is the log's only guarantee.
func (s *Store) MustAppend(ctx context.Context, stream Stream, payload string) Entry {
	e, err := s.Append(ctx, stream, payload)
	if err != nil {
		logging.Fatalf("[inbox] %v", err)
	}
	return e
}

// AppendPayload encodes p for stream and appends it.
func (s *Store) AppendPayload(ctx context.Context, stream Stream, p Payload) (Entry, error) {
	raw, err := Encode(stream, p)
	if err != nil {
		return Entry{}, err
	}
	return s.Append(ctx, stream, raw)
}

// Read returns the most recent limit entries across streams, oldest first.
// A non-positive limit returns everything.
func (s *Store) Read(ctx context.Context, streams []Stream, limit int) ([]Entry, error) {
	if len(streams) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	in, args := streamArgs(streams)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stream, payload, created_at FROM inbox_messages
		 WHERE stream IN (`+in+`)
		 ORDER BY created_at DESC, seq DESC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ReadAfter returns every entry across streams with CreatedAt strictly
// greater than afterMs, oldest first.
func (s *Store) ReadAfter(ctx context.Context, streams []Stream, afterMs int64) ([]Entry, error) {
	if len(streams) == 0 {
		return nil, nil
	}
	in, args := streamArgs(streams)
	args = append(args, afterMs)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stream, payload, created_at FROM inbox_messages
		 WHERE stream IN (`+in+`) AND created_at > ?
		 ORDER BY created_at ASC, seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return scanEntries(rows)
}

func streamArgs(streams []Stream) (string, []any) {
	placeholders := make([]string, len(streams))
	args := make([]any, 0, len(streams)+1)
	for i, st := range streams {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	return strings.Join(placeholders, ", "), args
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var stream string
		if err := rows.Scan(&e.ID, &stream, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Stream = Stream(stream)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return entries, nil
}
