// Package journal stores the life events the assistant logs on the user's
// behalf (meals, exercise, mood...) and answers queries over them.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neboloop/bingus/internal/clock"
)

// ErrInvalidEvent is returned when an event lacks a type or content.
var ErrInvalidEvent = errors.New("event requires type and content")

// DefaultQueryLimit caps Query results when no limit is given.
const DefaultQueryLimit = 50

// Event is one journal record.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"ts"`
}

// Query filters events. Zero values match everything.
type Query struct {
	Since time.Time
	Type  string
	// Text is matched case-insensitively against type, content and tags.
	Text string
	// Tags must all be present on an event.
	Tags  []string
	Limit int
}

// Store is a SQLite-backed journal.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// New wraps a migrated database.
func New(db *sql.DB, c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{db: db, clock: c}
}

// Append records an event stamped with the current time.
func (s *Store) Append(ctx context.Context, eventType, content string, tags []string) (Event, error) {
	eventType = strings.TrimSpace(eventType)
	content = strings.TrimSpace(content)
	if eventType == "" || content == "" {
		return Event{}, ErrInvalidEvent
	}
	ev := Event{
		Type:      eventType,
		Content:   content,
		Tags:      normalizeTags(tags),
		CreatedAt: s.clock.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_events (type, content, tags, created_at) VALUES (?, ?, ?, ?)`,
		ev.Type, ev.Content, strings.Join(ev.Tags, ","), ev.CreatedAt.UnixMilli())
	if err != nil {
		return Event{}, fmt.Errorf("failed to append event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return ev, nil
}

// Query returns the most recent matching events, oldest first.
func (s *Store) Query(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Text != "" {
		where = append(where, "(instr(lower(type), ?) > 0 OR instr(lower(content), ?) > 0 OR instr(lower(tags), ?) > 0)")
		needle := strings.ToLower(q.Text)
		args = append(args, needle, needle, needle)
	}
	for _, tag := range normalizeTags(q.Tags) {
		// Tags are stored comma-joined; wrap both sides so "run" never matches "running".
		where = append(where, "instr(',' || tags || ',', ?) > 0")
		args = append(args, ","+tag+",")
	}

	query := `SELECT id, type, content, tags, created_at FROM journal_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			tags string
			ms   int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Content, &tags, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if tags != "" {
			ev.Tags = strings.Split(tags, ",")
		}
		ev.CreatedAt = time.UnixMilli(ms).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// ParseTags splits a comma-separated tag list.
func ParseTags(s string) []string {
	if s == "" {
		return nil
	}
	return normalizeTags(strings.Split(s, ","))
}

func normalizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !strings.Contains(t, ",") {
			out = append(out, t)
		}
	}
	return out
}
