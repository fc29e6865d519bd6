package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/db"
)

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "bingus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(sqlDB, fake), fake
}

func TestAppendValidates(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Append(context.Background(), "meal", "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = s.Append(context.Background(), "", "toast", nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestQueryFilters(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "meal", "Porridge with berries", []string{"breakfast"})
	require.NoError(t, err)
	fake.Advance(time.Hour)
	_, err = s.Append(ctx, "exercise", "5k run", ParseTags("running, outdoor"))
	require.NoError(t, err)
	fake.Advance(time.Hour)
	_, err = s.Append(ctx, "meal", "Pasta", []string{"dinner", "social"})
	require.NoError(t, err)

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Porridge with berries", all[0].Content)
	assert.Equal(t, []string{"running", "outdoor"}, all[1].Tags)

	meals, err := s.Query(ctx, Query{Type: "meal"})
	require.NoError(t, err)
	assert.Len(t, meals, 2)

	berries, err := s.Query(ctx, Query{Text: "BERRIES"})
	require.NoError(t, err)
	require.Len(t, berries, 1)
	assert.Equal(t, "meal", berries[0].Type)

	run, err := s.Query(ctx, Query{Tags: []string{"run"}})
	require.NoError(t, err)
	assert.Empty(t, run, "tag match must be exact")

	both, err := s.Query(ctx, Query{Tags: []string{"dinner", "social"}})
	require.NoError(t, err)
	assert.Len(t, both, 1)

	recent, err := s.Query(ctx, Query{Since: fake.Now().Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := s.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "Pasta", limited[0].Content)
}
