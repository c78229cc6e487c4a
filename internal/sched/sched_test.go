package sched

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/models"
)

func TestRunRejectsBadSpec(t *testing.T) {
	repo, err := memfs.New(t.TempDir())
	require.NoError(t, err)
	s := New(consolidate.New(repo, nil, slog.New(slog.DiscardHandler)), consolidate.Options{}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Run(ctx, "not a cron spec"))
}

func TestFireAppliesConsolidation(t *testing.T) {
	repo, err := memfs.New(t.TempDir())
	require.NoError(t, err)

	engine := consolidate.New(repo, nil, slog.New(slog.DiscardHandler))
	engine.Now = func() time.Time { return time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC) }
	require.NoError(t, repo.AppendEpisodic("2026-01-01", models.Entry{
		Agent: "claude", Domain: "fitness", Task: "leg day", Outcome: "done", Importance: 3,
	}))

	s := New(engine, consolidate.Options{Days: 7}, slog.New(slog.DiscardHandler))
	s.fire(context.Background())

	archived, err := repo.ListArchiveDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01"}, archived)
}

func TestRunStopsOnCancel(t *testing.T) {
	repo, err := memfs.New(t.TempDir())
	require.NoError(t, err)
	s := New(consolidate.New(repo, nil, slog.New(slog.DiscardHandler)), consolidate.Options{}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "0 3 * * 0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
