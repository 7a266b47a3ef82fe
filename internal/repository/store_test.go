package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestBboltStore(t *testing.T) *BboltStore {
	t.Helper()
	store, err := NewBboltStore(filepath.Join(t.TempDir(), "runs.bolt"))
	if err != nil {
		t.Fatalf("failed to create bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return newTestStore(t) },
		"bbolt":  func(t *testing.T) Store { return newTestBboltStore(t) },
	}
}

func testRun(id string, startedAt time.Time) *domain.Run {
	return &domain.Run{
		ID:           id,
		Status:       domain.RunStatusPending,
		WorkflowsDir: "/work/" + id,
		AgentToken:   "tok-" + id,
		StartedAt:    startedAt,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.CreateRun(ctx, testRun("r1", started)))

			got, err := s.GetRun(ctx, "r1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, domain.RunStatusPending, got.Status)
			assert.Equal(t, "/work/r1", got.WorkflowsDir)
			assert.Equal(t, "tok-r1", got.AgentToken)
			assert.True(t, started.Equal(got.StartedAt))
			assert.Nil(t, got.CompletedAt)
			assert.Nil(t, got.CurrentStep)

			missing, err := s.GetRun(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestStoreCreateDuplicate(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.CreateRun(ctx, testRun("r1", time.Now())))
			err := s.CreateRun(ctx, testRun("r1", time.Now()))
			assert.True(t, errors.Is(err, domain.ErrAlreadyExists), "got %v", err)
		})
	}
}

func TestStoreUpdateRun(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.CreateRun(ctx, testRun("r1", time.Now())))

			pausedAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
			workflow, job, step := "build", "compile", 4
			run := testRun("r1", time.Now())
			run.Status = domain.RunStatusPaused
			run.IsPaused = true
			run.PausedAt = &pausedAt
			run.CurrentWorkflow = &workflow
			run.CurrentJob = &job
			run.CurrentStep = &step
			require.NoError(t, s.UpdateRun(ctx, run))

			got, err := s.GetRun(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, domain.RunStatusPaused, got.Status)
			assert.True(t, got.IsPaused)
			require.NotNil(t, got.PausedAt)
			assert.True(t, pausedAt.Equal(*got.PausedAt))
			assert.Equal(t, "build", *got.CurrentWorkflow)
			assert.Equal(t, "compile", *got.CurrentJob)
			assert.Equal(t, 4, *got.CurrentStep)

			err = s.UpdateRun(ctx, testRun("ghost", time.Now()))
			assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
		})
	}
}

func TestStoreGetRuns(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.CreateRun(ctx, testRun("r1", time.Now())))
			require.NoError(t, s.CreateRun(ctx, testRun("r2", time.Now())))

			got, err := s.GetRuns(ctx, []string{"r1", "r2", "r3"})
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Contains(t, got, "r1")
			assert.Contains(t, got, "r2")
			assert.NotContains(t, got, "r3")

			empty, err := s.GetRuns(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStoreListRecentRuns(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i, id := range []string{"old", "mid", "new"} {
				require.NoError(t, s.CreateRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Minute))))
			}

			runs, err := s.ListRecentRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "new", runs[0].ID)
			assert.Equal(t, "mid", runs[1].ID)

			all, err := s.ListRecentRuns(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestStoreListRecentRunsBefore1970(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.CreateRun(ctx, testRun("old", time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC))))
			require.NoError(t, s.CreateRun(ctx, testRun("new", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))))

			runs, err := s.ListRecentRuns(ctx, 1)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, "new", runs[0].ID)

			all, err := s.ListRecentRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "old", all[1].ID)
		})
	}
}
