package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

type fakeSource struct {
	runs  []domain.Run
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeSource) ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func run(id string, minute int) domain.Run {
	return domain.Run{ID: id, Status: domain.RunStatusPending, StartedAt: base.Add(time.Duration(minute) * time.Minute)}
}

func TestInitLoadsOnceUnderConcurrency(t *testing.T) {
	src := &fakeSource{runs: []domain.Run{run("a", 1), run("b", 2)}, gate: make(chan struct{})}
	c := New(src, 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Init(context.Background()))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Loaded())
}

func TestInitRetriesAfterFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	c := New(src, 100)

	require.Error(t, c.Init(context.Background()))
	assert.False(t, c.Loaded())

	src.err = nil
	src.runs = []domain.Run{run("a", 1)}
	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, 1, c.Len())
}

func TestInitRespectsWindowAndKeepsExisting(t *testing.T) {
	src := &fakeSource{runs: []domain.Run{run("c", 3), run("b", 2), run("a", 1)}}
	c := New(src, 2)

	fresh := run("c", 3)
	fresh.Status = domain.RunStatusRunning
	require.True(t, c.Add(fresh))

	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, 2, c.Len())

	got, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestMutateAbsentIsNoop(t *testing.T) {
	c := New(&fakeSource{}, 10)
	called := false
	_, ok := c.Mutate("missing", func(r *domain.Run) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestMutateAppendsEventsAndSnapshotsAreIsolated(t *testing.T) {
	c := New(&fakeSource{}, 10)
	require.True(t, c.Add(run("r1", 0)))
	assert.False(t, c.Add(run("r1", 0)))

	ev := domain.NewEvent("r1", base, domain.RunStartedPayload{})
	snap, ok := c.Mutate("r1", func(r *domain.Run) {
		r.Status = domain.RunStatusRunning
		r.Events = append(r.Events, ev)
	})
	require.True(t, ok)
	assert.Equal(t, 1, snap.EventCount)
	assert.Nil(t, snap.Events)

	events := c.Events("r1")
	require.Len(t, events, 1)
	events[0].RunID = "tampered"
	assert.Equal(t, "r1", c.Events("r1")[0].RunID)

	got, _ := c.Get("r1")
	got.Status = domain.RunStatusFailed
	again, _ := c.Get("r1")
	assert.Equal(t, domain.RunStatusRunning, again.Status)

	assert.Nil(t, c.Events("missing"))
}

func TestListOrdersNewestFirstAndSlices(t *testing.T) {
	c := New(&fakeSource{}, 10)
	c.Add(run("first", 1))
	c.Add(run("second", 2))
	c.Add(run("third", 3))

	top := c.List(2, 0)
	require.Len(t, top, 2)
	assert.Equal(t, "third", top[0].ID)
	assert.Equal(t, "second", top[1].ID)

	rest := c.List(2, 2)
	require.Len(t, rest, 1)
	assert.Equal(t, "first", rest[0].ID)

	assert.Empty(t, c.List(5, 10))
	assert.Len(t, c.List(0, 0), 3)
}

func TestRemove(t *testing.T) {
	c := New(&fakeSource{}, 10)
	c.Add(run("r1", 0))
	c.Remove("r1")
	c.Remove("r1")

	_, ok := c.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestAddEvictsOldestTerminalRunsBeyondWindow(t *testing.T) {
	c := New(&fakeSource{}, 2)
	done := run("done", 0)
	done.Status = domain.RunStatusSuccess
	require.True(t, c.Add(done))
	require.True(t, c.Add(run("live", 1)))
	require.True(t, c.Add(run("newer", 2)))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("done")
	assert.False(t, ok)

	require.True(t, c.Add(run("newest", 3)))
	assert.Equal(t, 3, c.Len())
}

func TestRestoreKeepsEventLog(t *testing.T) {
	c := New(&fakeSource{}, 10)
	require.True(t, c.Add(run("r1", 0)))
	prev, _ := c.Get("r1")

	c.Mutate("r1", func(r *domain.Run) {
		r.Status = domain.RunStatusCancelled
		r.Events = append(r.Events, domain.NewEvent("r1", base, domain.RunStartedPayload{}))
	})
	c.Restore(prev)

	got, ok := c.Get("r1")
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Equal(t, 1, got.EventCount)

	c.Restore(domain.Run{ID: "missing"})
	_, ok = c.Get("missing")
	assert.False(t, ok)
}
