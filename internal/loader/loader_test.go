package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

type fakeSource struct {
	mu    sync.Mutex
	runs  map[string]domain.Run
	calls [][]string
	err   error
}

func newFakeSource(ids ...string) *fakeSource {
	s := &fakeSource{runs: make(map[string]domain.Run)}
	for _, id := range ids {
		s.runs[id] = domain.Run{ID: id, Status: domain.RunStatusRunning}
	}
	return s
}

func (s *fakeSource) fetch(_ context.Context, ids []string) (map[string]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]*domain.Run)
	for _, id := range ids {
		if run, ok := s.runs[id]; ok {
			out[id] = &run
		}
	}
	return out, nil
}

func (s *fakeSource) set(id string, status domain.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id] = domain.Run{ID: id, Status: status}
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	src := newFakeSource("a", "b", "c")
	l := New(context.Background(), src.fetch, 20*time.Millisecond, 100)

	g := new(errgroup.Group)
	ids := []string{"a", "b", "c", "a", "missing"}
	got := make([]*domain.Run, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			run, err := l.Load(id)
			got[i] = run
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, src.callCount())
	assert.ElementsMatch(t, []string{"a", "b", "c", "missing"}, src.calls[0])
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "a", got[3].ID)
	assert.Nil(t, got[4])
}

func TestResultIsStableUntilInvalidated(t *testing.T) {
	src := newFakeSource("a")
	l := New(context.Background(), src.fetch, time.Millisecond, 100)

	first, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, first.Status)

	src.set("a", domain.RunStatusSuccess)

	again, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, again.Status)
	assert.Equal(t, 1, src.callCount())

	l.Invalidate("a")
	fresh, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, fresh.Status)
	assert.Equal(t, 2, src.callCount())
}

func TestPrimeSkipsFetch(t *testing.T) {
	src := newFakeSource()
	l := New(context.Background(), src.fetch, time.Millisecond, 100)

	l.Prime("a", &domain.Run{ID: "a", Status: domain.RunStatusPaused})
	l.Prime("a", &domain.Run{ID: "a", Status: domain.RunStatusFailed})

	run, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, run.Status)
	assert.Equal(t, 0, src.callCount())
}

func TestReturnedRunsAreCopies(t *testing.T) {
	src := newFakeSource("a")
	l := New(context.Background(), src.fetch, time.Millisecond, 100)

	run, err := l.Load("a")
	require.NoError(t, err)
	run.Status = domain.RunStatusCancelled

	again, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, again.Status)
}

func TestMaxBatchSplitsFetches(t *testing.T) {
	src := newFakeSource("a", "b", "c", "d")
	l := New(context.Background(), src.fetch, 20*time.Millisecond, 2)

	runs, err := l.LoadMany([]string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Len(t, runs, 4)
	assert.Equal(t, 2, src.callCount())
	for _, call := range src.calls {
		assert.LessOrEqual(t, len(call), 2)
	}
}

func TestFetchErrorIsNotRemembered(t *testing.T) {
	src := newFakeSource("a")
	src.err = errors.New("disk on fire")
	l := New(context.Background(), src.fetch, time.Millisecond, 100)

	_, err := l.Load("a")
	require.Error(t, err)

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()

	run, err := l.Load("a")
	require.NoError(t, err)
	assert.Equal(t, "a", run.ID)
}

func TestLoadHonorsContext(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	fetch := func(ctx context.Context, ids []string) (map[string]*domain.Run, error) {
		calls.Add(1)
		<-block
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, fetch, time.Millisecond, 100)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := l.Load("a")
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	l := New(context.Background(), newFakeSource().fetch, time.Millisecond, 10)
	got, ok := FromContext(WithLoader(context.Background(), l))
	assert.True(t, ok)
	assert.Same(t, l, got)
}
