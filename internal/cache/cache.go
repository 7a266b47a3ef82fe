// Package cache holds the in-memory run index and event logs.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// Source supplies the runs used to hydrate the cache.
type Source interface {
	ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// Cache is the authoritative in-memory index of recently active runs.
// It never falls through to the durable store on reads.
type Cache struct {
	source Source
	window int

	mu   sync.RWMutex
	runs map[string]*domain.Run

	loaded atomic.Bool
	group  singleflight.Group
}

// New creates a cache hydrated from source with up to window runs.
func New(source Source, window int) *Cache {
	return &Cache{
		source: source,
		window: window,
		runs:   make(map[string]*domain.Run),
	}
}

// Init loads the most recent runs from the source once. Concurrent callers
// share the single load; a failed load is retried by the next caller.
// Runs already present are kept, and historical events are not backfilled.
func (c *Cache) Init(ctx context.Context) error {
	if c.loaded.Load() {
		return nil
	}
	_, err, _ := c.group.Do("init", func() (interface{}, error) {
		if c.loaded.Load() {
			return nil, nil
		}
		runs, err := c.source.ListRecentRuns(ctx, c.window)
		if err != nil {
			return nil, fmt.Errorf("hydrate run cache: %w", err)
		}

		c.mu.Lock()
		for i := range runs {
			if _, ok := c.runs[runs[i].ID]; ok {
				continue
			}
			run := runs[i].Clone()
			run.Events = nil
			c.runs[run.ID] = &run
		}
		c.mu.Unlock()

		c.loaded.Store(true)
		return nil, nil
	})
	return err
}

// Loaded reports whether Init has completed successfully.
func (c *Cache) Loaded() bool {
	return c.loaded.Load()
}

// Get returns a snapshot of the run with EventCount filled in.
func (c *Cache) Get(id string) (domain.Run, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return snapshot(run), true
}

// Add inserts a new run. It returns false if the id is already cached.
// When the cache grows past its window the oldest terminal runs are
// evicted; runs that can still change stay resident.
func (c *Cache) Add(run domain.Run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.runs[run.ID]; ok {
		return false
	}
	stored := run.Clone()
	c.runs[run.ID] = &stored
	c.evict()
	return true
}

// evict drops the oldest terminal runs, with their event logs, while more
// than window runs are cached. c.mu must be held.
func (c *Cache) evict() {
	excess := len(c.runs) - c.window
	if c.window <= 0 || excess <= 0 {
		return
	}
	var done []*domain.Run
	for _, r := range c.runs {
		if r.Status.IsTerminal() {
			done = append(done, r)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		if done[i].StartedAt.Equal(done[j].StartedAt) {
			return done[i].ID < done[j].ID
		}
		return done[i].StartedAt.Before(done[j].StartedAt)
	})
	for i := 0; i < excess && i < len(done); i++ {
		delete(c.runs, done[i].ID)
	}
}

// Remove drops a run from the cache.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, id)
}

// Mutate applies fn to the cached run under the write lock and returns the
// resulting snapshot. It is a no-op returning false when id is not cached.
func (c *Cache) Mutate(id string, fn func(run *domain.Run)) (domain.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	fn(run)
	return snapshot(run), true
}

// Restore puts back the run state captured before a failed write, keeping
// the event log as it is now. It is a no-op when id is no longer cached.
func (c *Cache) Restore(prev domain.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[prev.ID]
	if !ok {
		return
	}
	events := run.Events
	restored := prev.Clone()
	restored.Events = events
	*run = restored
}

// Events returns a copy of the run's event log, or nil if it is not cached.
func (c *Cache) Events(id string) []domain.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[id]
	if !ok {
		return nil
	}
	return append([]domain.Event{}, run.Events...)
}

// List returns cached runs sorted by start time, newest first, then sliced
// by offset and limit. A non-positive limit means no limit.
func (c *Cache) List(limit, offset int) []domain.Run {
	c.mu.RLock()
	runs := make([]domain.Run, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, snapshot(run))
	}
	c.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(runs) {
		return []domain.Run{}
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}

// Len returns the number of cached runs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.runs)
}

// snapshot copies the run without its event log; use Events for that.
func snapshot(run *domain.Run) domain.Run {
	shallow := *run
	shallow.Events = nil
	s := shallow.Clone()
	s.EventCount = len(run.Events)
	return s
}
