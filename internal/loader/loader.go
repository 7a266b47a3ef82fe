// Package loader batches point lookups of runs that are not resident in the
// run cache. A Loader lives for one request and is discarded afterwards.
package loader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// FetchFunc resolves many run ids in one durable read. Ids that do not exist
// are absent from the returned map.
type FetchFunc func(ctx context.Context, ids []string) (map[string]*domain.Run, error)

// Loader collects the ids requested within a short window and resolves them
// with a single FetchFunc call. Results are kept for the loader's lifetime,
// so the same id always yields the same answer until it is invalidated.
type Loader struct {
	ctx      context.Context
	fetch    FetchFunc
	wait     time.Duration
	maxBatch int

	mu      sync.Mutex
	results map[string]*result
	pending *batch
}

type result struct {
	run  *domain.Run
	err  error
	done chan struct{}
}

type batch struct {
	ids     []string
	results []*result
	once    sync.Once
	timer   *time.Timer
}

// New creates a loader bound to ctx.
func New(ctx context.Context, fetch FetchFunc, wait time.Duration, maxBatch int) *Loader {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Loader{
		ctx:      ctx,
		fetch:    fetch,
		wait:     wait,
		maxBatch: maxBatch,
		results:  make(map[string]*result),
	}
}

// Load returns the run with the given id, or nil if it does not exist.
func (l *Loader) Load(id string) (*domain.Run, error) {
	l.mu.Lock()
	if r, ok := l.results[id]; ok {
		l.mu.Unlock()
		return r.wait(l.ctx)
	}

	r := &result{done: make(chan struct{})}
	l.results[id] = r

	b := l.pending
	if b == nil {
		b = &batch{}
		l.pending = b
		b.timer = time.AfterFunc(l.wait, func() { l.flush(b) })
	}
	b.ids = append(b.ids, id)
	b.results = append(b.results, r)
	full := len(b.ids) >= l.maxBatch
	if full {
		l.pending = nil
	}
	l.mu.Unlock()

	if full {
		b.timer.Stop()
		l.flush(b)
	}
	return r.wait(l.ctx)
}

// LoadMany loads every id concurrently so they share batches. The result
// only contains ids that exist.
func (l *Loader) LoadMany(ids []string) (map[string]*domain.Run, error) {
	runs := make([]*domain.Run, len(ids))
	g := new(errgroup.Group)
	for i, id := range ids {
		g.Go(func() error {
			run, err := l.Load(id)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*domain.Run, len(ids))
	for _, run := range runs {
		if run != nil {
			out[run.ID] = run
		}
	}
	return out, nil
}

// Prime seeds the loader with a known value. An id that already has a
// result keeps it; call Invalidate first to replace it.
func (l *Loader) Prime(id string, run *domain.Run) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.results[id]; ok {
		return
	}
	r := &result{done: make(chan struct{})}
	if run != nil {
		clone := run.Clone()
		r.run = &clone
	}
	close(r.done)
	l.results[id] = r
}

// Invalidate drops the result for id so the next Load fetches it again.
// Loads already waiting on an in-flight batch still receive its answer.
func (l *Loader) Invalidate(id string) {
	l.mu.Lock()
	delete(l.results, id)
	l.mu.Unlock()
}

func (l *Loader) flush(b *batch) {
	b.once.Do(func() {
		l.mu.Lock()
		if l.pending == b {
			l.pending = nil
		}
		l.mu.Unlock()

		runs, err := l.fetch(l.ctx, b.ids)
		for i, r := range b.results {
			if err != nil {
				r.err = err
			} else if run, ok := runs[b.ids[i]]; ok && run != nil {
				clone := run.Clone()
				r.run = &clone
			}
			close(r.done)
		}

		if err != nil {
			// failed lookups are not remembered
			l.mu.Lock()
			for i, id := range b.ids {
				if l.results[id] == b.results[i] {
					delete(l.results, id)
				}
			}
			l.mu.Unlock()
		}
	})
}

func (r *result) wait(ctx context.Context) (*domain.Run, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil || r.run == nil {
		return nil, r.err
	}
	clone := r.run.Clone()
	return &clone, nil
}

type ctxKey struct{}

// WithLoader returns a context carrying l.
func WithLoader(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the loader carried by ctx, if any.
func FromContext(ctx context.Context) (*Loader, bool) {
	l, ok := ctx.Value(ctxKey{}).(*Loader)
	return l, ok && l != nil
}
