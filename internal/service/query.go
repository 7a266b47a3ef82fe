package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
	"github.com/xiaot623/gogo/controlplane/internal/loader"
)

// DefaultRunsLimit is the page size used when none is requested.
const DefaultRunsLimit = 20

// Run returns the run with the given id, or nil if it does not exist.
// Runs outside the cache window are read through the request's loader when
// the context carries one.
func (s *Service) Run(ctx context.Context, runID string) (*domain.Run, error) {
	if err := s.ensureCache(ctx); err != nil {
		return nil, err
	}
	l, hasLoader := loader.FromContext(ctx)

	if run, ok := s.cache.Get(runID); ok {
		if hasLoader {
			l.Prime(runID, &run)
		}
		return &run, nil
	}

	if hasLoader {
		run, err := l.Load(runID)
		if err != nil {
			return nil, fmt.Errorf("failed to load run: %w", err)
		}
		return run, nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// RunsByID returns the runs that exist among ids, in the order requested.
// Cache misses are resolved with one batched store read.
func (s *Service) RunsByID(ctx context.Context, ids []string) ([]domain.Run, error) {
	if err := s.ensureCache(ctx); err != nil {
		return nil, err
	}
	l, ok := loader.FromContext(ctx)
	if !ok {
		l = s.NewLoader(ctx)
	}

	var missing []string
	found := make(map[string]*domain.Run, len(ids))
	for _, id := range ids {
		if run, ok := s.cache.Get(id); ok {
			l.Prime(id, &run)
			found[id] = &run
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := l.LoadMany(missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load runs: %w", err)
		}
		for id, run := range loaded {
			found[id] = run
		}
	}

	out := make([]domain.Run, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, id := range ids {
		if run, ok := found[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, *run)
		}
	}
	return out, nil
}

// Runs lists cached runs, newest first. Runs older than the cache window
// are not listed.
func (s *Service) Runs(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	if err := s.ensureCache(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRunsLimit
	}
	return s.cache.List(limit, offset), nil
}

// RunEvents returns the in-memory event log of a run. Runs that are not
// cached have no events.
func (s *Service) RunEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	if err := s.ensureCache(ctx); err != nil {
		return nil, err
	}
	events := s.cache.Events(runID)
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}
