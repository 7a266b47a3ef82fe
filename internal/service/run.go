package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// errNoop signals that a transition was already applied and nothing changed.
var errNoop = errors.New("no-op")

// RegisterRun creates a pending run and announces it with a RUN_STARTED event.
func (s *Service) RegisterRun(ctx context.Context, req domain.RegisterRunRequest) (*domain.Run, error) {
	unlock, err := s.begin(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}
	run := domain.Run{
		ID:           req.RunID,
		Status:       domain.RunStatusPending,
		WorkflowsDir: req.WorkflowsDir,
		AgentToken:   req.AgentToken,
		StartedAt:    startedAt.UTC(),
	}

	if !s.cache.Add(run) {
		return nil, fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if err := s.store.CreateRun(ctx, &run); err != nil {
		s.cache.Remove(run.ID)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, err
		}
		s.logger.Error("failed to create run", "run_id", run.ID, "error", err)
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	invalidate(ctx, run.ID)

	s.logger.Info("run registered", "run_id", run.ID, "workflows_dir", run.WorkflowsDir)
	s.bus.PublishEvent(domain.NewEvent(run.ID, run.StartedAt, domain.RunStartedPayload{}))
	return &run, nil
}

// AddEvents ingests a batch of agent events and returns how many were
// accepted. The whole batch is rejected if any event is malformed, and
// fields outside an event's type are dropped. Events for runs the cache
// does not know are published but not recorded.
func (s *Service) AddEvents(ctx context.Context, events []domain.Event) (int, error) {
	normalized := make([]domain.Event, len(events))
	for i, e := range events {
		n, err := e.Normalize()
		if err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		normalized[i] = n
	}
	if err := s.ensureCache(ctx); err != nil {
		return 0, err
	}

	for i, e := range normalized {
		if err := s.addEvent(ctx, e); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

func (s *Service) addEvent(ctx context.Context, e domain.Event) error {
	unlock := s.locks.Lock(e.RunID)
	defer unlock()

	started := false
	run, ok := s.cache.Mutate(e.RunID, func(r *domain.Run) {
		if e.EventType == domain.EventTypeRunStarted && r.Status == domain.RunStatusPending {
			r.Status = domain.RunStatusRunning
			started = true
		}
		r.AdvancePosition(e)
		r.Events = append(r.Events, e)
	})
	if !ok {
		s.logger.Debug("event for unknown run", "run_id", e.RunID, "event_type", e.EventType)
	}

	var err error
	if started {
		err = s.persist(ctx, run)
		invalidate(ctx, e.RunID)
	}
	s.bus.PublishEvent(e)
	return err
}

// CompleteRun moves a run to SUCCESS or FAILED. Completing a run that is
// already terminal changes nothing.
func (s *Service) CompleteRun(ctx context.Context, req domain.CompleteRunRequest) (bool, error) {
	completedAt := req.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	status := domain.RunStatusFailed
	if req.Success {
		status = domain.RunStatusSuccess
	}

	unlock, err := s.begin(ctx, req.RunID)
	if err != nil {
		return false, err
	}
	defer unlock()

	run, err := s.transition(ctx, req.RunID, func(r *domain.Run) error {
		if r.Status.IsTerminal() {
			return errNoop
		}
		finish(r, status, completedAt)
		return nil
	})
	if errors.Is(err, errNoop) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("run completed", "run_id", run.ID, "status", run.Status)
	s.bus.PublishEvent(domain.NewEvent(run.ID, *run.CompletedAt, domain.RunCompletedPayload{Success: req.Success}))
	return true, nil
}

// CancelRun moves any non-terminal run to CANCELLED. Cancelling a run that
// is already terminal changes nothing.
func (s *Service) CancelRun(ctx context.Context, runID string) (bool, error) {
	unlock, err := s.begin(ctx, runID)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := s.now()
	run, err := s.transition(ctx, runID, func(r *domain.Run) error {
		if r.Status.IsTerminal() {
			return errNoop
		}
		finish(r, domain.RunStatusCancelled, now)
		return nil
	})
	if errors.Is(err, errNoop) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("run cancelled", "run_id", run.ID)
	s.bus.PublishEvent(domain.NewEvent(run.ID, now, domain.RunCompletedPayload{Success: false}))
	return true, nil
}

func finish(r *domain.Run, status domain.RunStatus, at time.Time) {
	at = at.UTC()
	r.Status = status
	r.CompletedAt = &at
	r.IsPaused = false
	r.PausedAt = nil
}

// begin validates runID, makes sure the cache is hydrated and takes the
// run's lock. The caller must call the returned release function.
func (s *Service) begin(ctx context.Context, runID string) (func(), error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runId is required", domain.ErrInvalidArgument)
	}
	if err := s.ensureCache(ctx); err != nil {
		return nil, err
	}
	return s.locks.Lock(runID), nil
}

// transition applies fn to the run, in the cache first when the run is
// resident, and writes the result through to the store. If the write fails
// the cached run is put back as it was. Runs outside the cache window are
// read from and written to the store only. fn must not modify the run when
// it returns an error. The run's lock must be held.
func (s *Service) transition(ctx context.Context, runID string, fn func(r *domain.Run) error) (domain.Run, error) {
	var (
		fnErr error
		prev  domain.Run
	)
	run, ok := s.cache.Mutate(runID, func(r *domain.Run) {
		prev = *r
		prev.Events = nil
		prev = prev.Clone()
		fnErr = fn(r)
	})
	if !ok {
		stored, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return domain.Run{}, fmt.Errorf("failed to get run: %w", err)
		}
		if stored == nil {
			return domain.Run{}, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
		}
		fnErr = fn(stored)
		run = *stored
	}
	if fnErr != nil {
		return run, fnErr
	}

	err := s.persist(ctx, run)
	if err != nil && ok {
		s.cache.Restore(prev)
		return prev, err
	}
	invalidate(ctx, runID)
	return run, err
}

// current returns the run from the cache, falling back to the store.
func (s *Service) current(ctx context.Context, runID string) (domain.Run, error) {
	if run, ok := s.cache.Get(runID); ok {
		return run, nil
	}
	stored, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	if stored == nil {
		return domain.Run{}, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return *stored, nil
}
