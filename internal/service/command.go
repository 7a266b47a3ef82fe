package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// PauseRun pauses a RUNNING run and sends PAUSE to its agent. The current
// position is written through with the pause so a restart resumes there.
func (s *Service) PauseRun(ctx context.Context, runID string) (bool, error) {
	unlock, err := s.begin(ctx, runID)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := s.current(ctx, runID)
	if err != nil {
		return false, err
	}
	if current.Status != domain.RunStatusRunning {
		return false, fmt.Errorf("%w: cannot pause run %s in status %s", domain.ErrInvalidTransition, runID, current.Status)
	}
	if err := s.authorize(ctx, domain.CommandTypePause, current); err != nil {
		return false, err
	}

	now := s.now()
	run, err := s.transition(ctx, runID, func(r *domain.Run) error {
		if r.Status != domain.RunStatusRunning {
			return fmt.Errorf("%w: cannot pause run %s in status %s", domain.ErrInvalidTransition, runID, r.Status)
		}
		r.Status = domain.RunStatusPaused
		r.IsPaused = true
		r.PausedAt = &now
		return nil
	})
	if err != nil {
		return false, err
	}

	s.dispatch(domain.CommandTypePause, run)
	return true, nil
}

// ResumeRun resumes a PAUSED run and sends RESUME to its agent.
func (s *Service) ResumeRun(ctx context.Context, runID string) (bool, error) {
	unlock, err := s.begin(ctx, runID)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := s.current(ctx, runID)
	if err != nil {
		return false, err
	}
	if !current.IsPaused {
		return false, fmt.Errorf("%w: run %s is not paused", domain.ErrInvalidTransition, runID)
	}
	if err := s.authorize(ctx, domain.CommandTypeResume, current); err != nil {
		return false, err
	}

	run, err := s.transition(ctx, runID, func(r *domain.Run) error {
		if !r.IsPaused {
			return fmt.Errorf("%w: run %s is not paused", domain.ErrInvalidTransition, runID)
		}
		r.Status = domain.RunStatusRunning
		r.IsPaused = false
		r.PausedAt = nil
		return nil
	})
	if err != nil {
		return false, err
	}

	s.dispatch(domain.CommandTypeResume, run)
	return true, nil
}

// StopRun sends STOP to the run's agent. It does not change the run's
// status; the agent reports the outcome through CancelRun or CompleteRun.
func (s *Service) StopRun(ctx context.Context, runID string) (bool, error) {
	unlock, err := s.begin(ctx, runID)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, err := s.current(ctx, runID)
	if err != nil {
		return false, err
	}
	if err := s.authorize(ctx, domain.CommandTypeStop, current); err != nil {
		return false, err
	}

	s.dispatch(domain.CommandTypeStop, current)
	return true, nil
}

// authorize requires an agent token on the run and asks the command policy.
func (s *Service) authorize(ctx context.Context, cmd domain.CommandType, run domain.Run) error {
	if run.AgentToken == "" {
		return fmt.Errorf("no agent token registered for run %s: %w", run.ID, domain.ErrNotFound)
	}
	if s.policy == nil {
		return nil
	}
	if err := s.policy.Check(ctx, cmd, run); err != nil {
		s.logger.Warn("command rejected by policy", "run_id", run.ID, "command", cmd, "error", err)
		return err
	}
	return nil
}

func (s *Service) dispatch(cmd domain.CommandType, run domain.Run) {
	receivers := s.bus.PublishCommand(domain.Command{
		CommandType: cmd,
		RunID:       run.ID,
		Timestamp:   s.now(),
		AgentToken:  run.AgentToken,
	})
	s.logger.Info("command dispatched", "run_id", run.ID, "command", cmd, "receivers", receivers)
}
