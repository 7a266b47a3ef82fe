// Package store defines the durable run store and its implementations.
package store

import (
	"context"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// Store is the durable table of run records, addressed by run id.
// Event logs are not persisted; Run.Events is always empty on reads.
type Store interface {
	// CreateRun inserts a new run. It fails with domain.ErrAlreadyExists
	// if the id is taken.
	CreateRun(ctx context.Context, run *domain.Run) error

	// GetRun returns nil, nil when the run does not exist.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// GetRuns is a multi-get; ids that do not exist are absent from the result.
	GetRuns(ctx context.Context, runIDs []string) (map[string]*domain.Run, error)

	// UpdateRun overwrites the mutable fields of an existing run. It fails
	// with domain.ErrNotFound if the id is unknown.
	UpdateRun(ctx context.Context, run *domain.Run) error

	// ListRecentRuns returns up to limit runs, most recently started first.
	ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error)

	Close() error
}
