package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

var (
	bucketRuns          = []byte("runs")
	bucketRunsByStarted = []byte("runs_by_started")
)

// BboltStore implements Store on an embedded bbolt file. Runs are kept as
// JSON under their id, with a secondary index keyed by start time so the
// recent-runs scan walks a cursor backwards instead of decoding everything.
type BboltStore struct {
	db *bolt.DB
}

// runRecord is the persisted shape of a run.
type runRecord struct {
	ID              string           `json:"id"`
	Status          domain.RunStatus `json:"status"`
	WorkflowsDir    string           `json:"workflows_dir"`
	AgentToken      string           `json:"agent_token"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	IsPaused        bool             `json:"is_paused"`
	PausedAt        *time.Time       `json:"paused_at,omitempty"`
	CurrentWorkflow *string          `json:"current_workflow,omitempty"`
	CurrentJob      *string          `json:"current_job,omitempty"`
	CurrentStep     *int             `json:"current_step,omitempty"`
}

// NewBboltStore opens (or creates) the bbolt file at path.
func NewBboltStore(path string) (*BboltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRunsByStarted)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BboltStore{db: db}, nil
}

// Close closes the bolt file.
func (s *BboltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *BboltStore) CreateRun(ctx context.Context, run *domain.Run) error {
	raw, err := json.Marshal(toRecord(run))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b.Get([]byte(run.ID)) != nil {
			return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
		}
		if err := b.Put([]byte(run.ID), raw); err != nil {
			return err
		}
		return tx.Bucket(bucketRunsByStarted).Put(startedKey(run.StartedAt, run.ID), []byte(run.ID))
	})
}

// GetRun retrieves a run by ID.
func (s *BboltStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var out *domain.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		run, err := decodeRun(tx.Bucket(bucketRuns).Get([]byte(runID)))
		out = run
		return err
	})
	return out, err
}

// GetRuns retrieves several runs in one read transaction.
func (s *BboltStore) GetRuns(ctx context.Context, runIDs []string) (map[string]*domain.Run, error) {
	out := make(map[string]*domain.Run, len(runIDs))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		for _, id := range runIDs {
			run, err := decodeRun(b.Get([]byte(id)))
			if err != nil {
				return err
			}
			if run != nil {
				out[id] = run
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRun updates the mutable fields of a run. Identity fields
// (workflows dir, agent token, start time) keep their stored values.
func (s *BboltStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		current, err := decodeRun(b.Get([]byte(run.ID)))
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
		}
		current.Status = run.Status
		current.CompletedAt = run.CompletedAt
		current.IsPaused = run.IsPaused
		current.PausedAt = run.PausedAt
		current.CurrentWorkflow = run.CurrentWorkflow
		current.CurrentJob = run.CurrentJob
		current.CurrentStep = run.CurrentStep

		raw, err := json.Marshal(toRecord(current))
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), raw)
	})
}

// ListRecentRuns returns the most recently started runs.
func (s *BboltStore) ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	var runs []domain.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketRunsByStarted).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			run, err := decodeRun(b.Get(v))
			if err != nil {
				return err
			}
			if run != nil {
				runs = append(runs, *run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// startedKey orders index entries by start time, then id. The sign bit is
// flipped so times before 1970 sort ahead of later ones.
func startedKey(startedAt time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(startedAt.UnixNano())^(1<<63))
	return append(key, id...)
}

func toRecord(run *domain.Run) runRecord {
	return runRecord{
		ID:              run.ID,
		Status:          run.Status,
		WorkflowsDir:    run.WorkflowsDir,
		AgentToken:      run.AgentToken,
		StartedAt:       run.StartedAt.UTC(),
		CompletedAt:     run.CompletedAt,
		IsPaused:        run.IsPaused,
		PausedAt:        run.PausedAt,
		CurrentWorkflow: run.CurrentWorkflow,
		CurrentJob:      run.CurrentJob,
		CurrentStep:     run.CurrentStep,
	}
}

func decodeRun(raw []byte) (*domain.Run, error) {
	if raw == nil {
		return nil, nil
	}
	var rec runRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &domain.Run{
		ID:              rec.ID,
		Status:          rec.Status,
		WorkflowsDir:    rec.WorkflowsDir,
		AgentToken:      rec.AgentToken,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		IsPaused:        rec.IsPaused,
		PausedAt:        rec.PausedAt,
		CurrentWorkflow: rec.CurrentWorkflow,
		CurrentJob:      rec.CurrentJob,
		CurrentStep:     rec.CurrentStep,
	}, nil
}
