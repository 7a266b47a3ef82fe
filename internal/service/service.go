// Package service implements the run lifecycle: the only writer of run
// state, composing the run cache, the durable store and the bus.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xiaot623/gogo/controlplane/internal/bus"
	"github.com/xiaot623/gogo/controlplane/internal/cache"
	"github.com/xiaot623/gogo/controlplane/internal/config"
	"github.com/xiaot623/gogo/controlplane/internal/domain"
	"github.com/xiaot623/gogo/controlplane/internal/loader"
	"github.com/xiaot623/gogo/controlplane/internal/policy"
	store "github.com/xiaot623/gogo/controlplane/internal/repository"
)

// Service handles run lifecycle operations and queries.
type Service struct {
	store  store.Store
	cache  *cache.Cache
	bus    *bus.Bus
	policy *policy.Engine
	config *config.Config
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new service. The cache must be backed by the same store.
func New(db store.Store, runCache *cache.Cache, b *bus.Bus, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:  db,
		cache:  runCache,
		bus:    b,
		policy: policyEngine,
		config: cfg,
		locks:  newKeyedMutex(),
		logger: slog.Default().With("component", "service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Bus returns the bus the service publishes on.
func (s *Service) Bus() *bus.Bus {
	return s.bus
}

// NewLoader creates a request-scoped batch loader over the durable store.
func (s *Service) NewLoader(ctx context.Context) *loader.Loader {
	return loader.New(ctx, s.store.GetRuns, s.config.LoaderWait, s.config.LoaderMaxBatch)
}

// Health summarizes the state of the service.
type Health struct {
	Health      string    `json:"health"`
	CacheLoaded bool      `json:"cacheLoaded"`
	CachedRuns  int       `json:"cachedRuns"`
	Bus         bus.Stats `json:"bus"`
}

// Health reports liveness. It never touches the durable store.
func (s *Service) Health(ctx context.Context) Health {
	return Health{
		Health:      "ok",
		CacheLoaded: s.cache.Loaded(),
		CachedRuns:  s.cache.Len(),
		Bus:         s.bus.Stats(),
	}
}

func (s *Service) ensureCache(ctx context.Context) error {
	if err := s.cache.Init(ctx); err != nil {
		return fmt.Errorf("failed to load run cache: %w", err)
	}
	return nil
}

// persist writes run through to the durable store.
func (s *Service) persist(ctx context.Context, run domain.Run) error {
	if err := s.store.UpdateRun(ctx, &run); err != nil {
		s.logger.Error("write-through failed", "run_id", run.ID, "status", run.Status, "error", err)
		return fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}
	return nil
}

func invalidate(ctx context.Context, runID string) {
	if l, ok := loader.FromContext(ctx); ok {
		l.Invalidate(runID)
	}
}
