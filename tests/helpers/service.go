package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/gogo/controlplane/internal/bus"
	"github.com/xiaot623/gogo/controlplane/internal/cache"
	"github.com/xiaot623/gogo/controlplane/internal/config"
	"github.com/xiaot623/gogo/controlplane/internal/policy"
	store "github.com/xiaot623/gogo/controlplane/internal/repository"
	"github.com/xiaot623/gogo/controlplane/internal/service"
)

// NewTestService wires a service over an in-memory SQLite store with the
// default command policy.
func NewTestService(t *testing.T) (*service.Service, *store.SQLiteStore) {
	t.Helper()

	db := NewTestSQLiteStore(t)
	cfg := config.Default()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	svc := service.New(db, cache.New(db, cfg.CacheWindow), bus.New(cfg.SubscriberBuffer), engine, cfg)
	return svc, db
}
