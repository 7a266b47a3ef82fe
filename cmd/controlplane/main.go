// Command controlplane serves the run control plane: the REST and WebSocket
// surface for operators and the JSON-RPC endpoint for agents.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/controlplane/internal/bus"
	"github.com/xiaot623/gogo/controlplane/internal/cache"
	"github.com/xiaot623/gogo/controlplane/internal/config"
	"github.com/xiaot623/gogo/controlplane/internal/policy"
	store "github.com/xiaot623/gogo/controlplane/internal/repository"
	"github.com/xiaot623/gogo/controlplane/internal/service"
	httptransport "github.com/xiaot623/gogo/controlplane/internal/transport/http"
	"github.com/xiaot623/gogo/controlplane/internal/transport/rpc"
	"github.com/xiaot623/gogo/controlplane/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("control plane stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(levelName string) {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverBbolt:
		return store.NewBboltStore(cfg.BoltPath)
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting control plane",
		"http_port", cfg.HTTPPort,
		"rpc_port", cfg.RPCPort,
		"store_driver", cfg.StoreDriver,
		"cache_window", cfg.CacheWindow,
	)

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	runCache := cache.New(db, cfg.CacheWindow)
	if err := runCache.Init(ctx); err != nil {
		// The service retries hydration on first use.
		slog.Warn("initial cache load failed", "error", err)
	}

	policyEngine, err := policy.LoadEngine(ctx, cfg.CommandPolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	eventBus := bus.New(cfg.SubscriberBuffer)
	svc := service.New(db, runCache, eventBus, policyEngine, cfg)

	hub := ws.NewHub(cfg.SubscriberBuffer)
	e := httptransport.NewServer(svc, ws.NewServer(cfg, hub, eventBus))

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		if rpcServer, err = rpc.NewServer(svc); err != nil {
			return fmt.Errorf("failed to initialize rpc server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		slog.Info("http server listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if rpcServer != nil {
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			slog.Info("rpc server listening", "addr", addr)
			if err := rpcServer.Start(addr); err != nil {
				return fmt.Errorf("rpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down control plane")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown http server gracefully", "error", err)
		}
		if rpcServer != nil {
			if err := rpcServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shutdown rpc server gracefully", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("control plane stopped")
	return nil
}
