// Harrier - explainable transaction risk scoring.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fraudlab/harrier/internal/api"
	"github.com/fraudlab/harrier/internal/bus"
	"github.com/fraudlab/harrier/internal/cache"
	"github.com/fraudlab/harrier/internal/domain"
	"github.com/fraudlab/harrier/internal/repository"
	"github.com/fraudlab/harrier/internal/scoring"
	"github.com/fraudlab/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Scoring Engine with the builtin rule tables
	engine, err := scoring.NewEngine(scoring.DefaultConfig(), 100)
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}

	// Load custom rules from database (configure via POST /rules API)
	if err := loadCustomRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load custom rules", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring engine initialized", "custom_rules_count", engine.CustomRuleCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, engine)

		var tenantIDs []string
		if envTenants := os.Getenv("HARRIER_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// loadCustomRules loads custom rules from the database into the engine.
// The builtin rule tables are compiled in; only operator-authored rules
// live in the database.
func loadCustomRules(ctx context.Context, repo domain.Repository, engine *scoring.Engine) error {
	dbRules, err := repo.ListCustomRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list custom rules from database", "error", err)
		return nil // Start with builtins only - custom rules can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading custom rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no custom rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  harrier - transaction risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score              - Score a single transaction")
	fmt.Println("    POST /score/batch        - Score a batch of transactions")
	fmt.Println("    GET  /results/{id}       - Get detection result by ID")
	fmt.Println("    GET  /transactions/{id}  - Get transaction by ID")
	fmt.Println("    GET  /users/{id}/results - List results for a user")
	fmt.Println("    GET  /rules              - List custom rules")
	fmt.Println("    POST /rules              - Create a custom rule")
	fmt.Println("    DELETE /rules/{id}       - Delete a custom rule")
	fmt.Println("    POST /rules/reload       - Hot-reload custom rules")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
