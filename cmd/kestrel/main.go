// Kestrel - Expense reconciliation decisions in milliseconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/calendar"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
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
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
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

	// Initialize Policy Engine
	policies, err := policy.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	defer policies.Close()

	// Load policy rules from database (no hardcoded defaults - configure via API)
	if err := loadPoliciesFromDatabase(ctx, repo, policies); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "rules_count", policies.RulesCount())

	// Initialize Event Calendar service (repo-backed with cache in front)
	calendarSvc := calendar.NewService(repo, cacheImpl)
	slog.Info("calendar service initialized")

	// Initialize Reconciliation Engine
	recon := engine.New(cfg.Engine, calendarSvc, policies)
	slog.Info("reconciliation engine initialized",
		"approval_threshold", cfg.Engine.ApprovalThreshold,
		"candidate_window_days", cfg.Engine.CandidateWindowDays,
	)

	// Sync mode processes expenses inline on POST /expenses; otherwise the
	// async worker consumes them from the bus.
	syncMode := os.Getenv("KESTREL_SYNC") == "true"

	var asyncWorker *worker.Worker
	if !syncMode {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, recon, cfg.Engine)

		// Get tenant IDs to process (from environment or the global subscription)
		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async worker started", "tenant_count", len(tenantIDs))
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, recon, policies, cfg.Engine, Version, syncMode)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
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

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for policy rules that apply to all tenants.
const GlobalTenantID = "*"

// loadPoliciesFromDatabase loads policy rules from the database into the
// engine. All rules must be configured via POST /policies - no hardcoded
// defaults.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, policies *policy.Engine) error {
	dbRules, err := repo.ListPolicyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list policy rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading policy rules from database", "count", len(dbRules))
		return policies.LoadRules(dbRules)
	}

	slog.Info("no policy rules in database - configure via POST /policies")
	return nil
}

// applyEnvOverrides maps KESTREL_* environment variables onto the config.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	mode := "async"
	if os.Getenv("KESTREL_SYNC") == "true" {
		mode = "sync"
	}

	fmt.Println()
	fmt.Println("  ╔═════════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                     ║")
	fmt.Println("  ║     Expense Reconciliation Engine            ║")
	fmt.Println("  ║      Every receipt accounted for.            ║")
	fmt.Println("  ╚═════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Mode:     %s\n", mode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /expenses               - Ingest an expense")
	fmt.Println("    GET  /expenses/{id}          - Get expense by ID")
	fmt.Println("    GET  /expenses/{id}/decision - Get decision for expense")
	fmt.Println("    GET  /expenses/{id}/audit    - Get audit record")
	fmt.Println("    GET  /decisions/{id}         - Get decision by ID")
	fmt.Println("    POST /bank-transactions      - Ingest a bank posting")
	fmt.Println("    POST /events                 - Create a calendar event")
	fmt.Println("    GET  /reviews                - List flagged decisions")
	fmt.Println("    POST /reviews/{id}/resolve   - Resolve a review")
	fmt.Println("    GET  /policies               - List policy rules")
	fmt.Println("    POST /policies               - Create a policy rule")
	fmt.Println("    POST /policies/reload        - Hot-reload policy rules")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
