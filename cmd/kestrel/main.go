// Kestrel - Insurance claim fraud scoring that deploys in 60 seconds.
// Copyright (c) 2025 clearclaim
// Licensed under the Apache License 2.0

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

	"github.com/clearclaim/kestrel/internal/api"
	"github.com/clearclaim/kestrel/internal/bus"
	"github.com/clearclaim/kestrel/internal/cache"
	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/hybrid"
	"github.com/clearclaim/kestrel/internal/oracle"
	"github.com/clearclaim/kestrel/internal/repository"
	"github.com/clearclaim/kestrel/internal/rules"
	"github.com/clearclaim/kestrel/internal/score"
	"github.com/clearclaim/kestrel/internal/worker"
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

	// Hybrid mode blends rule scores with the external oracles
	if os.Getenv("KESTREL_MODE") == "hybrid" {
		cfg.ScoringMode = domain.ModeHybrid
	}
	if v := os.Getenv("KESTREL_ML_URL"); v != "" {
		cfg.Oracles.MLBaseURL = v
	}
	if v := os.Getenv("KESTREL_ADVISOR_URL"); v != "" {
		cfg.Oracles.AdvisorBaseURL = v
	}
	if v := os.Getenv("KESTREL_ADVISOR_KEY"); v != "" {
		cfg.Oracles.AdvisorAPIKey = v
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"mode", cfg.ScoringMode,
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

	// Initialize the detection engine with the standard tables
	engine := rules.NewEngine(rules.DefaultConfig(), score.DefaultWeights(), 0)
	slog.Info("detection engine initialized", "engine_version", rules.EngineVersion)

	// Initialize the hybrid analyzer when oracles are configured
	var analyzer *hybrid.Analyzer
	if cfg.ScoringMode == domain.ModeHybrid {
		ml := oracle.NewMLClient(
			cfg.Oracles.MLBaseURL,
			oracle.DefaultFeatureSchema(),
			time.Duration(cfg.Oracles.MLTimeout)*time.Second,
		)

		advisor, err := oracle.NewAdvisorClient(oracle.AdvisorConfig{
			APIKey:  cfg.Oracles.AdvisorAPIKey,
			BaseURL: cfg.Oracles.AdvisorBaseURL,
			Model:   cfg.Oracles.AdvisorModel,
			Timeout: time.Duration(cfg.Oracles.AdvisorTimeout) * time.Second,
		})
		if err != nil {
			slog.Error("failed to initialize advisory oracle", "error", err)
			os.Exit(1)
		}

		analyzer = hybrid.NewAnalyzer(ml, advisor, nil, logger)
		slog.Info("hybrid analyzer initialized",
			"ml_url", cfg.Oracles.MLBaseURL,
			"advisor_model", cfg.Oracles.AdvisorModel,
		)
	}

	// Initialize async scoring Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, engine)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, analyzer, Version, cfg.ScoringMode)

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

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     Claim Fraud Scoring Engine            ║")
	fmt.Println("  ║      Eyes on every claim.                 ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Mode:     %s\n", cfg.ScoringMode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyses                            - Score a claim batch")
	fmt.Println("    GET  /analyses/{id}                       - Get analysis by ID")
	fmt.Println("    GET  /analyses/{id}/scores/{claimID}      - Get one claim's score")
	fmt.Println("    POST /analyses/{id}/hybrid/{claimID}      - Hybrid oracle review")
	fmt.Println("    GET  /analyses/{id}/verdicts/{claimID}    - Get stored verdict")
	fmt.Println("    GET  /claims/{id}                         - Get claim by ID")
	fmt.Println("    GET  /policies/{policyNumber}/history     - Policy claim history")
	fmt.Println("    GET  /config                              - Get detection config")
	fmt.Println("    PUT  /config                              - Update detection config")
	fmt.Println("    GET  /health                              - Health check")
	fmt.Println()
}
