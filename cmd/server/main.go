package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/opportunity-orchestrator/internal/api"
	"github.com/david/opportunity-orchestrator/internal/bridge"
	"github.com/david/opportunity-orchestrator/internal/config"
	"github.com/david/opportunity-orchestrator/internal/db"
	"github.com/david/opportunity-orchestrator/internal/enhance"
	"github.com/david/opportunity-orchestrator/internal/engine"
	"github.com/david/opportunity-orchestrator/internal/scan"
	"github.com/david/opportunity-orchestrator/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	store := db.NewStore(pool)

	// Health probes go through an ungated client so the supervisor can check
	// the engine before it is marked available.
	probe := bridge.NewClient(cfg.EngineURL, bridge.Options{Timeout: cfg.BridgeTimeout})
	supervisor := engine.NewSupervisor(engine.Config{
		Command: cfg.EngineCmd,
		WorkDir: cfg.EnginePath,
	}, probe.Health)

	// A dead engine degrades the service to no AI enhancement; it never
	// prevents startup.
	if err := supervisor.Start(ctx); err != nil {
		log.Printf("Analysis engine start failed: %v", err)
	} else if err := supervisor.Verify(ctx); err != nil {
		log.Printf("Analysis engine verification failed: %v", err)
	}

	bridgeClient := bridge.NewClient(cfg.EngineURL, bridge.Options{
		Timeout: cfg.BridgeTimeout,
		Retries: cfg.BridgeRetries,
		Backoff: cfg.BridgeBackoff,
		Gate:    supervisor,
	})

	orchestrator := enhance.NewOrchestrator(store, bridgeClient, cfg.DefaultConfidence)

	registry, err := scan.LoadRegistry(os.Getenv("SCAN_SOURCES_PATH"))
	if err != nil {
		log.Fatalf("Failed to load scan sources: %v", err)
	}
	scanner := scan.NewScanner(store, registry)

	sched := scheduler.New()
	addCycle(sched, ctx, "quick", cfg.QuickScanCron, func(ctx context.Context) error {
		if err := scanner.QuickScan(ctx); err != nil {
			return err
		}
		orchestrator.EnhancePending(ctx, 20)
		return nil
	})
	addCycle(sched, ctx, "full", cfg.FullScanCron, func(ctx context.Context) error {
		if err := scanner.FullScan(ctx); err != nil {
			return err
		}
		orchestrator.EnhancePending(ctx, 50)
		return nil
	})
	sched.Start()

	srv := api.NewServer(store, orchestrator, supervisor, bridgeClient, api.ServerConfig{
		WebhookSecret: cfg.WebhookSecret,
		PublicBaseURL: cfg.PublicBaseURL,
		TokenTTL:      cfg.CallbackTokenTTL,
	})

	go func() {
		log.Printf("Server starting on port %s...", cfg.HTTPPort)
		if err := srv.Start(cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Print("Shutting down...")

	// Shutdown order: no new ticks, drain HTTP, stop the engine, close the pool.
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.Printf("Engine shutdown: %v", err)
	}
}

func addCycle(s *scheduler.Scheduler, ctx context.Context, name, spec string, fn scheduler.CycleFunc) {
	if err := s.AddCycle(ctx, name, spec, fn); err != nil {
		log.Fatalf("Failed to register %s scan cycle: %v", name, err)
	}
}
