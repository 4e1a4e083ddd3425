// Command forja runs the pipeline orchestration server: the HTTP API,
// the agent callback endpoint, SSE streams, and the background
// maintenance scheduler. With FORJA_MCP=true it instead exposes the
// orchestrator as MCP tools over stdio.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/forja-io/forja/internal/api"
	"github.com/forja-io/forja/internal/engine"
	"github.com/forja-io/forja/internal/logging"
	"github.com/forja-io/forja/internal/pipeline"
	"github.com/forja-io/forja/internal/scheduler"
	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/internal/trigger"
	"github.com/forja-io/forja/internal/validation"
	"github.com/forja-io/forja/pkg/mcp"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	// MCP mode owns stdout for the protocol; logs go to stderr either way.
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()
	validator, err := validation.NewArtifactValidator()
	if err != nil {
		return err
	}

	// Per-slug overrides from config win over the rebased engine URL.
	overrides := pipeline.OverridesForEngine(cfg.EngineBaseURL)
	if len(cfg.WebhookOverride) > 0 {
		if overrides == nil {
			overrides = make(map[string]string, len(cfg.WebhookOverride))
		}
		for slug, url := range cfg.WebhookOverride {
			overrides[slug] = url
		}
	}

	orch := engine.NewOrchestrator(engine.Options{
		Store:    st,
		Pipeline: pipeline.New(overrides),
		Gateway: trigger.NewHTTPGateway(trigger.Config{
			APIKey:  cfg.EngineAPIKey,
			Timeout: cfg.triggerTimeout(),
		}),
		Hub:             hub,
		Validator:       validator,
		Logger:          logger,
		CallbackBaseURL: cfg.BaseURL,
		WaitTimeout:     cfg.stepWait(),
		PollInterval:    cfg.pollInterval(),
	})

	if cfg.MCP {
		logger.Info("serving MCP tools over stdio")
		return mcp.NewForjaServer(mcp.ForjaServerDeps{
			Orchestrator: orch,
			Logger:       logger,
		}).Serve(ctx)
	}

	sched, err := scheduler.NewScheduler(st, hub, logger, scheduler.Config{
		SweepSpec:      cfg.SweepCron,
		VacuumSpec:     cfg.VacuumCron,
		StaleThreshold: cfg.staleAfter(),
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := api.NewServer(cfg.ListenAddr, api.Deps{
		Orchestrator: orch,
		Hub:          hub,
		Validator:    validator,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("forja started",
		slog.String("addr", cfg.ListenAddr),
		slog.String("base_url", cfg.BaseURL),
		slog.String("db", cfg.DBPath))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
