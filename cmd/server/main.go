package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dgallion1/docmd/internal/api"
	"github.com/dgallion1/docmd/internal/config"
	_ "github.com/dgallion1/docmd/internal/engine/claude"
	_ "github.com/dgallion1/docmd/internal/engine/gemini"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/pipeline"
	"github.com/dgallion1/docmd/internal/report"
	"github.com/dgallion1/docmd/internal/summary"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var history *report.SQLiteStore
	if cfg.ReportDB != "" {
		history, err = report.OpenSQLite(cfg.ReportDB)
		if err != nil {
			log.Error("failed to open report db", "path", cfg.ReportDB, "error", err)
			os.Exit(1)
		}
		defer history.Close()
	}

	var sink output.Sink = output.DirSink{Dir: cfg.OutputDir}
	var remote *output.HTTPSink
	if cfg.OutputURL != "" {
		remote = output.NewHTTPSink(cfg.OutputURL, cfg.OutputAPIKey, "docmd")
		sink = remote
	}

	// Initialize pipeline.
	cache := pipeline.NewResultCache(cfg.ResultCacheSize, cfg.ResultCacheTTL)
	run := summary.NewRetained(cfg.SummaryKeepDocuments, cfg.SummaryKeepSamples)
	conv := pipeline.NewConverter(cfg, cache, run, log)
	orch := pipeline.NewOrchestrator(cfg, conv, sink, log)
	if _, err := orch.Engine(cfg.DefaultEngine); err != nil {
		log.Error("default engine unusable", "engine", cfg.DefaultEngine, "error", err)
		os.Exit(1)
	}
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, history, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if remote != nil {
			remote.Close()
		}

		snap := orch.Summary().Finish()
		if history != nil && len(snap.Documents) > 0 {
			runID := uuid.NewString()
			if err := history.SaveRun(shutdownCtx, runID, snap); err != nil {
				log.Error("failed to save run", "run_id", runID, "error", err)
			} else {
				log.Info("run saved", "run_id", runID, "documents", len(snap.Documents))
			}
		}
	}()

	log.Info("starting docmd", "port", cfg.Port, "engine", cfg.DefaultEngine)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
