package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/api"
	"github.com/rand/mnemosyne-sub002/internal/config"
	"github.com/rand/mnemosyne-sub002/internal/consolidate"
	"github.com/rand/mnemosyne-sub002/internal/enrichment"
	"github.com/rand/mnemosyne-sub002/internal/feedback"
	"github.com/rand/mnemosyne-sub002/internal/learner"
	"github.com/rand/mnemosyne-sub002/internal/memory"
	"github.com/rand/mnemosyne-sub002/internal/recalibrate"
	"github.com/rand/mnemosyne-sub002/internal/search"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectorindex"
)

func main() {
	// Logger
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// SQLite
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	memoryStore := store.NewMemoryStore(db)
	bm25Store := store.NewBM25Store(db)
	embCacheStore := store.NewEmbeddingCacheStore(db)
	linkStore := store.NewLinkStore(db)
	evalStore := store.NewEvaluationStore(db)
	weightStore := store.NewWeightStore(db)

	// Enrichment collaborator
	ollamaClient := enrichment.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbeddingModel, cfg.AnnotateModel)
	embedder, err := enrichment.NewCachedEmbedder(ollamaClient, embCacheStore, cfg.EmbeddingModel, cfg.EmbeddingDim, logger)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}

	// Vector index (derived, rebuilt from the store below)
	index, err := vectorindex.New(logger)
	if err != nil {
		logger.Error("failed to create vector index", "error", err)
		os.Exit(1)
	}

	// Learner and feedback
	rates := learner.Rates{
		Session: cfg.LearnerRateSession,
		Project: cfg.LearnerRateProject,
		Global:  cfg.LearnerRateGlobal,
	}
	l := learner.New(weightStore, rates, cfg.LearnerMinConfidence, cfg.LearnerBlend, logger)
	collector := feedback.NewCollector(evalStore, logger)

	// Scorer
	scorer := search.NewScorer(
		memoryStore, bm25Store, linkStore, evalStore, index, embedder, l,
		search.Config{
			VectorWeight: cfg.VectorWeight,
			BM25Weight:   cfg.BM25Weight,
			MaxResults:   cfg.DefaultMaxResults,
			ByteBudget:   cfg.SearchByteBudget,
			Timeout:      time.Duration(cfg.SearchTimeoutMs) * time.Millisecond,
		},
		logger,
	)

	// Maintenance passes
	engine := consolidate.NewEngine(memoryStore, consolidate.Thresholds{
		Cosine:  cfg.ConsolidateCosine,
		Jaccard: cfg.ConsolidateJaccard,
	}, logger)
	recalibrator := recalibrate.New(memoryStore, linkStore, recalibrate.Config{
		SupersedeDelta: cfg.RecalSupersedeDelta,
		LinkBoostMin:   cfg.RecalLinkBoostMin,
		AccessBoostMin: cfg.RecalAccessBoostMin,
		StaleDays:      cfg.RecalStaleDays,
	}, logger)

	svc := memory.NewService(
		memoryStore, linkStore, evalStore, weightStore, embedder, index,
		scorer, engine, recalibrator, collector, l,
		time.Duration(cfg.EnrichTimeoutSecs)*time.Second, logger,
	)

	if err := svc.RebuildIndex(context.Background()); err != nil {
		logger.Warn("vector index rebuild failed, continuing keyword-only", "error", err)
	}

	// Router
	router := api.NewRouter(db, svc, cfg.APIKey, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("memory server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Periodic expiry of evaluations whose task never reported an outcome
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SweepIntervalMins) * time.Minute)
		defer ticker.Stop()
		ttl := time.Duration(cfg.EvaluationTTLHours) * time.Hour
		for {
			select {
			case <-ticker.C:
				if _, err := svc.SweepEvaluations(ttl); err != nil {
					logger.Warn("evaluation sweep failed", "error", err)
				}
			case <-sweepStop:
				return
			}
		}
	}()

	<-done
	logger.Info("shutting down...")
	close(sweepStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
