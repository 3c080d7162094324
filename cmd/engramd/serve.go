package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/api"
	"github.com/engramdev/engram/internal/confidence"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/metrics"
	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	decay, err := confidence.DecayForMode(cfg.DecayMode, cfg.DecayRatePerDay)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := engine.New(db, engine.Options{
		MaxActiveConversations: cfg.MaxActiveConversations,
		SnapshotRetention:      cfg.SnapshotRetention,
		Decay:                  decay,
		DecayThresholdDays:     cfg.DecayThresholdDays,
		OnEvict:                distillEvicted,
		Metrics:                metrics.New(registry),
		Logger:                 logger,
	})

	router := api.NewRouter(svc, cfg.APIKey, registry, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engram server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// distillEvicted turns a conversation leaving the active queue into a
// pattern observation. Only conversations with a resolved intent and some
// substance are worth keeping; the confidence engine caps whatever we claim
// here anyway.
func distillEvicted(c *models.Conversation, msgs []*models.Message) *engine.ExtractedPattern {
	if c.Intent == "" || len(msgs) < 3 {
		return nil
	}
	name := strings.ToLower(strings.Join(strings.Fields(c.Intent), "-"))
	return &engine.ExtractedPattern{
		Name:       name,
		Category:   models.CategoryWorkflow,
		Confidence: 0.40,
		Tags:       []string{"evicted"},
	}
}
