package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/confidence"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/store"
)

var (
	anomalyStatus string
	anomalyLimit  int
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Inspect the anomaly review queue",
	RunE:  runAnomalies,
}

func init() {
	anomaliesCmd.Flags().StringVar(&anomalyStatus, "status", "pending", "filter by status (pending, resolved, dismissed, or empty for all)")
	anomaliesCmd.Flags().IntVar(&anomalyLimit, "limit", 50, "maximum entries to print")
	anomaliesCmd.AddCommand(anomalyStatsCmd)
}

func runAnomalies(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	anomalies, err := svc.ListAnomalies(models.AnomalyStatus(anomalyStatus), anomalyLimit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(anomalies)
}

var anomalyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the anomaly queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := openService()
		if err != nil {
			return err
		}
		defer closeDB()

		stats, err := svc.AnomalyStats()
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

// openService builds a service from the loaded config for one-shot commands.
// The returned func closes the database.
func openService() (*engine.Service, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	decay, err := confidence.DecayForMode(cfg.DecayMode, cfg.DecayRatePerDay)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	svc := engine.New(db, engine.Options{
		MaxActiveConversations: cfg.MaxActiveConversations,
		SnapshotRetention:      cfg.SnapshotRetention,
		Decay:                  decay,
		DecayThresholdDays:     cfg.DecayThresholdDays,
		Logger:                 logger,
	})
	return svc, func() { db.Close() }, nil
}
