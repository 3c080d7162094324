package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var decayDays int

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Decay confidence of stale patterns",
	Long: `Applies the configured decay curve to every pattern that has not
been used within the threshold. Intended for cron; the server exposes the
same operation over POST /patterns/decay.`,
	RunE: runDecay,
}

func init() {
	decayCmd.Flags().IntVar(&decayDays, "days", 0, "idle threshold in days (0 uses the configured default)")
}

func runDecay(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	decayed, err := svc.DecayUnused(decayDays)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decayed %d pattern(s)\n", decayed)
	return nil
}
