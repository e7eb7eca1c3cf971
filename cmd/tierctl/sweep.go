package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tiernet.org/internal/network"
	"tiernet.org/internal/obs"
	"tiernet.org/internal/reconcile"
)

func sweepCmd() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	kinds := make([]string, len(network.SweepKinds))
	for i, k := range network.SweepKinds {
		kinds[i] = string(k)
	}

	cmd := &cobra.Command{
		Use:       "sweep <kind>",
		Short:     "Run one reconciliation sweep now",
		Long:      "Run one reconciliation sweep now. Kinds: " + strings.Join(kinds, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := network.ParseSweepKind(args[0])
			if err != nil {
				return err
			}
			cfg, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := obs.Logger()
			svc := network.NewService(store,
				network.WithLogger(logger.Named("network")),
				network.WithSettings(cfg.Settings()),
			)
			rep, err := reconcile.NewJobs(svc, logger.Named("reconcile"), timeout).Run(cmd.Context(), kind)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items in %s\n", rep.Kind, len(rep.Items), rep.Finished.Sub(rep.Started))
			for outcome, n := range rep.Counts() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-9s %d\n", outcome, n)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "sweep deadline")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}
