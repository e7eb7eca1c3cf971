package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tiernet.org/internal/auth"
	"tiernet.org/internal/config"
)

func tokenCmd() *cobra.Command {
	var (
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Sign a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			signer, err := auth.NewSigner(cfg.AuthSecret)
			if err != nil {
				return err
			}
			token, err := signer.GenerateToken(args[0], roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles to embed (admin, service)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
