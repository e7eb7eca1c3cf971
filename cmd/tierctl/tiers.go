package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tiernet.org/internal/network"
)

func tiersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Manage the tier catalogue",
	}

	var file string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the tier catalogue from a YAML file or the built-in one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if file == "" {
				file = cfg.TiersFile
			}
			tiers, err := network.LoadCatalogue(file)
			if err != nil {
				return err
			}
			if err := network.SeedTiers(cmd.Context(), store.Tiers(), tiers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tiers\n", len(tiers))
			return nil
		},
	}
	seed.Flags().StringVarP(&file, "file", "f", "", "catalogue YAML (defaults to TIERS_FILE, then the built-in catalogue)")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the tier catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tiers, err := store.Tiers().List(cmd.Context())
			if err != nil {
				return err
			}
			return printTiers(cmd, tiers)
		},
	}

	cmd.AddCommand(seed, list)
	return cmd
}

func printTiers(cmd *cobra.Command, tiers []network.Tier) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tNAME\tMEMBERS\tADMIN\tMEMBER AMOUNT\tNEXT UPGRADE")
	for _, t := range tiers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\n",
			t.Rank, t.ID, t.Name, t.MembersNumber, t.AdminCount, t.MemberAmount, t.NextUpgrade)
	}
	return tw.Flush()
}
