package main

import (
	"github.com/spf13/cobra"

	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
)

var (
	budgetDomain string
	budgetFormat string
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Oracle spend for the current month",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show month-to-date spend, today's calls and remaining budget",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		domain := budgetDomain
		if domain != "" {
			domain = profile.Key(domain)
		}
		st, err := a.Ledger.Status(cmd.Context(), domain)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), budgetFormat, st)
	},
}

func init() {
	budgetStatusCmd.Flags().StringVar(&budgetDomain, "domain", "", "include spend for one domain")
	budgetStatusCmd.Flags().StringVarP(&budgetFormat, "output", "o", "yaml", "output format: json or yaml")
	budgetCmd.AddCommand(budgetStatusCmd)
	rootCmd.AddCommand(budgetCmd)
}
