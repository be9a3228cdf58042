package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var flaggedAll bool

var flaggedCmd = &cobra.Command{
	Use:   "flagged",
	Short: "Sites waiting for manual review",
}

var flaggedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flagged sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		sites, err := a.Profiles.Flagged(cmd.Context(), flaggedAll)
		if err != nil {
			return err
		}
		if len(sites) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no flagged sites")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOMAIN\tFLAGGED AT\tRESOLVED\tREASON")
		for _, s := range sites {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Domain, s.FlaggedAt.Format(time.RFC3339), s.Resolved, s.Reason)
		}
		return tw.Flush()
	},
}

func init() {
	flaggedListCmd.Flags().BoolVar(&flaggedAll, "all", false, "include resolved sites")
	flaggedCmd.AddCommand(flaggedListCmd)
	rootCmd.AddCommand(flaggedCmd)
}
