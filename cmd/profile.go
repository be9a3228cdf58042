package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
)

var (
	profileFormat     string
	profileFlagReason string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and manage site learning profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every profiled domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		domains, err := a.Profiles.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, d := range domains {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <domain>",
	Short: "Print a site profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		p, err := a.Profiles.Lookup(cmd.Context(), args[0])
		if errors.Is(err, profile.ErrNotFound) {
			return eris.Errorf("no profile for %s", profile.Key(args[0]))
		}
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), profileFormat, p)
	},
}

var profileResetCmd = &cobra.Command{
	Use:   "reset <domain>",
	Short: "Clear attempts and flags so the site is learned again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		p, err := a.Profiles.ResetForRelearning(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reset to %s (version %d)\n", p.Domain, p.Status, p.Version)
		return nil
	},
}

var profileFlagCmd = &cobra.Command{
	Use:   "flag <domain>",
	Short: "Flag a site for manual review and stop oracle calls for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if profileFlagReason == "" {
			return eris.New("--reason is required")
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		p, err := a.Profiles.FlagForReview(cmd.Context(), args[0], profileFlagReason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s flagged for review: %s\n", p.Domain, p.FlagReason)
		return nil
	},
}

func init() {
	profileShowCmd.Flags().StringVarP(&profileFormat, "output", "o", "json", "output format: json or yaml")
	profileFlagCmd.Flags().StringVar(&profileFlagReason, "reason", "", "why the site needs manual review")

	profileCmd.AddCommand(profileListCmd, profileShowCmd, profileResetCmd, profileFlagCmd)
	rootCmd.AddCommand(profileCmd)
}
