package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/research/internal/reports"
)

var errNoDatabase = errors.New("no database configured (set database.host or database.path)")

func openStore(cmd *cobra.Command, opts *rootOptions) (*reports.Store, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}
	if !cfg.Database.Enabled() {
		return nil, errNoDatabase
	}
	db, err := reports.Open(cmd.Context(), cfg.Database, opts.logger())
	if err != nil {
		return nil, err
	}
	store := reports.NewStore(db, cfg.Database.DefaultCredits, opts.logger())
	if err := store.Migrate(cmd.Context()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "report [id]",
		Short: "Print a stored report, or list a user's reports with --user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && userID == "" {
				return errors.New("give a report id or --user")
			}
			store, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				r, err := store.GetReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, r)
			}
			list, err := store.ListReports(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "list this user's reports, newest first")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum reports to list")
	return cmd
}

func newCreditsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "credits <user>",
		Short: "Print a user's remaining credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Credits(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"user_id": args[0], "credits_remaining": n})
		},
	}
}

func newUsageCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <user>",
		Short: "Print a user's report count, credits used and last activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.UsageStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}
