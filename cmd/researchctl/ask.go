package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/research/internal/reports"
	"github.com/Kocoro-lab/Shannon/go/research/internal/synthesis"
)

type askOutput struct {
	ReportID         string                      `json:"report_id,omitempty"`
	CreditsRemaining *int                        `json:"credits_remaining,omitempty"`
	Response         *synthesis.EnhancedResponse `json:"response"`
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		userID      string
		maxInsights int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one synthesis pass and print the cited answer as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			charge := userID != ""
			if charge && a.Store == nil {
				return errors.New("--user needs a configured database")
			}
			if charge {
				credits, err := a.Store.Credits(ctx, userID)
				if err != nil {
					return err
				}
				if credits < reports.ReportCost {
					return reports.ErrInsufficientCredits
				}
			}

			req := synthesis.Request{Query: strings.Join(args, " "), MaxInsights: maxInsights}
			resp, err := a.Synthesizer.SynthesizeWithRetry(ctx, req)
			if err != nil {
				return err
			}

			out := askOutput{Response: resp}
			if charge {
				report := reports.NewReport(userID, resp)
				remaining, err := a.Store.ChargeReport(ctx, report)
				if err != nil {
					return err
				}
				out.ReportID = report.ID
				out.CreditsRemaining = &remaining
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "charge one credit to this user and store the report")
	cmd.Flags().IntVar(&maxInsights, "max-insights", 0, "override the number of insights (0 = configured default)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "overall deadline")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
