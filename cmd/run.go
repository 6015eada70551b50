package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the pipeline over every configured source",
		Long: `Walks every source in order, validates the discovered postings, resolves their
notice documents and stores the extracted syllabus. Failures are written to the
review queue and the run carries on. The first interrupt stops after the posting
in flight; a second one aborts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := appInstance.Runner(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := interruptible(cmd.Context(), runner, appInstance.Logger())
			defer cancel()

			report, runErr := runner.Run(ctx)
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run %s: %w", report.RunID, runErr)
			}
			return nil
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <source-id>",
		Short: "Runs the pipeline for a single source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := appInstance.Runner(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := interruptible(cmd.Context(), runner, appInstance.Logger())
			defer cancel()

			report, discErr := runner.DiscoverSource(ctx, args[0])
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return discErr
		},
	}
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <posting-id>",
		Short: "Re-runs syllabus extraction for a stored posting",
		Long: `Downloads the posting's notice document again and replaces its syllabus tree.
A posting stored without a document is resolved first. A failed extraction is
recorded in the review queue and reported with a non-zero exit status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || postingID <= 0 {
				return fmt.Errorf("posting id must be a positive integer, got %q", args[0])
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := appInstance.Runner(cmd.Context())
			if err != nil {
				return err
			}

			report, err := runner.ExtractPosting(cmd.Context(), postingID)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Success {
				appInstance.Logger().Warn("extraction failed",
					zap.Int64("posting_id", postingID), zap.String("reason", report.Reason))
				return fmt.Errorf("extraction failed for posting %d: %s", postingID, report.Reason)
			}
			return nil
		},
	}
}
