package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := appInstance.Sources()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODE\tLISTING")
			for _, src := range reg.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", src.ID, src.Name, src.Mode(), src.ListingURL)
			}
			return tw.Flush()
		},
	}
}

func newReviewsCmd() *cobra.Command {
	var (
		filter crawler.ReviewFilter
		since  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Lists review queue entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				filter.Since = t
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := appInstance.Store().ListReviews(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list reviews: %w", err)
			}
			if asJSON {
				if entries == nil {
					entries = []crawler.ReviewEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tSOURCE\tSTAGE\tURL\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.SourceID, e.Stage, e.URL, oneLine(e.Reason))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.SourceID, "source", "", "only entries of this source id")
	cmd.Flags().StringVar(&filter.Stage, "stage", "", "only entries of this stage (listing, resolve, extract, ...)")
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than a duration ago (24h) or an RFC 3339 time")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries to show, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

// parseSince accepts a look-back duration or an absolute RFC 3339 timestamp.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since duration must be positive")
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be a duration or an RFC 3339 time, got %q", raw)
	}
	return t, nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 160 {
		return s[:157] + "..."
	}
	return s
}
