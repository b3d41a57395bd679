package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/stats"
	"github.com/waypointhq/waypoint/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
}

// overviewResult wraps the per-journey summary rows for output.
type overviewResult struct {
	Journeys []stats.Summary `json:"journeys"`
}

func (r overviewResult) String() string {
	if len(r.Journeys) == 0 {
		return "no journeys"
	}
	var b strings.Builder
	for _, row := range r.Journeys {
		fmt.Fprintf(&b, "%s (%s): %d enrolled\n", row.JourneyID, row.Name, row.Enrolled)
	}
	return strings.TrimRight(b.String(), "\n")
}

// journeyResult wraps one journey's full stats view for output.
type journeyResult struct {
	*stats.JourneyStats
}

func (r journeyResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", r.JourneyID, r.Name)
	fmt.Fprintf(&b, "  enrolled: %d\n", r.Enrolled)
	fmt.Fprintf(&b, "  unique customers messaged: %d\n", r.UniqueMessaged)
	for _, step := range r.Steps {
		kind := string(step.Kind)
		if kind == "" {
			kind = "(removed)"
		}
		fmt.Fprintf(&b, "  %-24s %-18s %d\n", step.StepID, kind, step.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewStatsCommand creates the stats command: reporting over journey
// enrollments and message deliveries.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats [journey-id]",
		Short: "Show journey enrollment and delivery stats",
		Long: `Show reporting stats. Without arguments, one summary row per journey;
with a journey id, the full view: enrollment, unique customers
messaged, and the per-step funnel.

Example:
  waypoint stats --db ./waypoint.db
  waypoint stats --db ./waypoint.db j_welcome`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStats(opts *StatsOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reporter := &stats.Reporter{Store: st, Cache: cache.New(st, time.Minute, nil)}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) == 0 {
		rows, err := reporter.Overview(ctx)
		if err != nil {
			_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
			return WrapExitError(ExitFailure, "stats failed", err)
		}
		return formatter.Success(overviewResult{Journeys: rows})
	}

	view, err := reporter.Journey(ctx, args[0])
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "stats failed", err)
	}
	return formatter.Success(journeyResult{JourneyStats: view})
}
