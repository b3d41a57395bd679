package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/config"
	"github.com/waypointhq/waypoint/internal/enroll"
	"github.com/waypointhq/waypoint/internal/processor"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// EnrollOptions holds flags for the enroll command.
type EnrollOptions struct {
	*RootOptions
	Database string
}

// enrollResult is the enroll command's output payload.
type enrollResult struct {
	JourneyID  string `json:"journey_id"`
	Matched    int    `json:"matched"`
	Enrolled   int64  `json:"enrolled"`
	Dispatched int    `json:"dispatched"`
	Processed  int    `json:"processed"`
}

func (r enrollResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "journey %s: matched %d, enrolled %d, dispatched %d, processed %d job(s)",
		r.JourneyID, r.Matched, r.Enrolled, r.Dispatched, r.Processed)
	return b.String()
}

// NewEnrollCommand creates the enroll command: bulk enrollment of every
// customer matching a segmentation payload, driven to their first
// parking point before the command exits.
func NewEnrollCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnrollOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enroll <journey-id> <payload.json>",
		Short: "Bulk-enroll customers into a journey",
		Long: `Enroll every customer matching a segmentation payload into a journey.

Matching customers get one locked location row at the journey's start
step, written in a single set-based insert; customers already enrolled
are left untouched. Each new enrollment's start job is then processed
in-process until the customer parks at a time gate or exits.

Example:
  waypoint enroll --db ./waypoint.db j_welcome segment.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnroll(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEnroll(opts *EnrollOptions, journeyID, payloadPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	payload, err := readPayload(payloadPath, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	journeyCache := cache.New(st, config.Default().CacheTTL.Std(), logger)
	router := queue.NewRouter()
	defer router.Close()

	engine, err := processor.New(processor.Config{
		Store:  st,
		Cache:  journeyCache,
		Router: router,
		Sender: &loggingSender{logger: logger},
		Events: &processor.StoreEventSink{Store: st},
		Logger: logger,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	enroller := &enroll.Enroller{
		Store:  st,
		Cache:  journeyCache,
		Router: router,
		Logger: logger,
	}
	res, err := enroller.Run(ctx, journeyID, payload)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "enrollment failed", err)
	}

	processed, err := drainQueues(ctx, engine, router)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "processing enrollment jobs failed", err)
	}

	return formatter.Success(enrollResult{
		JourneyID:  journeyID,
		Matched:    res.Matched,
		Enrolled:   res.Enrolled,
		Dispatched: res.Dispatched,
		Processed:  processed,
	})
}

// drainQueues synchronously processes every ready job until the queues
// are quiescent: each enrolled customer runs until parked or exited.
func drainQueues(ctx context.Context, engine *processor.Engine, router *queue.Router) (int, error) {
	processed := 0
	for {
		progressed := false
		for _, kind := range router.Kinds() {
			q := router.Queue(kind)
			for {
				job, ok := q.TryDequeue()
				if !ok {
					break
				}
				if err := engine.Handle(ctx, job); err != nil {
					return processed, fmt.Errorf("job %s/%s: %w", job.JourneyID, job.CustomerID, err)
				}
				processed++
				progressed = true
			}
		}
		if !progressed {
			return processed, nil
		}
	}
}
