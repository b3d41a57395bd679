package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/config"
	"github.com/waypointhq/waypoint/internal/processor"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string

	// Sender overrides the message sender (for testing). Nil means the
	// logging sender.
	Sender processor.Sender
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <journeys-dir>",
		Short: "Start the journey engine",
		Long: `Start the journey engine with journey definitions from CUE files.

The engine loads and activates the journey definitions, opens the SQLite
database (creating it if needed), and starts the per-step-kind worker
pools and the parked-customer scanners.

Example:
  waypoint run --db ./waypoint.db ./journeys
  waypoint run --config ./waypoint.yaml ./journeys --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runEngine(opts *RunOptions, journeysDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	slog.Info("loading journeys", "dir", journeysDir)
	journeys, err := LoadJourneys(journeysDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load journeys", err)
	}
	slog.Info("journeys loaded", "count", len(journeys))

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	st.LockTimeout = cfg.LockTimeout.Std()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	for _, jny := range journeys {
		if err := st.SaveJourney(ctx, jny, jny.WorkspaceID); err != nil {
			return WrapExitError(ExitCommandError, "failed to activate journey "+jny.ID, err)
		}
	}

	sender := opts.Sender
	if sender == nil {
		sender = &loggingSender{logger: logger}
	}

	journeyCache := cache.New(st, cfg.CacheTTL.Std(), logger)
	router := queue.NewRouter()
	defer router.Close()

	engine, err := processor.New(processor.Config{
		Store:  st,
		Cache:  journeyCache,
		Router: router,
		Sender: sender,
		Events: &processor.StoreEventSink{Store: st},
		Logger: logger,
		Offset: processor.StaticOffsets(cfg.Offsets()),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	retry := queue.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff.Std(),
	}

	var wg sync.WaitGroup
	for _, pool := range engine.Pools(cfg.WorkerCounts(), retry, nil) {
		wg.Add(1)
		go func(p *queue.Pool) {
			defer wg.Done()
			p.Run(ctx)
		}(pool)
	}
	for i := 0; i < cfg.Scanner.Shards; i++ {
		scanner := &processor.Scanner{
			Engine:   engine,
			Index:    i,
			Total:    cfg.Scanner.Shards,
			Interval: cfg.Scanner.Interval.Std(),
			Logger:   logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner.Run(ctx)
		}()
	}

	slog.Info("engine running",
		"db", cfg.Database,
		"journeys", len(journeys),
		"scanner_shards", cfg.Scanner.Shards,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")

	wg.Wait()
	slog.Info("engine stopped")
	return nil
}

// loggingSender is the default Sender when no channel providers are
// wired: it logs each send instead of delivering it.
type loggingSender struct {
	logger *slog.Logger
}

func (s *loggingSender) Send(ctx context.Context, msg processor.Message) error {
	s.logger.Info("message send",
		"template", msg.Template,
		"kind", msg.TemplateKind,
		"journey_id", msg.JourneyID,
		"customer_id", msg.CustomerID,
		"session", msg.Session,
	)
	return nil
}
