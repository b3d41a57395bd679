package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// Engine holds the collaborators shared by every step processor and
// dispatches jobs to the per-kind handlers.
type Engine struct {
	store  *store.Store
	cache  *cache.Journeys
	router *queue.Router
	sender Sender
	events EventSink
	clock  Clock
	logger *slog.Logger

	// draw is the uniform [0,1) source for experiment branch selection.
	draw func() float64

	offsets  WorkspaceDirectory
	sendRate *MinuteLimiter
}

// Config wires an Engine. Store, Cache and Router are required; the
// rest default: SystemClock, discarding logger, math/rand draws, UTC
// offsets, and a no-op sender.
type Config struct {
	Store  *store.Store
	Cache  *cache.Journeys
	Router *queue.Router
	Sender Sender
	Events EventSink
	Clock  Clock
	Logger *slog.Logger
	Draw   func() float64
	Offset WorkspaceDirectory
}

// New builds an Engine and registers a queue for every executable step
// kind on the router.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Cache == nil || cfg.Router == nil {
		return nil, fmt.Errorf("processor engine requires store, cache and router")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Draw == nil {
		cfg.Draw = rand.Float64
	}
	if cfg.Offset == nil {
		cfg.Offset = StaticOffsets{}
	}

	e := &Engine{
		store:    cfg.Store,
		cache:    cfg.Cache,
		router:   cfg.Router,
		sender:   cfg.Sender,
		events:   cfg.Events,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		draw:     cfg.Draw,
		offsets:  cfg.Offset,
		sendRate: NewMinuteLimiter(),
	}

	for _, kind := range executableKinds {
		cfg.Router.Register(kind)
	}
	return e, nil
}

// executableKinds are the step kinds with a processor. Reserved kinds
// get no queue, so routing a job to one fails loudly at dispatch.
var executableKinds = []journey.Kind{
	journey.KindStart,
	journey.KindMessage,
	journey.KindTimeDelay,
	journey.KindTimeWindow,
	journey.KindWaitUntil,
	journey.KindMultisplit,
	journey.KindExperiment,
	journey.KindLoop,
	journey.KindExit,
}

// Pools builds one worker pool per executable kind, concurrency taken
// from workers (defaulting to 1), all running Handle.
func (e *Engine) Pools(workers map[journey.Kind]int, retry queue.RetryPolicy, tracker ErrorTracker) []*queue.Pool {
	hook := FailureHook(tracker)
	pools := make([]*queue.Pool, 0, len(executableKinds))
	for _, kind := range executableKinds {
		q := e.router.Queue(kind)
		pools = append(pools, queue.NewPool(q, e.Handle, workers[kind], retry, hook, e.logger))
	}
	return pools
}

// Handle processes one job: resolve the step, acquire or confirm the
// location lock, and run the kind-specific transition rule.
//
// Expected conditions — lock contention, a stale step, a vanished
// location or step — are logged and absorbed: the job completes without
// error and the customer is either parked or already in better hands.
// Only infrastructure failures propagate to the retry policy.
func (e *Engine) Handle(ctx context.Context, job queue.Job) error {
	log := e.logger.With(
		"step_id", job.StepID,
		"step_kind", string(job.Kind),
		"journey_id", job.JourneyID,
		"customer_id", job.CustomerID,
		"session", job.Session)

	jny, err := e.cache.Get(ctx, job.JourneyID)
	if err != nil {
		return fmt.Errorf("load journey %s: %w", job.JourneyID, err)
	}
	step := jny.StepByID(job.StepID)
	if step == nil {
		log.Warn("job references a step no longer in the journey, dropping")
		return nil
	}

	loc, err := e.store.FindForWrite(ctx, job.JourneyID, job.CustomerID, job.WorkspaceID)
	if err != nil {
		if store.IsNotFound(err) {
			log.Warn("no location for job, customer was unenrolled")
			return nil
		}
		return fmt.Errorf("find location: %w", err)
	}

	// Re-acquire the lock if it is not held for us (scanner re-trigger,
	// or a delayed requeue whose lock expired while waiting). Losing the
	// race means another worker owns this customer right now.
	if !loc.Locked(e.clock.Now(), e.store.LockTimeout) {
		if err := e.store.Lock(ctx, loc); err != nil {
			if store.IsCustomerStillMoving(err) {
				log.Debug("customer locked by another worker, skipping")
				return nil
			}
			return fmt.Errorf("lock location: %w", err)
		}
	}

	if loc.StepID != step.ID {
		// Another worker already moved this customer past our step.
		log.Info("location no longer at job's step, releasing", "current_step", loc.StepID)
		return e.store.ReleaseLock(ctx, loc)
	}

	switch step.Kind {
	case journey.KindStart:
		return e.processStart(ctx, job, jny, step, loc)
	case journey.KindMessage:
		return e.processMessage(ctx, job, jny, step, loc, log)
	case journey.KindTimeDelay:
		return e.processTimeDelay(ctx, job, jny, step, loc)
	case journey.KindTimeWindow:
		return e.processTimeWindow(ctx, job, jny, step, loc)
	case journey.KindWaitUntil:
		return e.processWaitUntil(ctx, job, jny, step, loc, log)
	case journey.KindMultisplit:
		return e.processMultisplit(ctx, job, jny, step, loc)
	case journey.KindExperiment:
		return e.processExperiment(ctx, job, jny, step, loc)
	case journey.KindLoop:
		return e.processLoop(ctx, job, jny, step, loc)
	case journey.KindExit:
		return e.processExit(ctx, step, loc)
	default:
		// Reserved kinds have no queue, so a job here is a routing bug.
		return fmt.Errorf("no processor for step kind %s", step.Kind)
	}
}

// advance is the shared destination-resolution logic: park at the
// destination if it is time-gated, fall back to the current step if it
// is dangling, otherwise move and hand off to the destination's queue
// with the lock still held.
func (e *Engine) advance(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location, destID string) error {
	dest := jny.StepByID(destID)
	if dest == nil {
		e.logger.Warn("destination step not found, parking at current step",
			"step_id", step.ID, "destination", destID,
			"journey_id", job.JourneyID, "customer_id", job.CustomerID)
		return e.store.ReleaseLock(ctx, loc)
	}

	if dest.Kind.TimeGated() {
		// The customer parks at the gate; the scanner or an event will
		// bring it back.
		return e.store.Unlock(ctx, loc, dest.ID)
	}

	moved, err := e.store.Move(ctx, loc, step.ID, dest.ID)
	if err != nil {
		return err
	}
	if !moved {
		e.logger.Info("move lost to a concurrent worker",
			"step_id", step.ID, "destination", dest.ID,
			"journey_id", job.JourneyID, "customer_id", job.CustomerID)
		return nil
	}

	next := queue.Job{
		StepID:      dest.ID,
		Kind:        dest.Kind,
		WorkspaceID: job.WorkspaceID,
		JourneyID:   job.JourneyID,
		CustomerID:  job.CustomerID,
		Session:     job.Session,
		Branch:      queue.NoBranch,
		StepDepth:   job.StepDepth + 1,
	}
	return e.router.Dispatch(next)
}

// park releases the lock in place: step and entry timestamps stay
// untouched, so time gates keep measuring from the original entry.
func (e *Engine) park(ctx context.Context, loc *store.Location) error {
	return e.store.ReleaseLock(ctx, loc)
}
