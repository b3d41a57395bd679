// Package enroll implements bulk journey enrollment: a segmentation
// payload selects customers in the database, one locked journey
// location row is written per match in a single set-based insert, and a
// start job is fanned out for every newly enrolled customer.
package enroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/query"
	"github.com/waypointhq/waypoint/internal/queryjson"
	"github.com/waypointhq/waypoint/internal/querysql"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// DefaultBatchSize bounds how many customer ids one fan-out round trip
// loads.
const DefaultBatchSize = 500

// Enroller runs the bulk-enrollment pipeline against a journey.
type Enroller struct {
	Store  *store.Store
	Cache  *cache.Journeys
	Router *queue.Router
	Logger *slog.Logger

	// BatchSize bounds the fan-out page size; defaults to
	// DefaultBatchSize.
	BatchSize int

	// Now supplies enrollment timestamps; defaults to time.Now.
	Now func() time.Time
}

// Result summarizes one bulk enrollment run.
type Result struct {
	// Matched is how many customers the segment selected.
	Matched int
	// Enrolled is how many new location rows were created; customers
	// already in the journey are skipped.
	Enrolled int64
	// Dispatched is how many start jobs were fanned out.
	Dispatched int
}

// Run enrolls every customer matching the segmentation payload into the
// journey. The payload is the wire JSON query format, optionally inside
// an inclusionCriteria envelope. Matching customers already enrolled
// keep their current location untouched.
func (e *Enroller) Run(ctx context.Context, journeyID string, payload []byte) (*Result, error) {
	jny, err := e.Cache.Get(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	start := jny.StartStep()
	if start == nil {
		return nil, fmt.Errorf("enroll: journey %s has no start step", journeyID)
	}

	qctx := query.Context{
		query.CtxWorkspaceID: jny.WorkspaceID,
		query.CtxJourneyID:   jny.ID,
		query.CtxStepID:      start.ID,
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	compiler := &querysql.Compiler{Now: now().UTC(), Dialect: e.Store.SQLDialect()}

	insert, err := compileShape(payload, qctx, query.ShapeInsertLocations, compiler)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	enrolled, err := e.Store.CreateAndLockBulk(ctx, insert)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	sel, err := compileShape(payload, qctx, query.ShapeSelect, compiler)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	matched, err := e.matchedIDs(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	dispatched, err := e.fanOut(ctx, jny.ID, jny.WorkspaceID, start, matched)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	log := e.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log.Info("bulk enrollment complete",
		"journey_id", journeyID,
		"matched", len(matched),
		"enrolled", enrolled,
		"dispatched", dispatched,
	)

	return &Result{Matched: len(matched), Enrolled: enrolled, Dispatched: dispatched}, nil
}

// compileShape compiles the payload once per outer shape. The payload
// is re-parsed each time because the shape lives on the query value.
func compileShape(payload []byte, qctx query.Context, shape query.Shape, compiler *querysql.Compiler) (*querysql.Statement, error) {
	q, err := queryjson.ToQuery(payload, qctx)
	if err != nil {
		return nil, err
	}
	q.Shape = shape

	resolved, err := query.Resolve(q)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(resolved)
}

// matchedIDs runs the select-shaped statement and collects the matching
// customer ids.
func (e *Enroller) matchedIDs(ctx context.Context, stmt *querysql.Statement) ([]string, error) {
	rows, err := e.Store.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// fanOut dispatches a depth-zero start job for every matched customer
// whose location is freshly locked at the start step. Customers matched
// but already elsewhere in the journey were enrolled earlier and are
// left alone.
func (e *Enroller) fanOut(ctx context.Context, journeyID, workspaceID string, start *journey.Step, customerIDs []string) (int, error) {
	batch := e.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	dispatched := 0
	for len(customerIDs) > 0 {
		n := min(batch, len(customerIDs))
		page := customerIDs[:n]
		customerIDs = customerIDs[n:]

		locations, err := e.Store.FindForWriteBulk(ctx, journeyID, page, workspaceID)
		if err != nil {
			return dispatched, err
		}
		for _, loc := range locations {
			if loc.StepID != start.ID || !loc.Locked(now(), e.Store.LockTimeout) {
				continue
			}
			job := queue.NewJob(start, loc.CustomerID, uuid.Must(uuid.NewV7()).String(), 0)
			if err := e.Router.Dispatch(job); err != nil {
				return dispatched, err
			}
			dispatched++
		}
	}
	return dispatched, nil
}
