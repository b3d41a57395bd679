package processor

import (
	"context"
	"fmt"

	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/query"
	"github.com/waypointhq/waypoint/internal/queryjson"
	"github.com/waypointhq/waypoint/internal/querysql"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
)

// processMultisplit evaluates the branch queries in order against this
// one customer; the first match wins and anything else falls through to
// the all-others destination.
func (e *Engine) processMultisplit(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location) error {
	meta, ok := step.Meta.(journey.MultisplitMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want MultisplitMeta", step.ID, step.Meta)
	}

	for _, branch := range meta.Branches {
		matched, err := e.branchMatches(ctx, branch, job)
		if err != nil {
			return fmt.Errorf("step %s branch %d: %w", step.ID, branch.Index, err)
		}
		if matched {
			return e.advance(ctx, job, jny, step, loc, branch.Destination)
		}
	}
	return e.advance(ctx, job, jny, step, loc, meta.AllOthers)
}

// branchMatches compiles the branch's segmentation query as a count
// scoped to the job's customer and asks the database whether the
// customer is in the segment.
func (e *Engine) branchMatches(ctx context.Context, branch journey.QueryBranch, job queue.Job) (bool, error) {
	q, err := queryjson.ToQuery(branch.Query, query.Context{
		query.CtxWorkspaceID: job.WorkspaceID,
		query.CtxCustomerID:  job.CustomerID,
	})
	if err != nil {
		return false, err
	}
	q.Shape = query.ShapeCount

	resolved, err := query.Resolve(q)
	if err != nil {
		return false, err
	}

	compiler := &querysql.Compiler{Now: e.clock.Now(), Dialect: e.store.SQLDialect()}
	stmt, err := compiler.Compile(resolved)
	if err != nil {
		return false, err
	}

	var count int64
	rows, err := e.store.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, err
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return count > 0, nil
}

// processExperiment selects a branch with one uniform draw against the
// cumulative ratios. Ratios summing under 1 leave a remainder slice
// that deliberately selects nothing: those customers park at the
// experiment step instead of advancing.
func (e *Engine) processExperiment(ctx context.Context, job queue.Job, jny *journey.Journey, step *journey.Step, loc *store.Location) error {
	meta, ok := step.Meta.(journey.ExperimentMeta)
	if !ok {
		return fmt.Errorf("step %s: metadata is %T, want ExperimentMeta", step.ID, step.Meta)
	}

	draw := e.draw()
	var cumulative float64
	for _, branch := range meta.Branches {
		cumulative += branch.Ratio
		if draw < cumulative {
			return e.advance(ctx, job, jny, step, loc, branch.Destination)
		}
	}
	return e.park(ctx, loc)
}
