// Package stats assembles the read-side journey reporting views from
// the store's aggregate queries.
package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/store"
)

// StepCount is one row of a journey's funnel view: the step, its kind,
// and how many customers currently sit there. Steps no longer in the
// definition show up with an empty kind.
type StepCount struct {
	StepID string       `json:"step_id"`
	Kind   journey.Kind `json:"kind,omitempty"`
	Count  int64        `json:"count"`
}

// JourneyStats is the full reporting view of one journey.
type JourneyStats struct {
	JourneyID      string      `json:"journey_id"`
	Name           string      `json:"name"`
	Enrolled       int64       `json:"enrolled"`
	UniqueMessaged int64       `json:"unique_messaged"`
	Steps          []StepCount `json:"steps"`
}

// Summary is the one-line-per-journey overview row.
type Summary struct {
	JourneyID string `json:"journey_id"`
	Name      string `json:"name"`
	Enrolled  int64  `json:"enrolled"`
}

// Reporter computes reporting views. All methods are read-only.
type Reporter struct {
	Store *store.Store
	Cache *cache.Journeys
}

// Journey returns the full stats view for one journey: enrollment,
// unique customers messaged, and the per-step funnel ordered by the
// definition's step order with orphaned steps appended.
func (r *Reporter) Journey(ctx context.Context, journeyID string) (*JourneyStats, error) {
	jny, err := r.Cache.Get(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("journey stats: %w", err)
	}

	enrolled, err := r.Store.EnrolledCount(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("journey stats: %w", err)
	}
	messaged, err := r.Store.UniqueCustomersMessaged(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("journey stats: %w", err)
	}
	counts, err := r.Store.StepCounts(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("journey stats: %w", err)
	}

	steps := make([]StepCount, 0, len(jny.Steps))
	for i := range jny.Steps {
		step := &jny.Steps[i]
		steps = append(steps, StepCount{StepID: step.ID, Kind: step.Kind, Count: counts[step.ID]})
		delete(counts, step.ID)
	}

	// Customers can sit at steps removed from the definition; surface
	// them rather than silently dropping the counts.
	orphans := make([]StepCount, 0, len(counts))
	for stepID, count := range counts {
		orphans = append(orphans, StepCount{StepID: stepID, Count: count})
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].StepID < orphans[j].StepID })
	steps = append(steps, orphans...)

	return &JourneyStats{
		JourneyID:      journeyID,
		Name:           jny.Name,
		Enrolled:       enrolled,
		UniqueMessaged: messaged,
		Steps:          steps,
	}, nil
}

// Overview returns one summary row per journey, ordered by journey id.
func (r *Reporter) Overview(ctx context.Context) ([]Summary, error) {
	journeyIDs, err := r.Store.JourneyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats overview: %w", err)
	}

	totals, err := r.Store.TotalEnrolledByJourney(ctx, journeyIDs)
	if err != nil {
		return nil, fmt.Errorf("stats overview: %w", err)
	}

	summaries := make([]Summary, 0, len(journeyIDs))
	for _, id := range journeyIDs {
		jny, err := r.Cache.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("stats overview: %w", err)
		}
		summaries = append(summaries, Summary{JourneyID: id, Name: jny.Name, Enrolled: totals[id]})
	}
	return summaries, nil
}

// Customers returns a stable page of customer ids enrolled in the
// journey.
func (r *Reporter) Customers(ctx context.Context, journeyID string, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := r.Store.CustomerIDs(ctx, journeyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("journey customers: %w", err)
	}
	return ids, nil
}
