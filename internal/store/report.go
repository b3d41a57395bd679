package store

import (
	"context"
	"fmt"
	"strings"
)

// Read-side aggregates over journey_locations. None of these hold or
// honor locks; they are reporting queries off the hot path.

// EnrolledCount returns the number of customers with a location row in
// the journey, whatever step they are at.
func (s *Store) EnrolledCount(ctx context.Context, journeyID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM journey_locations WHERE journey_id = ?
	`, journeyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("enrolled count: %w", err)
	}
	return count, nil
}

// UniqueCustomersMessaged returns how many distinct customers have been
// sent at least one message in the journey. Backs the per-journey
// unique-customers-messaged limit.
func (s *Store) UniqueCustomersMessaged(ctx context.Context, journeyID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM journey_locations
		WHERE journey_id = ? AND message_sent = 1
	`, journeyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unique customers messaged: %w", err)
	}
	return count, nil
}

// TotalEnrolledByJourney returns enrollment counts for a set of
// journeys in one query, keyed by journey id. Journeys with no
// enrollments are absent from the map.
func (s *Store) TotalEnrolledByJourney(ctx context.Context, journeyIDs []string) (map[string]int64, error) {
	if len(journeyIDs) == 0 {
		return map[string]int64{}, nil
	}

	placeholders := strings.Repeat("?, ", len(journeyIDs)-1) + "?"
	args := make([]any, len(journeyIDs))
	for i, id := range journeyIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT journey_id, COUNT(*)
		FROM journey_locations
		WHERE journey_id IN (`+placeholders+`)
		GROUP BY journey_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("total enrolled by journey: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64, len(journeyIDs))
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("total enrolled by journey: %w", err)
		}
		totals[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("total enrolled by journey: %w", err)
	}
	return totals, nil
}

// CustomerIDs returns a stable page of customer ids enrolled in the
// journey, ordered by id.
func (s *Store) CustomerIDs(ctx context.Context, journeyID string, limit, offset int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id FROM journey_locations
		WHERE journey_id = ?
		ORDER BY customer_id ASC
		LIMIT ? OFFSET ?
	`, journeyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("customer ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("customer ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("customer ids: %w", err)
	}
	return ids, nil
}

// StepCounts returns how many customers currently sit at each step of
// the journey. Feeds the per-step funnel view.
func (s *Store) StepCounts(ctx context.Context, journeyID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, COUNT(*)
		FROM journey_locations
		WHERE journey_id = ?
		GROUP BY step_id
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("step counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var stepID string
		var count int64
		if err := rows.Scan(&stepID, &count); err != nil {
			return nil, fmt.Errorf("step counts: %w", err)
		}
		counts[stepID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("step counts: %w", err)
	}
	return counts, nil
}
