package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/waypointhq/waypoint/internal/journey"
)

// SaveJourney upserts a journey definition. The step graph is stored as
// the definition JSON; steps are read back through GetJourney and the
// read-through cache, never queried individually.
func (s *Store) SaveJourney(ctx context.Context, j *journey.Journey, workspaceID string) error {
	definition, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("save journey: marshal definition: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journeys (id, workspace_id, name, definition)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			name = excluded.name,
			definition = excluded.definition
	`, j.ID, workspaceID, j.Name, string(definition))
	if err != nil {
		return fmt.Errorf("save journey: %w", err)
	}
	return nil
}

// GetJourney loads a journey definition by id.
func (s *Store) GetJourney(ctx context.Context, id string) (*journey.Journey, error) {
	var definition string
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM journeys WHERE id = ?
	`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "journey", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get journey: %w", err)
	}

	var j journey.Journey
	if err := json.Unmarshal([]byte(definition), &j); err != nil {
		return nil, fmt.Errorf("get journey %s: decode definition: %w", id, err)
	}
	return &j, nil
}

// JourneyIDs returns every stored journey id, sorted. Drives the
// time-based re-trigger scanner.
func (s *Store) JourneyIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM journeys ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("journey ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("journey ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journey ids: %w", err)
	}
	return ids, nil
}

// UpsertCustomer writes a customer row with its JSON attributes.
// Attributes replace wholesale; nil means an empty object.
func (s *Store) UpsertCustomer(ctx context.Context, id, workspaceID string, attributes map[string]any) error {
	if attributes == nil {
		attributes = map[string]any{}
	}
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("upsert customer: marshal attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (id, workspace_id, attributes)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			attributes = excluded.attributes
	`, id, workspaceID, string(attrs))
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

// RecordEvent appends one event row. Events are append-only; the query
// backend aggregates them per customer for "has performed" predicates.
func (s *Store) RecordEvent(ctx context.Context, workspaceID, customerID, name string, payload map[string]any, occurredAt time.Time) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("record event: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (workspace_id, customer_id, name, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, workspaceID, customerID, name, string(body), occurredAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
