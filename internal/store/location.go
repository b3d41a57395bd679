package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/waypointhq/waypoint/internal/querysql"
)

// Location is one row of journey_locations: where a customer is in a
// journey, and whether a worker currently holds the transition lock.
type Location struct {
	JourneyID   string
	CustomerID  string
	StepID      string
	WorkspaceID string

	// MoveStarted is the lock: non-null epoch-ms means a worker claimed
	// this row. A value older than the lock timeout is abandoned and
	// re-acquirable.
	MoveStarted *int64

	StepEntry      int64 // epoch-ms of the last step transition
	JourneyEntry   int64 // epoch-ms of enrollment
	StepEntryAt    string
	JourneyEntryAt string

	MessageSent *bool
}

// Locked reports whether the row is locked as of now: move_started set
// and younger than timeout.
func (l *Location) Locked(now time.Time, timeout time.Duration) bool {
	if l.MoveStarted == nil {
		return false
	}
	return now.UnixMilli()-*l.MoveStarted < timeout.Milliseconds()
}

const locationColumns = "journey_id, customer_id, step_id, workspace_id, move_started, step_entry, journey_entry, step_entry_at, journey_entry_at, message_sent"

// CreateAndLock inserts a new location row at stepID with the lock held
// (move_started = now). Fails with AlreadyEnrolledError if a row exists
// for (journey, customer), regardless of its lock state.
func (s *Store) CreateAndLock(ctx context.Context, journeyID, customerID, stepID, workspaceID string) (*Location, error) {
	now := s.now().UTC()
	ms := now.UnixMilli()
	ts := now.Format(time.RFC3339)

	// ON CONFLICT DO NOTHING plus a rows-affected check turns the
	// primary-key collision into the typed error instead of a driver
	// constraint failure.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO journey_locations
		(journey_id, customer_id, step_id, workspace_id, move_started, step_entry, journey_entry, step_entry_at, journey_entry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(journey_id, customer_id) DO NOTHING
	`,
		journeyID, customerID, stepID, workspaceID, ms, ms, ms, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("create and lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create and lock: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, &AlreadyEnrolledError{JourneyID: journeyID, CustomerID: customerID}
	}

	return &Location{
		JourneyID:      journeyID,
		CustomerID:     customerID,
		StepID:         stepID,
		WorkspaceID:    workspaceID,
		MoveStarted:    &ms,
		StepEntry:      ms,
		JourneyEntry:   ms,
		StepEntryAt:    ts,
		JourneyEntryAt: ts,
	}, nil
}

// CreateAndLockBulk executes a compiled insert-shaped statement: one
// locked location row per matching customer, written set-based in the
// database with no per-row round trips. Customers already enrolled are
// skipped by the statement's ON CONFLICT clause. Returns the number of
// rows inserted.
func (s *Store) CreateAndLockBulk(ctx context.Context, stmt *querysql.Statement) (int64, error) {
	result, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, fmt.Errorf("create and lock bulk: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("create and lock bulk: rows affected: %w", err)
	}
	return inserted, nil
}

// Find returns the location row for (journey, customer), or a
// NotFoundError.
func (s *Store) Find(ctx context.Context, journeyID, customerID string) (*Location, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+locationColumns+`
		FROM journey_locations
		WHERE journey_id = ? AND customer_id = ?
	`, journeyID, customerID)
	return scanLocation(row, journeyID+"/"+customerID)
}

// FindForWrite is the point lookup used immediately before a lock or
// move, additionally scoped by workspace to keep a mis-routed job from
// touching another workspace's row.
func (s *Store) FindForWrite(ctx context.Context, journeyID, customerID, workspaceID string) (*Location, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+locationColumns+`
		FROM journey_locations
		WHERE journey_id = ? AND customer_id = ? AND workspace_id = ?
	`, journeyID, customerID, workspaceID)
	return scanLocation(row, journeyID+"/"+customerID)
}

// FindForWriteBulk returns the locations for the given customers in one
// journey, workspace-scoped like FindForWrite. Customers without a row
// are silently absent from the result.
func (s *Store) FindForWriteBulk(ctx context.Context, journeyID string, customerIDs []string, workspaceID string) ([]*Location, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(customerIDs)-1) + "?"
	args := make([]any, 0, len(customerIDs)+2)
	args = append(args, journeyID, workspaceID)
	for _, id := range customerIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+locationColumns+`
		FROM journey_locations
		WHERE journey_id = ? AND workspace_id = ?
		AND customer_id IN (`+placeholders+`)
		ORDER BY customer_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find locations bulk: %w", err)
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		loc, err := scanLocation(rows, "")
		if err != nil {
			return nil, fmt.Errorf("find locations bulk: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find locations bulk: %w", err)
	}
	return locations, nil
}

// Lock claims the location for the calling worker by setting
// move_started = now. Fails with CustomerStillMovingError if another
// worker's lock is still fresh.
//
// The claim is a single guarded UPDATE: the WHERE predicate re-checks
// the lock state at write time, so two workers racing on the same stale
// read cannot both succeed.
func (s *Store) Lock(ctx context.Context, loc *Location) error {
	now := s.now().UTC()
	ms := now.UnixMilli()
	cutoff := ms - s.LockTimeout.Milliseconds()

	result, err := s.db.ExecContext(ctx, `
		UPDATE journey_locations
		SET move_started = ?
		WHERE journey_id = ? AND customer_id = ?
		AND (move_started IS NULL OR move_started <= ?)
	`, ms, loc.JourneyID, loc.CustomerID, cutoff)
	if err != nil {
		return fmt.Errorf("lock location: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock location: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &CustomerStillMovingError{JourneyID: loc.JourneyID, CustomerID: loc.CustomerID}
	}

	loc.MoveStarted = &ms
	return nil
}

// Unlock clears the lock and records the step the customer parks at.
// Idempotent: unlocking an already-unlocked row is a no-op, not an
// error (a processor may legitimately race a timeout-based re-lock).
func (s *Store) Unlock(ctx context.Context, loc *Location, newStepID string) error {
	now := s.now().UTC()
	ms := now.UnixMilli()
	ts := now.Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		UPDATE journey_locations
		SET step_id = ?, move_started = NULL, step_entry = ?, step_entry_at = ?
		WHERE journey_id = ? AND customer_id = ?
		AND move_started IS NOT NULL
	`, newStepID, ms, ts, loc.JourneyID, loc.CustomerID)
	if err != nil {
		return fmt.Errorf("unlock location: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlock location: rows affected: %w", err)
	}
	if rowsAffected > 0 {
		loc.StepID = newStepID
		loc.MoveStarted = nil
		loc.StepEntry = ms
		loc.StepEntryAt = ts
	}
	return nil
}

// ReleaseLock clears the lock leaving everything else untouched: the
// customer parks at its current step with step_entry preserved, so a
// TIME_DELAY gate re-checked by a later scan still measures from the
// original entry. Idempotent like Unlock.
func (s *Store) ReleaseLock(ctx context.Context, loc *Location) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE journey_locations
		SET move_started = NULL
		WHERE journey_id = ? AND customer_id = ?
		AND move_started IS NOT NULL
	`, loc.JourneyID, loc.CustomerID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	loc.MoveStarted = nil
	return nil
}

// Move advances step_id from fromStepID to toStepID, guarded: if the
// row is no longer at fromStepID another worker already moved this
// customer, and the update is a no-op. Returns whether the row moved.
// The lock is left as-is; the processor chain manages it.
func (s *Store) Move(ctx context.Context, loc *Location, fromStepID, toStepID string) (bool, error) {
	now := s.now().UTC()
	ms := now.UnixMilli()
	ts := now.Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		UPDATE journey_locations
		SET step_id = ?, step_entry = ?, step_entry_at = ?
		WHERE journey_id = ? AND customer_id = ? AND step_id = ?
	`, toStepID, ms, ts, loc.JourneyID, loc.CustomerID, fromStepID)
	if err != nil {
		return false, fmt.Errorf("move location: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("move location: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	loc.StepID = toStepID
	loc.StepEntry = ms
	loc.StepEntryAt = ts
	return true, nil
}

// SetMessageSent marks the location's customer as having been messaged
// in this journey. Rate-limiting bookkeeping, not part of the lock
// contract.
func (s *Store) SetMessageSent(ctx context.Context, loc *Location) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE journey_locations
		SET message_sent = 1
		WHERE journey_id = ? AND customer_id = ?
	`, loc.JourneyID, loc.CustomerID)
	if err != nil {
		return fmt.Errorf("set message sent: %w", err)
	}
	sent := true
	loc.MessageSent = &sent
	return nil
}

// ParkedInTimedSteps returns the locations parked (unlocked) in the
// given time-gated steps of a journey, sharded across scanner workers:
// a location belongs to shard processorIndex iff
// hash(customer_id) % totalProcessors == processorIndex, so concurrent
// scanners never double-process a customer. totalProcessors <= 1
// disables sharding.
func (s *Store) ParkedInTimedSteps(ctx context.Context, journeyID string, stepIDs []string, processorIndex, totalProcessors int) ([]*Location, error) {
	if len(stepIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(stepIDs)-1) + "?"
	args := make([]any, 0, len(stepIDs)+1)
	args = append(args, journeyID)
	for _, id := range stepIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+locationColumns+`
		FROM journey_locations
		WHERE journey_id = ? AND move_started IS NULL
		AND step_id IN (`+placeholders+`)
		ORDER BY customer_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("parked in timed steps: %w", err)
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		loc, err := scanLocation(rows, "")
		if err != nil {
			return nil, fmt.Errorf("parked in timed steps: %w", err)
		}
		if totalProcessors > 1 && customerShard(loc.CustomerID, totalProcessors) != processorIndex {
			continue
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("parked in timed steps: %w", err)
	}
	return locations, nil
}

// customerShard assigns a customer to a scanner shard by FNV-1a hash.
// Deterministic across processes so every scanner agrees on ownership.
func customerShard(customerID string, totalProcessors int) int {
	h := fnv.New32a()
	h.Write([]byte(customerID))
	return int(h.Sum32() % uint32(totalProcessors))
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner, key string) (*Location, error) {
	var loc Location
	var moveStarted sql.NullInt64
	var messageSent sql.NullBool

	err := row.Scan(
		&loc.JourneyID, &loc.CustomerID, &loc.StepID, &loc.WorkspaceID,
		&moveStarted, &loc.StepEntry, &loc.JourneyEntry,
		&loc.StepEntryAt, &loc.JourneyEntryAt, &messageSent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "location", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}

	if moveStarted.Valid {
		loc.MoveStarted = &moveStarted.Int64
	}
	if messageSent.Valid {
		loc.MessageSent = &messageSent.Bool
	}
	return &loc, nil
}
