package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/store"
)

// seedDatabase creates a SQLite database with a start->exit journey and
// three customers, two of them on the pro plan.
func seedDatabase(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "waypoint.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	jny := &journey.Journey{
		ID:          "j_onboard",
		WorkspaceID: "ws_1",
		Name:        "Onboarding",
		Steps: []journey.Step{
			{ID: "step_start", JourneyID: "j_onboard", WorkspaceID: "ws_1", Kind: journey.KindStart,
				Meta: journey.StartMeta{Destination: "step_exit"}},
			{ID: "step_exit", JourneyID: "j_onboard", WorkspaceID: "ws_1", Kind: journey.KindExit,
				Meta: journey.ExitMeta{}},
		},
	}
	require.NoError(t, s.SaveJourney(ctx, jny, "ws_1"))
	require.NoError(t, s.UpsertCustomer(ctx, "cust_1", "ws_1", map[string]any{"plan": "pro"}))
	require.NoError(t, s.UpsertCustomer(ctx, "cust_2", "ws_1", map[string]any{"plan": "pro"}))
	require.NoError(t, s.UpsertCustomer(ctx, "cust_3", "ws_1", map[string]any{"plan": "free"}))
	return path
}

func TestEnrollCommand(t *testing.T) {
	db := seedDatabase(t)
	payload := writePayload(t, `{
		"type": "all",
		"statements": [
			{"type": "Attribute", "key": "plan", "comparisonType": "is equal to", "valueType": "String", "value": "pro"}
		]
	}`)

	out, _, err := executeCommand(t, "enroll", "--db", db, "j_onboard", payload)
	require.NoError(t, err)
	assert.Contains(t, out, "journey j_onboard: matched 2, enrolled 2, dispatched 2")

	// Both customers were driven past the start step to the exit.
	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	for _, id := range []string{"cust_1", "cust_2"} {
		loc, err := s.Find(context.Background(), "j_onboard", id)
		require.NoError(t, err)
		assert.Equal(t, "step_exit", loc.StepID)
	}
}

func TestEnrollCommand_JSONFormat(t *testing.T) {
	db := seedDatabase(t)
	payload := writePayload(t, `{"type": "all", "statements": []}`)

	out, _, err := executeCommand(t, "--format", "json", "enroll", "--db", db, "j_onboard", payload)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["matched"])
	assert.Equal(t, float64(3), data["enrolled"])
}

func TestEnrollCommand_UnknownJourney(t *testing.T) {
	db := seedDatabase(t)
	payload := writePayload(t, `{"type": "all", "statements": []}`)

	_, _, err := executeCommand(t, "enroll", "--db", db, "j_missing", payload)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEnrollCommand_MissingPayload(t *testing.T) {
	db := seedDatabase(t)

	_, _, err := executeCommand(t, "enroll", "--db", db, "j_onboard", "/no/such/payload.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatsCommand_Overview(t *testing.T) {
	db := seedDatabase(t)
	payload := writePayload(t, `{"type": "all", "statements": []}`)
	_, _, err := executeCommand(t, "enroll", "--db", db, "j_onboard", payload)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "j_onboard (Onboarding): 3 enrolled")
}

func TestStatsCommand_Journey(t *testing.T) {
	db := seedDatabase(t)
	payload := writePayload(t, `{"type": "all", "statements": []}`)
	_, _, err := executeCommand(t, "enroll", "--db", db, "j_onboard", payload)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "stats", "--db", db, "j_onboard")
	require.NoError(t, err)
	assert.Contains(t, out, "enrolled: 3")
	assert.Contains(t, out, "step_exit")
}

func TestStatsCommand_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "fresh.db")

	out, _, err := executeCommand(t, "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "no journeys")
}
