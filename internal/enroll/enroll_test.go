package enroll

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointhq/waypoint/internal/cache"
	"github.com/waypointhq/waypoint/internal/journey"
	"github.com/waypointhq/waypoint/internal/queue"
	"github.com/waypointhq/waypoint/internal/store"
	"github.com/waypointhq/waypoint/internal/testutil"
)

var enrollStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEnroller(t *testing.T) (*Enroller, *store.Store, *queue.Router) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "waypoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clk := testutil.NewClock(enrollStart)
	s.SetClock(clk.Now)

	r := queue.NewRouter()
	r.Register(journey.KindStart)

	e := &Enroller{
		Store:  s,
		Cache:  cache.New(s, time.Minute, nil),
		Router: r,
		Now:    clk.Now,
	}
	return e, s, r
}

func simpleJourney() *journey.Journey {
	return &journey.Journey{
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
}

func seedCustomers(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertCustomer(ctx, "cust_1", "ws_1", map[string]any{"plan": "pro"}))
	require.NoError(t, s.UpsertCustomer(ctx, "cust_2", "ws_1", map[string]any{"plan": "pro"}))
	require.NoError(t, s.UpsertCustomer(ctx, "cust_3", "ws_1", map[string]any{"plan": "free"}))
	require.NoError(t, s.UpsertCustomer(ctx, "cust_4", "ws_other", map[string]any{"plan": "pro"}))
}

const proPayload = `{
	"type": "all",
	"statements": [
		{"type": "Attribute", "key": "plan", "comparisonType": "is equal to", "valueType": "String", "value": "pro"}
	]
}`

func TestRun_EnrollsMatchingCustomers(t *testing.T) {
	e, s, r := newTestEnroller(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJourney(ctx, simpleJourney(), "ws_1"))
	seedCustomers(t, s)

	res, err := e.Run(ctx, "j_onboard", []byte(proPayload))
	require.NoError(t, err)

	// Only the workspace's pro customers: cust_4 matches the predicate
	// but belongs to another workspace.
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, int64(2), res.Enrolled)
	assert.Equal(t, 2, res.Dispatched)

	for _, id := range []string{"cust_1", "cust_2"} {
		loc, err := s.Find(ctx, "j_onboard", id)
		require.NoError(t, err)
		assert.Equal(t, "step_start", loc.StepID)
		assert.True(t, loc.Locked(enrollStart, s.LockTimeout))
	}
	_, err = s.Find(ctx, "j_onboard", "cust_3")
	assert.True(t, store.IsNotFound(err))

	q := r.Queue(journey.KindStart)
	require.NotNil(t, q)
	assert.Equal(t, 2, q.Len())

	job, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "step_start", job.StepID)
	assert.Equal(t, journey.KindStart, job.Kind)
	assert.Equal(t, 0, job.StepDepth)
	assert.NotEmpty(t, job.Session)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	e, s, _ := newTestEnroller(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJourney(ctx, simpleJourney(), "ws_1"))
	seedCustomers(t, s)

	_, err := e.Run(ctx, "j_onboard", []byte(proPayload))
	require.NoError(t, err)

	res, err := e.Run(ctx, "j_onboard", []byte(proPayload))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, int64(0), res.Enrolled, "existing enrollments must not be recreated")
}

func TestRun_SkipsCustomersAlreadyInFlight(t *testing.T) {
	e, s, r := newTestEnroller(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJourney(ctx, simpleJourney(), "ws_1"))
	seedCustomers(t, s)

	// cust_1 enrolled earlier and already parked past the start step.
	loc, err := s.CreateAndLock(ctx, "j_onboard", "cust_1", "step_start", "ws_1")
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, loc, "step_exit"))

	res, err := e.Run(ctx, "j_onboard", []byte(proPayload))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, int64(1), res.Enrolled)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, r.Queue(journey.KindStart).Len())

	// The in-flight customer's location is untouched.
	loc, err = s.Find(ctx, "j_onboard", "cust_1")
	require.NoError(t, err)
	assert.Equal(t, "step_exit", loc.StepID)
}

func TestRun_EmptyQueryEnrollsWholeWorkspace(t *testing.T) {
	e, s, _ := newTestEnroller(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJourney(ctx, simpleJourney(), "ws_1"))
	seedCustomers(t, s)

	res, err := e.Run(ctx, "j_onboard", []byte(`{"type": "all", "statements": []}`))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, int64(3), res.Enrolled)
}

func TestRun_InclusionCriteriaEnvelope(t *testing.T) {
	e, s, _ := newTestEnroller(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJourney(ctx, simpleJourney(), "ws_1"))
	seedCustomers(t, s)

	payload := `{"inclusionCriteria": {"query": ` + proPayload + `}}`
	res, err := e.Run(ctx, "j_onboard", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
}

func TestRun_UnknownJourney(t *testing.T) {
	e, _, _ := newTestEnroller(t)
	_, err := e.Run(context.Background(), "j_missing", []byte(proPayload))
	assert.Error(t, err)
}

func TestRun_JourneyWithoutStartStep(t *testing.T) {
	e, s, _ := newTestEnroller(t)
	ctx := context.Background()
	jny := &journey.Journey{
		ID:          "j_headless",
		WorkspaceID: "ws_1",
		Name:        "Headless",
		Steps: []journey.Step{
			{ID: "step_exit", JourneyID: "j_headless", WorkspaceID: "ws_1", Kind: journey.KindExit,
				Meta: journey.ExitMeta{}},
		},
	}
	require.NoError(t, s.SaveJourney(ctx, jny, "ws_1"))

	_, err := e.Run(ctx, "j_headless", []byte(proPayload))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start step")
}
