package journey

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJourney() *Journey {
	return &Journey{
		ID:          "j1",
		WorkspaceID: "ws1",
		Name:        "welcome",
		Steps: []Step{
			{ID: "start", JourneyID: "j1", WorkspaceID: "ws1", Kind: KindStart, Meta: StartMeta{Destination: "msg"}},
			{ID: "msg", JourneyID: "j1", WorkspaceID: "ws1", Kind: KindMessage, Meta: MessageMeta{Template: "t1", TemplateKind: TemplateEmail, Destination: "exit"}},
			{ID: "exit", JourneyID: "j1", WorkspaceID: "ws1", Kind: KindExit, Meta: ExitMeta{}},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, Validate(testJourney()))
}

func TestValidate_DanglingDestination(t *testing.T) {
	j := testJourney()
	j.Steps[0].Meta = StartMeta{Destination: "nowhere"}

	err := Validate(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestValidate_DuplicateStepID(t *testing.T) {
	j := testJourney()
	j.Steps = append(j.Steps, Step{ID: "msg", Kind: KindExit, Meta: ExitMeta{}})

	err := Validate(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_ExactlyOneStart(t *testing.T) {
	j := testJourney()
	j.Steps[0].Kind = KindExit
	j.Steps[0].Meta = ExitMeta{}
	assert.Error(t, Validate(j), "no start step")

	j = testJourney()
	j.Steps = append(j.Steps, Step{ID: "start2", Kind: KindStart, Meta: StartMeta{Destination: "exit"}})
	assert.Error(t, Validate(j), "two start steps")
}

func TestValidate_ExperimentRatios(t *testing.T) {
	j := testJourney()
	j.Steps[1] = Step{ID: "msg", Kind: KindExperiment, Meta: ExperimentMeta{
		Branches: []RatioBranch{
			{Index: 0, Ratio: 0.6, Destination: "exit"},
			{Index: 1, Ratio: 0.6, Destination: "exit"},
		},
	}}

	err := Validate(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum")
}

func TestValidate_WaitUntilTimeBranch(t *testing.T) {
	delay, err := ParseDuration("PT1H")
	require.NoError(t, err)

	j := testJourney()
	j.Steps[1] = Step{ID: "msg", Kind: KindWaitUntil, Meta: WaitUntilMeta{
		Branches:   []EventBranch{{Index: 0, Event: "purchase", Destination: "exit"}},
		TimeBranch: &TimeBranch{Delay: &delay, Destination: "exit"},
	}}
	require.NoError(t, Validate(j))

	// Neither delay nor window on the time branch is rejected.
	j.Steps[1].Meta = WaitUntilMeta{
		Branches:   []EventBranch{{Index: 0, Event: "purchase", Destination: "exit"}},
		TimeBranch: &TimeBranch{Destination: "exit"},
	}
	assert.Error(t, Validate(j))
}

func TestValidate_MultisplitQuery(t *testing.T) {
	j := testJourney()
	j.Steps[1] = Step{ID: "msg", Kind: KindMultisplit, Meta: MultisplitMeta{
		Branches: []QueryBranch{
			{Index: 0, Query: json.RawMessage(`{"type":"all","statements":[]}`), Destination: "exit"},
		},
		AllOthers: "exit",
	}}
	require.NoError(t, Validate(j))

	j.Steps[1].Meta = MultisplitMeta{
		Branches:  []QueryBranch{{Index: 0, Query: json.RawMessage(`{not json`), Destination: "exit"}},
		AllOthers: "exit",
	}
	assert.Error(t, Validate(j))
}

func TestJourney_Lookups(t *testing.T) {
	j := testJourney()

	require.NotNil(t, j.StartStep())
	assert.Equal(t, "start", j.StartStep().ID)

	assert.Nil(t, j.StepByID("missing"))
	require.NotNil(t, j.StepByID("msg"))
	assert.Equal(t, KindMessage, j.StepByID("msg").Kind)
}

func TestKind_TimeGated(t *testing.T) {
	assert.True(t, KindTimeDelay.TimeGated())
	assert.True(t, KindTimeWindow.TimeGated())
	assert.True(t, KindWaitUntil.TimeGated())
	assert.False(t, KindMessage.TimeGated())
	assert.False(t, KindExit.TimeGated())
}
