package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	dir := writeJourneyDir(t, map[string]string{"welcome.cue": welcomeCUE})

	out, _, err := executeCommand(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 journey(s) valid")
	assert.Contains(t, out, "j_welcome (Welcome): 4 step(s), workspace ws_1")
}

func TestValidateCommand_JSONFormat(t *testing.T) {
	dir := writeJourneyDir(t, map[string]string{"welcome.cue": welcomeCUE})

	out, _, err := executeCommand(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateCommand_InvalidJourney(t *testing.T) {
	bad := `package journeys

journey: j_bad: {
	workspace_id: "ws_1"
	name:         "Bad"
	steps: [
		{id: "step_start", kind: "START", metadata: {destination: "nowhere"}},
	]
}
`
	dir := writeJourneyDir(t, map[string]string{"bad.cue": bad})

	out, _, err := executeCommand(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "nowhere")
}

func TestValidateCommand_MissingDirectory(t *testing.T) {
	_, _, err := executeCommand(t, "validate", "/definitely/not/a/dir")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
