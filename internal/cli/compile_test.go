package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePayload(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

const segmentPayload = `{
	"type": "all",
	"statements": [
		{"type": "Attribute", "key": "plan", "comparisonType": "is equal to", "valueType": "String", "value": "pro"}
	]
}`

func TestCompileCommand_Select(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	out, _, err := executeCommand(t, "compile", "--workspace", "ws_1", payload)
	require.NoError(t, err)

	assert.Contains(t, out, "SELECT id FROM (")
	assert.Contains(t, out, "workspace_id = 'ws_1'")
	assert.Contains(t, out, "$1 = pro")
}

func TestCompileCommand_JSONFormat(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	out, _, err := executeCommand(t, "--format", "json", "compile", "--workspace", "ws_1", payload)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data["sql"], "SELECT id FROM (")
	assert.Equal(t, []any{"pro"}, data["args"])
}

func TestCompileCommand_CountShape(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	out, _, err := executeCommand(t, "compile",
		"--workspace", "ws_1", "--shape", "count", "--customer", "cust_1", payload)
	require.NoError(t, err)

	assert.Contains(t, out, "SELECT COUNT(*)")
	assert.Contains(t, out, "matched.id = 'cust_1'")
}

func TestCompileCommand_InsertShape(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	out, _, err := executeCommand(t, "compile",
		"--workspace", "ws_1", "--shape", "insert", "--journey", "j_1", "--step", "step_start", payload)
	require.NoError(t, err)

	assert.Contains(t, out, "INSERT INTO journey_locations")
	assert.Contains(t, out, "ON CONFLICT (journey_id, customer_id) DO NOTHING")
}

func TestCompileCommand_InsertShapeMissingJourney(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	_, _, err := executeCommand(t, "compile",
		"--workspace", "ws_1", "--shape", "insert", payload)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCompileCommand_UnknownShape(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	_, _, err := executeCommand(t, "compile",
		"--workspace", "ws_1", "--shape", "upsert", payload)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileCommand_UnsupportedOperator(t *testing.T) {
	payload := writePayload(t, `{
		"type": "all",
		"statements": [
			{"type": "Event", "eventName": "purchase", "comparisonType": "has not performed", "value": "1"}
		]
	}`)

	_, _, err := executeCommand(t, "compile", "--workspace", "ws_1", payload)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCompileCommand_MissingPayloadFile(t *testing.T) {
	_, _, err := executeCommand(t, "compile", "--workspace", "ws_1",
		filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileCommand_SQLiteDialect(t *testing.T) {
	payload := writePayload(t, `{
		"type": "all",
		"statements": [
			{"type": "Attribute", "key": "seats", "comparisonType": "is greater than", "valueType": "Number", "value": "10"}
		]
	}`)

	out, _, err := executeCommand(t, "compile", "--workspace", "ws_1", "--dialect", "sqlite", payload)
	require.NoError(t, err)
	assert.Contains(t, out, "CAST(attributes->>'seats' AS NUMERIC) > ?")
}

func TestCompileCommand_UnknownDialect(t *testing.T) {
	payload := writePayload(t, segmentPayload)

	_, _, err := executeCommand(t, "compile", "--workspace", "ws_1", "--dialect", "oracle", payload)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
