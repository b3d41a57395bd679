package journey

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMeta_Start(t *testing.T) {
	m, err := DecodeMeta(KindStart, json.RawMessage(`{"destination":"step-2"}`))
	require.NoError(t, err)

	start, ok := m.(StartMeta)
	require.True(t, ok, "want StartMeta, got %T", m)
	assert.Equal(t, "step-2", start.Destination)
}

func TestDecodeMeta_Message(t *testing.T) {
	raw := json.RawMessage(`{
		"template": "tpl-1",
		"template_kind": "EMAIL",
		"destination": "step-3",
		"quiet_hours": {"start": "22:00", "end": "08:00", "policy": "QUIET_REQUEUE"},
		"send_limit": {"per_minute": 100, "policy": "LIMIT_HOLD"}
	}`)

	m, err := DecodeMeta(KindMessage, raw)
	require.NoError(t, err)

	msg, ok := m.(MessageMeta)
	require.True(t, ok)
	assert.Equal(t, "tpl-1", msg.Template)
	assert.Equal(t, TemplateEmail, msg.TemplateKind)
	require.NotNil(t, msg.QuietHours)
	assert.Equal(t, QuietRequeue, msg.QuietHours.Policy)
	require.NotNil(t, msg.SendLimit)
	assert.Equal(t, 100, msg.SendLimit.PerMinute)
	assert.Equal(t, LimitHold, msg.SendLimit.Policy)
}

func TestDecodeMeta_TimeDelay(t *testing.T) {
	m, err := DecodeMeta(KindTimeDelay, json.RawMessage(`{"delay":"PT1H","destination":"exit"}`))
	require.NoError(t, err)

	delay, ok := m.(TimeDelayMeta)
	require.True(t, ok)
	assert.Equal(t, time.Hour, delay.Delay.Std())
	assert.Equal(t, "exit", delay.Destination)
}

func TestDecodeMeta_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeMeta(KindTimeDelay, json.RawMessage(`{"delay":"PT1H","dest":"typo"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dest")
}

func TestDecodeMeta_UnknownKind(t *testing.T) {
	_, err := DecodeMeta(Kind("NOPE"), json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestDecodeMeta_ReservedKindKeepsRaw(t *testing.T) {
	raw := json.RawMessage(`{"anything":"goes"}`)
	m, err := DecodeMeta(KindABTest, raw)
	require.NoError(t, err)

	reserved, ok := m.(ReservedMeta)
	require.True(t, ok)
	assert.JSONEq(t, `{"anything":"goes"}`, string(reserved.Raw))
}

func TestStep_JSONRoundTrip(t *testing.T) {
	in := `{
		"id": "s1",
		"journey_id": "j1",
		"workspace_id": "ws1",
		"kind": "LOOP",
		"metadata": {"destination": "s0"}
	}`

	var s Step
	require.NoError(t, json.Unmarshal([]byte(in), &s))
	assert.Equal(t, KindLoop, s.Kind)
	assert.Equal(t, LoopMeta{Destination: "s0"}, s.Meta)

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var back Step
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, s, back)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT1H", time.Hour},
		{"PT30M", 30 * time.Minute},
		{"PT90S", 90 * time.Second},
		{"P1D", 24 * time.Hour},
		{"P1DT12H30M", 36*time.Hour + 30*time.Minute},
		{"PT1H30M", 90 * time.Minute},
	}
	for _, tc := range cases {
		d, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, d.Std(), tc.in)
		assert.Equal(t, tc.in, d.String())
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "1H", "P", "PT", "P1Y", "P1M", "PT1X", "PT1M1H"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestWindow_WeeklyContains(t *testing.T) {
	w := Window{Weekly: &WeeklyWindow{
		Days:  []time.Weekday{time.Monday, time.Wednesday},
		Start: "09:00",
		End:   "17:00",
	}}
	require.NoError(t, w.Validate())

	// 2024-01-01 is a Monday.
	monday10 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, w.Contains(monday10))

	monday18 := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)
	assert.False(t, w.Contains(monday18))

	tuesday10 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	assert.False(t, w.Contains(tuesday10))
}

func TestWindow_WrapsMidnight(t *testing.T) {
	w := Window{Weekly: &WeeklyWindow{
		Days:  []time.Weekday{time.Monday},
		Start: "22:00",
		End:   "06:00",
	}}

	monday23 := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	assert.True(t, w.Contains(monday23))

	// Tuesday 05:00 belongs to Monday's wrapped window.
	tuesday5 := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	assert.True(t, w.Contains(tuesday5))

	tuesday23 := time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)
	assert.False(t, w.Contains(tuesday23))
}

func TestWindow_Absolute(t *testing.T) {
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	w := Window{Absolute: &AbsoluteWindow{From: from, To: to}}
	require.NoError(t, w.Validate())

	assert.False(t, w.Contains(from.Add(-time.Second)))
	assert.True(t, w.Contains(from))
	assert.True(t, w.Contains(to.Add(-time.Second)))
	assert.False(t, w.Contains(to))

	next, ok := w.NextOpen(from.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, from, next)

	_, ok = w.NextOpen(to.Add(time.Hour))
	assert.False(t, ok, "past absolute window never reopens")
}

func TestWindow_ValidateMutualExclusion(t *testing.T) {
	assert.Error(t, Window{}.Validate())

	both := Window{
		Weekly:   &WeeklyWindow{Days: []time.Weekday{time.Monday}, Start: "09:00", End: "17:00"},
		Absolute: &AbsoluteWindow{From: time.Now(), To: time.Now().Add(time.Hour)},
	}
	assert.Error(t, both.Validate())
}

func TestWindow_NextOpenWeekly(t *testing.T) {
	w := Window{Weekly: &WeeklyWindow{
		Days:  []time.Weekday{time.Wednesday},
		Start: "09:00",
		End:   "10:00",
	}}

	// Monday 2024-01-01 → next Wednesday 09:00.
	monday := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	next, ok := w.NextOpen(monday)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), next)
}
