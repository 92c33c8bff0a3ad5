package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseValidEvent(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"entityId": "post-1",
		"scopeId": "biz-9",
		"phase": "publishing",
		"channel": "linkedin",
		"status": "in_progress",
		"message": "uploading media",
		"detail": {"attempt": 2},
		"timestamp": "2026-01-02T03:04:05Z",
		"progress": 40
	}`)

	evt, err := Parse(payload)
	require.NoError(t, err)
	require.Equal(t, "post-1", evt.EntityID)
	require.Equal(t, "biz-9", evt.ScopeID)
	require.Equal(t, PhasePublishing, evt.Phase)
	require.Equal(t, "linkedin", evt.Channel)
	require.Equal(t, StatusInProgress, evt.Status)
	require.Equal(t, "uploading media", evt.Message)
	require.JSONEq(t, `{"attempt": 2}`, string(evt.Detail))
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), evt.Timestamp.UTC())
	pct, ok := evt.Percent()
	require.True(t, ok)
	require.Equal(t, 40, pct)
}

func TestParseOptionalFieldsAbsent(t *testing.T) {
	t.Parallel()

	evt, err := Parse([]byte(`{"entityId":"a","phase":"validation","status":"started","message":"","timestamp":"2026-01-02T03:04:05Z","detail":null}`))
	require.NoError(t, err)
	require.Empty(t, evt.Channel)
	require.Nil(t, evt.Detail)
	_, ok := evt.Percent()
	require.False(t, ok)
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{{`},
		{name: "array", payload: `[1,2]`},
		{name: "missing entity", payload: `{"phase":"error","status":"error","message":"x","timestamp":"2026-01-02T03:04:05Z"}`},
		{name: "missing phase", payload: `{"entityId":"a","status":"error","message":"x","timestamp":"2026-01-02T03:04:05Z"}`},
		{name: "missing status", payload: `{"entityId":"a","phase":"error","message":"x","timestamp":"2026-01-02T03:04:05Z"}`},
		{name: "missing message", payload: `{"entityId":"a","phase":"error","status":"error","timestamp":"2026-01-02T03:04:05Z"}`},
		{name: "missing timestamp", payload: `{"entityId":"a","phase":"error","status":"error","message":"x"}`},
		{name: "bad timestamp", payload: `{"entityId":"a","phase":"error","status":"error","message":"x","timestamp":"yesterday"}`},
		{name: "unknown phase", payload: `{"entityId":"a","phase":"drafting","status":"error","message":"x","timestamp":"2026-01-02T03:04:05Z"}`},
		{name: "unknown status", payload: `{"entityId":"a","phase":"error","status":"meh","message":"x","timestamp":"2026-01-02T03:04:05Z"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.payload))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestParseNormalizesProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    int
		present bool
	}{
		{name: "fractional", raw: `50.0`, want: 50, present: true},
		{name: "rounded", raw: `33.6`, want: 34, present: true},
		{name: "above range", raw: `101`, want: 100, present: true},
		{name: "below range", raw: `-5`, want: 0, present: true},
		{name: "null", raw: `null`},
		{name: "string", raw: `"half"`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt, err := Parse([]byte(`{"entityId":"a","phase":"completed","status":"completed","message":"done",` +
				`"timestamp":"2026-01-02T03:04:05Z","progress":` + tt.raw + `}`))
			require.NoError(t, err)
			require.Equal(t, PhaseCompleted, evt.Phase)
			pct, ok := evt.Percent()
			require.Equal(t, tt.present, ok)
			require.Equal(t, tt.want, pct)
		})
	}
}

func TestValidateRejectsOutOfRangeProgress(t *testing.T) {
	t.Parallel()

	pct := 101
	evt := Event{EntityID: "a", Phase: PhasePublishing, Status: StatusInProgress, Timestamp: time.Now(), Progress: &pct}
	require.ErrorContains(t, evt.Validate(), "out of range")
}

func TestPhaseTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, PhaseCompleted.Terminal())
	require.True(t, PhaseError.Terminal())
	require.False(t, PhasePublishing.Terminal())
}
