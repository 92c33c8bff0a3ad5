package sinks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

func TestLogSinkWritesStructuredEntries(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	evt := sample("A", status.PhasePublishing, status.StatusInProgress)
	pct := 40
	evt.Progress = &pct

	sink.OnConnect()
	sink.OnStatusUpdate(evt)
	sink.OnError(errors.New("reset by peer"))
	sink.OnDisconnect(channel.CloseAbnormal)
	sink.OnDisconnect(channel.CloseNormal)

	entries := logs.All()
	require.Len(t, entries, 5)
	require.Equal(t, "status channel connected", entries[0].Message)

	fields := entries[1].ContextMap()
	require.Equal(t, "A", fields["entity_id"])
	require.Equal(t, "publishing", fields["phase"])
	require.Equal(t, int64(40), fields["progress"])

	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, zapcore.WarnLevel, entries[3].Level)
	require.Equal(t, zapcore.InfoLevel, entries[4].Level)
}

func TestLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		NewLogSink(nil).OnConnect()
	})
}
