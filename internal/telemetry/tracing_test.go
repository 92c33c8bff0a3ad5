package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), ServiceName, recorder)
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	_, span := tp.Tracer("test").Start(context.Background(), "ws.dial")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "ws.dial", ended[0].Name())

	var service string
	for _, kv := range ended[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, ServiceName, service)
}

func TestNewSpanProcessorStdout(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	processor, err := NewSpanProcessor("stdout", &out)
	require.NoError(t, err)
	require.NotNil(t, processor)

	tp, err := InitTracerProvider(context.Background(), ServiceName, processor)
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "ws.dial")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	require.Contains(t, out.String(), `"Name": "ws.dial"`)
}

func TestNewSpanProcessorNoneAndUnknown(t *testing.T) {
	t.Parallel()

	processor, err := NewSpanProcessor("none", nil)
	require.NoError(t, err)
	require.Nil(t, processor)

	_, err = NewSpanProcessor("jaeger", nil)
	require.ErrorContains(t, err, "unknown trace exporter")
}
