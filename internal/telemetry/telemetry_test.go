package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledKeepsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := Start(context.Background(), "test", "noop")
	require.False(t, span.IsRecording())
	span.End()
}

func TestInitEnabledRecordsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Init(context.Background(), Config{Enabled: true, ServiceName: "regdocs-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := Start(context.Background(), "test", "crawl")
	require.True(t, span.IsRecording())
	span.End()
}

func TestEndRecordsErrors(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, failed := Start(context.Background(), "test", "process_document", attribute.Int64("document_id", 7))
	End(failed, errors.New("no text layer"))
	_, canceled := Start(context.Background(), "test", "crawl")
	End(canceled, context.Canceled)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "no text layer", spans[0].Status().Description)
	require.Contains(t, spans[0].Attributes(), attribute.Int64("document_id", 7))
	require.Equal(t, codes.Unset, spans[1].Status().Code)
}
