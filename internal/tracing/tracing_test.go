package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEnd_RecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, ok := Start(context.Background(), "pairing.request", App("remote"))
	End(ok, nil)
	_, failed := Start(context.Background(), "content.get_playlists")
	End(failed, errors.New("timeout"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("first status = %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Errorf("second span missing error: %v", spans[1].Status())
	}
	found := false
	for _, a := range spans[0].Attributes() {
		if string(a.Key) == "ytmc.app_name" && a.Value.AsString() == "remote" {
			found = true
		}
	}
	if !found {
		t.Error("app attribute missing")
	}
}
