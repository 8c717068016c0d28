package middleware_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/workbenchio/conveyor/job"
	mw "github.com/workbenchio/conveyor/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	out := m(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "conveyor.job.execute" {
		t.Errorf("expected span name %q, got %q", "conveyor.job.execute", spans[0].Name())
	}
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	j := newTestJob()

	_ = m(context.Background(), j, func(_ context.Context) job.Outcome {
		return job.Succeeded(nil)
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := spans[0].Attributes()
	expected := map[string]interface{}{
		"conveyor.job.id":      j.ID.String(),
		"conveyor.job.type":    string(job.TypeEvaluation),
		"conveyor.tenant_id":   "tenant-a",
		"conveyor.retry_count": int64(2),
		"conveyor.trace_id":    "trace-123",
	}

	got := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsInterface()
	}
	for key, want := range expected {
		if got[key] != want {
			t.Errorf("attribute %s = %v, want %v", key, got[key], want)
		}
	}
}

func TestTracing_FailureSetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	_ = m(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		return job.PermanentFailure("DOCUMENT_CORRUPT", "unreadable archive")
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	status := spans[0].Status()
	if status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", status.Code)
	}
	if status.Description != "unreadable archive" {
		t.Errorf("status description = %q, want %q", status.Description, "unreadable archive")
	}

	var sawCode bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == attribute.Key("conveyor.error_code") && kv.Value.AsString() == "DOCUMENT_CORRUPT" {
			sawCode = true
		}
	}
	if !sawCode {
		t.Error("conveyor.error_code attribute missing")
	}
}
