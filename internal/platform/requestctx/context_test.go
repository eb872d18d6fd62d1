package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger for bare context")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(context.Background(), logger)) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceAndIdempotencyRoundTrip(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def"})
	ctx = WithIdempotencyKey(ctx, "key-1")

	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if IdempotencyKey(ctx) != "key-1" {
		t.Fatalf("unexpected idempotency key %q", IdempotencyKey(ctx))
	}
	if IdempotencyKey(context.Background()) != "" {
		t.Fatalf("expected empty idempotency key on bare context")
	}
}
