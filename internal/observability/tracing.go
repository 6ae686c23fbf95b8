package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies spans emitted by this module. The
// client emits through the otel API only; the embedding process
// installs a tracer provider if it wants export.
const instrumentationName = "github.com/spotsync/client"

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartStoreSpan starts a span for entity store operations
func StartStoreSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartSyncSpan starts a span for a reconciliation phase
func StartSyncSpan(ctx context.Context, phase, kind string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("sync.%s %s", phase, kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(SyncOp(phase), EntityKind(kind)),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
