package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// correlationKey is an unexported type for context keys within this package.
type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// InjectTraceIntoHeaders writes correlation and tracing identifiers into message headers.
func InjectTraceIntoHeaders(ctx context.Context, headers map[string]interface{}) {
	if headers == nil {
		return
	}
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	headers["correlation_id"] = cid
	headers["published_at"] = time.Now().UTC().Format(time.RFC3339)

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		headers["trace_id"] = sc.TraceID().String()
		headers["span_id"] = sc.SpanID().String()
	}
}
