// Package telemetry holds tracing helpers shared across binaries.
package telemetry

import (
	"context"

	"github.com/smallbiznis/netmetering/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
)

// NewCorrelationSpanProcessor stamps every span with the request correlation id.
func NewCorrelationSpanProcessor() trace.SpanProcessor {
	return &correlationSpanProcessor{}
}

type correlationSpanProcessor struct{}

func (p *correlationSpanProcessor) OnStart(ctx context.Context, s trace.ReadWriteSpan) {
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		s.SetAttributes(attribute.String("correlation_id", cid))
	}
}

func (p *correlationSpanProcessor) OnEnd(trace.ReadOnlySpan) {}

func (p *correlationSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *correlationSpanProcessor) ForceFlush(context.Context) error { return nil }
