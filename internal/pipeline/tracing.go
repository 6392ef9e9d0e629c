package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "oracle.pipeline"

	traceSpanRun   = "oracle.pipeline.run"
	traceSpanStage = "oracle.pipeline.stage"

	traceAttrRunID     = "oracle.run_id"
	traceAttrUserID    = "oracle.user_id"
	traceAttrQueryType = "oracle.query_type"
	traceAttrStage     = "oracle.stage"
	traceAttrStatus    = "oracle.status"
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, name, trace.WithAttributes(attrs...))
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, "success"))
}
