package application

import (
	"context"
	"strings"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/cleanandflip/marketplace/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

const spanPrefix = "UC."

// Instrumentation wraps use case bodies with a span, RED metrics and a single
// use_case_done log line. Metric instruments are resolved once, at construction.
type Instrumentation struct {
	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewInstrumentation(tel observability.Observability, service string) Instrumentation {
	tel = observability.OrNop(tel)
	m := tel.Metrics()
	return Instrumentation{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
	}
}

// Logger returns the service logger with fixed fields prebound.
func (in Instrumentation) Logger() observability.Logger { return in.log }

// Run executes fn inside a span named after spanName. The context passed to fn carries
// the span and a logger bound to the use case.
func (in Instrumentation) Run(
	ctx context.Context,
	useCase, spanName string,
	attrs []attribute.KeyValue,
	fn func(ctx context.Context, span trace.Span) error,
) (err error) {
	ctx, logger := logctx.Enrich(ctx, in.log, observability.F("use_case", useCase))

	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+spanName, attrs...)
	start := time.Now()

	defer func() {
		lat := time.Since(start).Seconds()
		outcome, statusText := "success", "OK"
		if err != nil {
			outcome, statusText = "error", StatusText(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		in.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		in.durHistogram.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, span)
}

// StatusText turns err into the upper-case status used on spans and log lines.
func StatusText(err error) string {
	if err == nil {
		return "OK"
	}
	return strings.ToUpper(commerce.Code(err))
}
