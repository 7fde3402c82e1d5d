package observability

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngao-sh/ngao/internal/engine"
)

// InstrumentedExecutor wraps an engine.Executor with metrics, tracing, and
// anomaly detection. Every component may be nil; the wrapper degrades to a
// pass-through.
type InstrumentedExecutor struct {
	inner   engine.Executor
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedExecutor wraps an executor with observability.
func NewInstrumentedExecutor(inner engine.Executor, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedExecutor {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedExecutor{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, req engine.Request) *engine.Result {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.execute",
			trace.WithAttributes(
				attribute.Int("script.bytes", len(req.Script)),
				attribute.Int("script.params", len(req.Parameters)),
				attribute.String("request.correlation_id", req.CorrelationID),
			))
		defer span.End()
	}

	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	res := e.inner.Execute(ctx, req)

	status := string(res.Status)

	if e.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("execution.status", status))
		if res.ExitCode != nil {
			span.SetAttributes(attribute.Int("execution.exit_code", *res.ExitCode))
		}
		if res.Status != engine.StatusSuccess && res.Status != engine.StatusScriptError {
			span.SetStatus(codes.Error, res.Error)
		}
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(status).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(status).Observe(res.ElapsedSeconds)
		for _, f := range res.Findings {
			e.metrics.PolicyFindingsTotal.WithLabelValues(f.PatternID, string(f.Severity)).Inc()
		}
	}

	if e.anomaly != nil {
		// Script-authored failures are the caller's problem; the detector
		// watches for infrastructure trouble.
		switch res.Status {
		case engine.StatusTimeout:
			e.anomaly.RecordTimeout("execute")
		case engine.StatusLaunchFailure:
			e.anomaly.RecordError("execute")
		default:
			e.anomaly.RecordSuccess("execute")
		}
	}

	return res
}

// Compile-time interface check.
var _ engine.Executor = (*InstrumentedExecutor)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
