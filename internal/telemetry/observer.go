// Package telemetry records connection-manager signals into OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observer records tool invocations, liveness-probe failures and reconnect
// outcomes. A nil Observer is valid and records nothing.
type Observer struct {
	tracer trace.Tracer

	invocations   metric.Int64Counter
	reconnects    metric.Int64Counter
	probeFailures metric.Int64Counter
	latency       metric.Float64Histogram
}

// NewObserver creates an observer bound to the provided meter/tracer.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	invocations, err := meter.Int64Counter(
		"toolfactory.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	reconnects, err := meter.Int64Counter(
		"toolfactory.session.reconnects",
		metric.WithDescription("Number of session reconnect attempts"),
	)
	if err != nil {
		return nil, err
	}
	probeFailures, err := meter.Int64Counter(
		"toolfactory.session.probe.failures",
		metric.WithDescription("Number of failed session liveness probes"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"toolfactory.tool.latency",
		metric.WithDescription("Tool invocation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:        tracer,
		invocations:   invocations,
		reconnects:    reconnects,
		probeFailures: probeFailures,
		latency:       latency,
	}, nil
}

// ObserveInvocation opens a span for one tool invocation and returns the
// callback that records its outcome.
func (o *Observer) ObserveInvocation(ctx context.Context, server, toolName string) (context.Context, func(err error)) {
	if o == nil {
		return ctx, func(error) {}
	}

	attrs := []attribute.KeyValue{
		attribute.String("server", server),
		attribute.String("tool_name", toolName),
	}

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attrs...))
	}
	start := time.Now()

	return ctx, func(err error) {
		options := metric.WithAttributes(append(attrs, attribute.Bool("success", err == nil))...)
		o.invocations.Add(ctx, 1, options)
		o.latency.Record(ctx, time.Since(start).Seconds(), options)

		if span != nil {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
}

// RecordReconnect records one reconnect attempt and its outcome.
func (o *Observer) RecordReconnect(ctx context.Context, server string, success bool) {
	if o == nil {
		return
	}
	o.reconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("success", success),
	))
}

// RecordProbeFailure records one failed liveness probe.
func (o *Observer) RecordProbeFailure(ctx context.Context, server string) {
	if o == nil {
		return
	}
	o.probeFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
	))
}
