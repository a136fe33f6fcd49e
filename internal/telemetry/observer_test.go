package telemetry

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestObserverRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	observer, err := NewObserver(provider.Meter("test"), nil)
	if err != nil {
		t.Fatalf("NewObserver() error: %v", err)
	}

	ctx := context.Background()
	_, finish := observer.ObserveInvocation(ctx, "files", "files-read")
	finish(nil)
	_, finish = observer.ObserveInvocation(ctx, "files", "files-read")
	finish(errors.New("boom"))
	observer.RecordProbeFailure(ctx, "files")
	observer.RecordReconnect(ctx, "files", true)

	names := collectMetricNames(t, reader)
	for _, want := range []string{
		"toolfactory.tool.invocations",
		"toolfactory.tool.latency",
		"toolfactory.session.probe.failures",
		"toolfactory.session.reconnects",
	} {
		if !names[want] {
			t.Errorf("expected metric %s to be recorded, got %v", want, names)
		}
	}
}

func TestNilObserverIsSafe(t *testing.T) {
	var observer *Observer

	ctx, finish := observer.ObserveInvocation(context.Background(), "files", "files-read")
	if ctx == nil {
		t.Fatal("expected the original context back")
	}
	finish(nil)
	observer.RecordProbeFailure(context.Background(), "files")
	observer.RecordReconnect(context.Background(), "files", false)
}
