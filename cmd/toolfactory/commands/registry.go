package commands

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/simple-efficient/toolfactory/internal/config"
	"github.com/simple-efficient/toolfactory/internal/mcp"
	"github.com/simple-efficient/toolfactory/internal/telemetry"
)

const instrumentationName = "github.com/simple-efficient/toolfactory"

// newRegistry builds the connection registry every command runs against,
// instrumented through the process-wide OpenTelemetry providers.
func newRegistry(cfg *config.Config) *mcp.Registry {
	opts := []mcp.Option{
		mcp.WithShutdownGrace(time.Duration(cfg.MCP.ShutdownGrace) * time.Second),
	}

	observer, err := telemetry.NewObserver(
		otel.GetMeterProvider().Meter(instrumentationName),
		otel.Tracer(instrumentationName),
	)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	} else {
		opts = append(opts, mcp.WithObserver(observer))
	}

	return mcp.NewRegistry(opts...)
}
