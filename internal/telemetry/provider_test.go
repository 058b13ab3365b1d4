package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/Rzhvms/CurrencyParser/internal/config"
)

func TestInitProvider_Disabled(t *testing.T) {
	p, err := InitProvider(context.Background(), config.TelemetryConfig{ServiceName: "currency-parser-test"}, "test")
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LogHandler)
	assert.NoError(t, p.Shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}

func TestInitProvider_UnreachableCollector(t *testing.T) {
	// The gRPC dial is non-blocking, so setup succeeds with the collector down.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.TelemetryConfig{
		OTLPEndpoint: "localhost:19999",
		OTLPInsecure: true,
		ServiceName:  "currency-parser-test",
	}
	p, err := InitProvider(ctx, cfg, "test")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled())
	assert.NotNil(t, p.LogHandler)
	assert.True(t, p.LogHandler.Enabled(ctx, slog.LevelInfo))

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()
	assert.NoError(t, p.Shutdown(shutCtx))
}
