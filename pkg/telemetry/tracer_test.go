package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel-collector:4317", StripScheme("http://otel-collector:4317"))
	assert.Equal(t, "otel-collector:4317", StripScheme("https://otel-collector:4317"))
	assert.Equal(t, "localhost:4317", StripScheme("localhost:4317"))
}

func TestSetupTracer_LazyConnection(t *testing.T) {
	// grpc.NewClient does not dial until the first export, so setup succeeds
	// without a collector.
	shutdown, err := SetupTracer(context.Background(), "test", "localhost:4317")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
