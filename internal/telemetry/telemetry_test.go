package telemetry_test

import (
	"context"
	"testing"

	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var data metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &data))

	sums := make(map[string]int64)

	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, point := range sum.DataPoints {
				sums[m.Name] += point.Value
			}
		}
	}

	return sums
}

func TestInstruments_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	inst, err := telemetry.NewInstruments(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordRequest(ctx, telemetry.OutcomeDone)
	inst.RecordCacheLookup(ctx, telemetry.ResultHit)
	inst.RecordCacheLookup(ctx, telemetry.ResultMiss)
	inst.RecordEvicted(ctx, 3)
	inst.RecordEvicted(ctx, 0)
	inst.RecordFetchAttempt(ctx, telemetry.ResultFailure)
	inst.RecordDecodedBytes(ctx, 4096)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(1), sums["tts.requests"])
	assert.Equal(t, int64(2), sums["tts.cache.lookups"])
	assert.Equal(t, int64(3), sums["tts.cache.evicted"])
	assert.Equal(t, int64(1), sums["tts.fetch.attempts"])
	assert.Equal(t, int64(4096), sums["tts.decode.bytes"])
}

func TestNoop_DoesNotPanic(t *testing.T) {
	t.Parallel()

	inst := telemetry.Noop()
	require.NotNil(t, inst)

	inst.RecordRequest(context.Background(), telemetry.OutcomeFailed)
	inst.RecordDecodedBytes(context.Background(), 10)
}
