package internaltelemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestEngineMetrics_RecordsAbortReasons(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAbort(ctx, "VIEW_CONSISTENCY_FAIL")
	m.RecordAbort(ctx, "VIEW_CONSISTENCY_FAIL")
	m.RecordAbort(ctx, "PTC_RESPONSE_NO")
	m.RecordCommitDuration(ctx, "2pc", 3*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "policytxn.txn.aborted_total" {
				continue
			}
			found = true
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			total := int64(0)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			require.Equal(t, int64(3), total)
			require.Len(t, sum.DataPoints, 2)
		}
	}
	require.True(t, found)
}
