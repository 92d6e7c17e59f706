package observability

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	testlogr "github.com/alphabill-org/linmem/internal/testutils/logger"
	"github.com/alphabill-org/linmem/observability"
)

/*
Observability for tests: logs are written using t.Log and metrics are
collected into manual reader so the test can inspect them.
*/
type Observability struct {
	*observability.Otel
	reader *sdkmetric.ManualReader
}

func Default(t testing.TB) *Observability {
	reader := sdkmetric.NewManualReader()
	obs := &Observability{
		Otel:   observability.NewWithReader(reader, testlogr.New(t)),
		reader: reader,
	}
	t.Cleanup(func() {
		if err := obs.Shutdown(); err != nil {
			t.Logf("shutting down observability: %v", err)
		}
	})
	return obs
}

// Collect returns metrics collected so far.
func (o *Observability) Collect(t testing.TB) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := o.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collecting metrics: %v", err)
	}
	return rm
}

/*
Int64Sum returns the sum of all data points of the int64 sum (counter) "name",
false when the metric hasn't been recorded.
*/
func (o *Observability) Int64Sum(t testing.TB, name string) (int64, bool) {
	t.Helper()
	rm := o.Collect(t)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is %T, not int64 sum", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}
