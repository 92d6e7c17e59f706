package instance

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/alphabill-org/linmem/observability"
)

type metrics struct {
	growCnt   metric.Int64Counter
	growPages metric.Int64Histogram
	memBytes  metric.Int64UpDownCounter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var err error
	mtr := &metrics{}
	mtr.growCnt, err = m.Int64Counter("grow.count",
		metric.WithDescription("Number of memory growth attempts"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("creating growth counter: %w", err)
	}
	mtr.growPages, err = m.Int64Histogram("grow.pages",
		metric.WithDescription("Number of pages requested by the growth"),
		metric.WithUnit("{page}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 4, 16, 64, 256, 1024, 16384, 65536))
	if err != nil {
		return nil, fmt.Errorf("creating growth pages histogram: %w", err)
	}
	mtr.memBytes, err = m.Int64UpDownCounter("memory.bytes",
		metric.WithDescription("Bytes of linear memory allocated for the instances"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("creating memory size counter: %w", err)
	}
	return mtr, nil
}

func (m *metrics) growth(ctx context.Context, delta uint32, added uint64, err error) {
	attr := metric.WithAttributeSet(attribute.NewSet(observability.ErrStatus(err), observability.TrapCode(err)))
	m.growCnt.Add(ctx, 1, attr)
	m.growPages.Record(ctx, int64(delta), attr)
	if added > 0 {
		m.memBytes.Add(ctx, int64(added))
	}
}

func (m *metrics) released(ctx context.Context, n uint64) {
	if n > 0 {
		m.memBytes.Add(ctx, -int64(n))
	}
}
