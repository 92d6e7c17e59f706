package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/alphabill-org/linmem/logger"
)

type Observability interface {
	Meter(name string, opts ...metric.MeterOption) metric.Meter
	PrometheusRegisterer() prometheus.Registerer
	MetricsHandler() http.Handler
	Logger() *slog.Logger
	Shutdown() error
}

/*
New creates observability with metrics exported by "metrics" exporter, one of
"stdout" or "prometheus". When "metrics" is empty metrics are not collected.
*/
func New(metrics string, log *slog.Logger) (*Otel, error) {
	o := &Otel{mp: noop.NewMeterProvider(), log: log}
	if metrics == "" {
		return o, nil
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("linmem"),
		semconv.ServiceVersion("0.1.0"),
	)

	reader, err := o.newReader(metrics)
	if err != nil {
		return nil, fmt.Errorf("initializing metrics exporter: %w", err)
	}
	mp := newMeterProvider(res, reader)
	o.mp = mp
	o.shutdownFuncs = append(o.shutdownFuncs, mp.Shutdown)
	return o, nil
}

/*
NewWithReader creates observability which collects metrics into "reader",
meant to be used with sdkmetric.ManualReader in tests.
*/
func NewWithReader(reader sdkmetric.Reader, log *slog.Logger) *Otel {
	mp := newMeterProvider(resource.Default(), reader)
	return &Otel{mp: mp, log: log, shutdownFuncs: []func(context.Context) error{mp.Shutdown}}
}

// NOP creates observability implementation where everything is no-op.
func NOP() *Otel {
	return &Otel{mp: noop.NewMeterProvider(), log: logger.NOP()}
}

type Otel struct {
	mp  metric.MeterProvider
	pr  prometheus.Registerer
	log *slog.Logger

	shutdownFuncs []func(context.Context) error
}

func (o *Otel) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

func (o *Otel) Logger() *slog.Logger {
	return o.log
}

func (o *Otel) PrometheusRegisterer() prometheus.Registerer {
	return o.pr
}

// MetricsHandler returns handler serving Prometheus metrics, nil when Prometheus exporter is not used.
func (o *Otel) MetricsHandler() http.Handler {
	if o.pr == nil {
		return nil
	}
	return promhttp.HandlerFor(o.pr.(prometheus.Gatherer), promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

func (o *Otel) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, fn := range o.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown: %w", errors.Join(errs...))
	}
	return nil
}

func (o *Otel) newReader(exporter string) (sdkmetric.Reader, error) {
	switch exporter {
	case "stdout":
		me, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(me), nil
	case "prometheus":
		reg := prometheus.NewRegistry()
		reader, err := promexp.New(promexp.WithRegisterer(reg), promexp.WithNamespace("linmem"))
		if err != nil {
			return nil, fmt.Errorf("creating Prometheus exporter: %w", err)
		}
		o.pr = reg
		return reader, nil
	default:
		return nil, fmt.Errorf("unsupported exporter %q", exporter)
	}
}

func newMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	μs := time.Microsecond.Seconds()
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{
					Name:  "duration",
					Scope: instrumentation.Scope{Name: "rest_api"},
				},
				sdkmetric.Stream{
					Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
						Boundaries: []float64{100 * μs, 200 * μs, 400 * μs, 800 * μs, 0.0016, 0.01, 0.05, 0.1},
					},
				},
			),
		),
	)
}
