package instance

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/alphabill-org/linmem/buffer"
	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/memory/allocator"
)

type (
	Options struct {
		alloc    memory.Allocator
		registry *buffer.Registry
		log      *slog.Logger
		meter    metric.Meter
		journal  *journal.Journal
	}

	Option func(*Options)
)

func defaultOptions() Options {
	return Options{
		alloc:    allocator.NewHeap(),
		registry: buffer.NewRegistry(),
		log:      logger.NOP(),
		meter:    noop.NewMeterProvider().Meter(""),
	}
}

// WithAllocator sets the host allocator backing the memory regions.
func WithAllocator(alloc memory.Allocator) Option {
	return func(o *Options) {
		if alloc != nil {
			o.alloc = alloc
		}
	}
}

// WithRegistry sets the registry of the externally visible memory views.
func WithRegistry(reg *buffer.Registry) Option {
	return func(o *Options) {
		if reg != nil {
			o.registry = reg
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(o *Options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithJournal enables recording of every growth attempt into the journal.
func WithJournal(j *journal.Journal) Option {
	return func(o *Options) {
		o.journal = j
	}
}
