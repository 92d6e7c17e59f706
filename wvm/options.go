package wvm

import (
	"github.com/tetratelabs/wazero"

	"github.com/alphabill-org/linmem/memory"
)

type (
	Options struct {
		cfg      wazero.RuntimeConfig
		maxPages uint32
	}

	Option func(*Options)
)

func defaultOptions() *Options {
	return &Options{
		cfg:      wazero.NewRuntimeConfig().WithCloseOnContextDone(true),
		maxPages: memory.MaxPages,
	}
}

// WithRuntimeConfig sets the configuration of the wazero runtime.
func WithRuntimeConfig(cfg wazero.RuntimeConfig) Option {
	return func(o *Options) {
		o.cfg = cfg
	}
}

/*
WithMaxPages sets the ceiling of the memory for the modules which do not
declare the maximum size of their memory. Zero is ignored.
*/
func WithMaxPages(pages uint32) Option {
	return func(o *Options) {
		if pages > 0 {
			o.maxPages = min(pages, memory.MaxPages)
		}
	}
}
