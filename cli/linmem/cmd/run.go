package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/wvm"
)

type runFlags struct {
	storeFlags

	MaxPages uint32
	Calls    []string
}

// exported function call in the form "name:arg1,arg2"
type funcCall struct {
	name   string
	params []uint64
}

func newRunCmd(baseConfig *baseConfiguration) *cobra.Command {
	flags := &runFlags{storeFlags: storeFlags{baseConfiguration: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "run <module.wasm>",
		Short: "Instantiates WASM module and calls its exported functions",
		Long: `Instantiates WASM module with its linear memory managed by linmem and calls the
exported functions given with --call flags in order. Module may import functions
of the "host" module: memory_grow, ext_malloc, ext_free, log_msg and heap_stats.`,
		Example: "linmem run grow.wasm --call grow:1 --call size",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModule(cmd, flags, args[0])
		},
	}
	flags.addStoreFlags(cmd)
	cmd.Flags().Uint32Var(&flags.MaxPages, "max-pages", memory.MaxPages, "maximum size of the memory of the module which doesn't declare maximum")
	cmd.Flags().StringArrayVar(&flags.Calls, "call", nil, "exported function to call with its i32/i64 arguments, ie \"grow:1\", may be repeated")
	return cmd
}

func runModule(cmd *cobra.Command, flags *runFlags, wasmFile string) (rErr error) {
	calls, err := parseCalls(flags.Calls)
	if err != nil {
		return err
	}
	wasm, err := os.ReadFile(filepath.Clean(wasmFile))
	if err != nil {
		return fmt.Errorf("reading module binary: %w", err)
	}

	ctx := cmd.Context()
	store, _, closeStore, err := flags.initStore()
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeStore()) }()

	vm, err := wvm.New(ctx, store, flags.observe, wvm.WithMaxPages(flags.MaxPages))
	if err != nil {
		return fmt.Errorf("creating WASM VM: %w", err)
	}
	defer func() { rErr = errors.Join(rErr, vm.Close(ctx)) }()

	name := strings.TrimSuffix(filepath.Base(wasmFile), filepath.Ext(wasmFile))
	h, err := vm.Instantiate(ctx, name, wasm)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "module %q instantiated as %s\n", name, h)

	for _, c := range calls {
		res, err := vm.Call(ctx, name, c.name, c.params...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s%v = %v\n", c.name, c.params, res)
	}

	if inst, err := store.Instance(h); err == nil {
		fmt.Fprintf(out, "memory size: %d pages\n", inst.Pages())
	}
	return nil
}

func parseCalls(calls []string) ([]funcCall, error) {
	res := make([]funcCall, 0, len(calls))
	for _, s := range calls {
		name, args, _ := strings.Cut(s, ":")
		if name == "" {
			return nil, fmt.Errorf("invalid call %q: function name is empty", s)
		}
		fc := funcCall{name: name}
		if args != "" {
			for _, a := range strings.Split(args, ",") {
				v, err := strconv.ParseInt(strings.TrimSpace(a), 0, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid argument %q of the call %q: %w", a, s, err)
				}
				fc.params = append(fc.params, uint64(v))
			}
		}
		res = append(res, fc)
	}
	return res, nil
}
