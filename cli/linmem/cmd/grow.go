package cmd

import (
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/trap"
)

type growFlags struct {
	storeFlags

	Name   string
	Limits memory.Limits
	Deltas []uint
}

func newGrowCmd(baseConfig *baseConfiguration) *cobra.Command {
	flags := &growFlags{storeFlags: storeFlags{baseConfiguration: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "grow",
		Short: "Creates a module instance and grows its memory",
		Long: `Creates a module instance with memory of given limits and executes memory.grow
with each delta in order. For every attempt the result of the instruction is
printed: the previous size in pages or -1 when the memory couldn't grow.`,
		Example: "linmem grow --min 1 --max 4 --delta 1 --delta 5 --delta 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return growMemory(cmd, flags)
		},
	}
	flags.addStoreFlags(cmd)
	cmd.Flags().StringVar(&flags.Name, "name", "cli", "name of the module instance")
	cmd.Flags().Uint32Var(&flags.Limits.Min, "min", 0, "initial size of the memory in pages")
	cmd.Flags().Uint32Var(&flags.Limits.Max, "max", memory.MaxPages, "maximum size of the memory in pages")
	cmd.Flags().UintSliceVar(&flags.Deltas, "delta", nil, "number of pages to grow the memory by, may be repeated")
	return cmd
}

func growMemory(cmd *cobra.Command, flags *growFlags) (rErr error) {
	ctx := cmd.Context()
	store, _, closeStore, err := flags.initStore()
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeStore()) }()

	h, err := store.Instantiate(ctx, flags.Name, flags.Limits)
	if err != nil {
		return fmt.Errorf("instantiating %q: %w", flags.Name, err)
	}
	defer func() { rErr = errors.Join(rErr, store.Close(ctx, h)) }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "instance %s %q: %d pages, maximum %d\n", h, flags.Name, flags.Limits.Min, flags.Limits.Max)
	for _, d := range flags.Deltas {
		// deltas which do not fit into i32 can't succeed anyway
		prev, err := store.GrowMemory(ctx, h, uint32(min(d, math.MaxUint32)))
		switch code := trap.CodeOf(err); {
		case err == nil:
			fmt.Fprintf(out, "grow %d: %d\n", d, prev)
		case code != 0 && !code.IsRange():
			fmt.Fprintf(out, "grow %d: -1 (%s)\n", d, code)
		default:
			return fmt.Errorf("growing memory by %d pages: %w", d, err)
		}
	}

	inst, err := store.Instance(h)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "memory size: %d pages (%d bytes)\n", inst.Pages(), memory.PagesToBytes(inst.Pages()))
	return nil
}
