package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/keyvaluedb/boltdb"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/memory/allocator"
)

const (
	flagNameAllocator    = "allocator"
	flagNameMemoryBudget = "memory-budget"
	flagNameJournalDB    = "journal-db"
)

// storeFlags configure the instance store shared by the commands.
type storeFlags struct {
	*baseConfiguration

	Allocator string
	// in pages, zero means no budget
	MemoryBudget uint32
	// journal DB file, relative to home dir; empty disables the journal
	JournalDB string
}

func (f *storeFlags) addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Allocator, flagNameAllocator, allocator.NameHeap, fmt.Sprintf("host allocator of the linear memories, one of: %s, %s, %s", allocator.NameHeap, allocator.NameMmap, allocator.NameOffheap))
	cmd.Flags().Uint32Var(&f.MemoryBudget, flagNameMemoryBudget, 0, "total number of pages all the memories may use, unlimited when 0")
	cmd.Flags().StringVar(&f.JournalDB, flagNameJournalDB, "", fmt.Sprintf("journal database file, relative to $LINMEM_HOME when not absolute (ie %s); journal is disabled when not set", defaultJournalFile))
}

/*
initStore creates instance store configured by the flags. The returned
function must be called to release the resources of the store.
*/
func (f *storeFlags) initStore() (*instance.Store, *journal.Journal, func() error, error) {
	alloc, err := allocator.ByName(f.Allocator, memory.PagesToBytes(f.MemoryBudget))
	if err != nil {
		return nil, nil, nil, err
	}
	opts := []instance.Option{
		instance.WithAllocator(alloc),
		instance.WithLogger(f.observe.Logger()),
		instance.WithMeter(f.observe.Meter("instance")),
	}

	closeFn := func() error { return nil }
	var j *journal.Journal
	if f.JournalDB != "" {
		db, err := openJournalDB(f.pathInHome(f.JournalDB))
		if err != nil {
			return nil, nil, nil, err
		}
		if j, err = journal.New(db); err != nil {
			return nil, nil, nil, errors.Join(fmt.Errorf("opening journal: %w", err), db.Close())
		}
		opts = append(opts, instance.WithJournal(j))
		closeFn = db.Close
	}

	store, err := instance.NewStore(opts...)
	if err != nil {
		return nil, nil, nil, errors.Join(fmt.Errorf("creating instance store: %w", err), closeFn())
	}
	return store, j, closeFn, nil
}

func openJournalDB(path string, opts ...boltdb.Option) (*boltdb.BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	return boltdb.New(path, append([]boltdb.Option{boltdb.WithBucket(journal.Bucket)}, opts...)...)
}
