package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/keyvaluedb/boltdb"
)

type journalFlags struct {
	*baseConfiguration

	JournalDB string
	Instance  string
	Run       uint64
	JSON      bool
}

func newJournalCmd(baseConfig *baseConfiguration) *cobra.Command {
	flags := &journalFlags{baseConfiguration: baseConfig}
	var cmd = &cobra.Command{
		Use:   "journal",
		Short: "Lists recorded memory growth events",
		Long: `Lists recorded memory growth events. Every process recording into the journal
starts a new run, instance handles are only unique within a run so events of
an instance are listed for single run, the last one unless --run is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJournal(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.JournalDB, flagNameJournalDB, defaultJournalFile, "journal database file, relative to $LINMEM_HOME when not absolute")
	cmd.Flags().StringVar(&flags.Instance, "instance", "", "list only events of the instance (index.generation)")
	cmd.Flags().Uint64Var(&flags.Run, "run", 0, "run of the instance events, the last run when 0")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "output events as JSON")
	return cmd
}

func listJournal(cmd *cobra.Command, flags *journalFlags) (rErr error) {
	var h instance.Handle
	if flags.Instance != "" {
		var err error
		if h, err = instance.ParseHandle(flags.Instance); err != nil {
			return err
		}
	}

	dbFile := flags.pathInHome(flags.JournalDB)
	if _, err := os.Stat(dbFile); err != nil {
		return fmt.Errorf("journal database: %w", err)
	}
	db, err := openJournalDB(dbFile, boltdb.WithReadOnly())
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, db.Close()) }()

	j, err := journal.New(db)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	var events []journal.Event
	switch {
	case h.IsZero():
		events, err = j.All()
	case flags.Run == 0:
		events, err = j.Events(h.ID())
	default:
		events, err = j.RunEvents(flags.Run, h.ID())
	}
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}

	out := cmd.OutOrStdout()
	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	for _, e := range events {
		status := "ok"
		if e.Failed() {
			status = e.Trap.String()
		}
		fmt.Fprintf(out, "%d\t%s\trun=%d\t%s\t%q\tdelta=%d\t%d -> %d\t%s\n",
			e.Seq, e.Time.Format("2006-01-02T15:04:05.000"), e.Run, instance.HandleFromID(e.Instance), e.Name, e.Delta, e.PrevPages, e.NewPages, status)
	}
	return nil
}
