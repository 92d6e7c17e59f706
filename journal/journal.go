package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alphabill-org/linmem/keyvaluedb"
	"github.com/alphabill-org/linmem/trap"
)

/*
Event describes single memory growth attempt. Failed attempts are recorded
too, with the trap code and the size of the memory unchanged.

Instance IDs are only unique within a run (a process recording into the
journal), a handle is reused by every run which creates the same instance.
*/
type Event struct {
	Seq       uint64    `json:"seq"`
	Run       uint64    `json:"run"`
	Instance  uint64    `json:"instance"`
	Name      string    `json:"name"`
	Delta     uint32    `json:"delta"`
	PrevPages uint32    `json:"prev_pages"`
	NewPages  uint32    `json:"new_pages"`
	Relocated bool      `json:"relocated"`
	Trap      trap.Code `json:"trap,omitempty"`
	Time      time.Time `json:"time"`
}

func (e Event) Failed() bool { return e.Trap != 0 }

// Bucket is the name of the journal bucket in the DBs which support buckets.
const Bucket = "journal"

/*
Key layout:
  - "e" + seq: the Event;
  - "i" + run + instance + seq: index of the events of the instance, value is the seq;
  - "seq": the last sequence number used;
  - "run": the last run number used.
*/
var (
	prefixEvent = []byte("e")
	prefixIndex = []byte("i")
	keySeq      = []byte("seq")
	keyRun      = []byte("run")
)

/*
Journal records memory growth events into key-value DB.
*/
type Journal struct {
	db  keyvaluedb.KeyValueDB
	now func() time.Time

	mu      sync.Mutex
	seq     uint64
	run     uint64
	started bool // run has been started by this journal
}

/*
New opens the journal stored in "db". The journal doesn't start a new run
until StartRun is called or the first event is recorded, until then Run
returns the last run found in the DB.
*/
func New(db keyvaluedb.KeyValueDB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal database is nil")
	}
	j := &Journal{db: db, now: time.Now}
	if _, err := db.Read(keySeq, &j.seq); err != nil {
		return nil, fmt.Errorf("reading last sequence number: %w", err)
	}
	if _, err := db.Read(keyRun, &j.run); err != nil {
		return nil, fmt.Errorf("reading last run number: %w", err)
	}
	return j, nil
}

/*
StartRun allocates new run number for the events recorded by the journal.
Only the first call allocates, subsequent calls return the same run.
*/
func (j *Journal) StartRun() (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return j.run, nil
	}
	run := j.run + 1
	if err := j.db.Write(keyRun, run); err != nil {
		return 0, fmt.Errorf("writing run number: %w", err)
	}
	j.run, j.started = run, true
	return run, nil
}

// Run returns the current run number, zero when nothing has been recorded yet.
func (j *Journal) Run() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.run
}

/*
Record assigns sequence number and timestamp to the event and stores it.
Returns the event as it was stored.
*/
func (j *Journal) Record(e Event) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.Seq = j.seq + 1
	e.Run = j.run
	if !j.started {
		e.Run++
	}
	if e.Time.IsZero() {
		e.Time = j.now().UTC()
	}

	tx, err := j.db.StartTx()
	if err != nil {
		return e, fmt.Errorf("starting transaction: %w", err)
	}
	if !j.started {
		if err := tx.Write(keyRun, e.Run); err != nil {
			return e, errors.Join(fmt.Errorf("writing run number: %w", err), tx.Rollback())
		}
	}
	if err := writeEvent(tx, e); err != nil {
		return e, errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return e, fmt.Errorf("committing event %d: %w", e.Seq, err)
	}
	j.seq, j.run, j.started = e.Seq, e.Run, true
	return e, nil
}

func writeEvent(tx keyvaluedb.DBTransaction, e Event) error {
	if err := tx.Write(eventKey(e.Seq), &e); err != nil {
		return fmt.Errorf("writing event %d: %w", e.Seq, err)
	}
	if err := tx.Write(indexKey(e.Run, e.Instance, e.Seq), e.Seq); err != nil {
		return fmt.Errorf("writing index of event %d: %w", e.Seq, err)
	}
	if err := tx.Write(keySeq, e.Seq); err != nil {
		return fmt.Errorf("writing sequence number: %w", err)
	}
	return nil
}

// LastSeq returns the sequence number of the last recorded event.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Events returns events of the instance in the current run.
func (j *Journal) Events(instance uint64) ([]Event, error) {
	return j.RunEvents(j.Run(), instance)
}

/*
RunEvents returns events of the instance recorded in the run "run", in the
order they were recorded.
*/
func (j *Journal) RunEvents(run, instance uint64) ([]Event, error) {
	prefix := indexPrefix(run, instance)
	var seqs []uint64
	if err := iteratePrefix(j.db, prefix, func(it keyvaluedb.Iterator) error {
		var seq uint64
		if err := it.Value(&seq); err != nil {
			return fmt.Errorf("reading index entry %X: %w", it.Key(), err)
		}
		seqs = append(seqs, seq)
		return nil
	}); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(seqs))
	for _, seq := range seqs {
		var e Event
		found, err := j.db.Read(eventKey(seq), &e)
		if err != nil {
			return nil, fmt.Errorf("reading event %d: %w", seq, err)
		}
		if !found {
			return nil, fmt.Errorf("event %d not found", seq)
		}
		events = append(events, e)
	}
	return events, nil
}

// All returns all the events in the journal in the order they were recorded.
func (j *Journal) All() ([]Event, error) {
	var events []Event
	err := iteratePrefix(j.db, prefixEvent, func(it keyvaluedb.Iterator) error {
		var e Event
		if err := it.Value(&e); err != nil {
			return fmt.Errorf("reading event %X: %w", it.Key(), err)
		}
		events = append(events, e)
		return nil
	})
	return events, err
}

func iteratePrefix(db keyvaluedb.Iterable, prefix []byte, f func(it keyvaluedb.Iterator) error) (rErr error) {
	it := db.Find(prefix)
	defer func() { rErr = errors.Join(rErr, it.Close()) }()

	for ; it.Valid() && bytes.HasPrefix(it.Key(), prefix); it.Next() {
		if err := f(it); err != nil {
			return err
		}
	}
	return nil
}

func eventKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixEvent...), seq)
}

func indexPrefix(run, instance uint64) []byte {
	key := binary.BigEndian.AppendUint64(append([]byte{}, prefixIndex...), run)
	return binary.BigEndian.AppendUint64(key, instance)
}

func indexKey(run, instance, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(indexPrefix(run, instance), seq)
}
