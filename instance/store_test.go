package instance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/alphabill-org/linmem/buffer"
	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/keyvaluedb/memorydb"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/trap"
)

func Test_Store_metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	s := newTestStore(t, WithMeter(mp.Meter("test")))

	h, err := s.Instantiate(ctx, "metrics", memory.Limits{Min: 1, Max: 2})
	require.NoError(t, err)
	_, err = s.GrowMemory(ctx, h, 1)
	require.NoError(t, err)
	_, err = s.GrowMemory(ctx, h, 1)
	require.ErrorIs(t, err, trap.ErrMemoryOutOfBounds)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	cnt, ok := byName["grow.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "grow.count is %T", byName["grow.count"].Data)
	counts := map[string]int64{}
	for _, dp := range cnt.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[status.AsString()] += dp.Value
	}
	// initial grow of the Instantiate is counted too
	require.Equal(t, map[string]int64{"ok": 2, "err": 1}, counts)

	mem, ok := byName["memory.bytes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, mem.DataPoints, 1)
	require.EqualValues(t, 2*memory.PageSize, mem.DataPoints[0].Value)

	require.NoError(t, s.Close(ctx, h))
	rm = metricdata.ResourceMetrics{}
	require.NoError(t, reader.Collect(ctx, &rm))
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name == "memory.bytes" {
			require.Zero(t, m.Data.(metricdata.Sum[int64]).DataPoints[0].Value)
		}
	}
}

func Test_Store_journal(t *testing.T) {
	ctx := context.Background()
	j, err := journal.New(memorydb.New())
	require.NoError(t, err)
	s := newTestStore(t, WithJournal(j), WithAllocator(&dirtyAllocator{}))

	h, err := s.Instantiate(ctx, "journaled", memory.Limits{Max: 2})
	require.NoError(t, err)
	_, err = s.GrowMemory(ctx, h, 1)
	require.NoError(t, err)
	_, err = s.GrowMemory(ctx, h, 1)
	require.NoError(t, err)
	_, err = s.GrowMemory(ctx, h, 1)
	require.ErrorIs(t, err, trap.ErrMemoryOutOfBounds)

	events, err := j.Events(h.ID())
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, "journaled", events[0].Name)
	require.EqualValues(t, 1, events[0].Run, "store starts new journal run")
	require.EqualValues(t, 0, events[0].PrevPages)
	require.EqualValues(t, 1, events[0].NewPages)
	require.False(t, events[0].Relocated, "first allocation is not relocation")
	require.False(t, events[0].Failed())

	require.EqualValues(t, 1, events[1].PrevPages)
	require.EqualValues(t, 2, events[1].NewPages)
	require.True(t, events[1].Relocated)

	require.True(t, events[2].Failed())
	require.Equal(t, trap.MemoryOutOfBounds, events[2].Trap)
	require.EqualValues(t, 2, events[2].PrevPages)
	require.EqualValues(t, 2, events[2].NewPages)

	// growing unknown instance is recorded too
	_, err = s.GrowMemory(ctx, Handle{index: 9, gen: 9}, 1)
	require.ErrorIs(t, err, trap.ErrInvalidModule)
	all, err := j.All()
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, trap.InvalidModule, all[3].Trap)
	require.Equal(t, Handle{index: 9, gen: 9}.ID(), all[3].Instance)
}

func Test_Store_journalFailureDoesNotFailGrowth(t *testing.T) {
	ctx := context.Background()
	db := memorydb.New()
	j, err := journal.New(db)
	require.NoError(t, err)
	s := newTestStore(t, WithJournal(j))

	h, err := s.Instantiate(ctx, "full", memory.Limits{Max: 2})
	require.NoError(t, err)
	db.SetLimit(1)
	prev, err := s.GrowMemory(ctx, h, 1)
	require.NoError(t, err)
	require.Zero(t, prev)
}

func Test_NewStore_journalRunFails(t *testing.T) {
	db := memorydb.NewWithLimiter(1)
	require.NoError(t, db.Write([]byte("x"), 1))
	j, err := journal.New(db)
	require.NoError(t, err)
	reg := buffer.NewRegistry()

	s, err := NewStore(WithJournal(j), WithRegistry(reg))
	require.ErrorContains(t, err, "starting journal run")
	require.Nil(t, s)
	// registry hasn't been claimed by the failed store
	require.NoError(t, reg.Claim())
}

func Test_Store_Instances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.Empty(t, s.Instances())

	var hs []Handle
	for i := 0; i < 3; i++ {
		h, err := s.Instantiate(ctx, "inst", memory.Limits{Max: 1})
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.Equal(t, hs, s.Instances())

	require.NoError(t, s.Close(ctx, hs[1]))
	require.Equal(t, []Handle{hs[0], hs[2]}, s.Instances())
}

func Test_Store_concurrentGrowth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const maxPages = 64
	h, err := s.Instantiate(ctx, "concurrent", memory.Limits{Max: maxPages})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	seen := map[uint32]int{}
	for i := 0; i < 2*maxPages; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev, err := s.GrowMemory(ctx, h, 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[prev]++
		}()
	}
	wg.Wait()

	require.Len(t, errs, maxPages)
	for _, err := range errs {
		require.ErrorIs(t, err, trap.ErrMemoryOutOfBounds)
	}
	for prev, n := range seen {
		require.Equal(t, 1, n, "previous size %d returned %d times", prev, n)
	}
	require.Len(t, seen, maxPages)
	inst, err := s.Instance(h)
	require.NoError(t, err)
	require.EqualValues(t, maxPages, inst.Pages())
	require.Equal(t, 1, s.Registry().Stats().LiveViews)
	require.EqualValues(t, memory.PagesToBytes(maxPages), s.Registry().Stats().ExternalBytes)
}

func Test_CodeTable(t *testing.T) {
	h1 := Handle{index: 0, gen: 1}
	h2 := Handle{index: 1, gen: 1}
	ct := NewCodeTable()

	require.EqualError(t, ct.Register(0x20, 0x20, h1), "invalid code range [0x20, 0x20)")
	require.EqualError(t, ct.Register(0x20, 0x30, Handle{}), "invalid instance handle 0.0")

	require.NoError(t, ct.Register(0x100, 0x200, h1))
	require.NoError(t, ct.Register(0x300, 0x400, h2))
	// adjacent ranges are allowed
	require.NoError(t, ct.Register(0x200, 0x280, h2))

	require.EqualError(t, ct.Register(0x180, 0x1a0, h2), "code range [0x180, 0x1a0) overlaps with [0x100, 0x200) of instance 0.1")
	require.EqualError(t, ct.Register(0x2f0, 0x310, h1), "code range [0x2f0, 0x310) overlaps with [0x300, 0x400) of instance 1.1")
	require.EqualError(t, ct.Register(0x0, 0x1000, h1), "code range [0x0, 0x1000) overlaps with [0x100, 0x200) of instance 0.1")

	var testCases = []struct {
		pc    uintptr
		owner Handle
		found bool
	}{
		{pc: 0x0},
		{pc: 0xff},
		{pc: 0x100, owner: h1, found: true},
		{pc: 0x1ff, owner: h1, found: true},
		{pc: 0x200, owner: h2, found: true},
		{pc: 0x280},
		{pc: 0x2ff},
		{pc: 0x300, owner: h2, found: true},
		{pc: 0x3ff, owner: h2, found: true},
		{pc: 0x400},
	}
	for _, tc := range testCases {
		h, ok := ct.Lookup(tc.pc)
		require.Equal(t, tc.found, ok, "pc %#x", tc.pc)
		require.Equal(t, tc.owner, h, "pc %#x", tc.pc)
	}

	ct.unregister(h2)
	_, ok := ct.Lookup(0x300)
	require.False(t, ok)
	h, ok := ct.Lookup(0x150)
	require.True(t, ok)
	require.Equal(t, h1, h)
	require.NoError(t, ct.Register(0x200, 0x300, h1))
}

func Test_Handle(t *testing.T) {
	t.Run("zero", func(t *testing.T) {
		require.True(t, Handle{}.IsZero())
		require.True(t, Handle{index: 4}.IsZero())
		require.False(t, Handle{gen: 1}.IsZero())
	})

	t.Run("ID round trip", func(t *testing.T) {
		for _, h := range []Handle{{}, {index: 1, gen: 1}, {index: 0xFFFFFFFF, gen: 2}, {index: 7, gen: 0xFFFFFFFF}} {
			require.Equal(t, h, HandleFromID(h.ID()))
		}
		require.EqualValues(t, 0x0000000300000005, Handle{index: 5, gen: 3}.ID())
	})

	t.Run("parse", func(t *testing.T) {
		h, err := ParseHandle("12.3")
		require.NoError(t, err)
		require.Equal(t, Handle{index: 12, gen: 3}, h)
		require.Equal(t, "12.3", h.String())

		_, err = ParseHandle("12")
		require.EqualError(t, err, `invalid instance handle "12", expected format index.generation`)
		_, err = ParseHandle("x.3")
		require.ErrorContains(t, err, "parsing instance index")
		_, err = ParseHandle("1.-3")
		require.ErrorContains(t, err, "parsing instance generation")
		_, err = ParseHandle("1.4294967296")
		require.ErrorContains(t, err, "parsing instance generation")
	})
}

func Test_MemoryUpdate_Relocated(t *testing.T) {
	require.False(t, MemoryUpdate{NewBase: 0x100}.Relocated(), "initial allocation")
	require.False(t, MemoryUpdate{OldBase: 0x100, NewBase: 0x100}.Relocated())
	require.True(t, MemoryUpdate{OldBase: 0x100, NewBase: 0x200}.Relocated())
}
