package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/linmem/trap"
)

func Test_pageConversion(t *testing.T) {
	require.EqualValues(t, 65536, PageSize)
	require.EqualValues(t, 0, PagesToBytes(0))
	require.EqualValues(t, PageSize, PagesToBytes(1))
	require.EqualValues(t, uint64(1)<<32, PagesToBytes(MaxPages))
	require.EqualValues(t, uint64(0xFFFFFFFF)<<16, PagesToBytes(0xFFFFFFFF))

	require.EqualValues(t, 0, BytesToPages(PageSize-1))
	require.EqualValues(t, 1, BytesToPages(PageSize))
	require.EqualValues(t, MaxPages, BytesToPages(uint64(1)<<32))
}

func TestLimits_Validate(t *testing.T) {
	require.NoError(t, Limits{}.Validate())
	require.NoError(t, Limits{Min: 1, Max: 1}.Validate())
	require.NoError(t, Limits{Min: 0, Max: MaxPages}.Validate())
	require.EqualError(t, Limits{Min: 2, Max: 1}.Validate(), "minimum 2 pages is greater than maximum 1 pages")
	require.EqualError(t, Limits{Max: MaxPages + 1}.Validate(), "maximum 65537 pages exceeds the limit of 65536 pages")
}

func TestGrowLength(t *testing.T) {
	var testCases = []struct {
		name    string
		curLen  uint64
		delta   uint32
		ceiling uint32
		newLen  uint64
		errCode trap.Code
	}{
		{name: "empty, zero delta", curLen: 0, delta: 0, ceiling: 2, newLen: 0},
		{name: "empty, up to ceiling", curLen: 0, delta: 2, ceiling: 2, newLen: 2 * PageSize},
		{name: "empty, over ceiling", curLen: 0, delta: 3, ceiling: 2, errCode: trap.MemoryOutOfBounds},
		{name: "empty, zero ceiling", curLen: 0, delta: 1, ceiling: 0, errCode: trap.MemoryOutOfBounds},
		{name: "present, zero delta", curLen: PageSize, delta: 0, ceiling: 2, newLen: PageSize},
		{name: "present, up to ceiling", curLen: PageSize, delta: 1, ceiling: 2, newLen: 2 * PageSize},
		{name: "present, over ceiling", curLen: PageSize, delta: 2, ceiling: 2, errCode: trap.MemoryOutOfBounds},
		{name: "present, at ceiling", curLen: 2 * PageSize, delta: 1, ceiling: 2, errCode: trap.MemoryOutOfBounds},
		// sum would wrap around in 32 bits
		{name: "present, delta max uint32", curLen: PageSize, delta: 0xFFFFFFFF, ceiling: MaxPages, errCode: trap.MemoryOutOfBounds},
		{name: "empty, delta max uint32", curLen: 0, delta: 0xFFFFFFFF, ceiling: MaxPages, errCode: trap.MemoryOutOfBounds},
		{name: "full 4GiB", curLen: PageSize, delta: MaxPages - 1, ceiling: MaxPages, newLen: uint64(1) << 32},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			newLen, err := GrowLength(tc.curLen, tc.delta, tc.ceiling)
			if tc.errCode != 0 {
				require.Equal(t, tc.errCode, trap.CodeOf(err), "unexpected error: %v", err)
				require.Zero(t, newLen)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.newLen, newLen)
			require.Zero(t, newLen%PageSize)
		})
	}

	t.Run("current length not page aligned", func(t *testing.T) {
		newLen, err := GrowLength(PageSize+1, 1, 10)
		require.EqualError(t, err, "current length 65537 is not a multiple of the page size")
		require.Zero(t, newLen)
		require.Zero(t, trap.CodeOf(err))
	})
}
