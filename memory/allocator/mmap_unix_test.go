//go:build unix

package allocator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func Test_Mmap(t *testing.T) {
	const reserve = 1 << 20

	t.Run("size exceeds reservation", func(t *testing.T) {
		a := NewMmap(reserve)
		require.Nil(t, a.Allocate(reserve+1))
		require.Nil(t, a.Allocate(0))
	})

	t.Run("grow in place", func(t *testing.T) {
		a := NewMmap(reserve)
		buf := a.Allocate(1024)
		require.Len(t, buf, 1024)
		defer a.Free(buf)
		copy(buf, "linear memory")

		nb := a.Resize(buf, 64*1024)
		require.Len(t, nb, 64*1024)
		require.Equal(t, []byte("linear memory"), nb[:13])
		require.Equal(t, unsafe.SliceData(buf), unsafe.SliceData(nb), "buffer must not move")
		nb[len(nb)-1] = 1

		require.Nil(t, a.Resize(nb, reserve+1))
	})
}
