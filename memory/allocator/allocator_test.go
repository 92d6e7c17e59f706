package allocator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func Test_ByName(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		alloc, err := ByName("pool", 0)
		require.EqualError(t, err, `unknown allocator "pool", expected one of: heap, mmap, offheap`)
		require.Nil(t, alloc)
	})

	t.Run("default is heap", func(t *testing.T) {
		alloc, err := ByName("", 0)
		require.NoError(t, err)
		require.IsType(t, &Heap{}, alloc)
	})

	t.Run("mmap", func(t *testing.T) {
		alloc, err := ByName(NameMmap, 0)
		require.NoError(t, err)
		require.IsType(t, &Mmap{}, alloc)
	})

	t.Run("offheap", func(t *testing.T) {
		alloc, err := ByName(NameOffheap, 0)
		require.NoError(t, err)
		require.IsType(t, &Offheap{}, alloc)
	})

	t.Run("budget", func(t *testing.T) {
		alloc, err := ByName(NameHeap, 1024)
		require.NoError(t, err)
		require.IsType(t, &Limited{}, alloc)
		require.Equal(t, "limited(heap(spare=25%), budget=1024)", alloc.(*Limited).String())
	})
}

func Test_Heap(t *testing.T) {
	t.Run("allocate", func(t *testing.T) {
		h := NewHeap()
		buf := h.Allocate(64)
		require.Len(t, buf, 64)
		require.Equal(t, make([]byte, 64), buf)
	})

	t.Run("resize within capacity", func(t *testing.T) {
		h := NewHeap()
		buf := make([]byte, 4, 16)
		copy(buf, "abcd")
		nb := h.Resize(buf, 12)
		require.Len(t, nb, 12)
		require.Equal(t, unsafe.SliceData(buf), unsafe.SliceData(nb))
		require.Equal(t, []byte("abcd"), nb[:4])
	})

	t.Run("resize moves the content", func(t *testing.T) {
		h := NewHeapWithSpare(50)
		buf := h.Allocate(4)
		copy(buf, "abcd")
		nb := h.Resize(buf, 8)
		require.Len(t, nb, 8)
		require.Equal(t, 12, cap(nb))
		require.Equal(t, []byte("abcd\x00\x00\x00\x00"), nb)
	})
}

func Test_Offheap(t *testing.T) {
	a := NewOffheap()
	require.Nil(t, a.Allocate(0))

	buf := a.Allocate(64)
	require.Len(t, buf, 64)
	require.Equal(t, make([]byte, 64), buf)
	copy(buf, "offheap")

	buf = a.Resize(buf, 1<<20)
	require.Len(t, buf, 1<<20)
	require.Equal(t, []byte("offheap"), buf[:7])
	a.Free(buf)

	// resizing empty buffer allocates
	buf = a.Resize(nil, 16)
	require.Len(t, buf, 16)
	require.Equal(t, make([]byte, 16), buf)
	a.Free(buf)
	a.Free(nil)

	l := NewLimited(a, 100)
	require.Nil(t, l.Allocate(101))
	buf = l.Allocate(100)
	require.Len(t, buf, 100)
	l.Free(buf)
	require.Zero(t, l.InUse())
}

func Test_Limited(t *testing.T) {
	t.Run("allocate over budget", func(t *testing.T) {
		l := NewLimited(NewHeap(), 100)
		require.Nil(t, l.Allocate(101))
		require.Zero(t, l.InUse())

		buf := l.Allocate(100)
		require.Len(t, buf, 100)
		require.EqualValues(t, 100, l.InUse())
		require.Nil(t, l.Allocate(1))
	})

	t.Run("resize accounts the difference", func(t *testing.T) {
		l := NewLimited(NewHeap(), 100)
		buf := l.Allocate(40)
		require.EqualValues(t, 40, l.InUse())

		buf = l.Resize(buf, 90)
		require.Len(t, buf, 90)
		require.EqualValues(t, 90, l.InUse())

		// failed resize doesn't change accounting
		require.Nil(t, l.Resize(buf, 101))
		require.EqualValues(t, 90, l.InUse())

		l.Free(buf)
		require.Zero(t, l.InUse())
	})

	t.Run("underlying allocator fails", func(t *testing.T) {
		l := NewLimited(NewMmap(4096), 1<<20)
		require.Nil(t, l.Allocate(8192))
		require.Zero(t, l.InUse())
	})
}
