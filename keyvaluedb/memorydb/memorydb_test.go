package memorydb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/linmem/keyvaluedb"
)

func isEmpty(t *testing.T, db *MemoryDB) bool {
	empty, err := keyvaluedb.IsEmpty(db)
	require.NoError(t, err)
	return empty
}

func TestMemDB_IsEmpty(t *testing.T) {
	db := New()
	require.True(t, isEmpty(t, db))
	require.True(t, db.Empty())
	require.NoError(t, db.Write([]byte("foo"), "test"))
	require.False(t, isEmpty(t, db))
	require.False(t, db.Empty())

	empty, err := keyvaluedb.IsEmpty(nil)
	require.ErrorContains(t, err, "db is nil")
	require.True(t, empty)
}

func TestMemDB_WriteAndRead(t *testing.T) {
	db := New()
	var value uint64 = 1
	require.NoError(t, db.Write([]byte("integer"), value))
	require.NoError(t, db.Write([]byte("slice"), []byte{}))

	var some []byte
	found, err := db.Read([]byte("slice"), &some)
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, some)

	var back uint64
	found, err = db.Read([]byte("integer"), &back)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), back)

	// wrong type
	found, err = db.Read([]byte("slice"), &back)
	require.ErrorContains(t, err, "cbor: cannot unmarshal byte string into Go value of type uint64")
	require.True(t, found)

	found, err = db.Read([]byte("missing"), &back)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemDB_InvalidInput(t *testing.T) {
	db := New()
	var p *uint64
	require.EqualError(t, db.Write([]byte("k"), p), "value is nil")
	require.EqualError(t, db.Write([]byte(""), 1), "invalid key")
	require.EqualError(t, db.Delete(nil), "invalid key")
	found, err := db.Read(nil, new(uint64))
	require.EqualError(t, err, "invalid key")
	require.False(t, found)
	require.ErrorContains(t, db.Write([]byte("channel"), make(chan int)), "encoding value")
	require.True(t, isEmpty(t, db))
}

func TestMemDB_Limiter(t *testing.T) {
	db := NewWithLimiter(1)
	require.NoError(t, db.Write([]byte("a"), 1))
	// overwriting existing key doesn't need more space
	require.NoError(t, db.Write([]byte("a"), 2))
	require.EqualError(t, db.Write([]byte("b"), 1), "write failed, disk is full")

	db.SetLimit(0)
	require.NoError(t, db.Write([]byte("b"), 1))
}

func TestMemDB_Iterator(t *testing.T) {
	db := New()
	for i, k := range []string{"b", "d", "a", "c"} {
		require.NoError(t, db.Write([]byte(k), uint64(i)))
	}

	collect := func(it keyvaluedb.Iterator, next func()) (keys string) {
		defer func() { require.NoError(t, it.Close()) }()
		for ; it.Valid(); next() {
			keys += string(it.Key())
		}
		return keys
	}

	it := db.First()
	require.Equal(t, "abcd", collect(it, it.Next))
	it = db.Last()
	require.Equal(t, "dcba", collect(it, it.Prev))
	it = db.Find([]byte("bb"))
	require.Equal(t, "cd", collect(it, it.Next))
	it = db.Find([]byte("e"))
	require.Empty(t, collect(it, it.Next))

	it = db.Find([]byte("d"))
	var v uint64
	require.NoError(t, it.Value(&v))
	require.EqualValues(t, 1, v)
	it.Next()
	require.EqualError(t, it.Value(&v), "iterator invalid")
	require.Nil(t, it.Key())
}

func TestMemDB_Tx(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db := New()
		require.NoError(t, db.Write([]byte("test2"), "2"))
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Write([]byte("test1"), "1"))
		require.NoError(t, tx.Delete([]byte("test2")))
		var val string
		found, err := db.Read([]byte("test2"), &val)
		require.NoError(t, err)
		require.True(t, found, "changes must not be visible before commit")
		require.NoError(t, tx.Commit())

		found, err = db.Read([]byte("test1"), &val)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "1", val)
		found, err = db.Read([]byte("test2"), &val)
		require.NoError(t, err)
		require.False(t, found)

		_, err = tx.Read([]byte("test1"), &val)
		require.ErrorContains(t, err, "tx closed")
		require.ErrorContains(t, tx.Write([]byte("test1"), "1"), "tx closed")
		require.ErrorContains(t, tx.Delete([]byte("test1")), "tx closed")
		require.ErrorContains(t, tx.Commit(), "tx closed")
	})

	t.Run("rollback", func(t *testing.T) {
		db := New()
		tx, err := db.StartTx()
		require.NoError(t, err)
		require.NoError(t, tx.Write([]byte("test1"), "1"))
		require.NoError(t, tx.Rollback())
		require.True(t, isEmpty(t, db))
	})

	t.Run("nil db", func(t *testing.T) {
		db := &MemoryDB{}
		tx, err := db.StartTx()
		require.EqualError(t, err, "db is nil")
		require.Nil(t, tx)
	})
}
