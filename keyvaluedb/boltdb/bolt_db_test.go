package boltdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/linmem/keyvaluedb"
)

func initBoltDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "bolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func isEmpty(t *testing.T, db *BoltDB) bool {
	empty, err := keyvaluedb.IsEmpty(db)
	require.NoError(t, err)
	return empty
}

func TestBoltDB_WriteReadDelete(t *testing.T) {
	db := initBoltDB(t)
	require.True(t, isEmpty(t, db))

	type event struct {
		Seq  uint64
		Name string
	}
	require.NoError(t, db.Write([]byte("ev1"), &event{Seq: 1, Name: "first"}))
	require.False(t, isEmpty(t, db))

	var ev event
	found, err := db.Read([]byte("ev1"), &ev)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, event{Seq: 1, Name: "first"}, ev)

	found, err = db.Read([]byte("ev2"), &ev)
	require.NoError(t, err)
	require.False(t, found)

	// wrong type
	var s string
	found, err = db.Read([]byte("ev1"), &s)
	require.ErrorContains(t, err, "bolt db read failed")
	require.True(t, found)

	require.NoError(t, db.Delete([]byte("ev1")))
	require.True(t, isEmpty(t, db))
	// deleting non-existing key is not an error
	require.NoError(t, db.Delete([]byte("ev1")))
}

func TestBoltDB_InvalidInput(t *testing.T) {
	db := initBoltDB(t)
	var p *uint64
	require.EqualError(t, db.Write([]byte("k"), p), "value is nil")
	require.EqualError(t, db.Write(nil, 1), "invalid key")
	require.EqualError(t, db.Delete([]byte{}), "invalid key")
	found, err := db.Read(nil, new(uint64))
	require.EqualError(t, err, "invalid key")
	require.False(t, found)
	require.Error(t, db.Write([]byte("channel"), make(chan int)))
}

func TestBoltDB_Iterator(t *testing.T) {
	db := initBoltDB(t)
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
	require.NoError(t, it.Close())
	require.EqualError(t, it.Value(&v), "iterator invalid")
	// closing multiple times is ok
	require.NoError(t, it.Close())
}

func TestBoltTx_Commit(t *testing.T) {
	db := initBoltDB(t)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("test1"), "1"))
	require.NoError(t, tx.Write([]byte("test2"), "2"))
	var val string
	found, err := tx.Read([]byte("test2"), &val)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", val)
	require.NoError(t, tx.Delete([]byte("test2")))
	require.True(t, isEmpty(t, db))
	require.NoError(t, tx.Commit())

	found, err = db.Read([]byte("test1"), &val)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", val)
	found, err = db.Read([]byte("test2"), &val)
	require.NoError(t, err)
	require.False(t, found)

	// use after close
	found, err = tx.Read([]byte("test1"), &val)
	require.False(t, found)
	require.ErrorContains(t, err, "tx closed")
	require.ErrorContains(t, tx.Write([]byte("test1"), "1"), "tx closed")
	require.ErrorContains(t, tx.Delete([]byte("test1")), "tx closed")
}

func TestBoltTx_Rollback(t *testing.T) {
	db := initBoltDB(t)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("test1"), "1"))
	require.NoError(t, tx.Rollback())
	require.True(t, isEmpty(t, db))

	_, err = newBoltTx(nil, []byte(defaultBucket), nil, nil)
	require.EqualError(t, err, "db is nil")
}

func TestBoltDB_Options(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "bolt.db")

	_, err := New(dbFile, WithBucket(""))
	require.EqualError(t, err, "bucket name is empty")

	// read-only DB must exist
	_, err = New(dbFile, WithReadOnly(), WithTimeout(100*time.Millisecond))
	require.ErrorContains(t, err, "opening bolt db")

	db, err := New(dbFile, WithBucket("journal"))
	require.NoError(t, err)
	require.NoError(t, db.Write([]byte("k"), "in journal"))
	require.NoError(t, db.Close())

	// buckets of the same file are independent
	db, err = New(dbFile)
	require.NoError(t, err)
	require.True(t, isEmpty(t, db))
	require.NoError(t, db.Write([]byte("k"), "in default"))
	require.NoError(t, db.Close())

	db, err = New(dbFile, WithBucket("journal"), WithReadOnly())
	require.NoError(t, err)
	var v string
	found, err := db.Read([]byte("k"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "in journal", v)
	require.ErrorContains(t, db.Write([]byte("k"), "changed"), "bolt db write failed")
	require.NoError(t, db.Close())

	_, err = New(dbFile, WithBucket("other"), WithReadOnly())
	require.EqualError(t, err, `bucket "other" not found`)
}
