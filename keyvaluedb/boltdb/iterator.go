package boltdb

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

/*
itr holds read-only transaction open until Close is called.
*/
type itr struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	decoder DecodeFn
	key     []byte
	value   []byte
}

func newIterator(db *bolt.DB, bucket []byte, d DecodeFn) *itr {
	it := &itr{decoder: d}
	tx, err := db.Begin(false)
	if err != nil {
		return it
	}
	it.tx = tx
	if b := tx.Bucket(bucket); b != nil {
		it.cursor = b.Cursor()
	}
	return it
}

func (it *itr) first() {
	if it.cursor != nil {
		it.key, it.value = it.cursor.First()
	}
}

func (it *itr) last() {
	if it.cursor != nil {
		it.key, it.value = it.cursor.Last()
	}
}

func (it *itr) seek(key []byte) {
	if it.cursor != nil {
		it.key, it.value = it.cursor.Seek(key)
	}
}

func (it *itr) Next() {
	if it.Valid() {
		it.key, it.value = it.cursor.Next()
	}
}

func (it *itr) Prev() {
	if it.Valid() {
		it.key, it.value = it.cursor.Prev()
	}
}

func (it *itr) Valid() bool {
	return it.key != nil
}

func (it *itr) Key() []byte {
	return it.key
}

func (it *itr) Value(v any) error {
	if !it.Valid() {
		return fmt.Errorf("iterator invalid")
	}
	return it.decoder(it.value, v)
}

func (it *itr) Close() error {
	it.key, it.value, it.cursor = nil, nil, nil
	if it.tx == nil {
		return nil
	}
	tx := it.tx
	it.tx = nil
	return tx.Rollback()
}
