package keyvaluedb

import "fmt"

type Reader interface {
	// Read decodes the value stored under the key into "value". Returns
	// false when there is no such key in the DB.
	Read(key []byte, value any) (bool, error)
}

type Writer interface {
	// Write encodes the value and stores it under the key, existing value is replaced.
	Write(key []byte, value any) error
	// Delete removes the key, deleting non-existing key is not an error.
	Delete(key []byte) error
}

/*
DBTx starts transactions. Every transaction MUST be completed by calling
either Commit or Rollback. Only one read-write transaction is allowed at a time.
*/
type DBTx interface {
	StartTx() (DBTransaction, error)
}

type KeyValueDB interface {
	Reader
	Writer
	Iterable
	DBTx
}

type Iterator interface {
	// Next moves the iterator to the next key/value pair
	Next()
	// Prev moves the iterator to the previous key/value pair
	Prev()
	// Valid returns false when the iterator has moved past the first or last item
	Valid() bool
	// Key returns the key of the current key/value pair, nil if not valid.
	Key() []byte
	// Value decodes the value of the current key/value pair into "value".
	Value(value any) error
	// Close releases associated resources. It is safe to call Close multiple times.
	Close() error
}

/*
Iterable creates iterators over the keys of the DB in binary-alphabetical order.
When the DB is empty (or there is no match) the returned iterator is not valid.
NB! iterator MUST be released with Close() when done, otherwise next DB
operation may deadlock.
*/
type Iterable interface {
	// First returns iterator positioned to the first key.
	First() Iterator
	// Last returns iterator positioned to the last key.
	Last() Iterator
	// Find returns iterator positioned to the first key which is equal or
	// greater than "key".
	Find(key []byte) Iterator
}

type DBTransaction interface {
	Reader
	Writer
	// Commit stores all the pending changes
	Commit() error
	// Rollback discards all the pending changes
	Rollback() error
}

// IsEmpty returns true if there are no keys in the DB.
func IsEmpty(db KeyValueDB) (empty bool, err error) {
	if db == nil {
		return true, fmt.Errorf("db is nil")
	}
	it := db.First()
	defer func() { err = it.Close() }()
	return !it.Valid(), nil
}
