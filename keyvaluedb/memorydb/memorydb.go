package memorydb

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/alphabill-org/linmem/keyvaluedb"
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	/*
	MemoryDB is map based key-value DB. Values are stored CBOR encoded, same
	as in the bolt DB, so the two are interchangeable.
	*/
	MemoryDB struct {
		db      map[string][]byte
		encoder EncodeFn
		decoder DecodeFn
		limit   int
		lock    sync.RWMutex
	}
)

func New() *MemoryDB {
	return &MemoryDB{
		db:      make(map[string][]byte),
		encoder: cbor.Marshal,
		decoder: cbor.Unmarshal,
	}
}

// NewWithLimiter returns DB which fails writes once "limit" keys are stored, for testing "disk full" scenarios.
func NewWithLimiter(limit int) *MemoryDB {
	db := New()
	db.limit = limit
	return db
}

func (db *MemoryDB) Empty() bool {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return len(db.db) == 0
}

func (db *MemoryDB) Read(key []byte, value any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return false, err
	}
	db.lock.RLock()
	defer db.lock.RUnlock()
	if data, ok := db.db[string(key)]; ok {
		return true, db.decoder(data, value)
	}
	return false, nil
}

func (db *MemoryDB) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := db.encoder(value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.full(db.db, key) {
		return fmt.Errorf("write failed, disk is full")
	}
	db.db[string(key)] = b
	return nil
}

func (db *MemoryDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	delete(db.db, string(key))
	return nil
}

func (db *MemoryDB) First() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.db, db.decoder)
	it.first()
	return it
}

func (db *MemoryDB) Last() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.db, db.decoder)
	it.last()
	return it
}

func (db *MemoryDB) Find(key []byte) keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.db, db.decoder)
	it.seek(key)
	return it
}

func (db *MemoryDB) StartTx() (keyvaluedb.DBTransaction, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()
	if db.db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Tx{mem: db, db: copyMap(db.db)}, nil
}

func (db *MemoryDB) SetLimit(limit int) {
	db.lock.Lock()
	defer db.lock.Unlock()
	db.limit = limit
}

// full returns true when writing "key" into "m" would exceed the limit.
func (db *MemoryDB) full(m map[string][]byte, key []byte) bool {
	if db.limit <= 0 {
		return false
	}
	_, exists := m[string(key)]
	return !exists && len(m) >= db.limit
}
