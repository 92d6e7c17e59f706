package boltdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/linmem/keyvaluedb"
)

const defaultBucket = "default"

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	BoltDB struct {
		db      *bolt.DB
		bucket  []byte
		encoder EncodeFn
		decoder DecodeFn
	}

	Option func(*options)

	options struct {
		bucket   string
		timeout  time.Duration
		readOnly bool
	}
)

var errNotFound = errors.New("db entry not found")

// WithBucket sets the bucket the DB reads and writes, "default" when not set.
func WithBucket(name string) Option {
	return func(o *options) {
		o.bucket = name
	}
}

// WithTimeout sets how long to wait for the file lock of the DB.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

/*
WithReadOnly opens the DB in read-only mode, the bucket must exist already and
writes fail.
*/
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

/*
New opens (creates when it doesn't exist and not read-only) bolt DB file.
Values are CBOR encoded.
*/
func New(dbFile string, opts ...Option) (*BoltDB, error) {
	o := options{bucket: defaultBucket, timeout: 3 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bucket == "" {
		return nil, errors.New("bucket name is empty")
	}

	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: o.timeout, ReadOnly: o.readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %q: %w", dbFile, err)
	}
	s := &BoltDB{
		db:      db,
		bucket:  []byte(o.bucket),
		encoder: cbor.Marshal,
		decoder: cbor.Unmarshal,
	}
	if o.readOnly {
		err = s.checkBucket()
	} else {
		err = s.createBuckets()
	}
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) createBuckets() error {
	return db.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(db.bucket); err != nil {
			return fmt.Errorf("creating bucket %q: %w", db.bucket, err)
		}
		return nil
	})
}

func (db *BoltDB) checkBucket() error {
	return db.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(db.bucket) == nil {
			return fmt.Errorf("bucket %q not found", db.bucket)
		}
		return nil
	})
}

func (db *BoltDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if err := db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(db.bucket).Get(key)
		if data == nil {
			return errNotFound
		}
		return db.decoder(data, v)
	}); err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return true, fmt.Errorf("bolt db read failed, %w", err)
	}
	return true, nil
}

func (db *BoltDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	if err = db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Put(key, b)
	}); err != nil {
		return fmt.Errorf("bolt db write failed, %w", err)
	}
	return nil
}

func (db *BoltDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Delete(key)
	}); err != nil {
		return fmt.Errorf("bolt db delete failed, %w", err)
	}
	return nil
}

func (db *BoltDB) First() keyvaluedb.Iterator {
	it := newIterator(db.db, db.bucket, db.decoder)
	it.first()
	return it
}

func (db *BoltDB) Last() keyvaluedb.Iterator {
	it := newIterator(db.db, db.bucket, db.decoder)
	it.last()
	return it
}

func (db *BoltDB) Find(key []byte) keyvaluedb.Iterator {
	it := newIterator(db.db, db.bucket, db.decoder)
	it.seek(key)
	return it
}

func (db *BoltDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := newBoltTx(db.db, db.bucket, db.encoder, db.decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to start Bolt tx, %w", err)
	}
	return tx, nil
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}
