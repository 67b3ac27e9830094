// Package storage implements the persistent layer of the engine: five
// typed sublevels (values, freshness, inputs, revdeps, counters)
// namespaced per schema hash, backed by an embedded, ordered,
// transactional key-value store.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	apperrors "increment/pkg/errors"
)

// Sublevel names the five typed sub-stores defined by the data model.
type Sublevel string

const (
	SublevelValues    Sublevel = "values"
	SublevelFreshness Sublevel = "freshness"
	SublevelInputs    Sublevel = "inputs"
	SublevelRevdeps   Sublevel = "revdeps"
	SublevelCounters  Sublevel = "counters"
)

var allSublevels = []Sublevel{
	SublevelValues, SublevelFreshness, SublevelInputs, SublevelRevdeps, SublevelCounters,
}

// Freshness is the per-node dirty-bit.
type Freshness string

const (
	FreshnessUpToDate           Freshness = "up-to-date"
	FreshnessPotentiallyOutdated Freshness = "potentially-outdated"
)

// InputsRecord snapshots a node's input keys and their counters as
// observed at the last successful compute.
type InputsRecord struct {
	Inputs        []string `json:"inputs"`
	InputCounters []uint64 `json:"inputCounters"`
}

// Store wraps an embedded bbolt database, namespacing every operation
// under a single top-level bucket named by the schema hash so that two
// schemas can never alias each other's state.
type Store struct {
	db         *bolt.DB
	schemaHash string
	logger     *zap.Logger
}

// Open opens (creating if absent) the bbolt file at path, namespaced
// under schemaHash.
func Open(path, schemaHash string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, apperrors.NewStorageError("open", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(schemaHash))
		if err != nil {
			return err
		}
		for _, level := range allSublevels {
			if _, err := root.CreateBucketIfNotExists([]byte(level)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, apperrors.NewStorageError("init-buckets", schemaHash, err)
	}

	return &Store{db: db, schemaHash: schemaHash, logger: logger}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperrors.NewStorageError("close", s.schemaHash, err)
	}
	return nil
}

// Update runs fn inside a single read-write transaction, committing on
// success and rolling back on any error fn returns — including errors
// raised by Batch methods inside fn.
func (s *Store) Update(fn func(b *Batch) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(s.schemaHash))
		if root == nil {
			return apperrors.NewStorageError("update", s.schemaHash, fmt.Errorf("schema bucket missing"))
		}
		return fn(&Batch{tx: tx, root: root, logger: s.logger})
	})
}

// View runs fn inside a read-only transaction. Debug accessors that
// only read (and thus never need to roll back writes) can use this
// instead of Update, though they still serialize through the engine
// mutex for the cross-sublevel consistency guarantee.
func (s *Store) View(fn func(b *Batch) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(s.schemaHash))
		if root == nil {
			return apperrors.NewStorageError("view", s.schemaHash, fmt.Errorf("schema bucket missing"))
		}
		return fn(&Batch{tx: tx, root: root, logger: s.logger, readOnly: true})
	})
}

// Batch is a single transaction's view over the five sublevels. Reads
// observe prior writes made within the same Batch (bbolt transactions
// already provide this), and every write is staged until the
// transaction commits at Update's return.
type Batch struct {
	tx       *bolt.Tx
	root     *bolt.Bucket
	logger   *zap.Logger
	readOnly bool
}

func (b *Batch) bucket(level Sublevel) (*bolt.Bucket, error) {
	bucket := b.root.Bucket([]byte(level))
	if bucket == nil {
		if b.readOnly {
			return nil, nil
		}
		var err error
		bucket, err = b.root.CreateBucketIfNotExists([]byte(level))
		if err != nil {
			return nil, err
		}
	}
	return bucket, nil
}

// Get returns the raw bytes stored under key in the given sublevel.
// A missing key returns (nil, false, nil) — absent is not an error.
func (b *Batch) Get(level Sublevel, key string) ([]byte, bool, error) {
	bucket, err := b.bucket(level)
	if err != nil {
		return nil, false, apperrors.NewStorageError("get", key, err)
	}
	if bucket == nil {
		return nil, false, nil
	}
	v := bucket.Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Put stores raw bytes under key in the given sublevel.
func (b *Batch) Put(level Sublevel, key string, value []byte) error {
	bucket, err := b.bucket(level)
	if err != nil {
		return apperrors.NewStorageError("put", key, err)
	}
	if err := bucket.Put([]byte(key), value); err != nil {
		return apperrors.NewStorageError("put", key, err)
	}
	return nil
}

// Delete removes key from the given sublevel, if present.
func (b *Batch) Delete(level Sublevel, key string) error {
	bucket, err := b.bucket(level)
	if err != nil {
		return apperrors.NewStorageError("delete", key, err)
	}
	if bucket == nil {
		return nil
	}
	if err := bucket.Delete([]byte(key)); err != nil {
		return apperrors.NewStorageError("delete", key, err)
	}
	return nil
}

// Keys returns all keys in the given sublevel with the given prefix,
// via cursor-based prefix iteration.
func (b *Batch) Keys(level Sublevel, prefix string) ([]string, error) {
	bucket, err := b.bucket(level)
	if err != nil {
		return nil, apperrors.NewStorageError("keys", prefix, err)
	}
	if bucket == nil {
		return nil, nil
	}

	var keys []string
	prefixBytes := []byte(prefix)
	c := bucket.Cursor()
	for k, _ := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	return keys, nil
}

// PutJSON marshals value and stores it under key in the given sublevel.
func (b *Batch) PutJSON(level Sublevel, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewStorageError("marshal", key, err)
	}
	return b.Put(level, key, raw)
}

// GetJSON fetches the value under key in the given sublevel and
// unmarshals it into out. Returns (false, nil) if absent.
func (b *Batch) GetJSON(level Sublevel, key string, out interface{}) (bool, error) {
	raw, ok, err := b.Get(level, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, apperrors.NewStorageError("unmarshal", key, err)
	}
	return true, nil
}

// GetValue fetches a node's memoized value as a generic interface{}.
func (b *Batch) GetValue(key string) (interface{}, bool, error) {
	var v interface{}
	ok, err := b.GetJSON(SublevelValues, key, &v)
	return v, ok, err
}

// PutValue stores a node's memoized value.
func (b *Batch) PutValue(key string, value interface{}) error {
	return b.PutJSON(SublevelValues, key, value)
}

// GetFreshness fetches a node's dirty-bit.
func (b *Batch) GetFreshness(key string) (Freshness, bool, error) {
	raw, ok, err := b.Get(SublevelFreshness, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return Freshness(raw), true, nil
}

// PutFreshness stores a node's dirty-bit.
func (b *Batch) PutFreshness(key string, f Freshness) error {
	return b.Put(SublevelFreshness, key, []byte(f))
}

// GetInputsRecord fetches a node's last-compute inputs snapshot.
func (b *Batch) GetInputsRecord(key string) (*InputsRecord, bool, error) {
	var rec InputsRecord
	ok, err := b.GetJSON(SublevelInputs, key, &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rec, true, nil
}

// PutInputsRecord stores a node's inputs snapshot.
func (b *Batch) PutInputsRecord(key string, rec *InputsRecord) error {
	return b.PutJSON(SublevelInputs, key, rec)
}

// GetCounter fetches a node's version counter.
func (b *Batch) GetCounter(key string) (uint64, bool, error) {
	raw, ok, err := b.Get(SublevelCounters, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	var c uint64
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, false, apperrors.NewStorageError("unmarshal-counter", key, err)
	}
	return c, true, nil
}

// PutCounter stores a node's version counter.
func (b *Batch) PutCounter(key string, c uint64) error {
	return b.PutJSON(SublevelCounters, key, c)
}

// GetRevdeps fetches the list of dependents of input key.
func (b *Batch) GetRevdeps(inputKey string) ([]string, error) {
	var deps []string
	_, err := b.GetJSON(SublevelRevdeps, inputKey, &deps)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

// AddRevdep records that dependentKey depends on inputKey, if not
// already recorded (revdeps is monotone: entries are never pruned).
func (b *Batch) AddRevdep(inputKey, dependentKey string) error {
	deps, err := b.GetRevdeps(inputKey)
	if err != nil {
		return err
	}
	for _, d := range deps {
		if d == dependentKey {
			return nil
		}
	}
	deps = append(deps, dependentKey)
	return b.PutJSON(SublevelRevdeps, inputKey, deps)
}
