// Package kvstore wraps badger/v4 into the ordered key-value store that
// backs pkg/tree: atomic batch writes over coupled keys, prefix scans in
// key order, and a disk-space precheck before opening the database.
package kvstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrKeyNotFound mirrors badger.ErrKeyNotFound so callers outside this
// package never need to import badger directly.
var ErrKeyNotFound = badger.ErrKeyNotFound

type Config struct {
	Path             string
	MinimumFreeSpace int // GB; 0 disables the check
	Logger           *logrus.Logger
	ValueLogFileSize int64
	SyncWrites       bool
}

type Store struct {
	config       Config
	log          *logrus.Logger
	db           *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ValueLogFileSize == 0 {
		cfg.ValueLogFileSize = 1024 * 1024 * 100
	}

	if err := checkDiskSpace(cfg); err != nil {
		return nil, fmt.Errorf("tangle: kvstore disk precheck: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tangle: opening badger db: %w", err)
	}

	cfg.Logger.WithField("path", cfg.Path).Info("kvstore opened")

	return &Store{config: cfg, log: cfg.Logger, db: db}, nil
}

// Get reads a single key. Returns ErrKeyNotFound if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = it.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Has reports whether key exists without copying its value.
func (s *Store) Has(key []byte) (bool, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return exists, err
}

// KV is a single key/value pair for use with WriteBatch.
type KV struct {
	Key   []byte
	Value []byte
}

// WriteBatch writes every pair atomically in one badger transaction, used
// by pkg/tree to couple a dskey write with its ikey, headkey and vkey
// updates (spec.md §4.B: "single atomic KV transaction").
func (s *Store) WriteBatch(kvs []KV) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, kv := range kvs {
			atomic.AddUint64(&s.writeCounter, 1)
			if err := txn.Set(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteBatch removes every key in one atomic transaction.
func (s *Store) DeleteBatch(keys [][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			atomic.AddUint64(&s.writeCounter, 1)
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Entry is a key/value pair returned by a scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanPrefix walks all keys with the given prefix in ascending key order,
// the primitive behind insertion-order iteration and head-index lookups.
func (s *Store) ScanPrefix(prefix []byte) ([]Entry, error) {
	var out []Entry
	atomic.AddUint64(&s.readCounter, 1)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := it.Item()
			key := raw.KeyCopy(nil)
			val, err := raw.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Key: key, Value: val})
		}
		return nil
	})
	return out, err
}

// ScanPrefixReverse walks all keys with the given prefix in descending
// key order, used by pkg/lca's reverse-insertion-order frontier walk.
func (s *Store) ScanPrefixReverse(prefix []byte) ([]Entry, error) {
	var out []Entry
	atomic.AddUint64(&s.readCounter, 1)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			raw := it.Item()
			key := raw.KeyCopy(nil)
			val, err := raw.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Key: key, Value: val})
		}
		return nil
	})
	return out, err
}

func (s *Store) Stats() (reads, writes uint64) {
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("tangle: syncing kvstore: %w", err)
	}
	return s.db.Close()
}
