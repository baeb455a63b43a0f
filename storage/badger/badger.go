// Package badger provides the permanent embedded storage backend on BadgerDB.
//
// Keys:
//
//	p/<sequenceID>\x00<name>   JSON model.SequenceProperty
//	r/<recordID>               JSON model.SendRecord
//
// Record IDs start with the owning sequence identity, so both key spaces can be
// scanned per sequence with a prefix iterator.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Backend = (*Store)(nil)

const (
	propertyPrefix = "p/"
	recordPrefix   = "r/"
)

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string        // Directory for BadgerDB data
	InMemory   bool          // Run without touching disk (tests)
	SyncWrites bool          // fsync every commit
	GCInterval time.Duration // Value log GC period (default 5m)
}

// Store is a BadgerDB-backed storage.Backend.
type Store struct {
	db *badger.DB

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// New opens (or creates) a BadgerDB store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s := &Store{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runGC(interval)

	return s, nil
}

func propertyKey(sequenceID, name string) []byte {
	return []byte(propertyPrefix + sequenceID + "\x00" + name)
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

// GetProperty implements storage.Backend.
func (s *Store) GetProperty(_ context.Context, sequenceID, name string) (model.SequenceProperty, error) {
	var p model.SequenceProperty
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(propertyKey(sequenceID, name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	return p, err
}

// FindProperties implements storage.Backend.
func (s *Store) FindProperties(_ context.Context, filter storage.PropertyFilter) ([]model.SequenceProperty, error) {
	prefix := propertyPrefix
	if filter.SequenceID != "" {
		prefix += filter.SequenceID + "\x00"
	}

	out := []model.SequenceProperty{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p model.SequenceProperty
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			if filter.Match(p) {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	storage.SortProperties(out)
	return out, nil
}

// GetSendRecord implements storage.Backend.
func (s *Store) GetSendRecord(_ context.Context, id string) (model.SendRecord, error) {
	var r model.SendRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	return r, err
}

// FindSendRecords implements storage.Backend.
func (s *Store) FindSendRecords(_ context.Context, filter storage.SendRecordFilter) ([]model.SendRecord, error) {
	prefix := recordPrefix
	if filter.SequenceID != "" {
		prefix += filter.SequenceID + "/"
	}

	out := []model.SendRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r model.SendRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if filter.Match(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return storage.SortAndLimitRecords(out, filter), nil
}

// Apply implements storage.Backend. The batch is written in a single badger
// transaction, so it commits atomically.
func (s *Store) Apply(_ context.Context, batch *storage.Batch) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range batch.DeleteProperties {
			if err := txn.Delete(propertyKey(key.SequenceID, key.Name)); err != nil {
				return err
			}
		}
		for _, p := range batch.PutProperties {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := txn.Set(propertyKey(p.SequenceID, p.Name), data); err != nil {
				return err
			}
		}
		for _, id := range batch.DeleteRecords {
			if err := txn.Delete(recordKey(id)); err != nil {
				return err
			}
		}
		for _, r := range batch.PutRecords {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means nothing was worth collecting
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
