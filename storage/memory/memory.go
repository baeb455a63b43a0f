// Package memory provides the in-memory storage backend.
//
// State lives in maps guarded by a single RWMutex; Apply takes the write lock for the
// whole batch, which makes commits atomic. Nothing survives a process restart.
package memory

import (
	"context"
	"sync"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
)

var _ storage.Backend = (*Store)(nil)

// Store is an in-memory storage.Backend.
type Store struct {
	mu      sync.RWMutex
	props   map[model.PropertyKey]model.SequenceProperty
	records map[string]model.SendRecord
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		props:   make(map[model.PropertyKey]model.SequenceProperty),
		records: make(map[string]model.SendRecord),
	}
}

// GetProperty implements storage.Backend.
func (s *Store) GetProperty(_ context.Context, sequenceID, name string) (model.SequenceProperty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.SequenceProperty{}, storage.ErrClosed
	}

	p, ok := s.props[model.PropertyKey{SequenceID: sequenceID, Name: name}]
	if !ok {
		return model.SequenceProperty{}, storage.ErrNotFound
	}
	return p, nil
}

// FindProperties implements storage.Backend.
func (s *Store) FindProperties(_ context.Context, filter storage.PropertyFilter) ([]model.SequenceProperty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	out := []model.SequenceProperty{}
	for _, p := range s.props {
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	storage.SortProperties(out)
	return out, nil
}

// GetSendRecord implements storage.Backend.
func (s *Store) GetSendRecord(_ context.Context, id string) (model.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return model.SendRecord{}, storage.ErrClosed
	}

	r, ok := s.records[id]
	if !ok {
		return model.SendRecord{}, storage.ErrNotFound
	}
	return cloneRecord(r), nil
}

// FindSendRecords implements storage.Backend.
func (s *Store) FindSendRecords(_ context.Context, filter storage.SendRecordFilter) ([]model.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	out := []model.SendRecord{}
	for _, r := range s.records {
		if filter.Match(r) {
			out = append(out, cloneRecord(r))
		}
	}
	return storage.SortAndLimitRecords(out, filter), nil
}

// Apply implements storage.Backend.
func (s *Store) Apply(_ context.Context, batch *storage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	for _, key := range batch.DeleteProperties {
		delete(s.props, key)
	}
	for _, p := range batch.PutProperties {
		s.props[p.Key()] = p
	}
	for _, id := range batch.DeleteRecords {
		delete(s.records, id)
	}
	for _, r := range batch.PutRecords {
		s.records[r.ID] = cloneRecord(r)
	}
	return nil
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Len returns the number of stored properties and send records.
func (s *Store) Len() (properties, records int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.props), len(s.records)
}

func cloneRecord(r model.SendRecord) model.SendRecord {
	if r.Payload != nil {
		r.Payload = append([]byte(nil), r.Payload...)
	}
	return r
}
