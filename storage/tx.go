package storage

import (
	"context"
	"fmt"

	"github.com/coregx/wsrm/model"
)

// Tx is a unit of work over the store. Reads observe the transaction's own writes
// layered over committed state; writes become visible to others only at Commit.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	m        *Manager
	ctx      context.Context
	readOnly bool
	locked   []string
	release  func()
	done     bool

	props   map[model.PropertyKey]propWrite
	records map[string]recordWrite
}

// ReadOnly reports whether the transaction rejects writes.
func (tx *Tx) ReadOnly() bool {
	return tx.readOnly
}

// Holds reports whether the transaction owns the lock for a sequence identity.
func (tx *Tx) Holds(sequenceID string) bool {
	for _, k := range tx.locked {
		if k == sequenceID {
			return true
		}
	}
	return false
}

func (tx *Tx) covers(opts TxOptions) bool {
	if tx.readOnly && !opts.ReadOnly {
		return false
	}
	for _, k := range opts.Lock {
		if k != "" && !tx.Holds(k) {
			return false
		}
	}
	return true
}

func (tx *Tx) check(write bool) error {
	if tx.done {
		return ErrTxDone
	}
	if write && tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Retrieve returns the property (sequenceID, name), or ErrNotFound.
func (tx *Tx) Retrieve(sequenceID, name string) (model.SequenceProperty, error) {
	if err := tx.check(false); err != nil {
		return model.SequenceProperty{}, err
	}

	if w, ok := tx.props[model.PropertyKey{SequenceID: sequenceID, Name: name}]; ok {
		if w.deleted {
			return model.SequenceProperty{}, ErrNotFound
		}
		return w.prop, nil
	}
	return tx.m.backend.GetProperty(tx.ctx, sequenceID, name)
}

// Value returns the value of a property, or "" when it does not exist.
func (tx *Tx) Value(sequenceID, name string) (string, error) {
	p, err := tx.Retrieve(sequenceID, name)
	if ErrIsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Value, nil
}

// Find returns every property matching the filter, ordered by (SequenceID, Name).
func (tx *Tx) Find(filter PropertyFilter) ([]model.SequenceProperty, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}

	committed, err := tx.m.backend.FindProperties(tx.ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]model.SequenceProperty, 0, len(committed))
	for _, p := range committed {
		if _, overridden := tx.props[p.Key()]; overridden {
			continue
		}
		out = append(out, p)
	}
	for _, w := range tx.props {
		if !w.deleted && filter.Match(w.prop) {
			out = append(out, w.prop)
		}
	}

	SortProperties(out)
	return out, nil
}

// FindBySequence returns every property stored under a sequence identity.
func (tx *Tx) FindBySequence(sequenceID string) ([]model.SequenceProperty, error) {
	return tx.Find(PropertyFilter{SequenceID: sequenceID})
}

// FindAllWithName returns the property named name of every sequence that has one.
func (tx *Tx) FindAllWithName(name string) ([]model.SequenceProperty, error) {
	return tx.Find(PropertyFilter{Name: name})
}

// Put inserts or replaces a property.
func (tx *Tx) Put(p model.SequenceProperty) error {
	if err := tx.check(true); err != nil {
		return err
	}
	if p.SequenceID == "" || p.Name == "" {
		return fmt.Errorf("property requires sequence id and name")
	}
	tx.props[p.Key()] = propWrite{prop: p}
	return nil
}

// PutAll inserts or replaces several properties.
func (tx *Tx) PutAll(props []model.SequenceProperty) error {
	for _, p := range props {
		if err := tx.Put(p); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a property. Deleting a missing property is not an error.
func (tx *Tx) Delete(sequenceID, name string) error {
	if err := tx.check(true); err != nil {
		return err
	}
	tx.props[model.PropertyKey{SequenceID: sequenceID, Name: name}] = propWrite{deleted: true}
	return nil
}

// DeleteSequence removes every property stored under a sequence identity.
func (tx *Tx) DeleteSequence(sequenceID string) error {
	if err := tx.check(true); err != nil {
		return err
	}
	props, err := tx.FindBySequence(sequenceID)
	if err != nil {
		return err
	}
	for _, p := range props {
		tx.props[p.Key()] = propWrite{deleted: true}
	}
	return nil
}

// GetSendRecord returns a send record by ID, or ErrNotFound.
func (tx *Tx) GetSendRecord(id string) (model.SendRecord, error) {
	if err := tx.check(false); err != nil {
		return model.SendRecord{}, err
	}
	if w, ok := tx.records[id]; ok {
		if w.deleted {
			return model.SendRecord{}, ErrNotFound
		}
		return w.record, nil
	}
	return tx.m.backend.GetSendRecord(tx.ctx, id)
}

// FindSendRecords returns the records matching the filter.
func (tx *Tx) FindSendRecords(filter SendRecordFilter) ([]model.SendRecord, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}

	unlimited := filter
	unlimited.Limit = 0
	committed, err := tx.m.backend.FindSendRecords(tx.ctx, unlimited)
	if err != nil {
		return nil, err
	}

	out := make([]model.SendRecord, 0, len(committed))
	for _, r := range committed {
		if _, overridden := tx.records[r.ID]; overridden {
			continue
		}
		out = append(out, r)
	}
	for _, w := range tx.records {
		if !w.deleted && filter.Match(w.record) {
			out = append(out, w.record)
		}
	}

	return SortAndLimitRecords(out, filter), nil
}

// PutSendRecord inserts or replaces a send record.
func (tx *Tx) PutSendRecord(r model.SendRecord) error {
	if err := tx.check(true); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("send record requires an id")
	}
	tx.records[r.ID] = recordWrite{record: r}
	return nil
}

// DeleteSendRecord removes a send record. Deleting a missing record is not an error.
func (tx *Tx) DeleteSendRecord(id string) error {
	if err := tx.check(true); err != nil {
		return err
	}
	tx.records[id] = recordWrite{deleted: true}
	return nil
}

// batch reduces the write set.
func (tx *Tx) batch() *Batch {
	b := &Batch{}
	for key, w := range tx.props {
		if w.deleted {
			b.DeleteProperties = append(b.DeleteProperties, key)
		} else {
			b.PutProperties = append(b.PutProperties, w.prop)
		}
	}
	for id, w := range tx.records {
		if w.deleted {
			b.DeleteRecords = append(b.DeleteRecords, id)
		} else {
			b.PutRecords = append(b.PutRecords, w.record)
		}
	}
	return b
}

// Commit applies every buffered write atomically and releases the transaction's locks.
// If the backend fails, nothing is applied and the error is returned.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.finish()

	b := tx.batch()
	if b.Empty() {
		return nil
	}
	if err := tx.m.backend.Apply(tx.ctx, b); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Calling Rollback after Commit is a no-op, so it
// is safe to defer.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	tx.props = nil
	tx.records = nil
	tx.release()
}
