// Package storage is the transactional property store that holds all protocol state.
//
// Backends persist two record kinds, sequence properties and send records, and apply
// batches atomically. The Manager layers transactions on top: writes are buffered in a
// per-transaction write set, reads see that write set over committed state, and commit
// hands the whole batch to the backend in one call. Per-sequence locks taken at Begin
// serialize transactions that touch the same sequence while letting transactions on
// disjoint sequences proceed in parallel.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/coregx/wsrm/model"
)

// Storage errors.
var (
	// ErrNotFound is returned when a property or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned when writing through a read-only transaction.
	ErrReadOnly = errors.New("transaction is read-only")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("transaction already finished")

	// ErrClosed is returned by a closed backend.
	ErrClosed = errors.New("store closed")
)

// ErrIsNotFound reports whether err is (or wraps) ErrNotFound.
func ErrIsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Backend persists committed state. Implementations must make Apply atomic: either
// every write in the batch becomes visible or none does.
type Backend interface {
	// GetProperty returns ErrNotFound if absent.
	GetProperty(ctx context.Context, sequenceID, name string) (model.SequenceProperty, error)

	// FindProperties returns every property matching the filter, ordered by
	// (SequenceID, Name). No match yields an empty slice and no error.
	FindProperties(ctx context.Context, filter PropertyFilter) ([]model.SequenceProperty, error)

	// GetSendRecord returns ErrNotFound if absent.
	GetSendRecord(ctx context.Context, id string) (model.SendRecord, error)

	// FindSendRecords returns every record matching the filter, ordered as described
	// on SendRecordFilter.
	FindSendRecords(ctx context.Context, filter SendRecordFilter) ([]model.SendRecord, error)

	// Apply writes a batch atomically.
	Apply(ctx context.Context, batch *Batch) error

	// Close releases backend resources.
	Close() error
}

// PropertyFilter selects properties. Empty fields are ignored; the rest are ANDed.
type PropertyFilter struct {
	SequenceID         string
	Name               string
	Value              string
	InternalSequenceID string
	NamePrefix         string
}

// Match reports whether p satisfies the filter.
func (f PropertyFilter) Match(p model.SequenceProperty) bool {
	if f.SequenceID != "" && p.SequenceID != f.SequenceID {
		return false
	}
	if f.Name != "" && p.Name != f.Name {
		return false
	}
	if f.Value != "" && p.Value != f.Value {
		return false
	}
	if f.InternalSequenceID != "" && p.InternalSequenceID != f.InternalSequenceID {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(p.Name, f.NamePrefix) {
		return false
	}
	return true
}

// SendRecordFilter selects send records. Empty fields are ignored.
//
// When DueBefore is set only schedulable, non-held records with NextRetransmitAt <=
// DueBefore match, ordered by NextRetransmitAt then ID; otherwise results are ordered by ID.
// Limit caps the result size when positive.
type SendRecordFilter struct {
	SequenceID string
	Status     model.SendStatus
	DueBefore  time.Time
	Limit      int
}

// Match reports whether r satisfies the filter (ignoring Limit).
func (f SendRecordFilter) Match(r model.SendRecord) bool {
	if f.SequenceID != "" && r.SequenceID != f.SequenceID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.DueBefore.IsZero() && !r.IsDue(f.DueBefore) {
		return false
	}
	return true
}

// SortProperties orders properties by (SequenceID, Name).
func SortProperties(props []model.SequenceProperty) {
	sort.Slice(props, func(i, j int) bool {
		if props[i].SequenceID != props[j].SequenceID {
			return props[i].SequenceID < props[j].SequenceID
		}
		return props[i].Name < props[j].Name
	})
}

// SortAndLimitRecords orders records per the filter and applies its limit.
func SortAndLimitRecords(records []model.SendRecord, f SendRecordFilter) []model.SendRecord {
	if f.DueBefore.IsZero() {
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	} else {
		sort.Slice(records, func(i, j int) bool {
			if !records[i].NextRetransmitAt.Equal(records[j].NextRetransmitAt) {
				return records[i].NextRetransmitAt.Before(records[j].NextRetransmitAt)
			}
			return records[i].ID < records[j].ID
		})
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records
}

// Batch is the write set of a transaction, reduced to the final state per key:
// a key appears in at most one of the put or delete lists.
type Batch struct {
	PutProperties    []model.SequenceProperty
	DeleteProperties []model.PropertyKey
	PutRecords       []model.SendRecord
	DeleteRecords    []string
}

// Empty reports whether the batch has no writes.
func (b *Batch) Empty() bool {
	return len(b.PutProperties) == 0 && len(b.DeleteProperties) == 0 &&
		len(b.PutRecords) == 0 && len(b.DeleteRecords) == 0
}
