package storage

import (
	"context"
	"fmt"

	"github.com/coregx/wsrm/model"
)

// Manager opens transactions over a Backend.
//
// A Manager is an explicit instance: construct one per backend at startup and pass it
// to the components that need it.
type Manager struct {
	backend Backend
	locks   *lockManager
}

// NewManager creates a transaction manager over backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		locks:   newLockManager(),
	}
}

// Backend returns the underlying backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// TxOptions configures a transaction.
type TxOptions struct {
	// Lock lists the sequence identities to lock for the lifetime of the transaction.
	Lock []string

	// ReadOnly rejects writes.
	ReadOnly bool
}

// Begin starts a transaction, blocking until every requested lock is held or ctx ends.
func (m *Manager) Begin(ctx context.Context, opts TxOptions) (*Tx, error) {
	release, err := m.locks.acquire(ctx, opts.Lock)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sequence locks: %w", err)
	}

	return &Tx{
		m:        m,
		ctx:      ctx,
		readOnly: opts.ReadOnly,
		locked:   normalizeKeys(opts.Lock),
		release:  release,
		props:    make(map[model.PropertyKey]propWrite),
		records:  make(map[string]recordWrite),
	}, nil
}

// InTx runs fn inside a transaction.
//
// If ctx already carries a transaction that holds every requested lock (and allows
// writes when opts does), fn runs inside it and the caller's transaction decides the
// outcome. Otherwise a new transaction is opened, committed when fn returns nil and
// rolled back when it returns an error.
func (m *Manager) InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx *Tx) error) error {
	if outer, ok := TxFromContext(ctx); ok && outer.m == m && outer.covers(opts) {
		return fn(ctx, outer)
	}

	tx, err := m.Begin(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ContextWithTx(ctx, tx), tx); err != nil {
		return err
	}
	return tx.Commit()
}

type txKey struct{}

// ContextWithTx returns a context carrying tx, marking the logical operation as being
// within a transaction.
func ContextWithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the live transaction carried by ctx.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	if !ok || tx.done {
		return nil, false
	}
	return tx, true
}

type propWrite struct {
	prop    model.SequenceProperty
	deleted bool
}

type recordWrite struct {
	record  model.SendRecord
	deleted bool
}
