package wsrm

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/wsrm/identity"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/policy"
	"github.com/coregx/wsrm/retry"
	"github.com/coregx/wsrm/storage"
	"github.com/coregx/wsrm/storage/memory"
	"github.com/jonboulle/clockwork"
)

type engineState int

const (
	engineNew engineState = iota
	engineReady
	engineStopped
)

// Engine is the sequence lifecycle and reliability engine.
//
// It owns the outbound (initiator) and inbound (responder) sides of every sequence.
// All protocol state lives in the storage backend; the engine keeps nothing in memory
// across calls except wait notifications, so every operation re-derives its view from
// the store inside a transaction locked on the sequence it touches.
//
// Thread safety: Safe for concurrent use.
type Engine struct {
	policy        *policy.Policy
	strategy      retry.Strategy
	backend       storage.Backend
	store         *storage.Manager
	sender        Sender
	handler       Handler
	endpoint      string
	clock         clockwork.Clock
	logger        Logger
	notifications NotificationService
	metrics       *Metrics
	batchSize     int
	watchers      *watchers
	scheduler     *Scheduler

	mu     sync.Mutex
	state  engineState
	cancel context.CancelFunc
	done   chan error
}

// NewEngine creates a new engine with the provided options.
//
// Required options:
//   - WithSender: the message-send primitive
//   - WithLogger: logger instance
//
// Optional options:
//   - WithPolicy: reliability policy (default: policy.Default())
//   - WithBackend: storage backend (default: in-memory)
//   - WithHandler, WithEndpoint, WithClock, WithNotifications, WithMetrics, WithBatchSize
//
// The engine must be initialized with Init before use.
func NewEngine(opts ...Option) (*Engine, error) {
	// Default configuration
	e := &Engine{
		policy:        policy.Default(),
		clock:         clockwork.NewRealClock(),
		notifications: &NoOpNotificationService{},
		batchSize:     100,
		watchers:      newWatchers(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	// Validate required dependencies
	if e.sender == nil {
		return nil, NewError(ErrCodeConfiguration, "Sender is required (use WithSender)")
	}
	if e.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}

	if e.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		e.metrics = m
	}

	return e, nil
}

// Init validates the policy and opens the storage backend. It must be called once
// before any other operation.
func (e *Engine) Init(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != engineNew {
		return NewError(ErrCodeInvalidState, "engine already initialized")
	}

	if err := e.policy.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeConfiguration, "invalid policy", err)
	}
	e.strategy = e.policy.Strategy()
	if err := e.strategy.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeConfiguration, "invalid retransmission strategy", err)
	}

	if e.backend == nil {
		if e.policy.StorageManager == policy.Permanent {
			return NewError(ErrCodeConfiguration, "permanent storage requires a backend (use WithBackend)")
		}
		e.backend = memory.New()
	}

	e.store = storage.NewManager(e.backend)
	e.scheduler = newScheduler(e)
	e.state = engineReady

	e.logger.Infof("Engine initialized (storage=%s, spec=%s, retransmission=%v, backoff=%t, max=%d)",
		e.policy.StorageManager, e.policy.SpecVersion, e.strategy.Interval,
		e.strategy.ExponentialBackoff, e.strategy.MaxRetransmissions)
	return nil
}

// Start runs the background scheduler until Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != engineReady {
		return NewError(ErrCodeInvalidState, "engine not initialized")
	}
	if e.cancel != nil {
		return NewError(ErrCodeInvalidState, "engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan error, 1)
	go func() {
		e.done <- e.scheduler.Run(runCtx)
	}()
	return nil
}

// Shutdown stops the scheduler, waiting for it until ctx ends, and closes the backend.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != engineReady {
		return nil
	}
	e.state = engineStopped

	if e.cancel != nil {
		e.cancel()
		select {
		case err := <-e.done:
			if err != nil {
				e.logger.Warnf("Scheduler stopped with error: %v", err)
			}
		case <-ctx.Done():
			e.logger.Warnf("Scheduler did not stop before shutdown deadline")
		}
	}

	if err := e.store.Close(); err != nil {
		return NewErrorWithCause(ErrCodeStorage, "failed to close backend", err)
	}
	e.logger.Info("Engine stopped")
	return nil
}

// Scheduler returns the retransmission scheduler, for callers that run it themselves
// instead of using Start.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Policy returns a copy of the engine's policy.
func (e *Engine) Policy() *policy.Policy {
	return e.policy.Clone()
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case engineNew:
		return NewError(ErrCodeConfiguration, "engine not initialized (call Init)")
	case engineStopped:
		return NewError(ErrCodeInvalidState, "engine stopped")
	}
	return nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// internalID derives the internal identity of an outbound sequence.
func (e *Engine) internalID(destination, key string) (string, error) {
	if destination == "" {
		return "", NewError(ErrCodeConfiguration, "destination is required")
	}
	id, err := identity.InternalSequenceID(destination, key)
	if err != nil {
		return "", NewErrorWithCause(ErrCodeConfiguration, "failed to derive sequence identity", err)
	}
	return id, nil
}

// inTx runs fn in a transaction locking the given sequences and maps store failures
// into the error taxonomy.
func (e *Engine) inTx(ctx context.Context, lock []string, fn func(ctx context.Context, tx *storage.Tx) error) error {
	err := e.store.InTx(ctx, storage.TxOptions{Lock: lock}, fn)
	return storageError("transaction failed", err)
}

// readTx runs fn in a read-only transaction.
func (e *Engine) readTx(ctx context.Context, lock []string, fn func(ctx context.Context, tx *storage.Tx) error) error {
	err := e.store.InTx(ctx, storage.TxOptions{Lock: lock, ReadOnly: true}, fn)
	return storageError("read failed", err)
}

func (e *Engine) loadOutbound(tx *storage.Tx, internalID string) (*model.OutboundSequence, bool, error) {
	props, err := tx.FindBySequence(internalID)
	if err != nil {
		return nil, false, err
	}
	return model.OutboundFromProperties(internalID, props)
}

// saveOutbound replaces the stored view with seq.
func (e *Engine) saveOutbound(tx *storage.Tx, seq *model.OutboundSequence) error {
	return replaceProperties(tx, seq.InternalID, seq.Properties(), nil)
}

func (e *Engine) loadInbound(tx *storage.Tx, protocolID string) (*model.InboundSequence, bool, error) {
	props, err := tx.FindBySequence(protocolID)
	if err != nil {
		return nil, false, err
	}
	return model.InboundFromProperties(protocolID, props)
}

// saveInbound replaces the stored view with seq, leaving buffered messages alone.
func (e *Engine) saveInbound(tx *storage.Tx, seq *model.InboundSequence) error {
	return replaceProperties(tx, seq.ProtocolID, seq.Properties(), model.IsPendingMessageName)
}

func replaceProperties(tx *storage.Tx, sequenceID string, props []model.SequenceProperty, keep func(name string) bool) error {
	existing, err := tx.FindBySequence(sequenceID)
	if err != nil {
		return err
	}

	next := make(map[string]bool, len(props))
	for _, p := range props {
		next[p.Name] = true
	}
	for _, p := range existing {
		if next[p.Name] || (keep != nil && keep(p.Name)) {
			continue
		}
		if err := tx.Delete(sequenceID, p.Name); err != nil {
			return err
		}
	}
	return tx.PutAll(props)
}

// resolveOutbound maps a protocol identifier to the internal identity bound to it.
func (e *Engine) resolveOutbound(ctx context.Context, protocolID string) (string, bool, error) {
	if protocolID == "" {
		return "", false, nil
	}
	var internalID string
	err := e.readTx(ctx, nil, func(_ context.Context, tx *storage.Tx) error {
		v, err := tx.Value(protocolID, model.PropInternalSequenceID)
		internalID = v
		return err
	})
	if err != nil {
		return "", false, err
	}
	return internalID, internalID != "", nil
}

// isInbound reports whether protocolID names an inbound sequence.
func (e *Engine) isInbound(ctx context.Context, protocolID string) (bool, error) {
	if protocolID == "" {
		return false, nil
	}
	var found bool
	err := e.readTx(ctx, nil, func(_ context.Context, tx *storage.Tx) error {
		v, err := tx.Retrieve(protocolID, model.PropAcksTo)
		if storage.ErrIsNotFound(err) {
			return nil
		}
		found = err == nil && v.SequenceID != ""
		return err
	})
	return found, err
}

func (e *Engine) outboundEvent(seq *model.OutboundSequence) SequenceEvent {
	return SequenceEvent{
		Direction:          model.DirectionOut,
		SequenceID:         seq.ProtocolID,
		InternalSequenceID: seq.InternalID,
		Destination:        seq.Destination,
		Status:             seq.Status,
		At:                 e.now(),
	}
}

func (e *Engine) inboundEvent(seq *model.InboundSequence) SequenceEvent {
	return SequenceEvent{
		Direction:   model.DirectionIn,
		SequenceID:  seq.ProtocolID,
		Destination: seq.AcksTo,
		Status:      seq.Status,
		At:          e.now(),
	}
}

// notify delivers a lifecycle notification for a committed transition.
func (e *Engine) notify(ctx context.Context, event SequenceEvent) {
	e.metrics.transition(event.Direction, event.Status)
	if event.InternalSequenceID != "" {
		e.watchers.wake(event.InternalSequenceID)
	}

	var err error
	switch event.Status {
	case model.StatusEstablished:
		err = e.notifications.NotifySequenceEstablished(ctx, event)
	case model.StatusTerminated:
		err = e.notifications.NotifySequenceTerminated(ctx, event)
	case model.StatusTimedOut:
		err = e.notifications.NotifySequenceTimedOut(ctx, event)
	}
	if err != nil {
		e.logger.Warnf("Failed to send sequence notification: %v", err)
	}
}
