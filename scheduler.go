package wsrm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
)

// Scheduler drives everything the engine does on its own: retransmission of
// unacknowledged messages, scheduled acknowledgements, the inactivity timeout sweep and
// removal of old terminal snapshots.
//
// It runs two loops on the engine's clock, both ticking every TimeoutHandlerInterval:
//   - send loop: due messages, then due acknowledgements
//   - sweep loop: inactivity timeouts, then terminal snapshot removal
//
// Each pass is also exposed as a method so callers and tests can drive the scheduler
// step by step.
//
// Thread safety: Safe for concurrent use. Every record and sequence is handled under its
// sequence lock.
type Scheduler struct {
	e *Engine
}

func newScheduler(e *Engine) *Scheduler {
	return &Scheduler{e: e}
}

// Run starts both loops and blocks until ctx is canceled.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go engine.Scheduler().Run(ctx)
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	s.e.logger.Info("Scheduler started")
	g.Go(func() error {
		return s.loop(ctx, s.processSendBatch)
	})
	g.Go(func() error {
		return s.loop(ctx, s.processSweepBatch)
	})

	err := g.Wait()
	s.e.logger.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, batch func(ctx context.Context)) error {
	ticker := s.e.clock.NewTicker(s.e.policy.TimeoutHandlerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			batch(ctx)
		}
	}
}

// processSendBatch runs one pass of the send loop.
func (s *Scheduler) processSendBatch(ctx context.Context) {
	sent, err := s.ProcessDueMessages(ctx)
	if err != nil {
		s.e.logger.Errorf("Error processing due messages: %v", err)
	}

	acks, err := s.ProcessAcknowledgements(ctx)
	if err != nil {
		s.e.logger.Errorf("Error processing acknowledgements: %v", err)
	}

	if sent > 0 || acks > 0 {
		s.e.logger.Debugf("Send batch processed: messages=%d, acknowledgements=%d", sent, acks)
	}
}

// processSweepBatch runs one pass of the sweep loop.
func (s *Scheduler) processSweepBatch(ctx context.Context) {
	timedOut, err := s.ProcessTimeouts(ctx)
	if err != nil {
		s.e.logger.Errorf("Error processing sequence timeouts: %v", err)
	}

	removed, err := s.CleanupTerminatedSequences(ctx)
	if err != nil {
		s.e.logger.Errorf("Error removing terminated sequences: %v", err)
	}

	if timedOut > 0 || removed > 0 {
		s.e.logger.Infof("Sweep processed: timed_out=%d, removed=%d", timedOut, removed)
	}
}

// ProcessDueMessages (re)sends every record whose retransmission time has come, oldest
// first, up to the batch size. Records that exhausted their budget are failed instead.
//
// Messages queued on sequences that are not established yet are held out of the scan, so
// they never crowd due records out of the batch. Returns the number of messages sent
// without error. Individual failures are logged but don't stop the batch.
func (s *Scheduler) ProcessDueMessages(ctx context.Context) (int, error) {
	if err := s.e.ready(); err != nil {
		return 0, err
	}

	var records []model.SendRecord
	err := s.e.readTx(ctx, nil, func(_ context.Context, tx *storage.Tx) error {
		var err error
		records, err = tx.FindSendRecords(storage.SendRecordFilter{
			DueBefore: s.e.now(),
			Limit:     s.e.batchSize,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find due messages: %w", err)
	}

	processed := 0
	for i := range records {
		r := &records[i]
		sent, err := s.e.transmitRecord(ctx, r.SequenceID, r.ID)
		if err != nil {
			s.e.logger.Errorf("Failed to send %s %d on sequence %s: %v", r.MessageType, r.MessageNumber, r.SequenceID, err)
			continue
		}
		if sent {
			processed++
		}
	}
	return processed, nil
}

// ProcessAcknowledgements sends the acknowledgements scheduled on inbound sequences whose
// acknowledgement interval elapsed.
func (s *Scheduler) ProcessAcknowledgements(ctx context.Context) (int, error) {
	if err := s.e.ready(); err != nil {
		return 0, err
	}

	ids, err := s.e.sequencesWith(ctx, model.PropAckDueAt)
	if err != nil {
		return 0, fmt.Errorf("failed to find scheduled acknowledgements: %w", err)
	}

	sent := 0
	for _, protocolID := range ids {
		if sent >= s.e.batchSize {
			break
		}

		var (
			ack    *model.Message
			acksTo string
		)
		err := s.e.inTx(ctx, []string{protocolID}, func(_ context.Context, tx *storage.Tx) error {
			seq, ok, err := s.e.loadInbound(tx, protocolID)
			if err != nil || !ok {
				return err
			}
			if seq.AckDueAt.IsZero() || seq.AckDueAt.After(s.e.now()) || seq.Status.IsTerminal() {
				return nil
			}
			seq.AckDueAt = time.Time{}
			ack = model.NewAcknowledgementMessage(protocolID, seq.Completed, seq.Closed)
			acksTo = seq.AcksTo
			return s.e.saveInbound(tx, seq)
		})
		if err != nil {
			s.e.logger.Errorf("Failed to schedule acknowledgement for sequence %s: %v", protocolID, err)
			continue
		}
		if ack == nil {
			continue
		}

		if err := s.e.dispatch(ctx, acksTo, ack); err != nil {
			s.e.logger.Warnf("Failed to send acknowledgement for sequence %s: %v", protocolID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// ProcessTimeouts expires every sequence, in either direction, that has been inactive for
// longer than the inactivity timeout. Expired sequences keep only their terminal snapshot.
// A zero timeout disables the sweep.
func (s *Scheduler) ProcessTimeouts(ctx context.Context) (int, error) {
	if err := s.e.ready(); err != nil {
		return 0, err
	}
	timeout := s.e.policy.InactivityTimeout
	if timeout <= 0 {
		return 0, nil
	}

	outbound, err := s.e.sequencesWith(ctx, model.PropDestination)
	if err != nil {
		return 0, fmt.Errorf("failed to list outbound sequences: %w", err)
	}
	inbound, err := s.e.sequencesWith(ctx, model.PropAcksTo)
	if err != nil {
		return 0, fmt.Errorf("failed to list inbound sequences: %w", err)
	}

	expired := 0
	for _, internalID := range outbound {
		var event *SequenceEvent
		err := s.e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
			seq, ok, err := s.e.loadOutbound(tx, internalID)
			if err != nil || !ok {
				return err
			}
			now := s.e.now()
			if !seq.HasTimedOut(now, timeout) {
				return nil
			}
			if err := s.e.finalizeOutbound(tx, seq, model.StatusTimedOut, now); err != nil {
				return err
			}
			ev := s.e.outboundEvent(seq)
			event = &ev
			return nil
		})
		if err != nil {
			s.e.logger.Errorf("Failed to expire sequence %s: %v", internalID, err)
			continue
		}
		if event != nil {
			s.e.logger.Warnf("Sequence %s timed out after %v of inactivity", internalID, timeout)
			s.e.notify(ctx, *event)
			expired++
		}
	}

	for _, protocolID := range inbound {
		var event *SequenceEvent
		err := s.e.inTx(ctx, []string{protocolID}, func(_ context.Context, tx *storage.Tx) error {
			seq, ok, err := s.e.loadInbound(tx, protocolID)
			if err != nil || !ok {
				return err
			}
			now := s.e.now()
			if !seq.HasTimedOut(now, timeout) {
				return nil
			}
			if err := s.e.finalizeInbound(tx, seq, model.StatusTimedOut, now); err != nil {
				return err
			}
			ev := s.e.inboundEvent(seq)
			event = &ev
			return nil
		})
		if err != nil {
			s.e.logger.Errorf("Failed to expire inbound sequence %s: %v", protocolID, err)
			continue
		}
		if event != nil {
			s.e.logger.Warnf("Inbound sequence %s timed out after %v of inactivity", protocolID, timeout)
			s.e.notify(ctx, *event)
			expired++
		}
	}

	return expired, nil
}

// CleanupTerminatedSequences deletes terminal snapshots older than the sequence removal
// timeout, together with the protocol binding and any failed records. A zero timeout
// keeps snapshots forever.
func (s *Scheduler) CleanupTerminatedSequences(ctx context.Context) (int, error) {
	if err := s.e.ready(); err != nil {
		return 0, err
	}
	removal := s.e.policy.SequenceRemovalTimeout
	if removal <= 0 {
		return 0, nil
	}

	ids, err := s.e.sequencesWith(ctx, model.PropTerminalAt)
	if err != nil {
		return 0, fmt.Errorf("failed to list terminated sequences: %w", err)
	}

	removed := 0
	for _, id := range ids {
		var done bool
		err := s.e.inTx(ctx, []string{id}, func(_ context.Context, tx *storage.Tx) error {
			cutoff := s.e.now().Add(-removal)

			out, ok, err := s.e.loadOutbound(tx, id)
			if err != nil {
				return err
			}
			if ok {
				if !out.Status.IsTerminal() || out.TerminalAt.After(cutoff) {
					return nil
				}
				done = true
				return s.e.purgeOutbound(tx, out)
			}

			in, ok, err := s.e.loadInbound(tx, id)
			if err != nil || !ok {
				return err
			}
			if !in.Status.IsTerminal() || in.TerminalAt.After(cutoff) {
				return nil
			}
			done = true
			return tx.DeleteSequence(id)
		})
		if err != nil {
			s.e.logger.Errorf("Failed to remove sequence %s: %v", id, err)
			continue
		}
		if done {
			removed++
		}
	}

	if removed > 0 {
		s.e.logger.Infof("Removed %d terminated sequences", removed)
	}
	return removed, nil
}

// sequencesWith lists the identities of every sequence that has a property named name.
func (e *Engine) sequencesWith(ctx context.Context, name string) ([]string, error) {
	var ids []string
	err := e.readTx(ctx, nil, func(_ context.Context, tx *storage.Tx) error {
		props, err := tx.FindAllWithName(name)
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(props))
		for _, p := range props {
			ids = append(ids, p.SequenceID)
		}
		return nil
	})
	return ids, err
}
