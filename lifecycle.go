package wsrm

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/wsrm/identity"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
)

// CreateOptions configures a new outbound sequence.
type CreateOptions struct {
	// Offer proposes a reverse sequence the peer can use to reply reliably.
	Offer bool

	// SecurityToken references a token the sequence is bound to. It is carried, not
	// interpreted.
	SecurityToken string

	// SpecVersion overrides the policy's protocol version for this sequence.
	SpecVersion model.SpecVersion
}

// Validate checks the options.
func (o CreateOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.SpecVersion, validation.In(model.SpecVersion10, model.SpecVersion11)),
	)
}

// SendOptions configures an application send.
type SendOptions struct {
	// LastMessage marks the message as the final one of the sequence.
	LastMessage bool

	// Create applies when the send has to open the sequence.
	Create CreateOptions
}

// CreateSequence opens the outbound sequence addressed by (destination, key) and returns
// its internal identity.
//
// The call is idempotent while the sequence is live. A sequence in a terminal state is
// discarded and a fresh one is created in its place. The CreateSequence request is
// persisted as a retransmittable record before it is sent, so a transport failure is
// returned to the caller but the handshake is still retried by the scheduler.
func (e *Engine) CreateSequence(ctx context.Context, destination, key string, opts CreateOptions) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := opts.Validate(); err != nil {
		return "", NewErrorWithCause(ErrCodeConfiguration, "invalid create options", err)
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return "", err
	}

	var recordID string
	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		recordID, err = e.openSequence(tx, internalID, destination, key, opts)
		return err
	})
	if err != nil {
		return "", err
	}
	if recordID == "" {
		return internalID, nil
	}

	e.metrics.transition(model.DirectionOut, model.StatusEstablishing)
	e.logger.Infof("Creating sequence %s (destination=%s, key=%s, offer=%t)", internalID, destination, key, opts.Offer)

	if err := e.transmit(ctx, internalID, recordID); err != nil {
		return internalID, err
	}
	return internalID, nil
}

// openSequence creates the sequence inside tx unless a live one exists. It returns the ID
// of the CreateSequence record to transmit, or "" when nothing was created.
func (e *Engine) openSequence(tx *storage.Tx, internalID, destination, key string, opts CreateOptions) (string, error) {
	seq, ok, err := e.loadOutbound(tx, internalID)
	if err != nil {
		return "", err
	}
	if ok && seq.Status.IsLive() {
		return "", nil
	}
	if ok {
		if err := e.purgeOutbound(tx, seq); err != nil {
			return "", err
		}
	}

	now := e.now()
	version := opts.SpecVersion
	if version == "" {
		version = e.policy.SpecVersion
	}

	seq = model.NewOutboundSequence(internalID, destination, key, version, now)
	seq.SecurityTokenRef = opts.SecurityToken
	if opts.Offer {
		seq.OfferedProtocolID = identity.NewProtocolID()
	}

	rec := model.NewControlRecord(internalID, destination, identity.NewMessageID(), model.MessageCreateSequence, now)
	seq.CreateMessageID = rec.MessageID
	if err := seq.Transition(model.StatusEstablishing, now); err != nil {
		return "", transitionError(seq.Status, model.StatusEstablishing)
	}

	if err := e.saveOutbound(tx, seq); err != nil {
		return "", err
	}
	if err := tx.PutSendRecord(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Send admits an application message on the sequence addressed by (destination, key),
// creating the sequence first if needed, and returns the assigned message number.
//
// Numbers are assigned under the sequence lock, so concurrent senders get 1..N without
// gaps. Until the sequence is established the message waits in PENDING_FIRST_SEND; a
// transport failure is recorded as the sequence's last send error and left to the
// retransmission scheduler.
func (e *Engine) Send(ctx context.Context, destination, key string, payload []byte, opts SendOptions) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := opts.Create.Validate(); err != nil {
		return 0, NewErrorWithCause(ErrCodeConfiguration, "invalid create options", err)
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return 0, err
	}

	var (
		number      int64
		createID    string
		recordID    string
		established bool
	)
	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		createID, err = e.openSequence(tx, internalID, destination, key, opts.Create)
		if err != nil {
			return err
		}
		seq, _, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !seq.AcceptsMessages() {
			return NewError(ErrCodeInvalidState,
				fmt.Sprintf("sequence %s does not accept messages (status=%s)", internalID, seq.Status))
		}

		now := e.now()
		seq.LastMessageNumber++
		number = seq.LastMessageNumber
		if opts.LastMessage {
			seq.LastOutMessage = number
		}
		seq.Touch(now)
		established = seq.Status == model.StatusEstablished

		body := make([]byte, len(payload))
		copy(body, payload)
		rec := model.NewApplicationRecord(internalID, destination, identity.NewMessageID(), number, body, opts.LastMessage, now)
		if !established {
			rec.Hold()
		}
		recordID = rec.ID

		if err := e.saveOutbound(tx, seq); err != nil {
			return err
		}
		return tx.PutSendRecord(rec)
	})
	if err != nil {
		return 0, err
	}

	if createID != "" {
		e.metrics.transition(model.DirectionOut, model.StatusEstablishing)
		if err := e.transmit(ctx, internalID, createID); err != nil {
			e.logger.Warnf("Failed to create sequence %s, message %d stays queued: %v", internalID, number, err)
		}
		return number, nil
	}

	if established {
		if err := e.transmit(ctx, internalID, recordID); err != nil {
			e.logger.Warnf("Failed to send message %d on sequence %s, will retransmit: %v", number, internalID, err)
		}
	}
	return number, nil
}

// TerminateSequence requests termination of an established or closing sequence.
//
// Pending application messages are dequeued immediately and a TerminateSequence request
// is sent. The sequence reaches TERMINATED once the peer confirms; protocol version 1.0
// has no confirmation and finalizes on a successful send. Calling it again while a
// request is outstanding does nothing.
func (e *Engine) TerminateSequence(ctx context.Context, destination, key string) error {
	if err := e.ready(); err != nil {
		return err
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return err
	}

	var recordID string
	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoData
		}

		switch seq.Status {
		case model.StatusInitial, model.StatusEstablishing:
			return ErrNotEstablished
		case model.StatusEstablished, model.StatusClosing:
		default:
			return NewError(ErrCodeInvalidState,
				fmt.Sprintf("cannot terminate sequence %s in status %s", internalID, seq.Status))
		}
		if seq.TerminateRequested {
			return nil
		}

		recordID, err = e.requestTermination(tx, seq, e.now())
		return err
	})
	if err != nil || recordID == "" {
		return err
	}

	e.logger.Infof("Terminating sequence %s", internalID)
	return e.transmit(ctx, internalID, recordID)
}

// requestTermination dequeues application records and registers the TerminateSequence
// request. It returns the record to transmit.
func (e *Engine) requestTermination(tx *storage.Tx, seq *model.OutboundSequence, now time.Time) (string, error) {
	dropped, err := e.dequeueApplication(tx, seq.InternalID)
	if err != nil {
		return "", err
	}
	if dropped > 0 {
		e.logger.Debugf("Dequeued %d application messages of sequence %s", dropped, seq.InternalID)
	}

	seq.TerminateRequested = true
	seq.Touch(now)
	rec := model.NewControlRecord(seq.InternalID, seq.Destination, identity.NewMessageID(), model.MessageTerminateSequence, now)

	if err := e.saveOutbound(tx, seq); err != nil {
		return "", err
	}
	if err := tx.PutSendRecord(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// dequeueApplication removes every application record still scheduled for sending.
// Failed records are kept for reporting.
func (e *Engine) dequeueApplication(tx *storage.Tx, internalID string) (int, error) {
	records, err := tx.FindSendRecords(storage.SendRecordFilter{SequenceID: internalID})
	if err != nil {
		return 0, err
	}

	dropped := 0
	for i := range records {
		if !records[i].IsApplication() || records[i].Status == model.SendStatusFailed {
			continue
		}
		if err := tx.DeleteSendRecord(records[i].ID); err != nil {
			return dropped, err
		}
		dropped++
	}
	return dropped, nil
}

// CloseSequence closes an established sequence: no more messages are admitted and the
// peer answers with the final acknowledgement. Closing exists only in protocol version 1.1.
func (e *Engine) CloseSequence(ctx context.Context, destination, key string) error {
	if err := e.ready(); err != nil {
		return err
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return err
	}

	var (
		recordID string
		event    SequenceEvent
	)
	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoData
		}
		if !seq.SpecVersion.SupportsClosing() {
			return NewError(ErrCodeProtocolVersion,
				fmt.Sprintf("sequence closing is not supported by protocol version %s", seq.SpecVersion))
		}

		switch seq.Status {
		case model.StatusInitial, model.StatusEstablishing:
			return ErrNotEstablished
		case model.StatusEstablished:
		default:
			return NewError(ErrCodeInvalidState,
				fmt.Sprintf("cannot close sequence %s in status %s", internalID, seq.Status))
		}

		now := e.now()
		if err := seq.Transition(model.StatusClosing, now); err != nil {
			return transitionError(seq.Status, model.StatusClosing)
		}
		seq.Touch(now)
		if _, err := e.dequeueApplication(tx, internalID); err != nil {
			return err
		}

		rec := model.NewControlRecord(internalID, seq.Destination, identity.NewMessageID(), model.MessageCloseSequence, now)
		recordID = rec.ID
		event = e.outboundEvent(seq)

		if err := e.saveOutbound(tx, seq); err != nil {
			return err
		}
		return tx.PutSendRecord(rec)
	})
	if err != nil {
		return err
	}

	e.notify(ctx, event)
	e.logger.Infof("Closing sequence %s", internalID)
	return e.transmit(ctx, internalID, recordID)
}

// SendAckRequest asks the peer for an immediate acknowledgement of the sequence.
// Unsolicited ack requests exist only in protocol version 1.1.
func (e *Engine) SendAckRequest(ctx context.Context, destination, key string) error {
	if err := e.ready(); err != nil {
		return err
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return err
	}

	var seq *model.OutboundSequence
	err = e.readTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		s, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoData
		}
		seq = s
		return nil
	})
	if err != nil {
		return err
	}

	if !seq.SpecVersion.SupportsAckRequest() {
		return NewError(ErrCodeProtocolVersion,
			fmt.Sprintf("ack requests are not supported by protocol version %s", seq.SpecVersion))
	}
	if seq.ProtocolID == "" {
		return ErrNotEstablished
	}
	if seq.Status.IsTerminal() {
		return NewError(ErrCodeInvalidState,
			fmt.Sprintf("cannot request acknowledgement on sequence %s in status %s", internalID, seq.Status))
	}

	msg := &model.Message{
		Type:        model.MessageAckRequested,
		MessageID:   identity.NewMessageID(),
		SequenceID:  seq.ProtocolID,
		SpecVersion: seq.SpecVersion,
	}
	return e.dispatch(ctx, seq.Destination, msg)
}

// dispatch sends a message that has no send record and handles the reply.
func (e *Engine) dispatch(ctx context.Context, destination string, msg *model.Message) error {
	if e.policy.Drops(msg.Type) {
		e.logger.Debugf("Dropping %s for sequence %s", msg.Type, msg.SequenceID)
		return nil
	}

	reply, err := e.sender.Send(ctx, destination, msg)
	e.metrics.sent(msg.Type)
	if err != nil {
		return NewErrorWithCause(ErrCodeTransport, fmt.Sprintf("failed to send %s", msg.Type), err)
	}
	return e.handleReply(ctx, reply)
}

// transmit sends one send record and records the outcome.
//
// The record is claimed in one transaction (first send, retransmission, or failure once
// the budget is spent), sent outside any transaction, and the result is recorded in a
// second one. A record that disappeared in between was acknowledged or dequeued.
func (e *Engine) transmit(ctx context.Context, internalID, recordID string) error {
	_, err := e.transmitRecord(ctx, internalID, recordID)
	return err
}

// transmitRecord is transmit that also reports whether a message went out. Records that
// are held, not due, or gone are skipped without error.
func (e *Engine) transmitRecord(ctx context.Context, internalID, recordID string) (bool, error) {
	var (
		msg         *model.Message
		destination string
		version     model.SpecVersion
		resend      bool
		failure     *model.DeliveryFailure
		expired     *SequenceEvent
	)

	err := e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		rec, err := tx.GetSendRecord(recordID)
		if storage.ErrIsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok {
			return tx.DeleteSendRecord(recordID)
		}
		if rec.IsApplication() && seq.ProtocolID == "" {
			return nil
		}

		now := e.now()
		if rec.Status == model.SendStatusPendingFirstSend {
			rec.MarkSent(now, e.strategy.NextInterval(0))
		} else {
			err := rec.CanResend(now, e.strategy.MaxRetransmissions)
			switch {
			case err == nil:
				rec.BeginResend(now, e.strategy.NextInterval)
				resend = true
			case errors.Is(err, model.ErrMaxRetransmissionsExceeded):
				reason := fmt.Sprintf("no acknowledgement after %d retransmissions", rec.AttemptCount)
				rec.MarkFailed(reason)
				f := model.NewDeliveryFailure(&rec, seq.ProtocolID, reason, now)
				failure = &f

				seq.LastSendError = NewError(ErrCodeDelivery, reason).Error()
				seq.LastSendErrorAt = now
				if err := e.saveOutbound(tx, seq); err != nil {
					return err
				}
				if err := tx.PutSendRecord(rec); err != nil {
					return err
				}

				// A sequence the peer never accepted cannot make progress.
				if rec.MessageType == model.MessageCreateSequence && !seq.Status.IsTerminal() {
					if err := e.finalizeOutbound(tx, seq, model.StatusTimedOut, now); err != nil {
						return err
					}
					ev := e.outboundEvent(seq)
					expired = &ev
				}
				return nil
			default:
				return nil
			}
		}

		msg = e.buildMessage(seq, &rec)
		destination = rec.Destination
		version = seq.SpecVersion
		return tx.PutSendRecord(rec)
	})
	if err != nil {
		return false, err
	}

	if failure != nil {
		e.metrics.DeliveryFailures.Inc()
		e.watchers.wake(internalID)
		e.logger.Errorf("Delivery failed for %s %d on sequence %s after %d attempts",
			failure.MessageType, failure.MessageNumber, internalID, failure.AttemptCount)
		if err := e.notifications.NotifyDeliveryFailure(ctx, *failure); err != nil {
			e.logger.Warnf("Failed to send delivery failure notification: %v", err)
		}
		if expired != nil {
			e.logger.Warnf("Sequence %s timed out: CreateSequence was never accepted", internalID)
			e.notify(ctx, *expired)
		}
		return false, NewError(ErrCodeDelivery, failure.FailureReason)
	}
	if msg == nil {
		return false, nil
	}

	var (
		reply   *model.Message
		sendErr error
	)
	if e.policy.Drops(msg.Type) {
		e.logger.Debugf("Dropping %s %d for sequence %s", msg.Type, msg.MessageNumber, internalID)
	} else {
		reply, sendErr = e.sender.Send(ctx, destination, msg)
		e.metrics.sent(msg.Type)
	}
	if resend {
		e.metrics.Retransmissions.Inc()
	}

	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		rec, err := tx.GetSendRecord(recordID)
		if storage.ErrIsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		if sendErr == nil {
			rec.CompleteResend()
			return tx.PutSendRecord(rec)
		}

		rec.RecordError(sendErr)
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if ok {
			seq.LastSendError = sendErr.Error()
			seq.LastSendErrorAt = e.now()
			if err := e.saveOutbound(tx, seq); err != nil {
				return err
			}
		}
		return tx.PutSendRecord(rec)
	})
	if err != nil {
		return true, err
	}

	if sendErr != nil {
		e.watchers.wake(internalID)
		return true, NewErrorWithCause(ErrCodeTransport, fmt.Sprintf("failed to send %s", msg.Type), sendErr)
	}

	if err := e.handleReply(ctx, reply); err != nil {
		return true, err
	}

	if msg.Type == model.MessageTerminateSequence && !version.RequiresTerminateResponse() {
		return true, e.completeTermination(ctx, internalID, model.StatusTerminated)
	}
	return true, nil
}

// buildMessage renders a send record into the protocol message for the peer.
func (e *Engine) buildMessage(seq *model.OutboundSequence, rec *model.SendRecord) *model.Message {
	msg := rec.ToMessage(seq.ProtocolID)
	msg.SpecVersion = seq.SpecVersion

	switch rec.MessageType {
	case model.MessageCreateSequence:
		msg.SequenceID = ""
		msg.AcksTo = e.endpoint
		msg.SecurityTokenRef = seq.SecurityTokenRef
		if seq.OfferedProtocolID != "" {
			msg.Offer = &model.Offer{SequenceID: seq.OfferedProtocolID}
		}
	case model.MessageCloseSequence, model.MessageTerminateSequence:
		msg.LastMessageNum = seq.LastMessageNumber
	}
	return msg
}

// handleReply feeds a synchronous reply from the peer back into the engine.
func (e *Engine) handleReply(ctx context.Context, reply *model.Message) error {
	if reply == nil {
		return nil
	}
	answer, err := e.Receive(ctx, reply)
	if err != nil {
		return err
	}
	if answer != nil {
		e.logger.Debugf("Discarding %s produced for a synchronous %s reply", answer.Type, reply.Type)
	}
	return nil
}

// flushPending sends every application message queued while the sequence was being
// established.
func (e *Engine) flushPending(ctx context.Context, internalID string) {
	var records []model.SendRecord
	err := e.readTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		var err error
		records, err = tx.FindSendRecords(storage.SendRecordFilter{
			SequenceID: internalID,
			Status:     model.SendStatusPendingFirstSend,
		})
		return err
	})
	if err != nil {
		e.logger.Errorf("Failed to load queued messages of sequence %s: %v", internalID, err)
		return
	}

	for i := range records {
		if !records[i].IsApplication() {
			continue
		}
		if err := e.transmit(ctx, internalID, records[i].ID); err != nil {
			e.logger.Warnf("Failed to send queued message %d on sequence %s: %v",
				records[i].MessageNumber, internalID, err)
		}
	}
}

// completeTermination moves an outbound sequence to a terminal status in its own
// transaction and fires the notification.
func (e *Engine) completeTermination(ctx context.Context, internalID string, to model.SequenceStatus) error {
	var (
		event SequenceEvent
		done  bool
	)
	err := e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil || !ok || seq.Status.IsTerminal() {
			return err
		}
		if err := e.finalizeOutbound(tx, seq, to, e.now()); err != nil {
			return err
		}
		event = e.outboundEvent(seq)
		done = true
		return nil
	})
	if err != nil {
		return err
	}
	if done {
		e.logger.Infof("Sequence %s is %s", internalID, to)
		e.notify(ctx, event)
	}
	return nil
}

// finalizeOutbound moves seq to a terminal status and reduces its stored state to the
// terminal snapshot. The protocol binding and failed records are kept for reporting.
func (e *Engine) finalizeOutbound(tx *storage.Tx, seq *model.OutboundSequence, to model.SequenceStatus, now time.Time) error {
	from := seq.Status
	if err := seq.Transition(to, now); err != nil {
		return transitionError(from, to)
	}

	if err := tx.DeleteSequence(seq.InternalID); err != nil {
		return err
	}
	if err := tx.PutAll(seq.Snapshot().Properties()); err != nil {
		return err
	}

	records, err := tx.FindSendRecords(storage.SendRecordFilter{SequenceID: seq.InternalID})
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].Status == model.SendStatusFailed {
			continue
		}
		if err := tx.DeleteSendRecord(records[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// purgeOutbound deletes every trace of a sequence: properties, binding and records.
func (e *Engine) purgeOutbound(tx *storage.Tx, seq *model.OutboundSequence) error {
	if err := tx.DeleteSequence(seq.InternalID); err != nil {
		return err
	}
	if seq.ProtocolID != "" {
		if err := tx.Delete(seq.ProtocolID, model.PropInternalSequenceID); err != nil {
			return err
		}
	}

	records, err := tx.FindSendRecords(storage.SendRecordFilter{SequenceID: seq.InternalID})
	if err != nil {
		return err
	}
	for i := range records {
		if err := tx.DeleteSendRecord(records[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func transitionError(from, to model.SequenceStatus) error {
	return NewErrorWithCause(ErrCodeInvalidState,
		fmt.Sprintf("invalid sequence transition %s -> %s", from, to), model.ErrInvalidTransition)
}
