package wsrm

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/coregx/wsrm/identity"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/policy"
	"github.com/coregx/wsrm/ranges"
	"github.com/coregx/wsrm/storage"
)

// Receive processes a message from the peer and returns the reply to send back on the
// synchronous channel, or nil when there is none.
//
// It serves both roles: requests addressed to inbound sequences (CreateSequence,
// application messages, AckRequested, CloseSequence, TerminateSequence) and responses
// concerning outbound sequences (CreateSequenceResponse, SequenceAcknowledgement,
// CloseSequenceResponse, TerminateSequenceResponse, faults). Protocol violations by the
// peer are answered with a fault reply where the protocol defines one.
func (e *Engine) Receive(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, NewError(ErrCodeConfiguration, "message is required")
	}

	switch msg.Type {
	case model.MessageCreateSequence:
		return e.receiveCreateSequence(ctx, msg)
	case model.MessageCreateSequenceResponse:
		return nil, e.receiveCreateSequenceResponse(ctx, msg)
	case model.MessageApplication:
		return e.receiveApplication(ctx, msg)
	case model.MessageAckRequested:
		return e.receiveAckRequested(ctx, msg)
	case model.MessageAcknowledgement:
		ack := msg.Acknowledgement
		if ack == nil {
			return nil, NewError(ErrCodeProtocol, "acknowledgement message without acknowledgement")
		}
		return e.acknowledge(ctx, msg, ack, false)
	case model.MessageCloseSequence:
		return e.receiveCloseSequence(ctx, msg)
	case model.MessageCloseSequenceResponse:
		ack := msg.Acknowledgement
		if ack == nil {
			ack = &model.Acknowledgement{SequenceID: msg.SequenceID}
		}
		return e.acknowledge(ctx, msg, ack, true)
	case model.MessageTerminateSequence:
		return e.receiveTerminateSequence(ctx, msg)
	case model.MessageTerminateSequenceResponse:
		return nil, e.receiveTerminateSequenceResponse(ctx, msg)
	case model.MessageFault:
		return nil, e.receiveFault(ctx, msg)
	}
	return nil, NewError(ErrCodeProtocol, fmt.Sprintf("unsupported message type %q", msg.Type))
}

func faultReply(msg *model.Message, code model.FaultCode, sequenceID, reason string) *model.Message {
	reply := model.NewFaultMessage(code, sequenceID, reason)
	reply.RelatesTo = msg.MessageID
	reply.MessageID = identity.NewMessageID()
	return reply
}

// receiveCreateSequence accepts a new inbound sequence and, when offered, the reverse
// outbound sequence the peer proposed.
func (e *Engine) receiveCreateSequence(ctx context.Context, msg *model.Message) (*model.Message, error) {
	version := msg.SpecVersion
	if version == "" {
		version = e.policy.SpecVersion
	}
	if !version.Valid() {
		return faultReply(msg, model.FaultCreateSequenceRefused, "",
			fmt.Sprintf("unsupported protocol version %q", version)), nil
	}

	now := e.now()
	protocolID := identity.NewProtocolID()
	seq := model.NewInboundSequence(protocolID, msg.AcksTo, version, now)
	seq.SecurityTokenRef = msg.SecurityTokenRef

	lock := []string{protocolID}
	var reverseID string
	if msg.Offer != nil && msg.Offer.SequenceID != "" {
		id, err := e.internalID(replyDestination(msg.AcksTo), msg.Offer.SequenceID)
		if err != nil {
			return nil, err
		}
		reverseID = id
		lock = append(lock, reverseID)
	}

	var (
		reverse  *model.OutboundSequence
		accepted bool
	)
	err := e.inTx(ctx, lock, func(_ context.Context, tx *storage.Tx) error {
		if reverseID != "" {
			var err error
			reverse, accepted, err = e.acceptOffer(tx, reverseID, msg, version, now)
			if err != nil {
				return err
			}
		}
		return e.saveInbound(tx, seq)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Infof("Accepted inbound sequence %s (acks_to=%s, offer_accepted=%t)", protocolID, msg.AcksTo, accepted)
	e.notify(ctx, e.inboundEvent(seq))
	if accepted {
		e.notify(ctx, e.outboundEvent(reverse))
	}

	reply := &model.Message{
		Type:        model.MessageCreateSequenceResponse,
		MessageID:   identity.NewMessageID(),
		RelatesTo:   msg.MessageID,
		SequenceID:  protocolID,
		SpecVersion: version,
	}
	if accepted {
		reply.Accept = &model.Accept{AcksTo: e.endpoint}
	}
	return reply, nil
}

// acceptOffer establishes the reverse outbound sequence under the offered identifier.
// The offer is declined when the identifier is already bound or a live sequence exists.
func (e *Engine) acceptOffer(tx *storage.Tx, reverseID string, msg *model.Message, version model.SpecVersion, now time.Time) (*model.OutboundSequence, bool, error) {
	offered := msg.Offer.SequenceID

	bound, err := tx.Value(offered, model.PropInternalSequenceID)
	if err != nil {
		return nil, false, err
	}
	if bound != "" {
		return nil, false, nil
	}

	existing, ok, err := e.loadOutbound(tx, reverseID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if existing.Status.IsLive() {
			return nil, false, nil
		}
		if err := e.purgeOutbound(tx, existing); err != nil {
			return nil, false, err
		}
	}

	reverse := model.NewOutboundSequence(reverseID, replyDestination(msg.AcksTo), offered, version, now)
	reverse.ProtocolID = offered
	reverse.SecurityTokenRef = msg.SecurityTokenRef
	for _, to := range []model.SequenceStatus{model.StatusEstablishing, model.StatusEstablished} {
		if err := reverse.Transition(to, now); err != nil {
			return nil, false, transitionError(reverse.Status, to)
		}
	}

	if err := e.saveOutbound(tx, reverse); err != nil {
		return nil, false, err
	}
	if err := tx.Put(bindingProperty(offered, reverseID)); err != nil {
		return nil, false, err
	}
	return reverse, true, nil
}

func bindingProperty(protocolID, internalID string) model.SequenceProperty {
	return model.SequenceProperty{
		SequenceID:         protocolID,
		Name:               model.PropInternalSequenceID,
		Value:              internalID,
		InternalSequenceID: internalID,
	}
}

func replyDestination(acksTo string) string {
	if acksTo == "" {
		return AnonymousEndpoint
	}
	return acksTo
}

// receiveCreateSequenceResponse binds the peer-assigned protocol identifier to the
// outbound sequence that sent the matching CreateSequence.
func (e *Engine) receiveCreateSequenceResponse(ctx context.Context, msg *model.Message) error {
	if msg.RelatesTo == "" || msg.SequenceID == "" {
		return NewError(ErrCodeProtocol, "CreateSequenceResponse requires RelatesTo and a sequence identifier")
	}

	internalID, offered, err := e.findByCreateMessage(ctx, msg.RelatesTo)
	if err != nil {
		return err
	}
	if internalID == "" {
		return NewError(ErrCodeProtocol, fmt.Sprintf("no sequence awaits a response to %s", msg.RelatesTo))
	}

	var (
		events    []SequenceEvent
		duplicate bool
	)
	err = e.inTx(ctx, []string{internalID, offered}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok || seq.CreateMessageID != msg.RelatesTo {
			return NewError(ErrCodeProtocol, fmt.Sprintf("no sequence awaits a response to %s", msg.RelatesTo))
		}
		if seq.Status != model.StatusEstablishing {
			if seq.ProtocolID == msg.SequenceID {
				duplicate = true
				return nil
			}
			return NewError(ErrCodeProtocol,
				fmt.Sprintf("unexpected CreateSequenceResponse for sequence %s in status %s", internalID, seq.Status))
		}

		bound, err := tx.Value(msg.SequenceID, model.PropInternalSequenceID)
		if err != nil {
			return err
		}
		if bound != "" && bound != internalID {
			return NewError(ErrCodeProtocol, fmt.Sprintf("sequence identifier %s is already bound", msg.SequenceID))
		}

		now := e.now()
		seq.ProtocolID = msg.SequenceID
		if err := seq.Transition(model.StatusEstablished, now); err != nil {
			return transitionError(model.StatusEstablishing, model.StatusEstablished)
		}
		seq.Touch(now)

		if msg.Accept != nil && seq.OfferedProtocolID != "" {
			in := model.NewInboundSequence(seq.OfferedProtocolID, msg.Accept.AcksTo, seq.SpecVersion, now)
			in.ReverseOf = internalID
			in.SecurityTokenRef = seq.SecurityTokenRef
			if err := e.saveInbound(tx, in); err != nil {
				return err
			}
			events = append(events, e.inboundEvent(in))
		}

		if err := tx.Put(bindingProperty(seq.ProtocolID, internalID)); err != nil {
			return err
		}
		if err := tx.DeleteSendRecord(model.SendRecordID(internalID, model.MessageCreateSequence, 0)); err != nil {
			return err
		}
		events = append([]SequenceEvent{e.outboundEvent(seq)}, events...)
		return e.saveOutbound(tx, seq)
	})
	if err != nil || duplicate {
		return err
	}

	e.logger.Infof("Sequence %s established with identifier %s", internalID, msg.SequenceID)
	for _, ev := range events {
		e.notify(ctx, ev)
	}
	e.flushPending(ctx, internalID)
	return nil
}

// findByCreateMessage locates the outbound sequence whose CreateSequence carried
// messageID, along with its offered reverse identifier.
func (e *Engine) findByCreateMessage(ctx context.Context, messageID string) (string, string, error) {
	var internalID, offered string
	err := e.readTx(ctx, nil, func(_ context.Context, tx *storage.Tx) error {
		props, err := tx.Find(storage.PropertyFilter{Name: model.PropCreateMessageID, Value: messageID})
		if err != nil || len(props) == 0 {
			return err
		}
		internalID = props[0].SequenceID
		offered, err = tx.Value(internalID, model.PropOfferedSequenceID)
		return err
	})
	return internalID, offered, err
}

// receiveApplication records an application message on an inbound sequence, hands it
// to the Handler and answers with an acknowledgement when one is due.
func (e *Engine) receiveApplication(ctx context.Context, msg *model.Message) (*model.Message, error) {
	protocolID := msg.SequenceID
	if protocolID == "" {
		return faultReply(msg, model.FaultUnknownSequence, "", "message carries no sequence identifier"), nil
	}
	if msg.MessageNumber <= 0 {
		return nil, NewError(ErrCodeProtocol, fmt.Sprintf("invalid message number %d", msg.MessageNumber))
	}

	var (
		reply     *model.Message
		delivered int
	)
	err := e.inTx(ctx, []string{protocolID}, func(txCtx context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadInbound(tx, protocolID)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			reply = faultReply(msg, model.FaultUnknownSequence, protocolID, "unknown sequence")
			return nil
		case seq.Status.IsTerminal():
			reply = faultReply(msg, model.FaultSequenceTerminated, protocolID, "sequence is "+string(seq.Status))
			return nil
		case seq.Closed:
			reply = faultReply(msg, model.FaultSequenceClosed, protocolID, "sequence is closed")
			return nil
		case seq.LastInMessage > 0 && msg.MessageNumber > seq.LastInMessage:
			reply = faultReply(msg, model.FaultLastMessageExceeded, protocolID,
				fmt.Sprintf("message %d follows last message %d", msg.MessageNumber, seq.LastInMessage))
			return nil
		}

		now := e.now()
		n := msg.MessageNumber
		seq.LastActivityAt = now
		if msg.LastMessage {
			seq.LastInMessage = n
		}

		switch {
		case seq.Completed.Contains(n):
			if e.policy.DeliveryAssurance == policy.AtLeastOnce && n < seq.NextExpected {
				if err := e.deliver(txCtx, protocolID, n, msg.Payload); err != nil {
					return err
				}
				delivered++
			}
		case e.policy.InvokeInOrder && n > seq.NextExpected:
			value := base64.StdEncoding.EncodeToString(msg.Payload)
			if err := tx.Put(model.NewProperty(protocolID, model.PendingMessageName(n), value)); err != nil {
				return err
			}
			seq.Completed.Add(n)
		default:
			if err := e.deliver(txCtx, protocolID, n, msg.Payload); err != nil {
				return err
			}
			delivered++
			seq.Completed.Add(n)
		}

		drained, err := e.advance(txCtx, tx, seq)
		if err != nil {
			return err
		}
		delivered += drained

		if e.ackNow(seq, msg.LastMessage) {
			seq.AckDueAt = time.Time{}
			reply = model.NewAcknowledgementMessage(protocolID, seq.Completed, false)
			reply.RelatesTo = msg.MessageID
		} else if seq.AckDueAt.IsZero() {
			seq.AckDueAt = now.Add(e.policy.AcknowledgementInterval)
		}
		return e.saveInbound(tx, seq)
	})
	if err != nil {
		return nil, err
	}

	if delivered > 0 {
		e.logger.Debugf("Delivered %d messages on sequence %s", delivered, protocolID)
	}
	if reply != nil && reply.Type == model.MessageAcknowledgement {
		e.metrics.sent(model.MessageAcknowledgement)
	}
	return reply, nil
}

// advance moves NextExpected past every completed number, delivering buffered messages
// in order when in-order delivery is on. It returns how many buffered messages went out.
func (e *Engine) advance(ctx context.Context, tx *storage.Tx, seq *model.InboundSequence) (int, error) {
	delivered := 0
	for seq.Completed.Contains(seq.NextExpected) {
		if e.policy.InvokeInOrder {
			name := model.PendingMessageName(seq.NextExpected)
			value, err := tx.Value(seq.ProtocolID, name)
			if err != nil {
				return delivered, err
			}
			if value != "" || e.isBuffered(tx, seq.ProtocolID, name) {
				payload, err := base64.StdEncoding.DecodeString(value)
				if err != nil {
					return delivered, NewErrorWithCause(ErrCodeStorage, "malformed buffered message", err)
				}
				if err := e.deliver(ctx, seq.ProtocolID, seq.NextExpected, payload); err != nil {
					return delivered, err
				}
				if err := tx.Delete(seq.ProtocolID, name); err != nil {
					return delivered, err
				}
				delivered++
			}
		}
		seq.NextExpected++
	}
	return delivered, nil
}

// isBuffered distinguishes a buffered empty payload from a missing entry.
func (e *Engine) isBuffered(tx *storage.Tx, protocolID, name string) bool {
	_, err := tx.Retrieve(protocolID, name)
	return err == nil
}

func (e *Engine) deliver(ctx context.Context, protocolID string, number int64, payload []byte) error {
	if e.handler == nil {
		return nil
	}
	if err := e.handler.Deliver(ctx, protocolID, number, payload); err != nil {
		return NewErrorWithCause(ErrCodeDelivery,
			fmt.Sprintf("handler rejected message %d on sequence %s", number, protocolID), err)
	}
	return nil
}

// ackNow reports whether the acknowledgement goes out on the back-channel right away
// instead of being scheduled.
func (e *Engine) ackNow(seq *model.InboundSequence, last bool) bool {
	if e.policy.AcknowledgementInterval <= 0 || last {
		return true
	}
	if seq.AcksTo == "" || seq.AcksTo == AnonymousEndpoint {
		return true
	}
	return seq.LastInMessage > 0 && seq.Completed.IsComplete(seq.LastInMessage)
}

// receiveAckRequested answers with the current acknowledgement of an inbound sequence.
func (e *Engine) receiveAckRequested(ctx context.Context, msg *model.Message) (*model.Message, error) {
	protocolID := msg.SequenceID
	var reply *model.Message
	err := e.inTx(ctx, []string{protocolID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadInbound(tx, protocolID)
		if err != nil {
			return err
		}
		if !ok {
			reply = faultReply(msg, model.FaultUnknownSequence, protocolID, "unknown sequence")
			return nil
		}
		reply = model.NewAcknowledgementMessage(protocolID, seq.Completed, seq.Closed || seq.Status.IsTerminal())
		reply.RelatesTo = msg.MessageID
		if seq.Status.IsTerminal() {
			return nil
		}
		seq.AckDueAt = time.Time{}
		seq.LastActivityAt = e.now()
		return e.saveInbound(tx, seq)
	})
	if err != nil {
		return nil, err
	}
	if reply.Type == model.MessageAcknowledgement {
		e.metrics.sent(model.MessageAcknowledgement)
	}
	return reply, nil
}

// acknowledge applies an acknowledgement received for an outbound sequence: acknowledged
// records are removed and, once every message up to the last one is acknowledged, the
// sequence is terminated. An acknowledgement covering numbers that were never sent is
// rejected with an InvalidAcknowledgement fault and a PROTOCOL_ERROR.
func (e *Engine) acknowledge(ctx context.Context, msg *model.Message, ack *model.Acknowledgement, closeResponse bool) (*model.Message, error) {
	protocolID := ack.SequenceID
	if protocolID == "" {
		protocolID = msg.SequenceID
	}

	internalID, ok, err := e.resolveOutbound(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return faultReply(msg, model.FaultUnknownSequence, protocolID, "unknown sequence"), nil
	}

	acked, err := ranges.FromRanges(ack.Ranges)
	if err != nil {
		return faultReply(msg, model.FaultInvalidAcknowledgement, protocolID, err.Error()),
			NewErrorWithCause(ErrCodeProtocol, "malformed acknowledgement", err)
	}

	var (
		reply       *model.Message
		protocolErr error
		count       int
		terminateID string
	)
	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok || seq.Status.IsTerminal() {
			return nil
		}

		if acked.Highest() > seq.LastMessageNumber {
			reason := fmt.Sprintf("acknowledgement covers message %d, last sent is %d", acked.Highest(), seq.LastMessageNumber)
			reply = faultReply(msg, model.FaultInvalidAcknowledgement, protocolID, reason)
			protocolErr = NewError(ErrCodeProtocol, reason)
			return nil
		}

		if closeResponse {
			if err := tx.DeleteSendRecord(model.SendRecordID(internalID, model.MessageCloseSequence, 0)); err != nil {
				return err
			}
		}

		records, err := tx.FindSendRecords(storage.SendRecordFilter{SequenceID: internalID})
		if err != nil {
			return err
		}
		for i := range records {
			r := &records[i]
			if !r.IsApplication() || r.Status == model.SendStatusFailed || !acked.Contains(r.MessageNumber) {
				continue
			}
			if err := tx.DeleteSendRecord(r.ID); err != nil {
				return err
			}
			count++
		}

		if err := seq.Completed.AddRanges(acked.Ranges()...); err != nil {
			return err
		}
		now := e.now()
		seq.Touch(now)

		if seq.IsComplete() && !seq.TerminateRequested {
			terminateID, err = e.requestTermination(tx, seq, now)
			return err
		}
		return e.saveOutbound(tx, seq)
	})
	if err != nil {
		return nil, err
	}
	if protocolErr != nil {
		e.logger.Warnf("Rejected acknowledgement for sequence %s: %v", internalID, protocolErr)
		return reply, protocolErr
	}

	if count > 0 {
		e.metrics.Acknowledged.Add(float64(count))
	}
	e.watchers.wake(internalID)

	if terminateID != "" {
		e.logger.Infof("All messages of sequence %s acknowledged, terminating", internalID)
		if err := e.transmit(ctx, internalID, terminateID); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// receiveCloseSequence closes an inbound sequence and answers with the final
// acknowledgement.
func (e *Engine) receiveCloseSequence(ctx context.Context, msg *model.Message) (*model.Message, error) {
	protocolID := msg.SequenceID
	var reply *model.Message
	err := e.inTx(ctx, []string{protocolID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadInbound(tx, protocolID)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			reply = faultReply(msg, model.FaultUnknownSequence, protocolID, "unknown sequence")
			return nil
		case seq.Status.IsTerminal():
			reply = faultReply(msg, model.FaultSequenceTerminated, protocolID, "sequence is "+string(seq.Status))
			return nil
		case !seq.SpecVersion.SupportsClosing():
			return NewError(ErrCodeProtocolVersion,
				fmt.Sprintf("sequence closing is not supported by protocol version %s", seq.SpecVersion))
		}

		seq.Closed = true
		seq.LastActivityAt = e.now()
		seq.AckDueAt = time.Time{}

		reply = &model.Message{
			Type:       model.MessageCloseSequenceResponse,
			MessageID:  identity.NewMessageID(),
			RelatesTo:  msg.MessageID,
			SequenceID: protocolID,
			Acknowledgement: &model.Acknowledgement{
				SequenceID: protocolID,
				Ranges:     seq.Completed.Ranges(),
				Final:      true,
			},
			SpecVersion: seq.SpecVersion,
		}
		return e.saveInbound(tx, seq)
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// receiveTerminateSequence terminates an inbound sequence, or handles the peer ending
// one of our outbound sequences.
func (e *Engine) receiveTerminateSequence(ctx context.Context, msg *model.Message) (*model.Message, error) {
	protocolID := msg.SequenceID
	inbound, err := e.isInbound(ctx, protocolID)
	if err != nil {
		return nil, err
	}

	if !inbound {
		internalID, ok, err := e.resolveOutbound(ctx, protocolID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return faultReply(msg, model.FaultUnknownSequence, protocolID, "unknown sequence"), nil
		}
		e.logger.Infof("Peer terminated sequence %s", internalID)
		if err := e.completeTermination(ctx, internalID, model.StatusTerminated); err != nil {
			return nil, err
		}
		return terminateResponse(msg, msg.SpecVersion), nil
	}

	var (
		event   SequenceEvent
		done    bool
		version model.SpecVersion
	)
	err = e.inTx(ctx, []string{protocolID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadInbound(tx, protocolID)
		if err != nil || !ok {
			return err
		}
		version = seq.SpecVersion
		if seq.Status.IsTerminal() {
			return nil
		}
		if err := e.finalizeInbound(tx, seq, model.StatusTerminated, e.now()); err != nil {
			return err
		}
		event = e.inboundEvent(seq)
		done = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if done {
		e.logger.Infof("Inbound sequence %s terminated by peer", protocolID)
		e.notify(ctx, event)
	}
	if !version.RequiresTerminateResponse() {
		return nil, nil
	}
	return terminateResponse(msg, version), nil
}

func terminateResponse(msg *model.Message, version model.SpecVersion) *model.Message {
	return &model.Message{
		Type:        model.MessageTerminateSequenceResponse,
		MessageID:   identity.NewMessageID(),
		RelatesTo:   msg.MessageID,
		SequenceID:  msg.SequenceID,
		SpecVersion: version,
	}
}

// finalizeInbound moves seq to a terminal status, dropping buffered messages and
// everything but the terminal snapshot.
func (e *Engine) finalizeInbound(tx *storage.Tx, seq *model.InboundSequence, to model.SequenceStatus, now time.Time) error {
	from := seq.Status
	if err := seq.Transition(to, now); err != nil {
		return transitionError(from, to)
	}
	if err := tx.DeleteSequence(seq.ProtocolID); err != nil {
		return err
	}
	return tx.PutAll(seq.Snapshot().Properties())
}

func (e *Engine) receiveTerminateSequenceResponse(ctx context.Context, msg *model.Message) error {
	internalID, ok, err := e.resolveOutbound(ctx, msg.SequenceID)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ErrCodeProtocol, fmt.Sprintf("TerminateSequenceResponse for unknown sequence %s", msg.SequenceID))
	}
	return e.completeTermination(ctx, internalID, model.StatusTerminated)
}

// receiveFault records a peer fault as the last send error of the outbound sequence it
// concerns.
func (e *Engine) receiveFault(ctx context.Context, msg *model.Message) error {
	fault := msg.Fault
	if fault == nil {
		fault = &model.Fault{Reason: "unspecified fault"}
	}

	protocolID := fault.SequenceID
	if protocolID == "" {
		protocolID = msg.SequenceID
	}

	internalID, ok, err := e.resolveOutbound(ctx, protocolID)
	if err != nil {
		return err
	}
	if !ok && msg.RelatesTo != "" {
		internalID, _, err = e.findByCreateMessage(ctx, msg.RelatesTo)
		if err != nil {
			return err
		}
	}
	if internalID == "" {
		e.logger.Warnf("Fault for unknown sequence: %v", fault)
		return nil
	}

	e.logger.Warnf("Peer fault on sequence %s: %v", internalID, fault)
	err = e.inTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		seq, ok, err := e.loadOutbound(tx, internalID)
		if err != nil || !ok {
			return err
		}
		seq.LastSendError = fault.Error()
		seq.LastSendErrorAt = e.now()
		return e.saveOutbound(tx, seq)
	})
	if err != nil {
		return err
	}
	e.watchers.wake(internalID)
	return nil
}
