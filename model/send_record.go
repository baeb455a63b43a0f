package model

import (
	"fmt"
	"time"
)

// SendStatus represents the lifecycle state of a send record.
type SendStatus string

const (
	// SendStatusPendingFirstSend indicates the message is registered but not yet sent,
	// typically because the sequence is not established.
	SendStatusPendingFirstSend SendStatus = "PENDING_FIRST_SEND"

	// SendStatusAwaitingAck indicates the message was sent and awaits acknowledgement.
	SendStatusAwaitingAck SendStatus = "AWAITING_ACK"

	// SendStatusResend indicates a retransmission is in flight.
	SendStatusResend SendStatus = "RESEND"

	// SendStatusAcknowledged indicates the peer confirmed receipt.
	SendStatusAcknowledged SendStatus = "ACKNOWLEDGED"

	// SendStatusFailed indicates the retransmission budget was exhausted.
	SendStatusFailed SendStatus = "FAILED"
)

// SendRecord tracks one outbound message until it is acknowledged or fails.
//
// Records follow this lifecycle:
//  1. Created PENDING_FIRST_SEND (NextRetransmitAt = now, ready immediately), or held
//     with a zero NextRetransmitAt while its sequence is not established yet
//  2. First send → AWAITING_ACK with NextRetransmitAt = now + interval
//  3. Each due tick → RESEND (AttemptCount++) → AWAITING_ACK after the resend
//  4. Acknowledgement → ACKNOWLEDGED (and removed), or budget spent → FAILED (kept)
//
// Control messages (create, close, terminate) use the same record with
// MessageNumber 0 so that they are retransmitted under the same policy.
type SendRecord struct {
	ID               string      `json:"id"`
	SequenceID       string      `json:"sequenceID"` // internal sequence identity
	MessageType      MessageType `json:"messageType"`
	MessageNumber    int64       `json:"messageNumber"`
	MessageID        string      `json:"messageID"`
	Destination      string      `json:"destination"`
	Payload          []byte      `json:"payload,omitempty"`
	LastMessage      bool        `json:"lastMessage"`
	Status           SendStatus  `json:"status"`
	AttemptCount     int         `json:"attemptCount"`
	FirstSentAt      time.Time   `json:"firstSentAt"`
	LastSentAt       time.Time   `json:"lastSentAt"`
	NextRetransmitAt time.Time   `json:"nextRetransmitAt"`
	LastError        string      `json:"lastError,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// TableName returns the database table name for SendRecord.
func (r *SendRecord) TableName() string {
	return tablePrefix + "send_record"
}

// SendRecordID builds the unique identifier of a record.
func SendRecordID(sequenceID string, messageType MessageType, number int64) string {
	return fmt.Sprintf("%s/%s/%020d", sequenceID, messageType, number)
}

// NewApplicationRecord registers an application message for reliable delivery.
func NewApplicationRecord(sequenceID, destination, messageID string, number int64, payload []byte, last bool, now time.Time) SendRecord {
	return SendRecord{
		ID:               SendRecordID(sequenceID, MessageApplication, number),
		SequenceID:       sequenceID,
		MessageType:      MessageApplication,
		MessageNumber:    number,
		MessageID:        messageID,
		Destination:      destination,
		Payload:          payload,
		LastMessage:      last,
		Status:           SendStatusPendingFirstSend,
		NextRetransmitAt: now,
		CreatedAt:        now,
	}
}

// NewControlRecord registers a control message (create, close, terminate).
func NewControlRecord(sequenceID, destination, messageID string, messageType MessageType, now time.Time) SendRecord {
	return SendRecord{
		ID:               SendRecordID(sequenceID, messageType, 0),
		SequenceID:       sequenceID,
		MessageType:      messageType,
		MessageID:        messageID,
		Destination:      destination,
		Status:           SendStatusPendingFirstSend,
		NextRetransmitAt: now,
		CreatedAt:        now,
	}
}

// IsApplication reports whether the record carries an application message.
func (r *SendRecord) IsApplication() bool {
	return r.MessageType == MessageApplication
}

// IsSchedulable reports whether the record still takes part in retransmission.
func (r *SendRecord) IsSchedulable() bool {
	switch r.Status {
	case SendStatusPendingFirstSend, SendStatusAwaitingAck, SendStatusResend:
		return true
	}
	return false
}

// IsDue reports whether the record should be (re)sent at now. Held records are never due.
func (r *SendRecord) IsDue(now time.Time) bool {
	return r.IsSchedulable() && !r.IsHeld() && !r.NextRetransmitAt.After(now)
}

// Hold parks a first send until its sequence is established.
func (r *SendRecord) Hold() {
	if r.Status == SendStatusPendingFirstSend {
		r.NextRetransmitAt = time.Time{}
	}
}

// IsHeld reports whether the record waits for its sequence to be established.
func (r *SendRecord) IsHeld() bool {
	return r.Status == SendStatusPendingFirstSend && r.NextRetransmitAt.IsZero()
}

// MarkSent records the first transmission.
// NextRetransmitAt becomes now + interval.
func (r *SendRecord) MarkSent(now time.Time, interval time.Duration) {
	r.Status = SendStatusAwaitingAck
	if r.FirstSentAt.IsZero() {
		r.FirstSentAt = now
	}
	r.LastSentAt = now
	r.NextRetransmitAt = now.Add(interval)
}

// CanResend validates whether another retransmission is allowed.
//
// Returns error if not:
//   - ErrRecordFailed: already failed
//   - ErrRecordAcknowledged: already acknowledged
//   - ErrNotDue: too soon
//   - ErrMaxRetransmissionsExceeded: one more attempt would exceed maxCount
func (r *SendRecord) CanResend(now time.Time, maxCount int) error {
	switch r.Status {
	case SendStatusFailed:
		return ErrRecordFailed
	case SendStatusAcknowledged:
		return ErrRecordAcknowledged
	}
	if r.NextRetransmitAt.After(now) {
		return ErrNotDue
	}
	if r.AttemptCount+1 > maxCount {
		return ErrMaxRetransmissionsExceeded
	}
	return nil
}

// BeginResend increments the attempt counter and schedules the following retransmission.
// The caller computes interval from the new AttemptCount.
func (r *SendRecord) BeginResend(now time.Time, interval func(attempt int) time.Duration) {
	r.AttemptCount++
	r.Status = SendStatusResend
	r.LastSentAt = now
	if r.FirstSentAt.IsZero() {
		r.FirstSentAt = now
	}
	r.NextRetransmitAt = now.Add(interval(r.AttemptCount))
}

// CompleteResend returns a resent record to AWAITING_ACK.
func (r *SendRecord) CompleteResend() {
	if r.Status == SendStatusResend {
		r.Status = SendStatusAwaitingAck
	}
}

// RecordError stores the last transmission error.
func (r *SendRecord) RecordError(err error) {
	if err != nil {
		r.LastError = err.Error()
	}
}

// MarkAcknowledged marks the record as confirmed by the peer.
func (r *SendRecord) MarkAcknowledged() {
	r.Status = SendStatusAcknowledged
	r.NextRetransmitAt = time.Time{}
}

// MarkFailed marks the record as permanently failed. It is never scheduled again.
func (r *SendRecord) MarkFailed(reason string) {
	r.Status = SendStatusFailed
	r.NextRetransmitAt = time.Time{}
	if reason != "" && r.LastError == "" {
		r.LastError = reason
	}
}

// TimeUntilRetransmit returns the time left until the record is due, 0 if due now.
func (r *SendRecord) TimeUntilRetransmit(now time.Time) time.Duration {
	if !r.IsSchedulable() {
		return 0
	}
	d := r.NextRetransmitAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ToMessage builds the protocol message for this record.
func (r *SendRecord) ToMessage(protocolID string) *Message {
	return &Message{
		Type:          r.MessageType,
		MessageID:     r.MessageID,
		SequenceID:    protocolID,
		MessageNumber: r.MessageNumber,
		LastMessage:   r.LastMessage,
		Payload:       r.Payload,
	}
}
