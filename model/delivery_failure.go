package model

import "time"

// DeliveryFailure describes a message whose retransmission budget was exhausted.
// It is the asynchronous, terminal fault reported against the sequence; the
// send record itself stays in FAILED for later inspection.
type DeliveryFailure struct {
	SequenceID     string      `json:"sequenceID"` // internal identity
	ProtocolID     string      `json:"protocolID,omitempty"`
	Destination    string      `json:"destination"`
	MessageType    MessageType `json:"messageType"`
	MessageNumber  int64       `json:"messageNumber"`
	AttemptCount   int         `json:"attemptCount"`
	LastError      string      `json:"lastError"`
	FailureReason  string      `json:"failureReason"`
	FirstAttemptAt time.Time   `json:"firstAttemptAt"`
	LastAttemptAt  time.Time   `json:"lastAttemptAt"`
	FailedAt       time.Time   `json:"failedAt"`
}

// NewDeliveryFailure creates a failure report from a failed record.
func NewDeliveryFailure(record *SendRecord, protocolID, reason string, now time.Time) DeliveryFailure {
	return DeliveryFailure{
		SequenceID:     record.SequenceID,
		ProtocolID:     protocolID,
		Destination:    record.Destination,
		MessageType:    record.MessageType,
		MessageNumber:  record.MessageNumber,
		AttemptCount:   record.AttemptCount,
		LastError:      record.LastError,
		FailureReason:  reason,
		FirstAttemptAt: record.FirstSentAt,
		LastAttemptAt:  record.LastSentAt,
		FailedAt:       now,
	}
}

// Age returns how long the message was in flight before failing.
func (f DeliveryFailure) Age() time.Duration {
	if f.FirstAttemptAt.IsZero() {
		return 0
	}
	return f.FailedAt.Sub(f.FirstAttemptAt)
}
