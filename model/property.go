package model

import (
	"strconv"
	"time"
)

// SequenceProperty is the single persistence primitive of the engine: a
// (SequenceID, Name) -> Value triple with an optional InternalSequenceID correlation.
//
// Every higher-level record (outbound sequence, inbound sequence, protocol binding) is a
// view over a set of properties sharing a SequenceID. At most one property exists per
// (SequenceID, Name); writes are upserts.
type SequenceProperty struct {
	SequenceID         string `json:"sequenceID" db:"sequence_id"`
	Name               string `json:"name" db:"name"`
	Value              string `json:"value" db:"value"`
	InternalSequenceID string `json:"internalSequenceID,omitempty" db:"internal_sequence_id"`
}

// TableName returns the database table name for SequenceProperty.
func (p SequenceProperty) TableName() string {
	return tablePrefix + "sequence_property"
}

// Key returns the unique key of the property.
func (p SequenceProperty) Key() PropertyKey {
	return PropertyKey{SequenceID: p.SequenceID, Name: p.Name}
}

// NewProperty creates a property without internal correlation.
func NewProperty(sequenceID, name, value string) SequenceProperty {
	return SequenceProperty{SequenceID: sequenceID, Name: name, Value: value}
}

// PropertyKey identifies a property.
type PropertyKey struct {
	SequenceID string
	Name       string
}

// Property names. Outbound sequences are keyed by internal sequence identity,
// inbound sequences by protocol identifier.
const (
	// PropDestination marks an outbound sequence; its value is the peer endpoint.
	PropDestination = "DESTINATION"
	// PropSequenceKey is the application-chosen key of an outbound sequence.
	PropSequenceKey = "SEQUENCE_KEY"
	// PropStatus holds the SequenceStatus.
	PropStatus = "STATUS"
	// PropSequenceID holds the protocol identifier bound to an outbound sequence.
	PropSequenceID = "SEQUENCE_ID"
	// PropInternalSequenceID is the binding property keyed by protocol identifier whose
	// value is the internal identity. The set of these enumerates established outbound
	// sequences.
	PropInternalSequenceID = "INTERNAL_SEQUENCE_ID"
	PropCreatedAt          = "CREATED_AT"
	PropLastActivity       = "LAST_ACTIVITY"
	PropOfferedSequenceID  = "OFFERED_SEQUENCE_ID"
	PropSecurityToken      = "SECURITY_TOKEN"
	PropSpecVersion        = "SPEC_VERSION"
	// PropLastMessageNumber is the last number assigned on an outbound sequence.
	PropLastMessageNumber = "LAST_MESSAGE_NUMBER"
	// PropLastOutMessage is the number of the message flagged as last.
	PropLastOutMessage     = "LAST_OUT_MESSAGE"
	PropCompletedMessages  = "COMPLETED_MESSAGES"
	PropCreateMessageID    = "CREATE_SEQUENCE_MESSAGE_ID"
	PropTerminateRequested = "TERMINATE_REQUESTED"
	PropLastSendError      = "LAST_SEND_ERROR"
	PropLastSendErrorAt    = "LAST_SEND_ERROR_TIMESTAMP"
	PropTerminalAt         = "TERMINAL_AT"

	// PropAcksTo marks an inbound sequence; its value is the endpoint acknowledgements
	// are sent to.
	PropAcksTo         = "ACKS_TO"
	PropNextExpected   = "NEXT_EXPECTED_NUMBER"
	PropLastInMessage  = "LAST_IN_MESSAGE"
	PropClosed         = "CLOSED"
	PropAckDueAt       = "ACK_DUE_AT"
	PropReverseOf      = "REVERSE_OF"
	pendingMessageName = "PENDING_MESSAGE:"
)

// PendingMessageName returns the property name holding a buffered out-of-order message.
func PendingMessageName(number int64) string {
	return pendingMessageName + strconv.FormatInt(number, 10)
}

// IsPendingMessageName reports whether name holds a buffered message.
func IsPendingMessageName(name string) bool {
	return len(name) > len(pendingMessageName) && name[:len(pendingMessageName)] == pendingMessageName
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformedProperty
	}
	return time.Unix(0, n), nil
}

func formatInt(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrMalformedProperty
	}
	return n, nil
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return ""
}
