package model

// tablePrefix is the default SQL table prefix for persisted models.
const tablePrefix = "wsrm_"

// DomainError represents a domain-level business rule violation.
// Used by model methods to return business logic errors.
type DomainError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
}

func (e DomainError) Error() string {
	return e.Message
}

// Domain errors returned by model business logic methods.
var (
	// ErrMaxRetransmissionsExceeded indicates the retransmission budget is spent.
	ErrMaxRetransmissionsExceeded = DomainError{Code: "MAX_RETRANSMISSIONS", Message: "Maximum retransmission count exceeded"}

	// ErrRecordFailed indicates the send record already reached the FAILED state.
	ErrRecordFailed = DomainError{Code: "RECORD_FAILED", Message: "Send record has already failed"}

	// ErrRecordAcknowledged indicates the message was already acknowledged.
	ErrRecordAcknowledged = DomainError{Code: "RECORD_ACKNOWLEDGED", Message: "Send record already acknowledged"}

	// ErrNotDue indicates the retransmission time has not been reached yet.
	ErrNotDue = DomainError{Code: "NOT_DUE", Message: "Retransmission not due yet"}

	// ErrInvalidTransition indicates a disallowed sequence state change.
	ErrInvalidTransition = DomainError{Code: "INVALID_TRANSITION", Message: "Invalid sequence state transition"}

	// ErrMalformedProperty indicates a persisted property value could not be decoded.
	ErrMalformedProperty = DomainError{Code: "MALFORMED_PROPERTY", Message: "Malformed sequence property"}
)
