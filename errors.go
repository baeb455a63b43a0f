package wsrm

import (
	"errors"
	"fmt"

	"github.com/coregx/wsrm/storage"
)

// Error represents a wsrm library error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for wsrm operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeConfiguration indicates a missing or invalid option. Raised before any
	// state is touched.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeProtocolVersion indicates the operation is not supported by the
	// sequence's protocol version.
	ErrCodeProtocolVersion = "PROTOCOL_VERSION_ERROR"

	// ErrCodeStorage indicates a store read or commit failed.
	ErrCodeStorage = "STORAGE_ERROR"

	// ErrCodeDelivery indicates the retransmission budget of a message was exhausted.
	ErrCodeDelivery = "DELIVERY_ERROR"

	// ErrCodeTransport wraps a failure of the send primitive.
	ErrCodeTransport = "TRANSPORT_ERROR"

	// ErrCodeNotEstablished indicates the sequence has no protocol identifier yet.
	ErrCodeNotEstablished = "NOT_ESTABLISHED"

	// ErrCodeInvalidState indicates the sequence is not in a state that allows the
	// operation.
	ErrCodeInvalidState = "INVALID_STATE"

	// ErrCodeWaitTimeout indicates a wait deadline elapsed.
	ErrCodeWaitTimeout = "WAIT_TIMEOUT"

	// ErrCodeProtocol indicates the peer violated the protocol.
	ErrCodeProtocol = "PROTOCOL_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrNotEstablished is returned when a sequence has not completed its handshake.
	ErrNotEstablished = &Error{
		Code:    ErrCodeNotEstablished,
		Message: "sequence not established",
	}

	// ErrInvalidConfiguration is returned when engine configuration is invalid.
	ErrInvalidConfiguration = &Error{
		Code:    ErrCodeConfiguration,
		Message: "invalid engine configuration",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

func hasCode(err error, code string) bool {
	var wsrmErr *Error
	for errors.As(err, &wsrmErr) {
		if wsrmErr.Code == code {
			return true
		}
		err = wsrmErr.Err
	}
	return false
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return hasCode(err, ErrCodeNoData)
}

// IsNotEstablished checks if an error reports a sequence without a protocol identifier.
func IsNotEstablished(err error) bool {
	return hasCode(err, ErrCodeNotEstablished)
}

// IsProtocolVersion checks if an error is a protocol version rejection.
func IsProtocolVersion(err error) bool {
	return hasCode(err, ErrCodeProtocolVersion)
}

// IsStorage checks if an error is a storage failure.
func IsStorage(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// IsConfiguration checks if an error is a configuration error.
func IsConfiguration(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsTransport checks if an error came from the send primitive.
func IsTransport(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

// IsInvalidState checks if an error is a rejected state transition.
func IsInvalidState(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// IsWaitTimeout checks if an error is an elapsed wait deadline.
func IsWaitTimeout(err error) bool {
	return hasCode(err, ErrCodeWaitTimeout)
}

// storageError maps a store failure into the error taxonomy. A missing entry becomes
// ErrNoData; anything else is a STORAGE_ERROR carrying the cause.
func storageError(message string, err error) error {
	if err == nil {
		return nil
	}
	var wsrmErr *Error
	if errors.As(err, &wsrmErr) {
		return err
	}
	if storage.ErrIsNotFound(err) {
		return ErrNoData
	}
	return NewErrorWithCause(ErrCodeStorage, message, err)
}
