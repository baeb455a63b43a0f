package wsrm

import (
	"context"
	"time"

	"github.com/coregx/wsrm/model"
)

// SequenceEvent describes a lifecycle change of a sequence.
type SequenceEvent struct {
	Direction          model.Direction
	SequenceID         string // protocol identifier, empty if never established
	InternalSequenceID string // outbound only
	Destination        string // outbound destination or inbound AcksTo
	Status             model.SequenceStatus
	At                 time.Time
}

// NotificationService defines an optional interface for sending notifications
// about reliability events (delivery failures, sequence lifecycle changes).
//
// Implementations might send emails, Slack messages, SMS, or log to monitoring systems.
// Notifications are sent after the state change is committed; a notification error
// is logged and never undoes the change.
type NotificationService interface {
	// NotifyDeliveryFailure is called when a message exhausted its retransmission
	// budget. The send record stays in FAILED.
	NotifyDeliveryFailure(ctx context.Context, failure model.DeliveryFailure) error

	// NotifySequenceEstablished is called when a sequence receives its protocol identifier.
	NotifySequenceEstablished(ctx context.Context, event SequenceEvent) error

	// NotifySequenceTerminated is called when a sequence is terminated.
	NotifySequenceTerminated(ctx context.Context, event SequenceEvent) error

	// NotifySequenceTimedOut is called when the timeout sweep expires a sequence.
	NotifySequenceTimedOut(ctx context.Context, event SequenceEvent) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyDeliveryFailure does nothing.
func (n *NoOpNotificationService) NotifyDeliveryFailure(_ context.Context, _ model.DeliveryFailure) error {
	return nil
}

// NotifySequenceEstablished does nothing.
func (n *NoOpNotificationService) NotifySequenceEstablished(_ context.Context, _ SequenceEvent) error {
	return nil
}

// NotifySequenceTerminated does nothing.
func (n *NoOpNotificationService) NotifySequenceTerminated(_ context.Context, _ SequenceEvent) error {
	return nil
}

// NotifySequenceTimedOut does nothing.
func (n *NoOpNotificationService) NotifySequenceTimedOut(_ context.Context, _ SequenceEvent) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyDeliveryFailure logs the failed message.
func (n *LoggingNotificationService) NotifyDeliveryFailure(_ context.Context, failure model.DeliveryFailure) error {
	n.logger.Warnf("⚠️ Delivery failed: sequence=%s, type=%s, message=%d, attempts=%d, reason=%s, last_error=%s",
		failure.SequenceID, failure.MessageType, failure.MessageNumber, failure.AttemptCount,
		failure.FailureReason, failure.LastError)
	return nil
}

// NotifySequenceEstablished logs sequence establishment.
func (n *LoggingNotificationService) NotifySequenceEstablished(_ context.Context, event SequenceEvent) error {
	n.logger.Infof("✅ Sequence established: direction=%s, sequence_id=%s, internal_id=%s, peer=%s",
		event.Direction, event.SequenceID, event.InternalSequenceID, event.Destination)
	return nil
}

// NotifySequenceTerminated logs sequence termination.
func (n *LoggingNotificationService) NotifySequenceTerminated(_ context.Context, event SequenceEvent) error {
	n.logger.Infof("🔴 Sequence terminated: direction=%s, sequence_id=%s, internal_id=%s",
		event.Direction, event.SequenceID, event.InternalSequenceID)
	return nil
}

// NotifySequenceTimedOut logs sequence expiry.
func (n *LoggingNotificationService) NotifySequenceTimedOut(_ context.Context, event SequenceEvent) error {
	n.logger.Warnf("⏱️ Sequence timed out: direction=%s, sequence_id=%s, internal_id=%s",
		event.Direction, event.SequenceID, event.InternalSequenceID)
	return nil
}
