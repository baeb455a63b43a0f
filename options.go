package wsrm

import (
	"fmt"

	"github.com/coregx/wsrm/policy"
	"github.com/coregx/wsrm/storage"
	"github.com/jonboulle/clockwork"
)

// Option is a function that configures an Engine.
//
// Example:
//
//	engine, err := wsrm.NewEngine(
//	    wsrm.WithSender(sender),
//	    wsrm.WithLogger(logger),
//	    wsrm.WithPolicy(p), // optional
//	)
type Option func(*Engine) error

// WithSender sets the message-send primitive used for every outbound message.
//
// This is a required option for NewEngine.
func WithSender(sender Sender) Option {
	return func(e *Engine) error {
		if sender == nil {
			return fmt.Errorf("sender cannot be nil")
		}
		e.sender = sender
		return nil
	}
}

// WithLogger sets the logger instance for the engine.
// Logger is required and must not be nil.
//
// This is a required option for NewEngine.
//
// Use NoopLogger for silent operation, NewSlogLogger for log/slog, or implement
// Logger to integrate with your logging system.
func WithLogger(logger Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithPolicy sets the reliability policy.
// This is an optional configuration - if not provided, policy.Default() is used.
// The policy is copied; later changes to p do not affect the engine.
func WithPolicy(p *policy.Policy) Option {
	return func(e *Engine) error {
		if p == nil {
			return fmt.Errorf("policy cannot be nil")
		}
		e.policy = p.Clone()
		return nil
	}
}

// WithBackend sets the storage backend.
// Optional for the in-memory storage manager, required for the permanent one.
func WithBackend(backend storage.Backend) Option {
	return func(e *Engine) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		e.backend = backend
		return nil
	}
}

// WithHandler sets the receiver of application messages arriving on inbound
// sequences. Without a handler, inbound messages are acknowledged and dropped.
func WithHandler(handler Handler) Option {
	return func(e *Engine) error {
		if handler == nil {
			return fmt.Errorf("handler cannot be nil")
		}
		e.handler = handler
		return nil
	}
}

// WithEndpoint sets the address the peer sends acknowledgements and reverse
// sequence traffic to. Empty means replies travel on the synchronous back-channel.
func WithEndpoint(address string) Option {
	return func(e *Engine) error {
		e.endpoint = address
		return nil
	}
}

// WithClock sets the time source. Tests use clockwork.NewFakeClock().
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		e.clock = clock
		return nil
	}
}

// WithNotifications sets an optional notification service.
// This is an optional configuration - if not provided, NoOpNotificationService is used.
func WithNotifications(service NotificationService) Option {
	return func(e *Engine) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		e.notifications = service
		return nil
	}
}

// WithMetrics sets the Prometheus collectors to update.
// This is an optional configuration - if not provided, unregistered collectors are used.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) error {
		if metrics == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		e.metrics = metrics
		return nil
	}
}

// WithBatchSize sets the number of due records the scheduler handles per tick.
// This is an optional configuration - default is 100.
func WithBatchSize(size int) Option {
	return func(e *Engine) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		e.batchSize = size
		return nil
	}
}
