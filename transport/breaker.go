package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
)

// BreakerConfig configures the per-destination circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32

	// ResetTimeout is how long an open breaker rejects sends before trying again.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig opens after 5 consecutive failures and retries after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// BreakerSender stops sending to a destination that keeps failing. While a breaker is
// open, sends fail fast with gobreaker.ErrOpenState and the engine's retransmission
// schedule takes over.
type BreakerSender struct {
	next   wsrm.Sender
	cfg    BreakerConfig
	logger wsrm.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerSender wraps next with one circuit breaker per destination.
func NewBreakerSender(next wsrm.Sender, cfg BreakerConfig, logger wsrm.Logger) *BreakerSender {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if logger == nil {
		logger = &wsrm.NoopLogger{}
	}
	return &BreakerSender{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Send implements wsrm.Sender.
func (s *BreakerSender) Send(ctx context.Context, destination string, msg *model.Message) (*model.Message, error) {
	result, err := s.breaker(destination).Execute(func() (interface{}, error) {
		return s.next.Send(ctx, destination, msg)
	})
	if err != nil {
		return nil, err
	}
	reply, _ := result.(*model.Message)
	return reply, nil
}

// State returns the breaker state for a destination.
func (s *BreakerSender) State(destination string) gobreaker.State {
	return s.breaker(destination).State()
}

func (s *BreakerSender) breaker(destination string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[destination]
	if !ok {
		threshold := s.cfg.FailureThreshold
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        destination,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     s.cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				s.logger.Warnf("Circuit breaker for %s changed from %s to %s", name, from, to)
			},
		})
		s.breakers[destination] = cb
	}
	return cb
}
