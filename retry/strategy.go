// Package retry provides the retransmission timing policy for unacknowledged messages.
// It implements exponential backoff with an upper cap and a retransmission budget after
// which a message is declared failed.
package retry

import (
	"fmt"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Strategy defines when unacknowledged messages are retransmitted.
//
// The interval after the n-th retransmission follows:
//
//	interval(n) = min(Interval * 2^n, MaxInterval)   (ExponentialBackoff)
//	interval(n) = Interval                           (otherwise)
//
// Example with defaults (6s interval, backoff on, 30m cap, 10 retransmissions):
//
//	First send:  retransmit after 6s
//	Attempt 1:   after 12s
//	Attempt 2:   after 24s
//	...
//	Attempt 10:  after 30m0s (→ fail delivery)
type Strategy struct {
	Interval           time.Duration // Base retransmission interval
	MaxInterval        time.Duration // Cap for the backed-off interval
	ExponentialBackoff bool          // Double the interval on each retransmission
	MaxRetransmissions int           // Retransmissions allowed before the message fails
}

// DefaultStrategy returns the default retransmission policy:
// 6s interval doubling per attempt, capped at 30m, failing after 10 retransmissions.
func DefaultStrategy() Strategy {
	return Strategy{
		Interval:           6 * time.Second,
		MaxInterval:        30 * time.Minute,
		ExponentialBackoff: true,
		MaxRetransmissions: 10,
	}
}

// Validate checks the strategy for consistency.
func (s Strategy) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Interval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.MaxInterval, validation.Required, validation.Min(s.Interval)),
		validation.Field(&s.MaxRetransmissions, validation.Min(0)),
	)
}

// NextInterval returns the delay before the retransmission following the given attempt.
// Attempt 0 is the first send.
//
// The doubling is computed iteratively and stops at MaxInterval, so large attempt
// numbers never overflow.
func (s Strategy) NextInterval(attempt int) time.Duration {
	if attempt <= 0 || !s.ExponentialBackoff {
		return s.capped(s.Interval)
	}

	delay := s.Interval
	for i := 0; i < attempt; i++ {
		if s.MaxInterval > 0 && delay >= s.MaxInterval/2 {
			return s.MaxInterval
		}
		if delay > math.MaxInt64/2 {
			return delay
		}
		delay *= 2
	}
	return s.capped(delay)
}

func (s Strategy) capped(d time.Duration) time.Duration {
	if s.MaxInterval > 0 && d > s.MaxInterval {
		return s.MaxInterval
	}
	return d
}

// CanRetransmit reports whether another retransmission is allowed for a message that
// has already been retransmitted attemptCount times.
func (s Strategy) CanRetransmit(attemptCount int) bool {
	return attemptCount+1 <= s.MaxRetransmissions
}

// TotalSpan returns the time from the first send until the message is declared failed,
// assuming no acknowledgement ever arrives and the scheduler ticks exactly on time.
func (s Strategy) TotalSpan() time.Duration {
	var total time.Duration
	for i := 0; i <= s.MaxRetransmissions; i++ {
		total += s.NextInterval(i)
	}
	return total
}

// GetRetrySchedule returns a human-readable description of the retransmission schedule.
//
// Example output:
//
//	Retransmission Schedule:
//	  First send: retransmit after 6s
//	  Attempt 1: after 12s
//	  ...
//	  → Fail delivery
func (s Strategy) GetRetrySchedule() string {
	var b strings.Builder
	b.WriteString("Retransmission Schedule:\n")
	fmt.Fprintf(&b, "  First send: retransmit after %v\n", s.NextInterval(0))
	for i := 1; i <= s.MaxRetransmissions; i++ {
		fmt.Fprintf(&b, "  Attempt %d: after %v\n", i, s.NextInterval(i))
	}
	b.WriteString("  → Fail delivery\n")
	return b.String()
}
