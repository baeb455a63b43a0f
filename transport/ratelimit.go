package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
)

// RateLimitedSender caps the rate of outgoing messages across all destinations.
// Send waits for a token, so bursts of retransmissions are smoothed rather than dropped.
type RateLimitedSender struct {
	next    wsrm.Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender allows perSecond messages per second with the given burst.
func NewRateLimitedSender(next wsrm.Sender, perSecond float64, burst int) *RateLimitedSender {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send implements wsrm.Sender.
func (s *RateLimitedSender) Send(ctx context.Context, destination string, msg *model.Message) (*model.Message, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return s.next.Send(ctx, destination, msg)
}
