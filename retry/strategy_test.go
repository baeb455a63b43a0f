package retry

import (
	"math"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func TestDefaultStrategy(t *testing.T) {
	strategy := DefaultStrategy()

	assert.Equal(t, 6*time.Second, strategy.Interval)
	assert.Equal(t, 30*time.Minute, strategy.MaxInterval)
	assert.True(t, strategy.ExponentialBackoff)
	assert.Equal(t, 10, strategy.MaxRetransmissions)
	assert.NoError(t, strategy.Validate())
}

func TestStrategy_NextInterval(t *testing.T) {
	strategy := DefaultStrategy()

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{name: "First send", attempt: 0, expected: 6 * time.Second},
		{name: "Negative attempt", attempt: -3, expected: 6 * time.Second},
		{name: "First retransmission", attempt: 1, expected: 12 * time.Second},
		{name: "Second retransmission", attempt: 2, expected: 24 * time.Second},
		{name: "Eighth retransmission", attempt: 8, expected: 1536 * time.Second},
		{name: "Capped", attempt: 9, expected: 30 * time.Minute},
		{name: "Huge attempt does not overflow", attempt: math.MaxInt32, expected: 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, strategy.NextInterval(tt.attempt))
		})
	}
}

func TestStrategy_NextInterval_Linear(t *testing.T) {
	strategy := Strategy{Interval: 2 * time.Second, MaxInterval: time.Minute, MaxRetransmissions: 3}

	for attempt := 0; attempt < 10; attempt++ {
		assert.Equal(t, 2*time.Second, strategy.NextInterval(attempt))
	}
}

func TestStrategy_NextInterval_NonDecreasing(t *testing.T) {
	strategies := []Strategy{
		DefaultStrategy(),
		{Interval: 250 * time.Millisecond, MaxInterval: 7 * time.Second, ExponentialBackoff: true, MaxRetransmissions: 40},
		{Interval: time.Second, MaxInterval: time.Second, ExponentialBackoff: true, MaxRetransmissions: 5},
	}

	for _, s := range strategies {
		prev := time.Duration(0)
		for attempt := 0; attempt <= s.MaxRetransmissions; attempt++ {
			next := s.NextInterval(attempt)
			assert.GreaterOrEqual(t, next, prev, "attempt %d", attempt)
			assert.LessOrEqual(t, next, s.MaxInterval)
			prev = next
		}
	}
}

func TestStrategy_CanRetransmit(t *testing.T) {
	strategy := Strategy{Interval: time.Second, MaxInterval: time.Second, MaxRetransmissions: 3}

	tests := []struct {
		attemptCount int
		expected     bool
	}{
		{0, true},
		{2, true},
		{3, false},
		{4, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, strategy.CanRetransmit(tt.attemptCount), "attemptCount=%d", tt.attemptCount)
	}

	none := Strategy{Interval: time.Second, MaxInterval: time.Second}
	assert.False(t, none.CanRetransmit(0))
}

func TestStrategy_TotalSpan(t *testing.T) {
	strategy := Strategy{Interval: time.Second, MaxInterval: time.Minute, ExponentialBackoff: true, MaxRetransmissions: 3}

	// 1s + 2s + 4s + 8s
	assert.Equal(t, 15*time.Second, strategy.TotalSpan())
}

func TestStrategy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       Strategy
		wantErr bool
	}{
		{name: "Default", s: DefaultStrategy(), wantErr: false},
		{name: "Zero interval", s: Strategy{MaxInterval: time.Second}, wantErr: true},
		{name: "Cap below interval", s: Strategy{Interval: time.Minute, MaxInterval: time.Second}, wantErr: true},
		{name: "Negative budget", s: Strategy{Interval: time.Second, MaxInterval: time.Second, MaxRetransmissions: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStrategy_GetRetrySchedule(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	g.Assert(t, "default_schedule", []byte(DefaultStrategy().GetRetrySchedule()))

	linear := Strategy{Interval: 2 * time.Second, MaxInterval: time.Minute, MaxRetransmissions: 3}
	g.Assert(t, "linear_schedule", []byte(linear.GetRetrySchedule()))
}
