// Package policy holds the resolved reliability configuration consumed by the engine.
//
// A Policy starts from Default, is adjusted option by option through Apply (the same
// tags a policy document uses), and may inherit whatever it leaves unset from a parent.
package policy

import (
	"time"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/retry"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DeliveryAssurance selects how often a received message may reach the application.
type DeliveryAssurance string

const (
	ExactlyOnce DeliveryAssurance = "exactly-once"
	AtLeastOnce DeliveryAssurance = "at-least-once"
)

// StorageManager selects the storage backend.
type StorageManager string

const (
	InMemory  StorageManager = "in-memory"
	Permanent StorageManager = "permanent"
)

// Policy is the resolved configuration of the reliability engine.
type Policy struct {
	// RetransmissionInterval is the delay before the first retransmission.
	RetransmissionInterval time.Duration
	// AcknowledgementInterval delays acknowledgements for received messages so they
	// can be batched. Zero acknowledges every message immediately.
	AcknowledgementInterval time.Duration
	ExponentialBackoff      bool
	// MaximumRetransmissionCount is the retransmission budget of a message.
	MaximumRetransmissionCount int
	MaxRetransmissionInterval  time.Duration

	// InactivityTimeout moves idle sequences to TIMED_OUT. Zero disables it.
	InactivityTimeout time.Duration
	// SequenceRemovalTimeout deletes terminal snapshots older than this. Zero keeps
	// them forever.
	SequenceRemovalTimeout time.Duration

	InvokeInOrder     bool
	DeliveryAssurance DeliveryAssurance
	StorageManager    StorageManager
	SpecVersion       model.SpecVersion

	// MessageTypesToDrop lists outbound message types that are never put on the wire.
	// Meant for exercising retransmission in tests.
	MessageTypesToDrop []model.MessageType

	// TimeoutHandlerInterval is the scheduler tick.
	TimeoutHandlerInterval time.Duration
	// WaitPollInterval is the fallback poll period of WaitUntilSequenceCompleted.
	WaitPollInterval time.Duration

	inactivityUnit time.Duration
	removalUnit    time.Duration
	explicit       map[string]bool
}

// Default returns the default policy.
func Default() *Policy {
	return &Policy{
		RetransmissionInterval:     6 * time.Second,
		AcknowledgementInterval:    3 * time.Second,
		ExponentialBackoff:         true,
		MaximumRetransmissionCount: 10,
		MaxRetransmissionInterval:  30 * time.Minute,
		InvokeInOrder:              true,
		DeliveryAssurance:          ExactlyOnce,
		StorageManager:             InMemory,
		SpecVersion:                model.DefaultSpecVersion,
		TimeoutHandlerInterval:     500 * time.Millisecond,
		WaitPollInterval:           300 * time.Millisecond,
		inactivityUnit:             time.Second,
		removalUnit:                time.Second,
	}
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	c := *p
	c.MessageTypesToDrop = append([]model.MessageType(nil), p.MessageTypesToDrop...)
	c.explicit = make(map[string]bool, len(p.explicit))
	for k, v := range p.explicit {
		c.explicit[k] = v
	}
	return &c
}

// IsSet reports whether the option tag was assigned through Apply.
func (p *Policy) IsSet(tag string) bool {
	return p.explicit[normalizeTag(tag)]
}

// Inherit copies every option not explicitly set on p from parent.
func (p *Policy) Inherit(parent *Policy) {
	if parent == nil {
		return
	}
	for tag, opt := range options {
		if p.explicit[tag] || opt.inherit == nil {
			continue
		}
		opt.inherit(p, parent)
	}
}

// Strategy returns the retransmission timing derived from the policy.
func (p *Policy) Strategy() retry.Strategy {
	maxInterval := p.MaxRetransmissionInterval
	if maxInterval < p.RetransmissionInterval {
		maxInterval = p.RetransmissionInterval
	}
	return retry.Strategy{
		Interval:           p.RetransmissionInterval,
		MaxInterval:        maxInterval,
		ExponentialBackoff: p.ExponentialBackoff,
		MaxRetransmissions: p.MaximumRetransmissionCount,
	}
}

// Drops reports whether outbound messages of type t are suppressed.
func (p *Policy) Drops(t model.MessageType) bool {
	for _, d := range p.MessageTypesToDrop {
		if d == t {
			return true
		}
	}
	return false
}

// Validate checks the policy for consistency.
func (p *Policy) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.RetransmissionInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.AcknowledgementInterval, validation.Min(time.Duration(0))),
		validation.Field(&p.MaximumRetransmissionCount, validation.Min(0)),
		validation.Field(&p.MaxRetransmissionInterval, validation.Min(time.Duration(0))),
		validation.Field(&p.InactivityTimeout, validation.Min(time.Duration(0))),
		validation.Field(&p.SequenceRemovalTimeout, validation.Min(time.Duration(0))),
		validation.Field(&p.DeliveryAssurance, validation.Required, validation.In(ExactlyOnce, AtLeastOnce)),
		validation.Field(&p.StorageManager, validation.Required, validation.In(InMemory, Permanent)),
		validation.Field(&p.SpecVersion, validation.Required, validation.In(model.SpecVersion10, model.SpecVersion11)),
		validation.Field(&p.TimeoutHandlerInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.WaitPollInterval, validation.Required, validation.Min(time.Millisecond)),
	)
}
