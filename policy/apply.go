package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/wsrm/model"
)

// Option tags accepted by Apply.
const (
	TagRetransmissionInterval        = "RetransmissionInterval"
	TagAcknowledgementInterval       = "AcknowledgementInterval"
	TagExponentialBackoff            = "ExponentialBackoff"
	TagMaximumRetransmissionCount    = "MaximumRetransmissionCount"
	TagMaxRetransmissionInterval     = "MaxRetransmissionInterval"
	TagInactivityTimeout             = "InactivityTimeout"
	TagInactivityTimeoutMeasure      = "InactivityTimeoutMeasure"
	TagSequenceRemovalTimeout        = "SequenceRemovalTimeout"
	TagSequenceRemovalTimeoutMeasure = "SequenceRemovalTimeoutMeasure"
	TagInvokeInOrder                 = "InvokeInOrder"
	TagDeliveryAssurance             = "DeliveryAssurance"
	TagStorageManager                = "StorageManager"
	TagSpecVersion                   = "SpecVersion"
	TagMessageTypesToDrop            = "MessageTypesToDrop"
	TagTimeoutHandlerInterval        = "TimeoutHandlerInterval"
	TagWaitPollInterval              = "WaitPollInterval"
)

type applyFn func(p *Policy, value string) error

type option struct {
	apply   applyFn
	inherit func(dst, src *Policy)
}

var options = map[string]option{
	normalizeTag(TagRetransmissionInterval): {
		apply:   durationMillis(func(p *Policy) *time.Duration { return &p.RetransmissionInterval }),
		inherit: func(dst, src *Policy) { dst.RetransmissionInterval = src.RetransmissionInterval },
	},
	normalizeTag(TagAcknowledgementInterval): {
		apply:   durationMillis(func(p *Policy) *time.Duration { return &p.AcknowledgementInterval }),
		inherit: func(dst, src *Policy) { dst.AcknowledgementInterval = src.AcknowledgementInterval },
	},
	normalizeTag(TagExponentialBackoff): {
		apply:   boolean(func(p *Policy) *bool { return &p.ExponentialBackoff }),
		inherit: func(dst, src *Policy) { dst.ExponentialBackoff = src.ExponentialBackoff },
	},
	normalizeTag(TagMaximumRetransmissionCount): {
		apply: func(p *Policy, value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			p.MaximumRetransmissionCount = n
			return nil
		},
		inherit: func(dst, src *Policy) { dst.MaximumRetransmissionCount = src.MaximumRetransmissionCount },
	},
	normalizeTag(TagMaxRetransmissionInterval): {
		apply:   durationMillis(func(p *Policy) *time.Duration { return &p.MaxRetransmissionInterval }),
		inherit: func(dst, src *Policy) { dst.MaxRetransmissionInterval = src.MaxRetransmissionInterval },
	},
	normalizeTag(TagInactivityTimeout): {
		apply: measured(
			func(p *Policy) *time.Duration { return &p.InactivityTimeout },
			func(p *Policy) *time.Duration { return &p.inactivityUnit },
		),
		inherit: func(dst, src *Policy) {
			dst.InactivityTimeout = src.InactivityTimeout
			dst.inactivityUnit = src.inactivityUnit
		},
	},
	normalizeTag(TagInactivityTimeoutMeasure): {
		apply: measure(
			func(p *Policy) *time.Duration { return &p.InactivityTimeout },
			func(p *Policy) *time.Duration { return &p.inactivityUnit },
		),
	},
	normalizeTag(TagSequenceRemovalTimeout): {
		apply: measured(
			func(p *Policy) *time.Duration { return &p.SequenceRemovalTimeout },
			func(p *Policy) *time.Duration { return &p.removalUnit },
		),
		inherit: func(dst, src *Policy) {
			dst.SequenceRemovalTimeout = src.SequenceRemovalTimeout
			dst.removalUnit = src.removalUnit
		},
	},
	normalizeTag(TagSequenceRemovalTimeoutMeasure): {
		apply: measure(
			func(p *Policy) *time.Duration { return &p.SequenceRemovalTimeout },
			func(p *Policy) *time.Duration { return &p.removalUnit },
		),
	},
	normalizeTag(TagInvokeInOrder): {
		apply:   boolean(func(p *Policy) *bool { return &p.InvokeInOrder }),
		inherit: func(dst, src *Policy) { dst.InvokeInOrder = src.InvokeInOrder },
	},
	normalizeTag(TagDeliveryAssurance): {
		apply: func(p *Policy, value string) error {
			switch d := DeliveryAssurance(strings.ToLower(value)); d {
			case ExactlyOnce, AtLeastOnce:
				p.DeliveryAssurance = d
				return nil
			}
			return fmt.Errorf("unknown delivery assurance %q", value)
		},
		inherit: func(dst, src *Policy) { dst.DeliveryAssurance = src.DeliveryAssurance },
	},
	normalizeTag(TagStorageManager): {
		apply: func(p *Policy, value string) error {
			switch s := StorageManager(strings.ToLower(value)); s {
			case InMemory, Permanent:
				p.StorageManager = s
				return nil
			}
			return fmt.Errorf("unknown storage manager %q", value)
		},
		inherit: func(dst, src *Policy) { dst.StorageManager = src.StorageManager },
	},
	normalizeTag(TagSpecVersion): {
		apply: func(p *Policy, value string) error {
			v := model.SpecVersion(value)
			if !v.Valid() {
				return fmt.Errorf("unknown spec version %q", value)
			}
			p.SpecVersion = v
			return nil
		},
		inherit: func(dst, src *Policy) { dst.SpecVersion = src.SpecVersion },
	},
	normalizeTag(TagMessageTypesToDrop): {
		apply: func(p *Policy, value string) error {
			p.MessageTypesToDrop = nil
			for _, part := range strings.Split(value, ",") {
				if part = strings.TrimSpace(part); part != "" {
					p.MessageTypesToDrop = append(p.MessageTypesToDrop, model.MessageType(part))
				}
			}
			return nil
		},
		inherit: func(dst, src *Policy) {
			dst.MessageTypesToDrop = append([]model.MessageType(nil), src.MessageTypesToDrop...)
		},
	},
	normalizeTag(TagTimeoutHandlerInterval): {
		apply:   durationMillis(func(p *Policy) *time.Duration { return &p.TimeoutHandlerInterval }),
		inherit: func(dst, src *Policy) { dst.TimeoutHandlerInterval = src.TimeoutHandlerInterval },
	},
	normalizeTag(TagWaitPollInterval): {
		apply:   durationMillis(func(p *Policy) *time.Duration { return &p.WaitPollInterval }),
		inherit: func(dst, src *Policy) { dst.WaitPollInterval = src.WaitPollInterval },
	},
}

// Apply sets the option identified by tag from its textual value. Tags are matched
// case-insensitively. Durations accept a plain number of milliseconds or a Go duration
// string; the two timeout options count in their measure unit instead.
func Apply(p *Policy, tag, value string) error {
	key := normalizeTag(tag)
	opt, ok := options[key]
	if !ok {
		return fmt.Errorf("unknown policy option %q", tag)
	}
	if err := opt.apply(p, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("policy option %s: %w", tag, err)
	}

	if p.explicit == nil {
		p.explicit = make(map[string]bool)
	}
	p.explicit[key] = true
	switch key {
	case normalizeTag(TagInactivityTimeoutMeasure):
		p.explicit[normalizeTag(TagInactivityTimeout)] = true
	case normalizeTag(TagSequenceRemovalTimeoutMeasure):
		p.explicit[normalizeTag(TagSequenceRemovalTimeout)] = true
	}
	return nil
}

// Tags returns every accepted option tag.
func Tags() []string {
	return []string{
		TagRetransmissionInterval, TagAcknowledgementInterval, TagExponentialBackoff,
		TagMaximumRetransmissionCount, TagMaxRetransmissionInterval,
		TagInactivityTimeout, TagInactivityTimeoutMeasure,
		TagSequenceRemovalTimeout, TagSequenceRemovalTimeoutMeasure,
		TagInvokeInOrder, TagDeliveryAssurance, TagStorageManager, TagSpecVersion,
		TagMessageTypesToDrop, TagTimeoutHandlerInterval, TagWaitPollInterval,
	}
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func parseDuration(value string, unit time.Duration) (time.Duration, error) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %d", n)
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %v", d)
	}
	return d, nil
}

func durationMillis(field func(*Policy) *time.Duration) applyFn {
	return func(p *Policy, value string) error {
		d, err := parseDuration(value, time.Millisecond)
		if err != nil {
			return err
		}
		*field(p) = d
		return nil
	}
}

func boolean(field func(*Policy) *bool) applyFn {
	return func(p *Policy, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*field(p) = b
		return nil
	}
}

func measured(field, unit func(*Policy) *time.Duration) applyFn {
	return func(p *Policy, value string) error {
		u := *unit(p)
		if u == 0 {
			u = time.Second
		}
		d, err := parseDuration(value, u)
		if err != nil {
			return err
		}
		*field(p) = d
		return nil
	}
}

// measure changes the unit of a measured option, keeping its count: a timeout of 5
// applied before or after "minutes" ends up as 5 minutes either way.
func measure(field, unit func(*Policy) *time.Duration) applyFn {
	return func(p *Policy, value string) error {
		next, err := parseMeasure(value)
		if err != nil {
			return err
		}
		prev := *unit(p)
		if prev == 0 {
			prev = time.Second
		}
		if d := *field(p); d > 0 && d%prev == 0 {
			*field(p) = d / prev * next
		}
		*unit(p) = next
		return nil
	}
}

func parseMeasure(value string) (time.Duration, error) {
	switch strings.ToLower(value) {
	case "milliseconds":
		return time.Millisecond, nil
	case "seconds", "":
		return time.Second, nil
	case "minutes":
		return time.Minute, nil
	case "hours":
		return time.Hour, nil
	case "days":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown measure %q", value)
}
