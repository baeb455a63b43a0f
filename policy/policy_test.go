package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coregx/wsrm/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()

	assert.Equal(t, 6*time.Second, p.RetransmissionInterval)
	assert.Equal(t, 3*time.Second, p.AcknowledgementInterval)
	assert.True(t, p.ExponentialBackoff)
	assert.Equal(t, 10, p.MaximumRetransmissionCount)
	assert.Zero(t, p.InactivityTimeout)
	assert.True(t, p.InvokeInOrder)
	assert.Equal(t, ExactlyOnce, p.DeliveryAssurance)
	assert.Equal(t, InMemory, p.StorageManager)
	assert.Equal(t, model.SpecVersion10, p.SpecVersion)
	assert.Equal(t, 500*time.Millisecond, p.TimeoutHandlerInterval)
	assert.Equal(t, 300*time.Millisecond, p.WaitPollInterval)
	require.NoError(t, p.Validate())
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		value string
		check func(t *testing.T, p *Policy)
	}{
		{"millis", TagRetransmissionInterval, "2500", func(t *testing.T, p *Policy) {
			assert.Equal(t, 2500*time.Millisecond, p.RetransmissionInterval)
		}},
		{"duration string", TagAcknowledgementInterval, "0s", func(t *testing.T, p *Policy) {
			assert.Zero(t, p.AcknowledgementInterval)
		}},
		{"case insensitive tag", "exponentialbackoff", "false", func(t *testing.T, p *Policy) {
			assert.False(t, p.ExponentialBackoff)
		}},
		{"count", TagMaximumRetransmissionCount, "3", func(t *testing.T, p *Policy) {
			assert.Equal(t, 3, p.MaximumRetransmissionCount)
		}},
		{"inactivity seconds by default", TagInactivityTimeout, "90", func(t *testing.T, p *Policy) {
			assert.Equal(t, 90*time.Second, p.InactivityTimeout)
		}},
		{"delivery assurance", TagDeliveryAssurance, "AT-LEAST-ONCE", func(t *testing.T, p *Policy) {
			assert.Equal(t, AtLeastOnce, p.DeliveryAssurance)
		}},
		{"storage", TagStorageManager, "permanent", func(t *testing.T, p *Policy) {
			assert.Equal(t, Permanent, p.StorageManager)
		}},
		{"spec version", TagSpecVersion, "1.1", func(t *testing.T, p *Policy) {
			assert.Equal(t, model.SpecVersion11, p.SpecVersion)
		}},
		{"drop list", TagMessageTypesToDrop, "CreateSequence, Application", func(t *testing.T, p *Policy) {
			assert.Equal(t, []model.MessageType{model.MessageCreateSequence, model.MessageApplication}, p.MessageTypesToDrop)
			assert.True(t, p.Drops(model.MessageApplication))
			assert.False(t, p.Drops(model.MessageTerminateSequence))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			require.NoError(t, Apply(p, tt.tag, tt.value))
			assert.True(t, p.IsSet(tt.tag))
			tt.check(t, p)
		})
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		value string
	}{
		{"unknown tag", "NoSuchOption", "1"},
		{"bad duration", TagRetransmissionInterval, "soon"},
		{"negative duration", TagRetransmissionInterval, "-5"},
		{"bad bool", TagInvokeInOrder, "maybe"},
		{"bad version", TagSpecVersion, "2.0"},
		{"bad measure", TagInactivityTimeoutMeasure, "fortnights"},
		{"bad assurance", TagDeliveryAssurance, "at-most-once"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			assert.Error(t, Apply(p, tt.tag, tt.value))
			assert.False(t, p.IsSet(tt.tag))
		})
	}
}

func TestApply_MeasureOrderIndependent(t *testing.T) {
	countFirst := Default()
	require.NoError(t, Apply(countFirst, TagInactivityTimeout, "5"))
	require.NoError(t, Apply(countFirst, TagInactivityTimeoutMeasure, "minutes"))

	measureFirst := Default()
	require.NoError(t, Apply(measureFirst, TagInactivityTimeoutMeasure, "minutes"))
	require.NoError(t, Apply(measureFirst, TagInactivityTimeout, "5"))

	assert.Equal(t, 5*time.Minute, countFirst.InactivityTimeout)
	assert.Equal(t, 5*time.Minute, measureFirst.InactivityTimeout)

	days := Default()
	require.NoError(t, Apply(days, TagSequenceRemovalTimeoutMeasure, "days"))
	require.NoError(t, Apply(days, TagSequenceRemovalTimeout, "2"))
	assert.Equal(t, 48*time.Hour, days.SequenceRemovalTimeout)
}

func TestInherit(t *testing.T) {
	parent := Default()
	require.NoError(t, Apply(parent, TagRetransmissionInterval, "1000"))
	require.NoError(t, Apply(parent, TagSpecVersion, "1.1"))
	require.NoError(t, Apply(parent, TagMessageTypesToDrop, "Application"))

	child := Default()
	require.NoError(t, Apply(child, TagRetransmissionInterval, "250"))
	child.Inherit(parent)

	assert.Equal(t, 250*time.Millisecond, child.RetransmissionInterval, "explicit value wins")
	assert.Equal(t, model.SpecVersion11, child.SpecVersion, "unset value comes from parent")
	assert.Equal(t, []model.MessageType{model.MessageApplication}, child.MessageTypesToDrop)

	// no aliasing
	child.MessageTypesToDrop[0] = model.MessageFault
	assert.Equal(t, model.MessageApplication, parent.MessageTypesToDrop[0])

	child.Inherit(nil)
}

func TestStrategy(t *testing.T) {
	p := Default()
	s := p.Strategy()
	assert.Equal(t, 6*time.Second, s.Interval)
	assert.Equal(t, 30*time.Minute, s.MaxInterval)
	assert.Equal(t, 10, s.MaxRetransmissions)
	require.NoError(t, s.Validate())

	p.MaxRetransmissionInterval = 0
	assert.Equal(t, p.RetransmissionInterval, p.Strategy().MaxInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"zero retransmission interval", func(p *Policy) { p.RetransmissionInterval = 0 }},
		{"negative count", func(p *Policy) { p.MaximumRetransmissionCount = -1 }},
		{"unknown storage", func(p *Policy) { p.StorageManager = "tape" }},
		{"unknown version", func(p *Policy) { p.SpecVersion = "0.9" }},
		{"zero tick", func(p *Policy) { p.TimeoutHandlerInterval = 0 }},
		{"zero poll", func(p *Policy) { p.WaitPollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestLoadYAML(t *testing.T) {
	doc := `
InactivityTimeout: 2
InactivityTimeoutMeasure: hours
RetransmissionInterval: 1500
ExponentialBackoff: false
SpecVersion: "1.1"
MessageTypesToDrop: [CreateSequence, TerminateSequence]
WaitPollInterval: 50ms
`
	p, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, p.InactivityTimeout)
	assert.Equal(t, 1500*time.Millisecond, p.RetransmissionInterval)
	assert.False(t, p.ExponentialBackoff)
	assert.Equal(t, model.SpecVersion11, p.SpecVersion)
	assert.True(t, p.Drops(model.MessageTerminateSequence))
	assert.Equal(t, 50*time.Millisecond, p.WaitPollInterval)
	assert.Equal(t, 10, p.MaximumRetransmissionCount, "untouched options keep defaults")
}

func TestLoadYAML_Empty(t *testing.T) {
	p, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().RetransmissionInterval, p.RetransmissionInterval)
}

func TestLoadYAML_Invalid(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("SpecVersion: \"3.0\"\n"))
	assert.Error(t, err)

	_, err = LoadYAML(strings.NewReader("Bogus: 1\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("MaximumRetransmissionCount: 4\n"), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, p.MaximumRetransmissionCount)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
