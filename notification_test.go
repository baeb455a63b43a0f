package wsrm_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/policy"
)

// capturingLogger records formatted log lines by level.
type capturingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *capturingLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *capturingLogger) Debugf(format string, args ...interface{}) { l.add("DEBUG", format, args...) }
func (l *capturingLogger) Infof(format string, args ...interface{})  { l.add("INFO", format, args...) }
func (l *capturingLogger) Warnf(format string, args ...interface{})  { l.add("WARN", format, args...) }
func (l *capturingLogger) Errorf(format string, args ...interface{}) { l.add("ERROR", format, args...) }
func (l *capturingLogger) Info(message string)                      { l.add("INFO", "%s", message) }

func (l *capturingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestLoggingNotificationService(t *testing.T) {
	ctx := context.Background()
	logger := &capturingLogger{}
	svc := wsrm.NewLoggingNotificationService(logger)

	event := wsrm.SequenceEvent{
		Direction:          model.DirectionOut,
		SequenceID:         "urn:uuid:p1",
		InternalSequenceID: "i-1",
		Destination:        peerURL,
	}

	tests := []struct {
		name   string
		notify func() error
		want   string
	}{
		{
			name:   "established",
			notify: func() error { return svc.NotifySequenceEstablished(ctx, event) },
			want:   "INFO ✅ Sequence established: direction=OUT, sequence_id=urn:uuid:p1, internal_id=i-1, peer=" + peerURL,
		},
		{
			name:   "terminated",
			notify: func() error { return svc.NotifySequenceTerminated(ctx, event) },
			want:   "INFO 🔴 Sequence terminated: direction=OUT, sequence_id=urn:uuid:p1",
		},
		{
			name:   "timed out",
			notify: func() error { return svc.NotifySequenceTimedOut(ctx, event) },
			want:   "WARN ⏱️ Sequence timed out",
		},
		{
			name: "delivery failure",
			notify: func() error {
				return svc.NotifyDeliveryFailure(ctx, model.DeliveryFailure{
					SequenceID:    "i-1",
					MessageType:   model.MessageApplication,
					MessageNumber: 7,
					AttemptCount:  3,
					FailureReason: "budget spent",
					LastError:     "connection refused",
				})
			},
			want: "WARN ⚠️ Delivery failed: sequence=i-1, type=Application, message=7, attempts=3, reason=budget spent, last_error=connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.notify())
			assert.True(t, logger.contains(tt.want), "missing %q in %v", tt.want, logger.lines)
		})
	}
}

func TestNoOpNotificationService(t *testing.T) {
	ctx := context.Background()
	svc := &wsrm.NoOpNotificationService{}

	assert.NoError(t, svc.NotifyDeliveryFailure(ctx, model.DeliveryFailure{}))
	assert.NoError(t, svc.NotifySequenceEstablished(ctx, wsrm.SequenceEvent{}))
	assert.NoError(t, svc.NotifySequenceTerminated(ctx, wsrm.SequenceEvent{}))
	assert.NoError(t, svc.NotifySequenceTimedOut(ctx, wsrm.SequenceEvent{}))
}

// failingNotifications rejects every notification.
type failingNotifications struct {
	*wsrm.NoOpNotificationService
}

func (failingNotifications) NotifySequenceEstablished(context.Context, wsrm.SequenceEvent) error {
	return errors.New("smtp down")
}

func TestEngine_NotificationErrorDoesNotUndoTransition(t *testing.T) {
	logger := &capturingLogger{}
	h := newHarness(t, nil,
		wsrm.WithLogger(logger),
		wsrm.WithNotifications(&failingNotifications{NoOpNotificationService: &wsrm.NoOpNotificationService{}}),
	)
	ctx := context.Background()

	_, err := h.engine.CreateSequence(ctx, peerURL, "k", wsrm.CreateOptions{})
	require.NoError(t, err)

	report, err := h.engine.OutgoingSequenceReport(ctx, peerURL, "k")
	require.NoError(t, err)
	assert.Equal(t, model.ReportEstablished, report.Status)
	assert.True(t, logger.contains("WARN Failed to send sequence notification: smtp down"))
}

func TestEngine_DeliveryFailureNotification(t *testing.T) {
	h := newHarness(t, func(p *policy.Policy) {
		p.RetransmissionInterval = time.Second
		p.ExponentialBackoff = false
		p.MaximumRetransmissionCount = 1
	})
	ctx := context.Background()
	h.peer.WithholdAcks(true)

	_, err := h.engine.Send(ctx, peerURL, "k", []byte("m"), wsrm.SendOptions{})
	require.NoError(t, err)
	protocolID, err := h.engine.SequenceID(ctx, peerURL, "k")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		_, err := h.engine.Scheduler().ProcessDueMessages(ctx)
		require.NoError(t, err)
	}

	failures := h.notifications.deliveryFailures()
	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, protocolID, f.ProtocolID)
	assert.Equal(t, peerURL, f.Destination)
	assert.Equal(t, model.MessageApplication, f.MessageType)
	assert.Equal(t, epoch, f.FirstAttemptAt)
	assert.Equal(t, epoch.Add(2*time.Second), f.FailedAt)
	assert.Equal(t, 2*time.Second, f.Age())
}
