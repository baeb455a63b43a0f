package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSendRecord_TableName(t *testing.T) {
	r := SendRecord{}
	assert.Equal(t, "wsrm_send_record", r.TableName())
}

func TestNewApplicationRecord(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 3, []byte("hello"), true, epoch)

	assert.Equal(t, SendRecordID("seq-1", MessageApplication, 3), r.ID)
	assert.Equal(t, "seq-1", r.SequenceID)
	assert.Equal(t, int64(3), r.MessageNumber)
	assert.Equal(t, SendStatusPendingFirstSend, r.Status)
	assert.Equal(t, 0, r.AttemptCount)
	assert.Equal(t, epoch, r.NextRetransmitAt)
	assert.True(t, r.LastMessage)
	assert.True(t, r.IsApplication())
	assert.True(t, r.IsDue(epoch))
}

func TestNewControlRecord(t *testing.T) {
	r := NewControlRecord("seq-1", "http://peer", "msg-9", MessageCreateSequence, epoch)

	assert.Equal(t, int64(0), r.MessageNumber)
	assert.False(t, r.IsApplication())
	assert.NotEqual(t, r.ID, NewControlRecord("seq-1", "http://peer", "m", MessageTerminateSequence, epoch).ID)
}

func TestSendRecordID_SortsByNumber(t *testing.T) {
	assert.Less(t, SendRecordID("s", MessageApplication, 9), SendRecordID("s", MessageApplication, 10))
}

func TestSendRecord_MarkSent(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, nil, false, epoch)

	r.MarkSent(epoch, 6*time.Second)

	assert.Equal(t, SendStatusAwaitingAck, r.Status)
	assert.Equal(t, epoch, r.FirstSentAt)
	assert.Equal(t, epoch.Add(6*time.Second), r.NextRetransmitAt)
	assert.False(t, r.IsDue(epoch.Add(5*time.Second)))
	assert.True(t, r.IsDue(epoch.Add(6*time.Second)))
	assert.Equal(t, 0, r.AttemptCount)
}

func TestSendRecord_CanResend(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *SendRecord)
		now      time.Time
		max      int
		expected error
	}{
		{
			name:     "Due and under budget",
			setup:    func(r *SendRecord) { r.MarkSent(epoch, time.Second) },
			now:      epoch.Add(time.Second),
			max:      3,
			expected: nil,
		},
		{
			name:     "Not due yet",
			setup:    func(r *SendRecord) { r.MarkSent(epoch, time.Minute) },
			now:      epoch.Add(time.Second),
			max:      3,
			expected: ErrNotDue,
		},
		{
			name: "Budget spent",
			setup: func(r *SendRecord) {
				r.MarkSent(epoch, time.Second)
				r.AttemptCount = 3
			},
			now:      epoch.Add(time.Hour),
			max:      3,
			expected: ErrMaxRetransmissionsExceeded,
		},
		{
			name:     "Already failed",
			setup:    func(r *SendRecord) { r.MarkFailed("boom") },
			now:      epoch,
			max:      3,
			expected: ErrRecordFailed,
		},
		{
			name:     "Already acknowledged",
			setup:    func(r *SendRecord) { r.MarkAcknowledged() },
			now:      epoch,
			max:      3,
			expected: ErrRecordAcknowledged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, nil, false, epoch)
			tt.setup(&r)

			err := r.CanResend(tt.now, tt.max)
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.expected), "got %v", err)
		})
	}
}

func TestSendRecord_ResendCycle(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, nil, false, epoch)
	r.MarkSent(epoch, time.Second)

	interval := func(attempt int) time.Duration { return time.Duration(attempt) * time.Second }

	now := epoch.Add(time.Second)
	r.BeginResend(now, interval)
	assert.Equal(t, SendStatusResend, r.Status)
	assert.Equal(t, 1, r.AttemptCount)
	assert.Equal(t, now.Add(time.Second), r.NextRetransmitAt)
	assert.True(t, r.IsSchedulable())

	r.CompleteResend()
	assert.Equal(t, SendStatusAwaitingAck, r.Status)

	now = now.Add(time.Second)
	r.BeginResend(now, interval)
	assert.Equal(t, 2, r.AttemptCount)
	assert.Equal(t, now.Add(2*time.Second), r.NextRetransmitAt)
	assert.Equal(t, epoch, r.FirstSentAt)
	assert.Equal(t, now, r.LastSentAt)
}

func TestSendRecord_MarkFailed(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, nil, false, epoch)
	r.RecordError(errors.New("connection refused"))

	r.MarkFailed("max retransmissions")

	assert.Equal(t, SendStatusFailed, r.Status)
	assert.Equal(t, "connection refused", r.LastError)
	assert.False(t, r.IsSchedulable())
	assert.False(t, r.IsDue(epoch.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), r.TimeUntilRetransmit(epoch))
}

func TestSendRecord_Hold(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, nil, false, epoch)
	r.Hold()

	assert.True(t, r.IsHeld())
	assert.True(t, r.IsSchedulable())
	assert.False(t, r.IsDue(epoch.Add(time.Hour)))

	r.MarkSent(epoch, 6*time.Second)
	assert.False(t, r.IsHeld())
	assert.True(t, r.IsDue(epoch.Add(6*time.Second)))

	r.Hold()
	assert.Equal(t, epoch.Add(6*time.Second), r.NextRetransmitAt, "only first sends can be held")
}

func TestSendRecord_TimeUntilRetransmit(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, nil, false, epoch)
	r.MarkSent(epoch, 10*time.Second)

	assert.Equal(t, 4*time.Second, r.TimeUntilRetransmit(epoch.Add(6*time.Second)))
	assert.Equal(t, time.Duration(0), r.TimeUntilRetransmit(epoch.Add(time.Minute)))
}

func TestSendRecord_ToMessage(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 4, []byte("x"), true, epoch)

	m := r.ToMessage("urn:uuid:peer-seq")

	assert.Equal(t, MessageApplication, m.Type)
	assert.Equal(t, "urn:uuid:peer-seq", m.SequenceID)
	assert.Equal(t, int64(4), m.MessageNumber)
	assert.True(t, m.LastMessage)
	assert.Equal(t, []byte("x"), m.Payload)
}

func TestNewDeliveryFailure(t *testing.T) {
	r := NewApplicationRecord("seq-1", "http://peer", "msg-1", 2, nil, false, epoch)
	r.MarkSent(epoch, time.Second)
	r.BeginResend(epoch.Add(time.Minute), func(int) time.Duration { return time.Second })
	r.RecordError(errors.New("timeout"))
	r.MarkFailed("exhausted")

	f := NewDeliveryFailure(&r, "urn:uuid:p", "exhausted", epoch.Add(time.Hour))

	assert.Equal(t, "seq-1", f.SequenceID)
	assert.Equal(t, "urn:uuid:p", f.ProtocolID)
	assert.Equal(t, int64(2), f.MessageNumber)
	assert.Equal(t, 1, f.AttemptCount)
	assert.Equal(t, "timeout", f.LastError)
	assert.Equal(t, "exhausted", f.FailureReason)
	assert.Equal(t, time.Hour, f.Age())
}
