package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceStatus_ReportStatus(t *testing.T) {
	tests := []struct {
		status   SequenceStatus
		expected ReportStatus
	}{
		{StatusInitial, ReportInitial},
		{StatusEstablishing, ReportInitial},
		{StatusEstablished, ReportEstablished},
		{StatusClosing, ReportEstablished},
		{StatusTerminated, ReportTerminated},
		{StatusTimedOut, ReportTimedOut},
		{SequenceStatus(""), ReportUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.ReportStatus())
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		from, to  SequenceStatus
		allowed   bool
	}{
		{"Out initial to establishing", DirectionOut, StatusInitial, StatusEstablishing, true},
		{"Out establishing to established", DirectionOut, StatusEstablishing, StatusEstablished, true},
		{"Out establishing timeout", DirectionOut, StatusEstablishing, StatusTimedOut, true},
		{"Out established to closing", DirectionOut, StatusEstablished, StatusClosing, true},
		{"Out closing to terminated", DirectionOut, StatusClosing, StatusTerminated, true},
		{"Out initial to established skips handshake", DirectionOut, StatusInitial, StatusEstablished, false},
		{"Out terminated is final", DirectionOut, StatusTerminated, StatusEstablished, false},
		{"Out timed out is final", DirectionOut, StatusTimedOut, StatusTerminated, false},
		{"In established to terminated", DirectionIn, StatusEstablished, StatusTerminated, true},
		{"In established to timed out", DirectionIn, StatusEstablished, StatusTimedOut, true},
		{"In has no closing state", DirectionIn, StatusEstablished, StatusClosing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.direction, tt.from, tt.to))
		})
	}
}

func TestSpecVersion_Rules(t *testing.T) {
	assert.Equal(t, SpecVersion10, DefaultSpecVersion)

	assert.False(t, SpecVersion10.SupportsClosing())
	assert.False(t, SpecVersion10.SupportsAckRequest())
	assert.False(t, SpecVersion10.RequiresTerminateResponse())
	assert.True(t, SpecVersion10.RequiresLastMessage())

	assert.True(t, SpecVersion11.SupportsClosing())
	assert.True(t, SpecVersion11.SupportsAckRequest())
	assert.True(t, SpecVersion11.RequiresTerminateResponse())
	assert.True(t, SpecVersion11.AllowsAckFinal())

	assert.False(t, SpecVersion("2.0").Valid())
}

func TestOutboundSequence_PropertiesRoundTrip(t *testing.T) {
	s := NewOutboundSequence("int-1", "http://peer", "orders", SpecVersion11, epoch)
	s.ProtocolID = "urn:uuid:p1"
	s.OfferedProtocolID = "urn:uuid:offer"
	s.SecurityTokenRef = "token-ref"
	s.LastMessageNumber = 5
	s.Completed.Add(1, 2, 4)
	s.Status = StatusEstablished

	props := s.Properties()
	for _, p := range props {
		assert.Equal(t, "int-1", p.SequenceID)
		assert.Equal(t, "int-1", p.InternalSequenceID)
	}

	loaded, ok, err := OutboundFromProperties("int-1", props)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, s.ProtocolID, loaded.ProtocolID)
	assert.Equal(t, s.Destination, loaded.Destination)
	assert.Equal(t, s.Key, loaded.Key)
	assert.Equal(t, StatusEstablished, loaded.Status)
	assert.Equal(t, SpecVersion11, loaded.SpecVersion)
	assert.Equal(t, int64(5), loaded.LastMessageNumber)
	assert.Equal(t, "[1,2][4,4]", loaded.Completed.String())
	assert.True(t, loaded.CreatedAt.Equal(epoch))
	assert.True(t, loaded.Secure())
}

func TestOutboundFromProperties_Missing(t *testing.T) {
	_, ok, err := OutboundFromProperties("int-1", []SequenceProperty{NewProperty("other", PropDestination, "x")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutboundFromProperties_Malformed(t *testing.T) {
	props := []SequenceProperty{
		NewProperty("int-1", PropDestination, "http://peer"),
		NewProperty("int-1", PropLastMessageNumber, "not-a-number"),
	}
	_, _, err := OutboundFromProperties("int-1", props)
	assert.ErrorIs(t, err, ErrMalformedProperty)
}

func TestOutboundSequence_Transition(t *testing.T) {
	s := NewOutboundSequence("int-1", "http://peer", "", DefaultSpecVersion, epoch)

	require.NoError(t, s.Transition(StatusEstablishing, epoch))
	require.NoError(t, s.Transition(StatusEstablished, epoch))
	assert.ErrorIs(t, s.Transition(StatusInitial, epoch), ErrInvalidTransition)

	later := epoch.Add(time.Minute)
	require.NoError(t, s.Transition(StatusTerminated, later))
	assert.Equal(t, later, s.TerminalAt)
}

func TestOutboundSequence_HasTimedOut(t *testing.T) {
	s := NewOutboundSequence("int-1", "http://peer", "", DefaultSpecVersion, epoch)

	assert.False(t, s.HasTimedOut(epoch.Add(time.Hour), 0), "disabled timeout")
	assert.False(t, s.HasTimedOut(epoch.Add(30*time.Second), time.Minute))
	assert.True(t, s.HasTimedOut(epoch.Add(61*time.Second), time.Minute))

	s.Status = StatusTerminated
	assert.False(t, s.HasTimedOut(epoch.Add(time.Hour), time.Minute), "terminal sequences never time out")
}

func TestOutboundSequence_Completion(t *testing.T) {
	s := NewOutboundSequence("int-1", "http://peer", "", DefaultSpecVersion, epoch)
	assert.True(t, s.AcceptsMessages())
	assert.False(t, s.IsComplete())

	s.LastOutMessage = 3
	s.Completed.Add(1, 3)
	assert.False(t, s.AcceptsMessages())
	assert.False(t, s.IsComplete())

	s.Completed.Add(2)
	assert.True(t, s.IsComplete())
}

func TestOutboundSequence_Snapshot(t *testing.T) {
	s := NewOutboundSequence("int-1", "http://peer", "k", DefaultSpecVersion, epoch)
	s.ProtocolID = "urn:uuid:p"
	s.LastMessageNumber = 4
	s.CreateMessageID = "m"
	s.Completed.Add(1, 2)
	s.Status = StatusTerminated

	snap := s.Snapshot()

	assert.Equal(t, "urn:uuid:p", snap.ProtocolID)
	assert.Equal(t, StatusTerminated, snap.Status)
	assert.Equal(t, "[1,2]", snap.Completed.String())
	assert.Zero(t, snap.LastMessageNumber)
	assert.Empty(t, snap.CreateMessageID)
}

func TestInboundSequence_PropertiesRoundTrip(t *testing.T) {
	s := NewInboundSequence("urn:uuid:in", "http://client/acks", SpecVersion10, epoch)
	s.Completed.Add(1, 2, 3)
	s.NextExpected = 4
	s.LastInMessage = 3
	s.Closed = true

	loaded, ok, err := InboundFromProperties("urn:uuid:in", s.Properties())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "http://client/acks", loaded.AcksTo)
	assert.Equal(t, StatusEstablished, loaded.Status)
	assert.Equal(t, int64(4), loaded.NextExpected)
	assert.Equal(t, int64(3), loaded.LastInMessage)
	assert.True(t, loaded.Closed)
	assert.Equal(t, "[1,3]", loaded.Completed.String())
}

func TestInboundSequence_EmptyAcksToStillMarks(t *testing.T) {
	s := NewInboundSequence("urn:uuid:in", "", SpecVersion10, epoch)

	_, ok, err := InboundFromProperties("urn:uuid:in", s.Properties())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInboundSequence_Transition(t *testing.T) {
	s := NewInboundSequence("urn:uuid:in", "", SpecVersion10, epoch)

	require.NoError(t, s.Transition(StatusTimedOut, epoch))
	assert.ErrorIs(t, s.Transition(StatusTerminated, epoch), ErrInvalidTransition)
}

func TestPendingMessageName(t *testing.T) {
	name := PendingMessageName(12)
	assert.Equal(t, "PENDING_MESSAGE:12", name)
	assert.True(t, IsPendingMessageName(name))
	assert.False(t, IsPendingMessageName(PropStatus))
}
