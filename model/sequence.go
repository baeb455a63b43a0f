package model

import (
	"time"

	"github.com/coregx/wsrm/ranges"
)

// SequenceStatus is the lifecycle state of a sequence.
type SequenceStatus string

const (
	StatusInitial      SequenceStatus = "INITIAL"
	StatusEstablishing SequenceStatus = "ESTABLISHING"
	StatusEstablished  SequenceStatus = "ESTABLISHED"
	StatusClosing      SequenceStatus = "CLOSING"
	StatusTerminated   SequenceStatus = "TERMINATED"
	StatusTimedOut     SequenceStatus = "TIMED_OUT"
)

// IsTerminal reports whether no further transition is possible.
func (s SequenceStatus) IsTerminal() bool {
	return s == StatusTerminated || s == StatusTimedOut
}

// IsLive reports whether the sequence still participates in the protocol.
func (s SequenceStatus) IsLive() bool {
	switch s {
	case StatusInitial, StatusEstablishing, StatusEstablished, StatusClosing:
		return true
	}
	return false
}

// ReportStatus projects the internal state onto the externally reported status.
func (s SequenceStatus) ReportStatus() ReportStatus {
	switch s {
	case StatusInitial, StatusEstablishing:
		return ReportInitial
	case StatusEstablished, StatusClosing:
		return ReportEstablished
	case StatusTerminated:
		return ReportTerminated
	case StatusTimedOut:
		return ReportTimedOut
	}
	return ReportUnknown
}

var outboundTransitions = map[SequenceStatus][]SequenceStatus{
	StatusInitial:      {StatusEstablishing, StatusTimedOut},
	StatusEstablishing: {StatusEstablished, StatusTerminated, StatusTimedOut},
	StatusEstablished:  {StatusClosing, StatusTerminated, StatusTimedOut},
	StatusClosing:      {StatusTerminated, StatusTimedOut},
}

var inboundTransitions = map[SequenceStatus][]SequenceStatus{
	StatusEstablished: {StatusTerminated, StatusTimedOut},
}

// CanTransition reports whether from -> to is a valid move for the given direction.
func CanTransition(direction Direction, from, to SequenceStatus) bool {
	table := outboundTransitions
	if direction == DirectionIn {
		table = inboundTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Direction distinguishes sequences we send on from sequences we receive on.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// SpecVersion is the negotiated protocol version of a sequence.
type SpecVersion string

const (
	SpecVersion10 SpecVersion = "1.0"
	SpecVersion11 SpecVersion = "1.1"

	DefaultSpecVersion = SpecVersion10
)

// Valid reports whether v is a known version.
func (v SpecVersion) Valid() bool {
	return v == SpecVersion10 || v == SpecVersion11
}

// SupportsClosing reports whether CloseSequence exists in this version.
func (v SpecVersion) SupportsClosing() bool {
	return v == SpecVersion11
}

// SupportsAckRequest reports whether unsolicited acknowledgement requests are allowed.
func (v SpecVersion) SupportsAckRequest() bool {
	return v == SpecVersion11
}

// RequiresTerminateResponse reports whether termination is confirmed by the peer.
// In 1.0 a successful send of TerminateSequence completes termination.
func (v SpecVersion) RequiresTerminateResponse() bool {
	return v == SpecVersion11
}

// RequiresLastMessage reports whether the last message of a sequence must be flagged.
func (v SpecVersion) RequiresLastMessage() bool {
	return v == SpecVersion10
}

// AllowsAckFinal reports whether acknowledgements may carry the Final marker.
func (v SpecVersion) AllowsAckFinal() bool {
	return v == SpecVersion11
}

// OutboundSequence is the view of an outbound (initiator role) sequence assembled from
// the properties stored under its internal identity.
type OutboundSequence struct {
	InternalID         string
	ProtocolID         string
	Destination        string
	Key                string
	Status             SequenceStatus
	CreatedAt          time.Time
	LastActivityAt     time.Time
	OfferedProtocolID  string
	SecurityTokenRef   string
	SpecVersion        SpecVersion
	LastMessageNumber  int64
	LastOutMessage     int64
	Completed          *ranges.Set
	CreateMessageID    string
	TerminateRequested bool
	LastSendError      string
	LastSendErrorAt    time.Time
	TerminalAt         time.Time
}

// NewOutboundSequence creates an outbound sequence in INITIAL.
func NewOutboundSequence(internalID, destination, key string, version SpecVersion, now time.Time) *OutboundSequence {
	return &OutboundSequence{
		InternalID:     internalID,
		Destination:    destination,
		Key:            key,
		Status:         StatusInitial,
		CreatedAt:      now,
		LastActivityAt: now,
		SpecVersion:    version,
		Completed:      &ranges.Set{},
	}
}

// OutboundFromProperties assembles the view from the properties stored under internalID.
// Returns ok=false when no outbound sequence exists.
func OutboundFromProperties(internalID string, props []SequenceProperty) (*OutboundSequence, bool, error) {
	s := &OutboundSequence{InternalID: internalID, Completed: &ranges.Set{}}
	found := false
	var err error

	for _, p := range props {
		if p.SequenceID != internalID {
			continue
		}
		switch p.Name {
		case PropDestination:
			s.Destination = p.Value
			found = true
		case PropSequenceKey:
			s.Key = p.Value
		case PropStatus:
			s.Status = SequenceStatus(p.Value)
		case PropSequenceID:
			s.ProtocolID = p.Value
		case PropCreatedAt:
			s.CreatedAt, err = parseTime(p.Value)
		case PropLastActivity:
			s.LastActivityAt, err = parseTime(p.Value)
		case PropOfferedSequenceID:
			s.OfferedProtocolID = p.Value
		case PropSecurityToken:
			s.SecurityTokenRef = p.Value
		case PropSpecVersion:
			s.SpecVersion = SpecVersion(p.Value)
		case PropLastMessageNumber:
			s.LastMessageNumber, err = parseInt(p.Value)
		case PropLastOutMessage:
			s.LastOutMessage, err = parseInt(p.Value)
		case PropCompletedMessages:
			s.Completed, err = ranges.Parse(p.Value)
		case PropCreateMessageID:
			s.CreateMessageID = p.Value
		case PropTerminateRequested:
			s.TerminateRequested = p.Value == "true"
		case PropLastSendError:
			s.LastSendError = p.Value
		case PropLastSendErrorAt:
			s.LastSendErrorAt, err = parseTime(p.Value)
		case PropTerminalAt:
			s.TerminalAt, err = parseTime(p.Value)
		}
		if err != nil {
			return nil, false, err
		}
	}

	if !found {
		return nil, false, nil
	}
	if s.SpecVersion == "" {
		s.SpecVersion = DefaultSpecVersion
	}
	return s, true, nil
}

// Properties encodes the view. Empty fields are omitted.
func (s *OutboundSequence) Properties() []SequenceProperty {
	fields := []struct{ name, value string }{
		{PropDestination, s.Destination},
		{PropSequenceKey, s.Key},
		{PropStatus, string(s.Status)},
		{PropSequenceID, s.ProtocolID},
		{PropCreatedAt, formatTime(s.CreatedAt)},
		{PropLastActivity, formatTime(s.LastActivityAt)},
		{PropOfferedSequenceID, s.OfferedProtocolID},
		{PropSecurityToken, s.SecurityTokenRef},
		{PropSpecVersion, string(s.SpecVersion)},
		{PropLastMessageNumber, formatInt(s.LastMessageNumber)},
		{PropLastOutMessage, formatInt(s.LastOutMessage)},
		{PropCompletedMessages, s.Completed.String()},
		{PropCreateMessageID, s.CreateMessageID},
		{PropTerminateRequested, formatBool(s.TerminateRequested)},
		{PropLastSendError, s.LastSendError},
		{PropLastSendErrorAt, formatTime(s.LastSendErrorAt)},
		{PropTerminalAt, formatTime(s.TerminalAt)},
	}

	out := make([]SequenceProperty, 0, len(fields))
	for _, f := range fields {
		if f.value == "" && f.name != PropDestination {
			continue
		}
		out = append(out, SequenceProperty{
			SequenceID:         s.InternalID,
			Name:               f.name,
			Value:              f.value,
			InternalSequenceID: s.InternalID,
		})
	}
	return out
}

// Snapshot returns the reduced view kept after the sequence reaches a terminal state:
// enough to answer a final report, nothing more.
func (s *OutboundSequence) Snapshot() *OutboundSequence {
	return &OutboundSequence{
		InternalID:       s.InternalID,
		ProtocolID:       s.ProtocolID,
		Destination:      s.Destination,
		Key:              s.Key,
		Status:           s.Status,
		SecurityTokenRef: s.SecurityTokenRef,
		SpecVersion:      s.SpecVersion,
		Completed:        s.Completed,
		LastSendError:    s.LastSendError,
		LastSendErrorAt:  s.LastSendErrorAt,
		TerminalAt:       s.TerminalAt,
	}
}

// Transition moves the sequence to a new status.
func (s *OutboundSequence) Transition(to SequenceStatus, now time.Time) error {
	if !CanTransition(DirectionOut, s.Status, to) {
		return ErrInvalidTransition
	}
	s.Status = to
	if to.IsTerminal() {
		s.TerminalAt = now
	}
	return nil
}

// Touch records activity on the sequence.
func (s *OutboundSequence) Touch(now time.Time) {
	s.LastActivityAt = now
}

// HasTimedOut reports whether the sequence has been inactive longer than timeout.
// A non-positive timeout disables inactivity detection.
func (s *OutboundSequence) HasTimedOut(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || !s.Status.IsLive() {
		return false
	}
	return s.LastActivityAt.Add(timeout).Before(now)
}

// IsComplete reports whether the last message is known and every message up to it
// has been acknowledged.
func (s *OutboundSequence) IsComplete() bool {
	return s.LastOutMessage > 0 && s.Completed.IsComplete(s.LastOutMessage)
}

// AcceptsMessages reports whether new application messages may be admitted.
func (s *OutboundSequence) AcceptsMessages() bool {
	if s.TerminateRequested || s.LastOutMessage > 0 {
		return false
	}
	switch s.Status {
	case StatusInitial, StatusEstablishing, StatusEstablished:
		return true
	}
	return false
}

// Secure reports whether a security token is attached.
func (s *OutboundSequence) Secure() bool {
	return s.SecurityTokenRef != ""
}

// InboundSequence is the view of an inbound (responder role) sequence, keyed by the
// protocol identifier we assigned.
type InboundSequence struct {
	ProtocolID       string
	AcksTo           string
	Status           SequenceStatus
	CreatedAt        time.Time
	LastActivityAt   time.Time
	NextExpected     int64
	Completed        *ranges.Set
	LastInMessage    int64
	Closed           bool
	SecurityTokenRef string
	SpecVersion      SpecVersion
	AckDueAt         time.Time
	ReverseOf        string
	TerminalAt       time.Time
}

// NewInboundSequence creates an inbound sequence, established on creation.
func NewInboundSequence(protocolID, acksTo string, version SpecVersion, now time.Time) *InboundSequence {
	return &InboundSequence{
		ProtocolID:     protocolID,
		AcksTo:         acksTo,
		Status:         StatusEstablished,
		CreatedAt:      now,
		LastActivityAt: now,
		NextExpected:   1,
		Completed:      &ranges.Set{},
		SpecVersion:    version,
	}
}

// InboundFromProperties assembles the view from the properties stored under protocolID.
func InboundFromProperties(protocolID string, props []SequenceProperty) (*InboundSequence, bool, error) {
	s := &InboundSequence{ProtocolID: protocolID, Completed: &ranges.Set{}}
	found := false
	var err error

	for _, p := range props {
		if p.SequenceID != protocolID {
			continue
		}
		switch p.Name {
		case PropAcksTo:
			s.AcksTo = p.Value
			found = true
		case PropStatus:
			s.Status = SequenceStatus(p.Value)
		case PropCreatedAt:
			s.CreatedAt, err = parseTime(p.Value)
		case PropLastActivity:
			s.LastActivityAt, err = parseTime(p.Value)
		case PropNextExpected:
			s.NextExpected, err = parseInt(p.Value)
		case PropCompletedMessages:
			s.Completed, err = ranges.Parse(p.Value)
		case PropLastInMessage:
			s.LastInMessage, err = parseInt(p.Value)
		case PropClosed:
			s.Closed = p.Value == "true"
		case PropSecurityToken:
			s.SecurityTokenRef = p.Value
		case PropSpecVersion:
			s.SpecVersion = SpecVersion(p.Value)
		case PropAckDueAt:
			s.AckDueAt, err = parseTime(p.Value)
		case PropReverseOf:
			s.ReverseOf = p.Value
		case PropTerminalAt:
			s.TerminalAt, err = parseTime(p.Value)
		}
		if err != nil {
			return nil, false, err
		}
	}

	if !found {
		return nil, false, nil
	}
	if s.SpecVersion == "" {
		s.SpecVersion = DefaultSpecVersion
	}
	if s.NextExpected == 0 {
		s.NextExpected = 1
	}
	return s, true, nil
}

// Properties encodes the view. Empty fields are omitted, the AcksTo marker never is.
func (s *InboundSequence) Properties() []SequenceProperty {
	fields := []struct{ name, value string }{
		{PropAcksTo, s.AcksTo},
		{PropStatus, string(s.Status)},
		{PropCreatedAt, formatTime(s.CreatedAt)},
		{PropLastActivity, formatTime(s.LastActivityAt)},
		{PropNextExpected, formatInt(s.NextExpected)},
		{PropCompletedMessages, s.Completed.String()},
		{PropLastInMessage, formatInt(s.LastInMessage)},
		{PropClosed, formatBool(s.Closed)},
		{PropSecurityToken, s.SecurityTokenRef},
		{PropSpecVersion, string(s.SpecVersion)},
		{PropAckDueAt, formatTime(s.AckDueAt)},
		{PropReverseOf, s.ReverseOf},
		{PropTerminalAt, formatTime(s.TerminalAt)},
	}

	out := make([]SequenceProperty, 0, len(fields))
	for _, f := range fields {
		if f.value == "" && f.name != PropAcksTo {
			continue
		}
		out = append(out, NewProperty(s.ProtocolID, f.name, f.value))
	}
	return out
}

// Snapshot returns the reduced terminal view.
func (s *InboundSequence) Snapshot() *InboundSequence {
	return &InboundSequence{
		ProtocolID:       s.ProtocolID,
		AcksTo:           s.AcksTo,
		Status:           s.Status,
		Completed:        s.Completed,
		SecurityTokenRef: s.SecurityTokenRef,
		SpecVersion:      s.SpecVersion,
		ReverseOf:        s.ReverseOf,
		TerminalAt:       s.TerminalAt,
	}
}

// Transition moves the sequence to a new status.
func (s *InboundSequence) Transition(to SequenceStatus, now time.Time) error {
	if !CanTransition(DirectionIn, s.Status, to) {
		return ErrInvalidTransition
	}
	s.Status = to
	s.TerminalAt = now
	return nil
}

// HasTimedOut reports whether the sequence has been inactive longer than timeout.
func (s *InboundSequence) HasTimedOut(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || s.Status != StatusEstablished {
		return false
	}
	return s.LastActivityAt.Add(timeout).Before(now)
}

// Secure reports whether a security token is attached.
func (s *InboundSequence) Secure() bool {
	return s.SecurityTokenRef != ""
}
