package model

import (
	"fmt"

	"github.com/coregx/wsrm/ranges"
)

// MessageType identifies a protocol message.
type MessageType string

const (
	MessageCreateSequence            MessageType = "CreateSequence"
	MessageCreateSequenceResponse    MessageType = "CreateSequenceResponse"
	MessageApplication               MessageType = "Application"
	MessageAcknowledgement           MessageType = "SequenceAcknowledgement"
	MessageAckRequested              MessageType = "AckRequested"
	MessageCloseSequence             MessageType = "CloseSequence"
	MessageCloseSequenceResponse     MessageType = "CloseSequenceResponse"
	MessageTerminateSequence         MessageType = "TerminateSequence"
	MessageTerminateSequenceResponse MessageType = "TerminateSequenceResponse"
	MessageFault                     MessageType = "Fault"
)

// IsControl reports whether the type is a sequence control message.
func (t MessageType) IsControl() bool {
	return t != MessageApplication && t != MessageFault
}

// Message is the abstract protocol message exchanged with the peer. The engine
// produces and consumes these; envelope serialization belongs to the transport.
type Message struct {
	Type             MessageType      `json:"type"`
	MessageID        string           `json:"messageID,omitempty"`
	RelatesTo        string           `json:"relatesTo,omitempty"`
	SequenceID       string           `json:"sequenceID,omitempty"`
	MessageNumber    int64            `json:"messageNumber,omitempty"`
	LastMessage      bool             `json:"lastMessage,omitempty"`
	LastMessageNum   int64            `json:"lastMessageNumber,omitempty"`
	AcksTo           string           `json:"acksTo,omitempty"`
	Offer            *Offer           `json:"offer,omitempty"`
	Accept           *Accept          `json:"accept,omitempty"`
	Acknowledgement  *Acknowledgement `json:"acknowledgement,omitempty"`
	Payload          []byte           `json:"payload,omitempty"`
	SecurityTokenRef string           `json:"securityTokenRef,omitempty"`
	SpecVersion      SpecVersion      `json:"specVersion,omitempty"`
	Fault            *Fault           `json:"fault,omitempty"`
}

// Offer proposes a protocol identifier for the reverse sequence.
type Offer struct {
	SequenceID string `json:"sequenceID"`
}

// Accept confirms the peer will use the offered reverse sequence, acknowledging to AcksTo.
type Accept struct {
	AcksTo string `json:"acksTo"`
}

// Acknowledgement carries the ranges received on a sequence.
type Acknowledgement struct {
	SequenceID string         `json:"sequenceID"`
	Ranges     []ranges.Range `json:"ranges,omitempty"`
	Final      bool           `json:"final,omitempty"`
}

// FaultCode enumerates protocol faults.
type FaultCode string

const (
	FaultUnknownSequence        FaultCode = "UnknownSequence"
	FaultSequenceTerminated     FaultCode = "SequenceTerminated"
	FaultSequenceClosed         FaultCode = "SequenceClosed"
	FaultInvalidAcknowledgement FaultCode = "InvalidAcknowledgement"
	FaultCreateSequenceRefused  FaultCode = "CreateSequenceRefused"
	FaultLastMessageExceeded    FaultCode = "LastMessageNumberExceeded"
)

// Fault is a protocol fault. It doubles as a Go error.
type Fault struct {
	Code       FaultCode `json:"code"`
	SequenceID string    `json:"sequenceID,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

func (f *Fault) Error() string {
	if f.SequenceID != "" {
		return fmt.Sprintf("%s (sequence %s): %s", f.Code, f.SequenceID, f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Reason)
}

// NewFaultMessage wraps a fault into a message.
func NewFaultMessage(code FaultCode, sequenceID, reason string) *Message {
	return &Message{
		Type:       MessageFault,
		SequenceID: sequenceID,
		Fault:      &Fault{Code: code, SequenceID: sequenceID, Reason: reason},
	}
}

// NewAcknowledgementMessage builds a SequenceAcknowledgement for the given set.
func NewAcknowledgementMessage(sequenceID string, completed *ranges.Set, final bool) *Message {
	return &Message{
		Type:       MessageAcknowledgement,
		SequenceID: sequenceID,
		Acknowledgement: &Acknowledgement{
			SequenceID: sequenceID,
			Ranges:     completed.Ranges(),
			Final:      final,
		},
	}
}
