// Package wsrmtest provides in-process peers for testing code built on the engine.
//
// Peer is a scripted remote endpoint: it answers the engine's messages the way a
// well-behaved responder would and records everything it is sent. Network routes
// messages between several engines by destination address.
package wsrmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/coregx/wsrm/identity"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/ranges"
)

// ErrUnreachable is returned by a Peer that was told to fail.
var ErrUnreachable = errors.New("peer unreachable")

// PeerEndpoint is the AcksTo address a Peer advertises when it accepts an offer.
const PeerEndpoint = "http://peer.test/acks"

// Peer is a scripted remote endpoint implementing the engine's Sender interface.
//
// Thread safety: Safe for concurrent use.
type Peer struct {
	mu sync.Mutex

	sent      []*model.Message
	attempts  int
	failNext  int
	failErr   error
	withhold  bool
	refuse    bool
	noOffers  bool
	sequences map[string]*ranges.Set
	payloads  map[string]map[int64][]byte
}

// NewPeer creates a peer that accepts sequences and offers and acknowledges every
// message immediately.
func NewPeer() *Peer {
	return &Peer{
		sequences: make(map[string]*ranges.Set),
		payloads:  make(map[string]map[int64][]byte),
	}
}

// FailNext makes the next n sends fail with err, or ErrUnreachable when err is nil.
func (p *Peer) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		err = ErrUnreachable
	}
	p.failNext = n
	p.failErr = err
}

// WithholdAcks stops (or resumes) acknowledging application messages.
func (p *Peer) WithholdAcks(withhold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withhold = withhold
}

// RefuseSequences makes the peer answer CreateSequence with a CreateSequenceRefused fault.
func (p *Peer) RefuseSequences(refuse bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refuse = refuse
}

// DeclineOffers makes the peer ignore offered reverse sequences.
func (p *Peer) DeclineOffers(decline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noOffers = decline
}

// Send implements the engine's Sender interface.
func (p *Peer) Send(_ context.Context, _ string, msg *model.Message) (*model.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.failNext > 0 {
		p.failNext--
		return nil, p.failErr
	}

	cp := *msg
	p.sent = append(p.sent, &cp)

	switch msg.Type {
	case model.MessageCreateSequence:
		return p.createSequence(msg), nil
	case model.MessageApplication:
		return p.application(msg), nil
	case model.MessageAckRequested:
		set, ok := p.sequences[msg.SequenceID]
		if !ok {
			return p.unknown(msg), nil
		}
		return ackReply(msg, set, false), nil
	case model.MessageCloseSequence:
		set, ok := p.sequences[msg.SequenceID]
		if !ok {
			return p.unknown(msg), nil
		}
		return &model.Message{
			Type:            model.MessageCloseSequenceResponse,
			MessageID:       identity.NewMessageID(),
			RelatesTo:       msg.MessageID,
			SequenceID:      msg.SequenceID,
			Acknowledgement: &model.Acknowledgement{SequenceID: msg.SequenceID, Ranges: set.Ranges(), Final: true},
			SpecVersion:     msg.SpecVersion,
		}, nil
	case model.MessageTerminateSequence:
		if _, ok := p.sequences[msg.SequenceID]; !ok {
			return p.unknown(msg), nil
		}
		if !msg.SpecVersion.RequiresTerminateResponse() {
			return nil, nil
		}
		return &model.Message{
			Type:        model.MessageTerminateSequenceResponse,
			MessageID:   identity.NewMessageID(),
			RelatesTo:   msg.MessageID,
			SequenceID:  msg.SequenceID,
			SpecVersion: msg.SpecVersion,
		}, nil
	}
	return nil, nil
}

func (p *Peer) createSequence(msg *model.Message) *model.Message {
	if p.refuse {
		reply := model.NewFaultMessage(model.FaultCreateSequenceRefused, "", "refused by peer")
		reply.RelatesTo = msg.MessageID
		return reply
	}

	id := identity.NewProtocolID()
	p.sequences[id] = ranges.NewSet()
	p.payloads[id] = make(map[int64][]byte)

	reply := &model.Message{
		Type:        model.MessageCreateSequenceResponse,
		MessageID:   identity.NewMessageID(),
		RelatesTo:   msg.MessageID,
		SequenceID:  id,
		SpecVersion: msg.SpecVersion,
	}
	if msg.Offer != nil && !p.noOffers {
		reply.Accept = &model.Accept{AcksTo: PeerEndpoint}
	}
	return reply
}

func (p *Peer) application(msg *model.Message) *model.Message {
	set, ok := p.sequences[msg.SequenceID]
	if !ok {
		return p.unknown(msg)
	}
	set.Add(msg.MessageNumber)
	p.payloads[msg.SequenceID][msg.MessageNumber] = append([]byte(nil), msg.Payload...)
	if p.withhold {
		return nil
	}
	return ackReply(msg, set, false)
}

func (p *Peer) unknown(msg *model.Message) *model.Message {
	reply := model.NewFaultMessage(model.FaultUnknownSequence, msg.SequenceID, "unknown sequence")
	reply.RelatesTo = msg.MessageID
	return reply
}

func ackReply(msg *model.Message, set *ranges.Set, final bool) *model.Message {
	reply := model.NewAcknowledgementMessage(msg.SequenceID, set, final)
	reply.RelatesTo = msg.MessageID
	return reply
}

// Sent returns every message that reached the peer, in order.
func (p *Peer) Sent() []*model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Message(nil), p.sent...)
}

// SentOfType returns the messages of type t that reached the peer.
func (p *Peer) SentOfType(t model.MessageType) []*model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*model.Message
	for _, m := range p.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Attempts returns how many sends were attempted, including failed ones.
func (p *Peer) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Received returns the message numbers received on a sequence the peer assigned.
func (p *Peer) Received(protocolID string) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.sequences[protocolID]
	if !ok {
		return nil
	}
	return set.Expand()
}

// Payload returns the payload of one received message.
func (p *Peer) Payload(protocolID string, number int64) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.payloads[protocolID][number]
	return b, ok
}
