package wsrmtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/ranges"
)

func TestPeer_Conversation(t *testing.T) {
	ctx := context.Background()
	p := NewPeer()

	csr, err := p.Send(ctx, "dest", &model.Message{
		Type:      model.MessageCreateSequence,
		MessageID: "m-1",
		Offer:     &model.Offer{SequenceID: "offered"},
	})
	require.NoError(t, err)
	require.Equal(t, model.MessageCreateSequenceResponse, csr.Type)
	assert.Equal(t, "m-1", csr.RelatesTo)
	require.NotNil(t, csr.Accept)
	assert.Equal(t, PeerEndpoint, csr.Accept.AcksTo)
	id := csr.SequenceID

	ack, err := p.Send(ctx, "dest", &model.Message{
		Type: model.MessageApplication, SequenceID: id, MessageNumber: 2, Payload: []byte("two"),
	})
	require.NoError(t, err)
	assert.Equal(t, []ranges.Range{{Lower: 2, Upper: 2}}, ack.Acknowledgement.Ranges)

	payload, ok := p.Payload(id, 2)
	require.True(t, ok)
	assert.Equal(t, "two", string(payload))
	assert.Equal(t, []int64{2}, p.Received(id))

	closed, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageCloseSequence, SequenceID: id})
	require.NoError(t, err)
	assert.True(t, closed.Acknowledgement.Final)

	tsr, err := p.Send(ctx, "dest", &model.Message{
		Type: model.MessageTerminateSequence, SequenceID: id, SpecVersion: model.SpecVersion10,
	})
	require.NoError(t, err)
	assert.Nil(t, tsr)

	tsr, err = p.Send(ctx, "dest", &model.Message{
		Type: model.MessageTerminateSequence, SequenceID: id, SpecVersion: model.SpecVersion11,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTerminateSequenceResponse, tsr.Type)

	assert.Len(t, p.Sent(), 5)
	assert.Len(t, p.SentOfType(model.MessageTerminateSequence), 2)
}

func TestPeer_Scripting(t *testing.T) {
	ctx := context.Background()

	t.Run("fail next", func(t *testing.T) {
		p := NewPeer()
		p.FailNext(2, nil)
		for i := 0; i < 2; i++ {
			_, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageCreateSequence})
			assert.True(t, errors.Is(err, ErrUnreachable))
		}
		_, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageCreateSequence})
		require.NoError(t, err)
		assert.Equal(t, 3, p.Attempts())
		assert.Len(t, p.Sent(), 1)
	})

	t.Run("refuse", func(t *testing.T) {
		p := NewPeer()
		p.RefuseSequences(true)
		reply, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageCreateSequence, MessageID: "m"})
		require.NoError(t, err)
		require.NotNil(t, reply.Fault)
		assert.Equal(t, model.FaultCreateSequenceRefused, reply.Fault.Code)
		assert.Equal(t, "m", reply.RelatesTo)
	})

	t.Run("withhold", func(t *testing.T) {
		p := NewPeer()
		p.WithholdAcks(true)
		p.DeclineOffers(true)
		csr, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageCreateSequence, Offer: &model.Offer{SequenceID: "o"}})
		require.NoError(t, err)
		assert.Nil(t, csr.Accept)

		reply, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageApplication, SequenceID: csr.SequenceID, MessageNumber: 1})
		require.NoError(t, err)
		assert.Nil(t, reply)
		assert.Equal(t, []int64{1}, p.Received(csr.SequenceID))
	})

	t.Run("unknown sequence", func(t *testing.T) {
		p := NewPeer()
		reply, err := p.Send(ctx, "dest", &model.Message{Type: model.MessageAckRequested, SequenceID: "nope"})
		require.NoError(t, err)
		assert.Equal(t, model.FaultUnknownSequence, reply.Fault.Code)
	})
}

type echo struct{}

func (echo) Receive(_ context.Context, msg *model.Message) (*model.Message, error) {
	if msg.Type == model.MessageFault {
		return model.NewFaultMessage(model.FaultUnknownSequence, "", "echo"), errors.New("fault")
	}
	return &model.Message{Type: model.MessageAcknowledgement, RelatesTo: msg.MessageID}, nil
}

func TestNetwork_Routing(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork()
	n.Register("a", echo{})

	reply, err := n.Send(ctx, "a", &model.Message{Type: model.MessageApplication, MessageID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", reply.RelatesTo)

	reply, err = n.Send(ctx, "a", &model.Message{Type: model.MessageFault})
	require.NoError(t, err, "fault replies travel back as replies")
	assert.NotNil(t, reply.Fault)

	_, err = n.Send(ctx, "b", &model.Message{Type: model.MessageApplication})
	assert.EqualError(t, err, "no route to b")

	n.SetDown("a", true)
	_, err = n.Send(ctx, "a", &model.Message{Type: model.MessageApplication})
	assert.True(t, errors.Is(err, ErrUnreachable))

	assert.Equal(t, 1, n.Count(model.MessageApplication))
	assert.Equal(t, 1, n.Count(model.MessageFault))
}
