package wsrm

import (
	"context"

	"github.com/coregx/wsrm/model"
)

// AnonymousEndpoint is the addressing URI for "reply on the back-channel". Acknowledgements
// for sequences whose AcksTo is empty or anonymous are always returned synchronously.
const AnonymousEndpoint = "http://www.w3.org/2005/08/addressing/anonymous"

// Sender is the message-send primitive supplied by the transport layer.
//
// Send delivers msg to destination. A synchronous reply from the peer (a
// CreateSequenceResponse, an acknowledgement, a fault...) is returned as reply; an
// asynchronous transport returns a nil reply and feeds the peer's messages to
// Engine.Receive later. A non-nil error means the message did not reach the peer.
type Sender interface {
	Send(ctx context.Context, destination string, msg *model.Message) (reply *model.Message, err error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, destination string, msg *model.Message) (*model.Message, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, destination string, msg *model.Message) (*model.Message, error) {
	return f(ctx, destination, msg)
}

// Handler receives application messages accepted on inbound sequences.
//
// Deliver runs inside the transaction that records the message as received; an
// error rejects the message, leaves it unacknowledged and lets the peer retransmit.
type Handler interface {
	Deliver(ctx context.Context, sequenceID string, number int64, payload []byte) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, sequenceID string, number int64, payload []byte) error

// Deliver calls f.
func (f HandlerFunc) Deliver(ctx context.Context, sequenceID string, number int64, payload []byte) error {
	return f(ctx, sequenceID, number, payload)
}
