package wsrmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/coregx/wsrm/model"
)

// Receiver is the inbound side of an engine.
type Receiver interface {
	Receive(ctx context.Context, msg *model.Message) (*model.Message, error)
}

// Network connects engines in one process. Each engine is registered under the address
// it advertises as its endpoint; sending to that address calls its Receive and returns
// the reply, the way the HTTP gateway would.
//
// Thread safety: Safe for concurrent use.
type Network struct {
	mu      sync.RWMutex
	nodes   map[string]Receiver
	down    map[string]bool
	counter map[model.MessageType]int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		nodes:   make(map[string]Receiver),
		down:    make(map[string]bool),
		counter: make(map[model.MessageType]int),
	}
}

// Register attaches a receiver under address.
func (n *Network) Register(address string, r Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[address] = r
}

// SetDown makes every send to address fail until it is set up again.
func (n *Network) SetDown(address string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[address] = down
}

// Count returns how many messages of type t were delivered.
func (n *Network) Count(t model.MessageType) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.counter[t]
}

// Send implements the engine's Sender interface.
func (n *Network) Send(ctx context.Context, destination string, msg *model.Message) (*model.Message, error) {
	n.mu.Lock()
	r, ok := n.nodes[destination]
	down := n.down[destination]
	if ok && !down {
		n.counter[msg.Type]++
	}
	n.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no route to %s", destination)
	}
	if down {
		return nil, fmt.Errorf("%s: %w", destination, ErrUnreachable)
	}

	// A fault reply travels back even when the receiver also reported an error.
	cp := *msg
	reply, err := r.Receive(ctx, &cp)
	if reply != nil {
		return reply, nil
	}
	return nil, err
}
