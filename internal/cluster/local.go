package cluster

import (
	"sync"

	"github.com/dreamware/shardmeta/internal/meta"
)

// LocalNetwork is an in-process Transport connecting several nodes. Each
// node registers a receive function; Send hands the message straight to the
// destination's receiver. Nodes can be partitioned off to drop traffic.
type LocalNetwork struct {
	mu        sync.Mutex
	receivers map[meta.NodeID]func(*Message)
	down      map[meta.NodeID]bool
	sent      []*Message
}

// NewLocalNetwork returns an empty network.
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		receivers: make(map[meta.NodeID]func(*Message)),
		down:      make(map[meta.NodeID]bool),
	}
}

// Attach registers the receiver for node id.
func (n *LocalNetwork) Attach(id meta.NodeID, recv func(*Message)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[id] = recv
}

// SetDown partitions id off the network, dropping its traffic both ways.
func (n *LocalNetwork) SetDown(id meta.NodeID, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = down
}

func (n *LocalNetwork) Send(msg *Message) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	recv := n.receivers[msg.To]
	dropped := n.down[msg.To] || n.down[msg.From]
	n.mu.Unlock()

	if recv == nil || dropped {
		return
	}
	recv(msg)
}

// Sent returns every message handed to Send, delivered or not.
func (n *LocalNetwork) Sent() []*Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Message(nil), n.sent...)
}

// SentOfType returns the sent messages of type t.
func (n *LocalNetwork) SentOfType(t MsgType) []*Message {
	var out []*Message
	for _, m := range n.Sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
