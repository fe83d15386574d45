package cluster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/meta"
)

// Transport sends messages to other nodes. Send never blocks the caller and
// reports no error: lost messages surface as remote-operation timeouts.
type Transport interface {
	Send(msg *Message)
}

// HTTPTransport posts messages as JSON to {addr}/msg of the destination node.
type HTTPTransport struct {
	mu      sync.RWMutex
	peers   map[meta.NodeID]string
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
}

// NewHTTPTransport returns a transport that stops sending once ctx is done.
func NewHTTPTransport(ctx context.Context, peers []NodeInfo, timeout time.Duration, logger *zap.Logger) *HTTPTransport {
	t := &HTTPTransport{
		peers:   make(map[meta.NodeID]string, len(peers)),
		logger:  logger.Named("transport"),
		timeout: timeout,
		ctx:     ctx,
	}
	for _, p := range peers {
		t.peers[p.ID] = p.Addr
	}
	return t
}

// SetPeer adds or replaces the address of a node.
func (t *HTTPTransport) SetPeer(n NodeInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[n.ID] = n.Addr
}

// Peers returns the known nodes.
func (t *HTTPTransport) Peers() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, 0, len(t.peers))
	for id, addr := range t.peers {
		out = append(out, NodeInfo{ID: id, Addr: addr})
	}
	return out
}

func (t *HTTPTransport) Send(msg *Message) {
	t.mu.RLock()
	addr, ok := t.peers[msg.To]
	t.mu.RUnlock()
	if !ok {
		t.logger.Warn("no address for destination", zap.Stringer("to", msg.To), zap.String("type", string(msg.Type)))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
		defer cancel()
		if err := PostJSON(ctx, addr+"/msg", msg, nil); err != nil {
			t.logger.Debug("send failed",
				zap.Stringer("to", msg.To),
				zap.String("type", string(msg.Type)),
				zap.String("id", msg.ID),
				zap.Error(err))
		}
	}()
}
