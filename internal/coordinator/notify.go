package coordinator

import (
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/shard"
)

// notify publishes a committed change of s to local listeners and peers.
func (c *Coordinator) notify(s *shardState) {
	if !c.messageOnlyNotify {
		c.deliver(s.id, s.meta, s.currentExpiry())
	}
	c.announce(s)
}

// announce sends CHANGED for s. Peers are skipped while the copy came from
// a REPUT; self is included only in the message-based test modes.
func (c *Coordinator) announce(s *shardState) {
	if !s.fromReput {
		for _, node := range c.live {
			c.sendChanged(node, s.id)
		}
	}
	if c.forceSelfMessage || c.messageOnlyNotify {
		c.sendChanged(c.self, s.id)
	}
}

func (c *Coordinator) notifyDeleted(shardID uint64) {
	if !c.messageOnlyNotify {
		c.deliver(shardID, nil, time.Time{})
	}
}

func (c *Coordinator) deliver(shardID uint64, m *meta.ShardMeta, leaseExpires time.Time) {
	for _, l := range c.listeners {
		l(shardID, m.Clone(), leaseExpires)
	}
}

func (c *Coordinator) sendChanged(to meta.NodeID, shardID uint64) {
	shard.Add(&c.stats.NotificationsSent)
	c.transport.Send(&cluster.Message{
		ID:      newMessageID(),
		Type:    cluster.MsgChanged,
		From:    c.self,
		To:      to,
		ShardID: shardID,
	})
}

// handleChanged re-reads the shard from the notifying node. Our own
// notifications go to listeners; a distributed copy written by the sender
// is adopted with a REPUT. Anything else is ignored.
func (c *Coordinator) handleChanged(msg *cluster.Message) {
	from, shardID := msg.From, msg.ShardID
	op := newOperation(shard.KindGet, shardID, nil, func(res Result) {
		if !res.Status.OK() || res.Meta == nil {
			c.msgLog.Debug("changed: re-read failed",
				zap.Uint64("shard", shardID),
				zap.Stringer("from", from),
				zap.Stringer("status", res.Status))
			return
		}
		if from == c.self {
			c.deliver(shardID, res.Meta, res.LeaseExpires)
			return
		}
		if !res.Meta.Type.IsDistributed() || res.Meta.WriteNode != from {
			return
		}
		reput := newOperation(shard.KindReput, shardID, res.Meta, func(r Result) {
			if !r.Status.OK() {
				c.msgLog.Debug("reput not applied",
					zap.Uint64("shard", shardID),
					zap.Stringer("from", from),
					zap.Stringer("status", r.Status))
			}
		})
		reput.leaseExpires, reput.leaseKnown = res.LeaseExpires, true
		c.dispatch(reput)
	})
	op.target = from
	op.hint = c.changedHint(shardID)
	c.dispatch(op)
}

// changedHint locates the record a CHANGED asks us to re-read. Without a
// local copy only distributed records are of interest.
func (c *Coordinator) changedHint(shardID uint64) meta.RoutingHint {
	if s := c.shards[shardID]; s != nil && s.meta != nil {
		return s.meta.Hint()
	}
	return meta.HintFor(shardID, meta.ReplicationDistributed)
}
