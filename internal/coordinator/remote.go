package coordinator

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/sched"
	"github.com/dreamware/shardmeta/internal/shard"
)

// remoteOp is an operation forwarded to another metadata node and waiting
// for its RETURN.
type remoteOp struct {
	id    string
	to    meta.NodeID
	op    *operation
	timer sched.Timer
}

func newMessageID() string { return uuid.NewString() }

var requestTypes = map[shard.Kind]cluster.MsgType{
	shard.KindCreate: cluster.MsgCreate,
	shard.KindGet:    cluster.MsgGet,
	shard.KindPut:    cluster.MsgPut,
	shard.KindDelete: cluster.MsgDelete,
}

var requestKinds = map[cluster.MsgType]shard.Kind{
	cluster.MsgCreate: shard.KindCreate,
	cluster.MsgGet:    shard.KindGet,
	cluster.MsgPut:    shard.KindPut,
	cluster.MsgDelete: shard.KindDelete,
}

func (c *Coordinator) sendRequest(to meta.NodeID, op *operation) {
	typ, ok := requestTypes[op.kind]
	if !ok {
		op.complete(Result{Status: meta.StatusUnsupported})
		return
	}
	ro := &remoteOp{id: newMessageID(), to: to, op: op}
	c.remote[ro.id] = ro
	c.pending++
	c.remoteCount.Store(int64(len(c.remote)))
	shard.Add(&c.stats.RemoteOps)

	id := ro.id
	ro.timer = c.exec.AfterFunc(c.remoteOpTimeout, func() {
		if _, ok := c.remote[id]; ok {
			c.msgLog.Info("remote operation timed out",
				zap.String("id", id),
				zap.Stringer("to", to),
				zap.Uint64("shard", op.shardID),
				zap.Stringer("op", op.kind))
			c.resolveRemote(id, Result{Status: meta.StatusTimeout})
		}
	})

	c.msgLog.Debug("forwarding operation",
		zap.String("id", id),
		zap.Stringer("to", to),
		zap.Uint64("shard", op.shardID),
		zap.Stringer("op", op.kind))
	c.transport.Send(&cluster.Message{
		ID:      id,
		Type:    typ,
		From:    c.self,
		To:      to,
		ShardID: op.shardID,
		Meta:    meta.Marshal(op.skeleton()),
	})
}

// resolveRemote completes the remote operation id, if still outstanding.
func (c *Coordinator) resolveRemote(id string, res Result) {
	ro, ok := c.remote[id]
	if !ok {
		return
	}
	delete(c.remote, id)
	c.remoteCount.Store(int64(len(c.remote)))
	if ro.timer != nil {
		ro.timer.Stop()
	}
	ro.op.complete(res)
	c.release()
}

func (c *Coordinator) receive(msg *cluster.Message) {
	switch {
	case msg.Type.IsRequest():
		c.serveRequest(msg)
	case msg.Type == cluster.MsgReturn:
		c.handleReturn(msg)
	case msg.Type == cluster.MsgChanged:
		c.handleChanged(msg)
	default:
		c.msgLog.Warn("unknown message type", zap.String("type", string(msg.Type)), zap.Stringer("from", msg.From))
	}
}

// serveRequest runs a forwarded operation against the local table and
// answers with a RETURN carrying the lease time remaining.
func (c *Coordinator) serveRequest(msg *cluster.Message) {
	reply := func(res Result) {
		out := &cluster.Message{
			ID:         newMessageID(),
			InReplyTo:  msg.ID,
			Type:       cluster.MsgReturn,
			From:       c.self,
			To:         msg.From,
			ShardID:    msg.ShardID,
			Status:     res.Status,
			LeaseUsecs: c.clock.RemainingUsecs(res.LeaseExpires),
		}
		if res.Meta != nil {
			out.Meta = meta.Marshal(res.Meta)
		}
		c.transport.Send(out)
	}

	kind := requestKinds[msg.Type]
	m, err := msg.DecodeMeta()
	if err == nil && m == nil {
		err = meta.StatusMetaDataInvalid
	}
	if err == nil && kind != shard.KindGet {
		err = m.Validate()
	}
	if err != nil {
		c.msgLog.Info("bad request",
			zap.String("id", msg.ID),
			zap.Stringer("from", msg.From),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
		reply(Result{Status: meta.StatusOf(err)})
		return
	}

	op := newOperation(kind, msg.ShardID, nil, reply)
	op.inbound = true
	op.hint = m.Hint()
	if kind != shard.KindGet {
		op.proposed = m
	}
	c.dispatch(op)
}

func (c *Coordinator) handleReturn(msg *cluster.Message) {
	ro, ok := c.remote[msg.InReplyTo]
	if !ok || ro.to != msg.From {
		c.msgLog.Debug("return for unknown operation",
			zap.String("in_reply_to", msg.InReplyTo),
			zap.Stringer("from", msg.From))
		return
	}
	res := Result{Status: msg.Status, LeaseExpires: c.clock.FromRemainingUsecs(msg.LeaseUsecs)}
	m, err := msg.DecodeMeta()
	if err != nil {
		res = Result{Status: meta.StatusOf(err)}
	} else {
		res.Meta = m
	}
	c.resolveRemote(msg.InReplyTo, res)
}
