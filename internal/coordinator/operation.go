package coordinator

import (
	"time"

	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/shard"
)

// Result is delivered to the completion callback of every operation.
type Result struct {
	Status meta.Status
	// Meta is the resulting metadata on success, and the current copy (when
	// one exists) on admission failure. It is owned by the receiver.
	Meta *meta.ShardMeta
	// LeaseExpires is the absolute lease expiry on this node's clock, the zero
	// time when no lease is held and lease.Forever for liveness leases.
	LeaseExpires time.Time
}

// Callback receives the outcome of an operation. It runs on the
// coordinator's executor and must not block.
type Callback func(Result)

// Listener is told about every committed change to a shard's metadata. A nil
// meta reports a deletion.
type Listener func(shardID uint64, m *meta.ShardMeta, leaseExpires time.Time)

// operation is one create/get/put/reput/delete request travelling through
// the coordinator. Whoever holds it must complete it exactly once.
type operation struct {
	kind     shard.Kind
	shardID  uint64
	hint     meta.RoutingHint
	proposed *meta.ShardMeta

	// target forces the metadata node, NodeNone to route by type.
	target meta.NodeID
	// inbound marks requests received from another node; they are always
	// served from the local shard table.
	inbound bool
	// leaseExpires carries the expiry of a copy learnt from a peer (REPUT);
	// leaseKnown distinguishes an already-expired lease from none carried.
	leaseExpires time.Time
	leaseKnown   bool

	start time.Time
	cb    Callback
	done  bool
}

func newOperation(kind shard.Kind, shardID uint64, proposed *meta.ShardMeta, cb Callback) *operation {
	op := &operation{
		kind:     kind,
		shardID:  shardID,
		proposed: proposed,
		target:   meta.NodeNone,
		cb:       cb,
	}
	if proposed != nil {
		op.hint = proposed.Hint()
	}
	return op
}

// metaShardID returns the metadata-storage shard the operation addresses.
func (op *operation) metaShardID() uint64 {
	if op.proposed != nil {
		return op.proposed.MetaShardID
	}
	return op.hint.MetaShardID
}

// skeleton is the record carried on the wire for requests with no proposed
// metadata, so the receiver learns the routing hint.
func (op *operation) skeleton() *meta.ShardMeta {
	if op.proposed != nil {
		return op.proposed
	}
	m := meta.New(op.shardID, op.hint.Type)
	m.MetaShardID = op.metaShardID()
	return m
}

func (op *operation) complete(res Result) {
	if op.done {
		return
	}
	op.done = true
	if op.cb != nil {
		op.cb(res)
	}
}
