package coordinator

import (
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/shard"
)

// verdict is the outcome of checking a write against the current copy.
type verdict struct {
	status meta.Status
	// kind and write are what to apply when status is success. A split-brain
	// correction changes both.
	kind  shard.Kind
	write *meta.ShardMeta

	splitBrain bool
	// benign marks rejections that are an expected startup race.
	benign bool
}

// admit decides whether a write of kind carrying proposed may replace cur.
// cur is nil when the shard has no metadata yet. leaseActive reports whether
// this node's lease timer for cur is still running. Rules are evaluated in
// order and the first match wins.
func admit(self meta.NodeID, cur *meta.ShardMeta, leaseActive bool, kind shard.Kind, proposed *meta.ShardMeta) verdict {
	ok := verdict{status: meta.StatusSuccess, kind: kind, write: proposed}
	if !kind.IsWrite() || cur == nil {
		return ok
	}
	distributed := proposed.Type.IsDistributed()

	if kind == shard.KindCreate && !distributed {
		return verdict{status: meta.StatusContainerExists}
	}

	if proposed.CurrentHomeNode == meta.NodeNone && leaseActive && cur.LeaseExists() &&
		proposed.WriteNode != cur.CurrentHomeNode {
		return verdict{
			status: meta.StatusLeaseExists,
			benign: distributed && (kind == shard.KindCreate || kind == shard.KindReput),
		}
	}

	if splitBrain(self, cur, leaseActive, proposed) {
		fixed := cur.Clone()
		fixed.LeaseUsecs = 1
		fixed.LeaseLiveness = false
		fixed.WriteNode = self
		fixed.Seqno = max(cur.Seqno, proposed.Seqno) + 1
		fixed.Ltime = max(cur.Ltime, proposed.Ltime) + 1
		return verdict{status: meta.StatusSuccess, kind: shard.KindPut, write: fixed, splitBrain: true}
	}

	if distributed {
		if kind == shard.KindReput && proposed.CurrentHomeNode == meta.NodeNone && !cur.LeaseExists() {
			return verdict{status: meta.StatusUpdateDuplicate}
		}
		if kind != shard.KindCreate && cur.Equal(proposed) {
			return verdict{status: meta.StatusUpdateDuplicate}
		}
		return ok
	}
	if kind == shard.KindReput {
		return ok
	}

	homeChanges := cur.HomeChanges(proposed)
	switch {
	case homeChanges && leaseActive && cur.LeaseExists() && proposed.WriteNode != cur.CurrentHomeNode:
		return verdict{status: meta.StatusLeaseExists}
	case proposed.Seqno != cur.Seqno+1:
		return verdict{status: meta.StatusBadMetaSeqno}
	case homeChanges && proposed.Ltime != cur.Ltime+1:
		return verdict{status: meta.StatusBadLtime}
	}
	return ok
}

// splitBrain reports whether proposed comes from a node that believes some
// other node is home while this node holds an active lease as home.
// Corrections (one-microsecond, non-liveness leases) never trigger another
// correction.
func splitBrain(self meta.NodeID, cur *meta.ShardMeta, leaseActive bool, proposed *meta.ShardMeta) bool {
	if !leaseActive || cur.CurrentHomeNode != self {
		return false
	}
	if proposed.WriteNode == self || isCorrection(proposed) {
		return false
	}
	home := proposed.CurrentHomeNode
	return home != meta.NodeNone && home != self && home != cur.CurrentHomeNode
}

func isCorrection(m *meta.ShardMeta) bool {
	return m.LeaseUsecs == 1 && !m.LeaseLiveness
}
