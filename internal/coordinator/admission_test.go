package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/shard"
)

func TestAdmit(t *testing.T) {
	const self = meta.NodeID(1)

	supernode := func(home meta.NodeID, seqno, ltime uint64) *meta.ShardMeta {
		return shardMeta(3, meta.ReplicationSupernode, home, 5_000_000, seqno, ltime)
	}
	distributed := func(home meta.NodeID, seqno, ltime uint64) *meta.ShardMeta {
		return shardMeta(3, meta.ReplicationDistributed, home, 5_000_000, seqno, ltime)
	}
	withWriter := func(m *meta.ShardMeta, w meta.NodeID) *meta.ShardMeta {
		m.WriteNode = w
		return m
	}
	noHome := func(m *meta.ShardMeta, w meta.NodeID) *meta.ShardMeta {
		m.LastHomeNode = m.CurrentHomeNode
		m.CurrentHomeNode = meta.NodeNone
		m.LeaseUsecs = 0
		m.WriteNode = w
		return m
	}

	tests := []struct {
		name        string
		cur         *meta.ShardMeta
		leaseActive bool
		kind        shard.Kind
		proposed    *meta.ShardMeta
		expected    meta.Status
		splitBrain  bool
		benign      bool
	}{
		{
			name:     "get always passes",
			cur:      supernode(2, 4, 1),
			kind:     shard.KindGet,
			expected: meta.StatusSuccess,
		},
		{
			name:     "create on blank shard",
			kind:     shard.KindCreate,
			proposed: supernode(2, 1, 1),
			expected: meta.StatusSuccess,
		},
		{
			name:     "create on existing supernode shard",
			cur:      supernode(meta.NodeNone, 4, 1),
			kind:     shard.KindCreate,
			proposed: supernode(2, 5, 2),
			expected: meta.StatusContainerExists,
		},
		{
			name:     "create on existing distributed shard",
			cur:      distributed(meta.NodeNone, 4, 1),
			kind:     shard.KindCreate,
			proposed: distributed(2, 5, 2),
			expected: meta.StatusSuccess,
		},
		{
			name:        "clearing a lease held by another node",
			cur:         supernode(2, 4, 1),
			leaseActive: true,
			kind:        shard.KindPut,
			proposed:    noHome(supernode(2, 5, 2), 3),
			expected:    meta.StatusLeaseExists,
		},
		{
			name:        "distributed reput clearing a held lease is benign",
			cur:         distributed(2, 4, 1),
			leaseActive: true,
			kind:        shard.KindReput,
			proposed:    noHome(distributed(2, 5, 2), 3),
			expected:    meta.StatusLeaseExists,
			benign:      true,
		},
		{
			name:        "home relinquishes its own lease",
			cur:         supernode(2, 4, 1),
			leaseActive: true,
			kind:        shard.KindPut,
			proposed:    noHome(supernode(2, 5, 2), 2),
			expected:    meta.StatusSuccess,
		},
		{
			name:        "split brain is rewritten",
			cur:         distributed(self, 10, 3),
			leaseActive: true,
			kind:        shard.KindReput,
			proposed:    distributed(2, 11, 4),
			expected:    meta.StatusSuccess,
			splitBrain:  true,
		},
		{
			name:        "correction does not trigger another correction",
			cur:         distributed(self, 10, 3),
			leaseActive: true,
			kind:        shard.KindReput,
			proposed:    shardMeta(3, meta.ReplicationDistributed, 2, 1, 12, 5),
			expected:    meta.StatusSuccess,
		},
		{
			name:     "no split brain without an active lease",
			cur:      distributed(self, 10, 3),
			kind:     shard.KindReput,
			proposed: distributed(2, 11, 4),
			expected: meta.StatusSuccess,
		},
		{
			name:     "distributed reput of no home onto no home",
			cur:      noHome(distributed(2, 6, 2), 2),
			kind:     shard.KindReput,
			proposed: noHome(distributed(3, 7, 3), 3),
			expected: meta.StatusUpdateDuplicate,
		},
		{
			name:     "identical distributed put",
			cur:      distributed(2, 6, 2),
			kind:     shard.KindPut,
			proposed: distributed(2, 6, 2),
			expected: meta.StatusUpdateDuplicate,
		},
		{
			name:     "distributed put skips sequencing",
			cur:      distributed(2, 6, 2),
			kind:     shard.KindPut,
			proposed: distributed(2, 3, 2),
			expected: meta.StatusSuccess,
		},
		{
			name:     "supernode reput skips sequencing",
			cur:      supernode(2, 6, 2),
			kind:     shard.KindReput,
			proposed: supernode(3, 1, 1),
			expected: meta.StatusSuccess,
		},
		{
			name:        "home change while lease active",
			cur:         supernode(2, 4, 1),
			leaseActive: true,
			kind:        shard.KindPut,
			proposed:    withWriter(supernode(3, 5, 2), 3),
			expected:    meta.StatusLeaseExists,
		},
		{
			name:        "home transfers its own lease",
			cur:         supernode(2, 4, 1),
			leaseActive: true,
			kind:        shard.KindPut,
			proposed:    withWriter(supernode(3, 5, 2), 2),
			expected:    meta.StatusSuccess,
		},
		{
			name:     "seqno gap",
			cur:      supernode(2, 4, 1),
			kind:     shard.KindPut,
			proposed: supernode(2, 6, 1),
			expected: meta.StatusBadMetaSeqno,
		},
		{
			name:     "seqno replay",
			cur:      supernode(2, 4, 1),
			kind:     shard.KindPut,
			proposed: supernode(2, 4, 1),
			expected: meta.StatusBadMetaSeqno,
		},
		{
			name:     "home change without ltime advance",
			cur:      supernode(meta.NodeNone, 4, 1),
			kind:     shard.KindPut,
			proposed: supernode(3, 5, 1),
			expected: meta.StatusBadLtime,
		},
		{
			name:     "home change with ltime advance",
			cur:      supernode(meta.NodeNone, 4, 1),
			kind:     shard.KindPut,
			proposed: supernode(3, 5, 2),
			expected: meta.StatusSuccess,
		},
		{
			name:     "lease renewal keeps ltime",
			cur:      supernode(2, 4, 1),
			kind:     shard.KindPut,
			proposed: supernode(2, 5, 1),
			expected: meta.StatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := admit(self, tt.cur, tt.leaseActive, tt.kind, tt.proposed)
			assert.Equal(t, tt.expected, v.status)
			assert.Equal(t, tt.splitBrain, v.splitBrain)
			assert.Equal(t, tt.benign, v.benign)
			if tt.expected.OK() && !tt.splitBrain {
				assert.Same(t, tt.proposed, v.write)
				assert.Equal(t, tt.kind, v.kind)
			}
		})
	}
}

func TestAdmitSplitBrainRewrite(t *testing.T) {
	cur := shardMeta(3, meta.ReplicationDistributed, 1, 5_000_000, 10, 3)
	cur.LeaseLiveness = true
	proposed := shardMeta(3, meta.ReplicationDistributed, 2, 5_000_000, 11, 4)

	v := admit(1, cur, true, shard.KindReput, proposed)

	assert.True(t, v.splitBrain)
	assert.Equal(t, shard.KindPut, v.kind)
	assert.Equal(t, meta.NodeID(1), v.write.CurrentHomeNode)
	assert.Equal(t, meta.NodeID(1), v.write.WriteNode)
	assert.Equal(t, uint64(1), v.write.LeaseUsecs)
	assert.False(t, v.write.LeaseLiveness)
	assert.Equal(t, uint64(12), v.write.Seqno)
	assert.Equal(t, uint64(5), v.write.Ltime)

	// Neither input is modified.
	assert.True(t, cur.LeaseLiveness)
	assert.Equal(t, uint64(10), cur.Seqno)
	assert.Equal(t, meta.NodeID(2), proposed.CurrentHomeNode)
}
