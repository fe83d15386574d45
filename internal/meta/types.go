// Package meta defines the persistent shard-ownership record and its wire codec.
package meta

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// NodeID identifies a node in the cluster.
type NodeID int32

// NodeNone marks the absence of a home node.
const NodeNone NodeID = -1

func (n NodeID) String() string {
	if n == NodeNone {
		return "none"
	}
	return fmt.Sprintf("node%d", int32(n))
}

// Indexing selects how a replication type locates its metadata.
type Indexing uint8

const (
	// IndexByShard indexes metadata by raw shard id.
	IndexByShard Indexing = iota
	// IndexByVIPGroup indexes metadata by VIP group.
	IndexByVIPGroup
)

// StorageScheme selects where and how strongly metadata is kept.
type StorageScheme uint8

const (
	// StorageNone keeps metadata only in memory on the local node.
	StorageNone StorageScheme = iota
	// StorageSupernode stores metadata on a single designated node.
	StorageSupernode
	// StoragePaxos delegates metadata to a consensus backend.
	StoragePaxos
	// StorageDistributed keeps a loosely consistent copy on every node.
	StorageDistributed
)

// ReplicationType is the persisted replication mode of a shard.
type ReplicationType uint32

const (
	ReplicationNone ReplicationType = iota
	ReplicationSupernode
	ReplicationPaxos
	ReplicationDistributed
	ReplicationDistributedVIPGroup
)

type typeInfo struct {
	name     string
	indexing Indexing
	storage  StorageScheme
}

var replicationTypes = map[ReplicationType]typeInfo{
	ReplicationNone:                {"none", IndexByShard, StorageNone},
	ReplicationSupernode:           {"supernode", IndexByShard, StorageSupernode},
	ReplicationPaxos:               {"paxos", IndexByShard, StoragePaxos},
	ReplicationDistributed:         {"distributed", IndexByShard, StorageDistributed},
	ReplicationDistributedVIPGroup: {"distributed_vip_group", IndexByVIPGroup, StorageDistributed},
}

// Valid reports whether t is a known replication type.
func (t ReplicationType) Valid() bool {
	_, ok := replicationTypes[t]
	return ok
}

func (t ReplicationType) String() string {
	if info, ok := replicationTypes[t]; ok {
		return info.name
	}
	return fmt.Sprintf("replication(%d)", uint32(t))
}

// Indexing returns the indexing scheme of t.
func (t ReplicationType) Indexing() Indexing { return replicationTypes[t].indexing }

// Storage returns the storage scheme of t.
func (t ReplicationType) Storage() StorageScheme { return replicationTypes[t].storage }

// IsDistributed reports whether causality is relaxed for t.
func (t ReplicationType) IsDistributed() bool { return t.Storage() == StorageDistributed }

// ParseReplicationType maps a name produced by String back to its type.
func ParseReplicationType(s string) (ReplicationType, error) {
	for t, info := range replicationTypes {
		if info.name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown replication type %q", s)
}

// ReplicaState is the recovery state of one replica.
type ReplicaState uint8

const (
	ReplicaAuthoritative ReplicaState = iota
	ReplicaRecovering
)

// Replica describes one copy of the shard's data and which byte ranges it holds.
type Replica struct {
	Node   NodeID
	State  ReplicaState
	Ranges []Range
}

// VIPGroupState is the recovery state of a shard within its VIP group.
type VIPGroupState uint8

const (
	VIPUnrecovered VIPGroupState = iota
	VIPRecovered
)

// VIPMeta maps shard ids to VIP group recovery state. Only VIP-group indexed
// replication types carry it.
type VIPMeta struct {
	Groups map[uint64]VIPGroupState
}

// ShardMeta is the replication state of a single shard. Values are treated as
// immutable once handed to the coordinator; use Clone before modifying.
type ShardMeta struct {
	ShardID     uint64
	MetaShardID uint64
	Type        ReplicationType

	CurrentHomeNode NodeID
	LastHomeNode    NodeID
	WriteNode       NodeID

	LeaseUsecs    uint64
	LeaseLiveness bool

	// Ltime advances only when the home node changes.
	Ltime uint64
	// Seqno advances on every accepted write.
	Seqno uint64

	Replicas []Replica
	VIP      *VIPMeta
}

// New returns metadata for a shard with no home node.
func New(shardID uint64, t ReplicationType) *ShardMeta {
	return &ShardMeta{
		ShardID:         shardID,
		MetaShardID:     shardID,
		Type:            t,
		CurrentHomeNode: NodeNone,
		LastHomeNode:    NodeNone,
		WriteNode:       NodeNone,
	}
}

// LeaseExists reports whether some node currently holds the shard's lease.
func (m *ShardMeta) LeaseExists() bool {
	return m.CurrentHomeNode != NodeNone
}

// HomeChanges reports whether applying next would move the home node.
func (m *ShardMeta) HomeChanges(next *ShardMeta) bool {
	return m.CurrentHomeNode != next.CurrentHomeNode
}

// Clone returns a deep copy of m.
func (m *ShardMeta) Clone() *ShardMeta {
	if m == nil {
		return nil
	}
	c := *m
	c.Replicas = make([]Replica, len(m.Replicas))
	for i, r := range m.Replicas {
		c.Replicas[i] = Replica{Node: r.Node, State: r.State, Ranges: slices.Clone(r.Ranges)}
	}
	if m.VIP != nil {
		c.VIP = &VIPMeta{Groups: make(map[uint64]VIPGroupState, len(m.VIP.Groups))}
		for id, st := range m.VIP.Groups {
			c.VIP.Groups[id] = st
		}
	}
	return &c
}

// Equal reports field-wise equality. A nil replica list and an empty one are equal.
func (m *ShardMeta) Equal(o *ShardMeta) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.ShardID != o.ShardID || m.MetaShardID != o.MetaShardID || m.Type != o.Type ||
		m.CurrentHomeNode != o.CurrentHomeNode || m.LastHomeNode != o.LastHomeNode ||
		m.WriteNode != o.WriteNode || m.LeaseUsecs != o.LeaseUsecs ||
		m.LeaseLiveness != o.LeaseLiveness || m.Ltime != o.Ltime || m.Seqno != o.Seqno {
		return false
	}
	if len(m.Replicas) != len(o.Replicas) {
		return false
	}
	for i := range m.Replicas {
		a, b := m.Replicas[i], o.Replicas[i]
		if a.Node != b.Node || a.State != b.State || !slices.Equal(a.Ranges, b.Ranges) {
			return false
		}
	}
	return m.VIP.equal(o.VIP)
}

func (v *VIPMeta) equal(o *VIPMeta) bool {
	if v == nil || o == nil {
		return v == o
	}
	if len(v.Groups) != len(o.Groups) {
		return false
	}
	for id, st := range v.Groups {
		if other, ok := o.Groups[id]; !ok || other != st {
			return false
		}
	}
	return true
}

// Validate checks structural invariants that the codec does not enforce by itself.
func (m *ShardMeta) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("shard %d: %w: unknown replication type %d", m.ShardID, StatusMetaDataInvalid, m.Type)
	}
	if m.VIP != nil && m.Type.Indexing() != IndexByVIPGroup {
		return fmt.Errorf("shard %d: %w: vip meta on %s shard", m.ShardID, StatusMetaDataInvalid, m.Type)
	}
	for i := range m.Replicas {
		if err := m.Replicas[i].Validate(); err != nil {
			return fmt.Errorf("shard %d replica %d: %w", m.ShardID, i, err)
		}
	}
	return nil
}

// RoutingHint carries what a reader needs to locate metadata it does not hold yet.
type RoutingHint struct {
	Type        ReplicationType
	MetaShardID uint64
}

// HintFor is the hint for a shard whose metadata lives in the meta shard of
// the same id, which is where New places it.
func HintFor(shardID uint64, t ReplicationType) RoutingHint {
	return RoutingHint{Type: t, MetaShardID: shardID}
}

// Hint returns the routing hint for m.
func (m *ShardMeta) Hint() RoutingHint {
	return RoutingHint{Type: m.Type, MetaShardID: m.MetaShardID}
}
