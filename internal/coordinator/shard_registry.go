package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardmeta/internal/meta"
)

// ShardAssignment records which node stores the metadata of one registry
// bucket.
//
// Every SUPERNODE record names a meta shard (its metadata-storage shard).
// Meta shards fold onto buckets, and each bucket is stored by exactly one
// node, so an assignment answers "who holds the flash container for these
// meta shards".
//
// Thread Safety:
// ShardAssignment values are copies. The registry never hands out a
// reference into its own table.
//
// Example:
//
//	assignment := ShardAssignment{
//	    MetaShard: 3,
//	    NodeID:    2,
//	}
type ShardAssignment struct {
	// MetaShard is the bucket number, in [0, NumShards).
	MetaShard uint64 `json:"meta_shard"`

	// NodeID is the supernode that stores every meta shard in the bucket.
	// Never meta.NodeNone.
	NodeID meta.NodeID `json:"node_id"`
}

// ShardRegistry maps metadata-storage shards to the supernode that holds
// them, and is how the coordinator routes SUPERNODE operations.
//
// Meta shard ids are arbitrary uint64 values. They are folded onto a fixed
// number of buckets, so any id resolves once every bucket is assigned:
//
//	meta_shard_id -> bucket (id % numShards) -> node
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│         ShardRegistry               │
//	├─────────────────────────────────────┤
//	│  assignments: map[bucket]→node      │
//	│  numShards: bucket count            │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  MetaShard → Bucket → Node          │
//	│  1029 → 1029 % 4 = 1 → node2        │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - The coordinator reads it from its executor through NodeFor
//   - Configuration and the /registry endpoints write it
//   - Read operations use RLock, writes use Lock
//   - All returned data is copied
//
// Performance Characteristics:
//   - NodeFor: O(1) - Modulo and map lookup
//   - GetNodeShards: O(n) - Linear scan of buckets
//   - RebalanceShards: O(n) - Rewrites every bucket
//
// A bucket with no assignment makes its meta shards unreachable: operations
// routed there complete with NODE_DEAD until an operator assigns it.
type ShardRegistry struct {
	// assignments maps bucket numbers to their storing node.
	// A bucket may be missing while an operator moves it.
	assignments map[uint64]meta.NodeID // bucket -> node

	// mu protects assignments. Uses RWMutex so routing lookups run in
	// parallel with each other.
	mu sync.RWMutex

	// numShards is the bucket count, fixed at creation. Every node of a
	// cluster must use the same value or they route differently.
	numShards int
}

// NewShardRegistry creates a registry with numShards buckets, none assigned.
//
// The bucket count determines:
//   - How finely meta shards can be spread over supernodes
//   - How many buckets move when an operator rebalances
//
// The count should be:
//   - Larger than the number of supernodes
//   - The same on every node in the cluster
//   - Fixed for the cluster lifetime (changing it moves almost every record)
//
// Parameters:
//   - numShards: Total number of buckets (must be > 0)
//
// Returns:
//   - Initialized ShardRegistry ready for assignments
//
// Example:
//
//	registry := NewShardRegistry(64)
//	registry.RebalanceShards([]meta.NodeID{1, 2, 3})
func NewShardRegistry(numShards int) *ShardRegistry {
	return &ShardRegistry{
		assignments: make(map[uint64]meta.NodeID),
		numShards:   numShards,
	}
}

// NumShards returns the number of buckets.
func (r *ShardRegistry) NumShards() int {
	return r.numShards
}

// Bucket returns the bucket a meta shard id falls in.
func (r *ShardRegistry) Bucket(metaShardID uint64) uint64 {
	return metaShardID % uint64(r.numShards)
}

// AssignShard places bucket on node, replacing any previous assignment.
//
// Assignment process:
//  1. Validates the bucket is within [0, numShards)
//  2. Validates node is not meta.NodeNone
//  3. Replaces the assignment atomically
//
// Records already written to the old node stay there. Moving a bucket is
// only safe once its containers have been copied, or when nothing was
// written yet.
//
// Parameters:
//   - bucket: The bucket to place (must be in [0, numShards))
//   - node: The supernode that will store it
//
// Returns:
//   - nil on success
//   - Error if the bucket is out of range or node is NONE
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
//
// Example:
//
//	if err := registry.AssignShard(5, 2); err != nil {
//	    logger.Warn("assign failed", zap.Error(err))
//	}
func (r *ShardRegistry) AssignShard(bucket uint64, node meta.NodeID) error {
	if bucket >= uint64(r.numShards) {
		return fmt.Errorf("invalid shard bucket %d, must be in range [0, %d)", bucket, r.numShards)
	}
	if node == meta.NodeNone {
		return errors.New("node ID cannot be NONE")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[bucket] = node
	return nil
}

// RemoveShard unassigns bucket, making its meta shards unreachable until
// it is assigned again.
//
// Effects of removal:
//   - Operations routed to the bucket complete with NODE_DEAD
//   - Records already stored stay on their node
//
// Parameters:
//   - bucket: The bucket to clear (must be in [0, numShards))
//
// Returns:
//   - nil on success (even if the bucket wasn't assigned)
//   - Error if the bucket is out of range
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) RemoveShard(bucket uint64) error {
	if bucket >= uint64(r.numShards) {
		return fmt.Errorf("invalid shard bucket %d, must be in range [0, %d)", bucket, r.numShards)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, bucket)
	return nil
}

// NodeFor returns the node storing metadata for metaShardID.
//
// This is the routing lookup the coordinator makes for every SUPERNODE
// operation that has no explicit target. Meta shard 0 is an ordinary id
// and lands in bucket 0.
//
// Parameters:
//   - metaShardID: Any meta shard id
//
// Returns:
//   - The storing node
//   - Error if the id's bucket is unassigned
//
// Performance:
// O(1) with a read lock held only for the map lookup.
func (r *ShardRegistry) NodeFor(metaShardID uint64) (meta.NodeID, error) {
	bucket := r.Bucket(metaShardID)

	r.mu.RLock()
	node, ok := r.assignments[bucket]
	r.mu.RUnlock()

	if !ok {
		return meta.NodeNone, fmt.Errorf("meta shard %d (bucket %d) is not assigned to any node", metaShardID, bucket)
	}
	return node, nil
}

// GetAllAssignments returns every assignment ordered by bucket.
//
// Unassigned buckets are left out. The /registry endpoint reports this
// list as is.
//
// Returns:
//   - A new slice; callers may modify it freely
func (r *ShardRegistry) GetAllAssignments() []ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ShardAssignment, 0, len(r.assignments))
	for bucket, node := range r.assignments {
		out = append(out, ShardAssignment{MetaShard: bucket, NodeID: node})
	}
	slices.SortFunc(out, func(a, b ShardAssignment) int {
		switch {
		case a.MetaShard < b.MetaShard:
			return -1
		case a.MetaShard > b.MetaShard:
			return 1
		}
		return 0
	})
	return out
}

// GetNodeShards returns the buckets assigned to node, in order.
//
// Parameters:
//   - node: The node to query
//
// Returns:
//   - Sorted bucket numbers, or nil if node stores none
//
// Example:
//
//	for _, b := range registry.GetNodeShards(2) {
//	    fmt.Printf("node2 stores bucket %d\n", b)
//	}
func (r *ShardRegistry) GetNodeShards(node meta.NodeID) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buckets []uint64
	for bucket, n := range r.assignments {
		if n == node {
			buckets = append(buckets, bucket)
		}
	}
	slices.Sort(buckets)
	return buckets
}

// RebalanceShards spreads every bucket round-robin over nodes.
//
// Nodes are taken in ascending id order, with duplicates removed, so every
// node given the same set computes the same table without talking to the
// others. This is how a node seeds its registry from configuration.
//
// Parameters:
//   - nodes: The supernodes, in any order (must be non-empty, no NONE)
//
// Returns:
//   - nil on success
//   - Error if nodes is empty or contains meta.NodeNone
//
// Thread Safety:
// The whole table is rewritten under one lock, so a concurrent NodeFor
// sees either the old or the new placement.
//
// Example:
//
//	registry := NewShardRegistry(4)
//	registry.RebalanceShards([]meta.NodeID{2, 1})
//	// buckets 0 and 2 -> node1, buckets 1 and 3 -> node2
func (r *ShardRegistry) RebalanceShards(nodes []meta.NodeID) error {
	if len(nodes) == 0 {
		return errors.New("cannot rebalance with no nodes")
	}
	ordered := slices.Clone(nodes)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)
	if slices.Contains(ordered, meta.NodeNone) {
		return errors.New("node ID cannot be NONE")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for bucket := 0; bucket < r.numShards; bucket++ {
		r.assignments[uint64(bucket)] = ordered[bucket%len(ordered)]
	}
	return nil
}
