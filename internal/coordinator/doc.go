// Package coordinator implements the shard-metadata coordinator of a node:
// the table of per-shard state machines, write admission, lease and beacon
// timers, change notification and local/remote dispatch.
//
// # Overview
//
// For every data shard the coordinator tracks which node is home, how long
// that lease lasts and the causal counters (ltime, seqno) used to reject
// stale or conflicting writes. Callers use CreateShardMeta, GetShardMeta,
// PutShardMeta and DeleteShardMeta; each completes exactly once through its
// callback with a status, the resulting metadata and the lease expiry.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                 COORDINATOR                  │
//	├──────────────────────────────────────────────┤
//	│  API / ReceiveMsg / NodeLive / NodeDead      │
//	│          │  (submitted to the executor)      │
//	│          ▼                                   │
//	│  dispatch ──► remote table ──► Transport     │
//	│     │  └────► ConsensusBackend (PAXOS)       │
//	│     ▼                                        │
//	│  shard table: id → shardState                │
//	│     blocked ops (FIFO) → Flash (1 in flight) │
//	│     lease timer / beacon timer               │
//	│          │                                   │
//	│          ▼                                   │
//	│  notify: listeners + CHANGED to live peers   │
//	└──────────────────────────────────────────────┘
//
// # Concurrency
//
// Every piece of coordinator state is owned by one sched.Executor. Public
// methods submit work and return immediately; callbacks, listeners, flash
// completions and timers all run on the executor, one at a time. The only
// state read from other goroutines is Stats, which uses atomics.
//
// # Shard states
//
//	INITIAL ──read──► NO_FORMAT ──create container──► NO_META ──write──► NORMAL
//	           ├────► NO_META
//	           └────► NORMAL
//	any ──Shutdown──► TO_SHUTDOWN      any ──DELETE──► DELETED
//
// A state is destroyed once its reference count (table entry, queued
// operations, armed timers) drops to zero in a terminal state. Shutdown
// completes after every shard state and every remote operation is gone.
//
// # Admission
//
// Writes are checked against the cached copy in a fixed order: CREATE on an
// existing non-distributed shard, clearing a lease held by another node,
// split-brain correction, distributed duplicates, then the seqno and ltime
// sequencing rules. Distributed types and REPUTs skip sequencing and are
// ordered by arrival.
//
// # Leases
//
// A lease of LeaseUsecs arms a one-shot timer; liveness leases last until
// the home node is reported dead. On expiry the coordinator writes a copy
// with no home through the ordinary PUT path. Shards without a lease run a
// periodic beacon that re-announces them to peers.
//
// # Supporting components
//
//   - ShardRegistry maps meta shards to the supernode storing them.
//   - HealthMonitor polls peers and reports liveness transitions.
package coordinator
