// Package shard defines the per-shard vocabulary shared by the metadata
// coordinator: the lifecycle State of a cached record, the Kind of each
// operation, and the Stats counters a node exposes.
//
// # Lifecycle
//
//	INITIAL ──read ok──────────────────▶ NORMAL ──delete──▶ DELETED
//	   │                                   ▲
//	   ├──container missing──▶ NO_FORMAT ──┤ create, reput
//	   └──record missing─────▶ NO_META ────┘ any write
//
//	any state ──shutdown──▶ TO_SHUTDOWN
//
// TO_SHUTDOWN and DELETED are terminal: the state only waits for its
// outstanding references to drain before it is destroyed.
//
// # Operations
//
// Create, Get, Put and Delete come from callers. Reput installs a copy
// learnt from another node and is never re-announced. IsWrite is true for
// Create, Put and Reput, which are the kinds admission checks.
//
// # Statistics
//
// Stats fields are updated with atomic adds from the executor and read with
// Snapshot from any goroutine.
package shard
