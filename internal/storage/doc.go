// Package storage holds the flash layer that persists shard metadata
// records.
//
// # Overview
//
// Metadata for SUPERNODE shards lives in a metadata-storage shard (a
// container) on the node the registry assigns it to. Inside that container
// each record is kept under MetaKey(shardID). The coordinator never blocks
// on storage: it talks to a Flash, whose completions come back through the
// coordinator's own executor.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│      coordinator (executor)         │
//	└─────────────────────────────────────┘
//	            │            ▲
//	     call   ▼            │ done(...) via Submit
//	┌─────────────────────────────────────┐
//	│          Flash (AsyncFlash)         │
//	└─────────────────────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────┐
//	│      Store (MemoryStore, ...)       │
//	└─────────────────────────────────────┘
//
// # Core Interfaces
//
// Store: synchronous shard-partitioned key-value storage
//   - CreateShard makes a container; containers are never removed
//   - Get / Put / Delete / List work on keys inside a container
//   - Stats reports container, key and byte counts
//
// Flash: the asynchronous view the coordinator uses
//   - CreateShard, Get, Put, Delete mirror Store
//   - done never runs inline with the call
//
// # Errors
//
// ErrShardNotFound means the container is missing and maps to the NO_FORMAT
// shard state. ErrKeyNotFound means the container exists without a record
// and maps to NO_META. Any other error surfaces as FLASH_ERROR.
//
// # Thread Safety
//
// MemoryStore guards its map with a sync.RWMutex and copies values on the
// way in and out, so callers may reuse their buffers.
package storage
