package storage

import (
	"errors"
	"sort"
	"strconv"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in a shard container
var ErrKeyNotFound = errors.New("key not found")

// ErrShardNotFound is returned when the shard container itself doesn't exist
var ErrShardNotFound = errors.New("shard not found")

// Store defines the interface for shard-partitioned key-value storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// CreateShard creates an empty shard container
	// Creating an existing shard is a no-op
	CreateShard(shard uint64) error

	// Get retrieves a value by key
	// Returns ErrShardNotFound or ErrKeyNotFound
	Get(shard uint64, key string) ([]byte, error)

	// Put stores a value with the given key
	// Overwrites any existing value for the key
	Put(shard uint64, key string, value []byte) error

	// Delete removes a key-value pair
	// Returns ErrKeyNotFound if the key doesn't exist
	Delete(shard uint64, key string) error

	// List returns all keys in a shard in sorted order
	List(shard uint64) ([]string, error)

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Shards int // Number of shard containers
	Keys   int // Number of keys across all shards
	Bytes  int // Total size of all values in bytes
}

// MetaKey is the key under which a shard's metadata record is stored
// inside its metadata-storage shard
func MetaKey(shardID uint64) string {
	return "shard_meta/" + strconv.FormatUint(shardID, 10)
}

// MemoryStore implements Store with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu     sync.RWMutex                 // Protects concurrent access
	shards map[uint64]map[string][]byte // shard -> key -> value
}

// NewMemoryStore creates a new in-memory store with no shards
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards: make(map[uint64]map[string][]byte),
	}
}

// CreateShard creates an empty container (idempotent)
func (m *MemoryStore) CreateShard(shard uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.shards[shard]; !exists {
		m.shards[shard] = make(map[string][]byte)
	}
	return nil
}

// Get retrieves a value by key
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(shard uint64, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.shards[shard]
	if !exists {
		return nil, ErrShardNotFound
	}
	value, exists := data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent external modification
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a value with the given key
// Makes a copy of the value to prevent external modification
func (m *MemoryStore) Put(shard uint64, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.shards[shard]
	if !exists {
		return ErrShardNotFound
	}

	// Make a copy to prevent external modification
	stored := make([]byte, len(value))
	copy(stored, value)
	data[key] = stored

	return nil
}

// Delete removes a key-value pair
func (m *MemoryStore) Delete(shard uint64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.shards[shard]
	if !exists {
		return ErrShardNotFound
	}
	if _, exists := data[key]; !exists {
		return ErrKeyNotFound
	}
	delete(data, key)
	return nil
}

// List returns all keys in a shard, sorted
func (m *MemoryStore) List(shard uint64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.shards[shard]
	if !exists {
		return nil, ErrShardNotFound
	}
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{Shards: len(m.shards)}
	for _, data := range m.shards {
		stats.Keys += len(data)
		for _, value := range data {
			stats.Bytes += len(value)
		}
	}
	return stats
}
