package storage

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store has no shards", func(t *testing.T) {
		store := NewMemoryStore()

		// Get against a missing container should return ErrShardNotFound
		_, err := store.Get(1, "nonexistent")
		if err != ErrShardNotFound {
			t.Errorf("Expected ErrShardNotFound, got %v", err)
		}

		if stats := store.Stats(); stats.Shards != 0 {
			t.Errorf("Expected 0 shards, got %d", stats.Shards)
		}
	})

	t.Run("missing key in existing shard", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.CreateShard(1); err != nil {
			t.Fatalf("Failed to create shard: %v", err)
		}

		_, err := store.Get(1, "nonexistent")
		if err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("create shard is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		store.CreateShard(1)
		store.Put(1, "key1", []byte("value1"))

		// Re-creating must not wipe existing keys
		if err := store.CreateShard(1); err != nil {
			t.Fatalf("Second create failed: %v", err)
		}
		value, err := store.Get(1, "key1")
		if err != nil || !bytes.Equal(value, []byte("value1")) {
			t.Errorf("Expected value1 to survive re-create, got %q, %v", value, err)
		}
	})

	t.Run("put and get values", func(t *testing.T) {
		store := NewMemoryStore()
		store.CreateShard(7)

		// Put a value
		err := store.Put(7, "key1", []byte("value1"))
		if err != nil {
			t.Fatalf("Failed to put value: %v", err)
		}

		// Get the value back
		value, err := store.Get(7, "key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}

		// Verify the value
		if !bytes.Equal(value, []byte("value1")) {
			t.Errorf("Expected 'value1', got %s", string(value))
		}
	})

	t.Run("put into missing shard", func(t *testing.T) {
		store := NewMemoryStore()

		err := store.Put(3, "key1", []byte("value1"))
		if err != ErrShardNotFound {
			t.Errorf("Expected ErrShardNotFound, got %v", err)
		}
	})

	t.Run("shards are isolated", func(t *testing.T) {
		store := NewMemoryStore()
		store.CreateShard(1)
		store.CreateShard(2)

		store.Put(1, "key", []byte("one"))
		store.Put(2, "key", []byte("two"))

		v1, _ := store.Get(1, "key")
		v2, _ := store.Get(2, "key")
		if string(v1) != "one" || string(v2) != "two" {
			t.Errorf("Expected isolated values, got %q and %q", v1, v2)
		}
	})

	t.Run("delete values", func(t *testing.T) {
		store := NewMemoryStore()
		store.CreateShard(1)
		store.Put(1, "key1", []byte("value1"))

		if err := store.Delete(1, "key1"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}

		_, err := store.Get(1, "key1")
		if err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
		}

		// Deleting again reports the missing key
		if err := store.Delete(1, "key1"); err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound on second delete, got %v", err)
		}
	})

	t.Run("list missing container", func(t *testing.T) {
		store := NewMemoryStore()
		if _, err := store.List(1); err != ErrShardNotFound {
			t.Errorf("Expected ErrShardNotFound, got %v", err)
		}
	})

	t.Run("list keys sorted", func(t *testing.T) {
		store := NewMemoryStore()
		store.CreateShard(1)
		for _, k := range []string{"c", "a", "b"} {
			store.Put(1, k, []byte(k))
		}

		keys, err := store.List(1)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if fmt.Sprint(keys) != "[a b c]" {
			t.Errorf("Expected [a b c], got %v", keys)
		}
	})

	t.Run("returned values are copies", func(t *testing.T) {
		store := NewMemoryStore()
		store.CreateShard(1)

		input := []byte("original")
		store.Put(1, "key", input)
		input[0] = 'X'

		value, _ := store.Get(1, "key")
		value[1] = 'Y'

		again, _ := store.Get(1, "key")
		if string(again) != "original" {
			t.Errorf("Expected stored value to be unaffected, got %q", again)
		}
	})
}

// TestMetaKey tests the metadata key layout
func TestMetaKey(t *testing.T) {
	if got := MetaKey(42); got != "shard_meta/42" {
		t.Errorf("Expected shard_meta/42, got %s", got)
	}
	if MetaKey(1) == MetaKey(10) {
		t.Error("Expected distinct keys for distinct shards")
	}
}

// TestMemoryStoreConcurrency tests thread safety
func TestMemoryStoreConcurrency(t *testing.T) {
	store := NewMemoryStore()
	for s := uint64(0); s < 4; s++ {
		store.CreateShard(s)
	}

	var wg sync.WaitGroup
	numGoroutines := 20
	wg.Add(numGoroutines * 2)

	// Writers
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				shard := uint64(j % 4)
				store.Put(shard, fmt.Sprintf("key-%d", j), []byte(fmt.Sprintf("writer-%d", id)))
			}
		}(i)
	}

	// Readers
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Get(uint64(j%4), fmt.Sprintf("key-%d", j))
				store.Stats()
			}
		}()
	}

	wg.Wait()

	stats := store.Stats()
	if stats.Keys != 100 {
		t.Errorf("Expected 100 keys after concurrent writes, got %d", stats.Keys)
	}
}

// TestStoreInterface verifies MemoryStore implements Store
func TestStoreInterface(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
	var _ Flash = (*AsyncFlash)(nil)
}
