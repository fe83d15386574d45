package shard

import (
	"sync/atomic"
)

// State represents where a shard's metadata is in its lifecycle on this node
type State int

const (
	// StateInitial means the metadata has not been read from flash yet
	StateInitial State = iota
	// StateNoFormat means flash reports the metadata-storage shard is missing
	StateNoFormat
	// StateNoMeta means the storage shard exists but holds no metadata record
	StateNoMeta
	// StateNormal means valid metadata is cached and serving
	StateNormal
	// StateToShutdown means the coordinator is shutting down
	StateToShutdown
	// StateDeleted means the metadata was explicitly deleted
	StateDeleted
)

var stateNames = [...]string{
	StateInitial:    "initial",
	StateNoFormat:   "no_format",
	StateNoMeta:     "no_meta",
	StateNormal:     "normal",
	StateToShutdown: "to_shutdown",
	StateDeleted:    "deleted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the state only waits for destruction
func (s State) Terminal() bool {
	return s == StateToShutdown || s == StateDeleted
}

// Kind is the type of a metadata operation
type Kind int

const (
	KindCreate Kind = iota
	KindGet
	KindPut
	KindReput
	KindDelete
)

var kindNames = [...]string{
	KindCreate: "create",
	KindGet:    "get",
	KindPut:    "put",
	KindReput:  "reput",
	KindDelete: "delete",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsWrite reports whether operations of this kind go through admission
func (k Kind) IsWrite() bool {
	return k == KindCreate || k == KindPut || k == KindReput
}

// Stats tracks operation counts for a node's metadata coordinator
// All counters are updated atomically and may be read from any goroutine
type Stats struct {
	Creates           uint64 // Create operations started
	Gets              uint64 // Get operations started
	Puts              uint64 // Put operations started
	Reputs            uint64 // Reput operations started
	Deletes           uint64 // Delete operations started
	Rejected          uint64 // Writes refused by admission
	SplitBrain        uint64 // Writes rewritten by split-brain correction
	LeaseExpirations  uint64 // Leases cleared by timer or liveness
	RemoteOps         uint64 // Operations forwarded to another node
	NotificationsSent uint64 // CHANGED messages sent
}

// Record counts one started operation of kind k
func (s *Stats) Record(k Kind) {
	switch k {
	case KindCreate:
		atomic.AddUint64(&s.Creates, 1)
	case KindGet:
		atomic.AddUint64(&s.Gets, 1)
	case KindPut:
		atomic.AddUint64(&s.Puts, 1)
	case KindReput:
		atomic.AddUint64(&s.Reputs, 1)
	case KindDelete:
		atomic.AddUint64(&s.Deletes, 1)
	}
}

// Add increments a single counter field
func Add(counter *uint64) {
	atomic.AddUint64(counter, 1)
}

// Snapshot returns a consistent-enough copy for reporting
func (s *Stats) Snapshot() Stats {
	return Stats{
		Creates:           atomic.LoadUint64(&s.Creates),
		Gets:              atomic.LoadUint64(&s.Gets),
		Puts:              atomic.LoadUint64(&s.Puts),
		Reputs:            atomic.LoadUint64(&s.Reputs),
		Deletes:           atomic.LoadUint64(&s.Deletes),
		Rejected:          atomic.LoadUint64(&s.Rejected),
		SplitBrain:        atomic.LoadUint64(&s.SplitBrain),
		LeaseExpirations:  atomic.LoadUint64(&s.LeaseExpirations),
		RemoteOps:         atomic.LoadUint64(&s.RemoteOps),
		NotificationsSent: atomic.LoadUint64(&s.NotificationsSent),
	}
}
