package coordinator

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/sched"
	"github.com/dreamware/shardmeta/internal/shard"
	"github.com/dreamware/shardmeta/internal/storage"
)

// shardState is the per-shard actor. Operations queue in blocked and are
// served FIFO with at most one flash request in flight.
//
// refs counts the table entry, every queued operation and every armed
// timer. The state is destroyed when refs reaches zero in a terminal state.
type shardState struct {
	c           *Coordinator
	id          uint64
	metaShardID uint64

	state shard.State
	meta  *meta.ShardMeta
	// fromReput is set while the cached copy was learnt from a peer rather
	// than written here, and suppresses re-broadcast.
	fromReput bool

	leaseExists  bool
	leaseExpires time.Time
	leaseTimer   sched.Timer
	beaconTimer  sched.Timer

	blocked  []*operation
	inFlight bool
	running  bool
	refs     int

	log *zap.Logger
}

func newShardState(c *Coordinator, id, metaShardID uint64) *shardState {
	return &shardState{
		c:           c,
		id:          id,
		metaShardID: metaShardID,
		state:       shard.StateInitial,
		refs:        1,
		log:         c.log.With(zap.Uint64("shard", id)),
	}
}

func (s *shardState) enqueue(op *operation) {
	s.refs++
	s.blocked = append(s.blocked, op)
	s.kick()
}

// kick serves queued operations until the queue empties or a flash request
// is outstanding. The running flag keeps nested calls from recursing.
func (s *shardState) kick() {
	if s.running {
		return
	}
	s.running = true
	defer func() { s.running = false }()

	for len(s.blocked) > 0 && !s.inFlight && !s.state.Terminal() {
		s.step(s.blocked[0])
	}
}

// finish pops op from the head of the queue and completes it.
func (s *shardState) finish(op *operation, res Result) {
	if len(s.blocked) > 0 && s.blocked[0] == op {
		s.blocked = s.blocked[1:]
	}
	op.complete(res)
	s.release()
}

func (s *shardState) fail(op *operation, st meta.Status) {
	res := Result{Status: st}
	if s.meta != nil && st != meta.StatusShutdown {
		res.Meta = s.meta.Clone()
		res.LeaseExpires = s.currentExpiry()
	}
	s.finish(op, res)
}

func (s *shardState) succeed(op *operation) {
	s.finish(op, Result{Status: meta.StatusSuccess, Meta: s.meta.Clone(), LeaseExpires: s.currentExpiry()})
}

func (s *shardState) currentExpiry() time.Time {
	if !s.leaseExists {
		return time.Time{}
	}
	return s.leaseExpires
}

// step advances the head operation by one state-machine transition.
func (s *shardState) step(op *operation) {
	switch s.state {
	case shard.StateInitial:
		s.readMeta()

	case shard.StateNoFormat:
		switch {
		case op.kind == shard.KindGet && op.hint.Type.Storage() != meta.StorageSupernode:
			// Types kept in memory never have a container to find.
			s.fail(op, meta.StatusNotFound)
		case op.kind != shard.KindCreate && op.kind != shard.KindReput:
			s.fail(op, meta.StatusShardDoesNotExist)
		case op.proposed.Type.Storage() != meta.StorageSupernode:
			s.state = shard.StateNoMeta
		default:
			s.createContainer(op)
		}

	case shard.StateNoMeta:
		switch op.kind {
		case shard.KindGet:
			s.fail(op, meta.StatusNotFound)
		case shard.KindDelete:
			s.fail(op, meta.StatusShardDoesNotExist)
		default:
			s.write(op)
		}

	case shard.StateNormal:
		switch op.kind {
		case shard.KindGet:
			s.succeed(op)
		case shard.KindDelete:
			s.remove(op)
		default:
			s.write(op)
		}
	}
}

func (s *shardState) readMeta() {
	s.inFlight = true
	s.c.flash.Get(s.metaShardID, storage.MetaKey(s.id), func(value []byte, err error) {
		s.inFlight = false
		if s.abortIfShutdown() {
			return
		}
		switch {
		case errors.Is(err, storage.ErrShardNotFound):
			s.state = shard.StateNoFormat
		case errors.Is(err, storage.ErrKeyNotFound):
			s.state = shard.StateNoMeta
		case err != nil:
			s.log.Warn("metadata read failed", zap.Error(err))
			s.fail(s.blocked[0], meta.StatusOf(err))
		default:
			m, derr := meta.Unmarshal(value)
			if derr != nil {
				s.log.Warn("stored metadata does not decode", zap.Error(derr))
				s.fail(s.blocked[0], meta.StatusOf(derr))
				break
			}
			s.meta = m
			s.state = shard.StateNormal
			s.scheduleLeaseTimeout(time.Time{}, false)
			s.c.notify(s)
		}
		s.kick()
	})
}

func (s *shardState) createContainer(op *operation) {
	s.inFlight = true
	s.c.flash.CreateShard(s.metaShardID, func(err error) {
		s.inFlight = false
		if s.abortIfShutdown() {
			return
		}
		if err != nil {
			s.log.Warn("creating metadata container failed", zap.Uint64("meta_shard", s.metaShardID), zap.Error(err))
			s.fail(op, meta.StatusOf(err))
		} else {
			s.state = shard.StateNoMeta
		}
		s.kick()
	})
}

// write runs admission and then stores (or, for types kept in memory,
// directly applies) the admitted metadata.
func (s *shardState) write(op *operation) {
	v := admit(s.c.self, s.meta, s.leaseExists, op.kind, op.proposed)
	if !v.status.OK() {
		s.reject(op, v)
		return
	}
	if v.splitBrain {
		shard.Add(&s.c.stats.SplitBrain)
		s.c.admitLog.Warn("split brain detected: rewriting write",
			zap.Uint64("shard", s.id),
			zap.Stringer("home", s.meta.CurrentHomeNode),
			zap.Stringer("writer", op.proposed.WriteNode),
			zap.Stringer("proposed_home", op.proposed.CurrentHomeNode))
		op.leaseExpires, op.leaseKnown = time.Time{}, false
	}
	next, kind := v.write, v.kind

	if next.Type.Storage() != meta.StorageSupernode {
		s.apply(op, kind, next)
		return
	}
	s.inFlight = true
	s.c.flash.Put(s.metaShardID, storage.MetaKey(s.id), meta.Marshal(next), func(err error) {
		s.inFlight = false
		if s.abortIfShutdown() {
			return
		}
		if err != nil {
			s.log.Warn("metadata write failed", zap.Error(err))
			s.fail(op, meta.StatusOf(err))
		} else {
			s.apply(op, kind, next)
		}
		s.kick()
	})
}

func (s *shardState) reject(op *operation, v verdict) {
	if op.kind == shard.KindReput && v.status == meta.StatusUpdateDuplicate {
		s.c.admitLog.Debug("duplicate reput ignored", zap.Uint64("shard", s.id))
		s.succeed(op)
		return
	}
	shard.Add(&s.c.stats.Rejected)
	fields := []zap.Field{
		zap.Uint64("shard", s.id),
		zap.Stringer("op", op.kind),
		zap.Stringer("status", v.status),
		zap.Uint64("seqno", op.proposed.Seqno),
		zap.Stringer("proposed_home", op.proposed.CurrentHomeNode),
	}
	if v.benign {
		s.c.admitLog.Debug("write rejected", fields...)
	} else {
		s.c.admitLog.Info("write rejected", fields...)
	}
	s.fail(op, v.status)
}

func (s *shardState) apply(op *operation, kind shard.Kind, next *meta.ShardMeta) {
	s.meta = next
	s.state = shard.StateNormal
	s.fromReput = kind == shard.KindReput
	s.scheduleLeaseTimeout(op.leaseExpires, op.leaseKnown)
	s.log.Debug("metadata committed",
		zap.Stringer("op", kind),
		zap.Uint64("seqno", next.Seqno),
		zap.Uint64("ltime", next.Ltime),
		zap.Stringer("home", next.CurrentHomeNode))
	s.succeed(op)
	s.c.notify(s)
}

func (s *shardState) remove(op *operation) {
	if s.meta.Type.Storage() != meta.StorageSupernode {
		s.deleted(op)
		return
	}
	s.inFlight = true
	s.c.flash.Delete(s.metaShardID, storage.MetaKey(s.id), func(err error) {
		s.inFlight = false
		if s.abortIfShutdown() {
			return
		}
		if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
			s.log.Warn("metadata delete failed", zap.Error(err))
			s.fail(op, meta.StatusOf(err))
			s.kick()
			return
		}
		s.deleted(op)
	})
}

// deleted retires this state. Operations queued behind the delete are
// handed to a fresh state, which starts again from flash.
func (s *shardState) deleted(op *operation) {
	s.state = shard.StateDeleted
	s.c.detach(s)
	s.cancelTimers()
	s.meta = nil
	s.leaseExists = false
	s.finish(op, Result{Status: meta.StatusSuccess})
	s.c.notifyDeleted(s.id)

	rest := s.blocked
	s.blocked = nil
	for _, next := range rest {
		s.c.local(next)
		s.release()
	}
	s.release()
}

// shutdown fails every queued operation except one waiting on flash, which
// fails when its flash request returns.
func (s *shardState) shutdown() {
	s.state = shard.StateToShutdown
	s.cancelTimers()

	queued := s.blocked
	s.blocked = nil
	if s.inFlight && len(queued) > 0 {
		s.blocked = queued[:1]
		queued = queued[1:]
	}
	for _, op := range queued {
		op.complete(Result{Status: meta.StatusShutdown})
		s.release()
	}
	s.c.detach(s)
	s.release()
}

// abortIfShutdown fails the operation that was waiting on flash when a
// shutdown happened meanwhile.
func (s *shardState) abortIfShutdown() bool {
	if s.state != shard.StateToShutdown {
		return false
	}
	for _, op := range s.blocked {
		op.complete(Result{Status: meta.StatusShutdown})
		s.release()
	}
	s.blocked = nil
	return true
}

func (s *shardState) release() {
	s.refs--
	if s.refs > 0 {
		return
	}
	if !s.state.Terminal() {
		s.log.Error("shard state released while live", zap.Stringer("state", s.state))
		return
	}
	s.log.Debug("shard state destroyed", zap.Stringer("state", s.state))
	s.c.release()
}
