package coordinator

import (
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/lease"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/sched"
	"github.com/dreamware/shardmeta/internal/shard"
)

// scheduleLeaseTimeout re-arms the timers for the cached metadata. A shard
// without a lease gets the beacon instead. When known is set, expires is the
// expiry carried by a peer and is used as-is, even if already past.
func (s *shardState) scheduleLeaseTimeout(expires time.Time, known bool) {
	s.cancelTimers()
	m := s.meta
	if !m.LeaseExists() || (m.LeaseUsecs == 0 && !m.LeaseLiveness) {
		s.leaseExists = false
		s.leaseExpires = time.Time{}
		s.armBeacon()
		return
	}

	if !known {
		expires = s.c.clock.Expiry(m.LeaseUsecs, m.LeaseLiveness)
	}
	s.leaseExists = true
	s.leaseExpires = expires
	if expires.Equal(lease.Forever) {
		// Liveness leases end only through NodeDead.
		return
	}
	s.armLease(s.c.clock.Remaining(expires))
}

func (s *shardState) armLease(d time.Duration) {
	s.refs++
	var t sched.Timer
	t = s.c.exec.AfterFunc(d, func() { s.leaseFired(t) })
	s.leaseTimer = t
}

func (s *shardState) leaseFired(t sched.Timer) {
	defer s.release()
	if t != s.leaseTimer || s.state != shard.StateNormal {
		return
	}
	s.leaseTimer = nil

	// The clock may have been stepped since arming.
	if rem := s.c.clock.Remaining(s.leaseExpires); rem > 0 {
		s.c.leaseLog.Debug("lease timer fired early, re-arming",
			zap.Uint64("shard", s.id), zap.Duration("remaining", rem))
		s.armLease(rem)
		return
	}
	s.setLeaseNone("lease expired")
}

func (s *shardState) armBeacon() {
	if s.c.beaconInterval <= 0 || s.meta == nil {
		return
	}
	s.refs++
	var t sched.Timer
	t = s.c.exec.AfterFunc(s.c.beaconInterval, func() { s.beaconFired(t) })
	s.beaconTimer = t
}

func (s *shardState) beaconFired(t sched.Timer) {
	defer s.release()
	if t != s.beaconTimer || s.state != shard.StateNormal {
		return
	}
	s.beaconTimer = nil
	s.c.announce(s)
	s.armBeacon()
}

func (s *shardState) cancelTimers() {
	s.stopTimer(s.leaseTimer)
	s.stopTimer(s.beaconTimer)
	s.leaseTimer, s.beaconTimer = nil, nil
}

// stopTimer cancels t. A timer stopped before firing releases its reference
// from a separate executor turn; one already submitted releases it itself.
func (s *shardState) stopTimer(t sched.Timer) {
	if t != nil && t.Stop() {
		s.c.exec.Submit(s.release)
	}
}

// setLeaseNone writes a copy of the cached metadata with no home node
// through the ordinary PUT path, so every copy converges on "no owner".
func (s *shardState) setLeaseNone(reason string) {
	cur := s.meta
	if cur == nil || !cur.LeaseExists() {
		return
	}
	s.leaseExists = false
	s.stopTimer(s.leaseTimer)
	s.leaseTimer = nil

	next := cur.Clone()
	next.LastHomeNode = cur.CurrentHomeNode
	next.CurrentHomeNode = meta.NodeNone
	next.LeaseUsecs = 0
	next.LeaseLiveness = false
	next.Ltime++
	next.Seqno++
	next.WriteNode = s.c.self

	shard.Add(&s.c.stats.LeaseExpirations)
	log := s.c.leaseLog.With(
		zap.Uint64("shard", s.id),
		zap.Stringer("home", cur.CurrentHomeNode),
		zap.String("reason", reason))
	log.Info("clearing lease", zap.Uint64("seqno", next.Seqno), zap.Uint64("ltime", next.Ltime))

	op := newOperation(shard.KindPut, s.id, next, func(res Result) {
		if !res.Status.OK() {
			log.Info("lease clear not applied", zap.Stringer("status", res.Status))
		}
	})
	s.c.dispatch(op)
}
