package coordinator

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/lease"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/sched"
	"github.com/dreamware/shardmeta/internal/shard"
	"github.com/dreamware/shardmeta/internal/storage"
)

// ConsensusBackend serves shards whose storage scheme is PAXOS. It must
// call done exactly once, from any goroutine.
type ConsensusBackend interface {
	Propose(kind shard.Kind, shardID uint64, proposed *meta.ShardMeta, done func(meta.Status, *meta.ShardMeta))
}

// Config wires a Coordinator to its collaborators.
type Config struct {
	NodeID    meta.NodeID
	Executor  sched.Executor
	Flash     storage.Flash
	Transport cluster.Transport
	// Registry locates the metadata node of SUPERNODE shards. Without one,
	// every SUPERNODE shard is stored locally.
	Registry *ShardRegistry
	// Consensus serves PAXOS shards. Without one they fail with UNSUPPORTED.
	Consensus ConsensusBackend
	Logger    *zap.Logger

	BeaconInterval  time.Duration
	RemoteOpTimeout time.Duration

	AlwaysRemote      bool
	MessageOnlyNotify bool
	ForceSelfMessage  bool
}

// Coordinator owns the shard-metadata table of one node. All of its state
// is confined to the executor; public methods only submit work to it.
type Coordinator struct {
	self      meta.NodeID
	exec      sched.Executor
	flash     storage.Flash
	transport cluster.Transport
	registry  *ShardRegistry
	consensus ConsensusBackend
	clock     *lease.LeaseClock

	beaconInterval    time.Duration
	remoteOpTimeout   time.Duration
	alwaysRemote      bool
	messageOnlyNotify bool
	forceSelfMessage  bool

	log      *zap.Logger
	leaseLog *zap.Logger
	admitLog *zap.Logger
	msgLog   *zap.Logger

	shards    map[uint64]*shardState
	remote    map[string]*remoteOp
	live      []meta.NodeID
	listeners []Listener

	// pending counts the coordinator itself, every shard state and every
	// outstanding remote operation. Shutdown completes when it reaches zero.
	pending      int
	shuttingDown bool
	onShutdown   func()

	stats        shard.Stats
	shardCount   atomic.Int64
	remoteCount  atomic.Int64
	liveCount    atomic.Int64
	shutdownFlag atomic.Bool
}

// New returns a coordinator. It performs no I/O until operations arrive.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Executor == nil {
		return nil, errors.New("coordinator: executor is required")
	}
	if cfg.Flash == nil {
		return nil, errors.New("coordinator: flash is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("coordinator: transport is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RemoteOpTimeout <= 0 {
		cfg.RemoteOpTimeout = 5 * time.Second
	}
	logger = logger.With(zap.Stringer("node", cfg.NodeID))

	return &Coordinator{
		self:              cfg.NodeID,
		exec:              cfg.Executor,
		flash:             cfg.Flash,
		transport:         cfg.Transport,
		registry:          cfg.Registry,
		consensus:         cfg.Consensus,
		clock:             lease.NewLeaseClock(cfg.Executor),
		beaconInterval:    cfg.BeaconInterval,
		remoteOpTimeout:   cfg.RemoteOpTimeout,
		alwaysRemote:      cfg.AlwaysRemote,
		messageOnlyNotify: cfg.MessageOnlyNotify,
		forceSelfMessage:  cfg.ForceSelfMessage,
		log:               logger,
		leaseLog:          logger.Named("lease"),
		admitLog:          logger.Named("admit"),
		msgLog:            logger.Named("msg"),
		shards:            make(map[uint64]*shardState),
		remote:            make(map[string]*remoteOp),
		pending:           1,
	}, nil
}

// NodeID returns this node's id.
func (c *Coordinator) NodeID() meta.NodeID { return c.self }

// CreateShardMeta creates metadata for m.ShardID.
func (c *Coordinator) CreateShardMeta(m *meta.ShardMeta, cb Callback) {
	c.submitWrite(shard.KindCreate, m, cb)
}

// PutShardMeta replaces the metadata of m.ShardID, subject to admission.
func (c *Coordinator) PutShardMeta(m *meta.ShardMeta, cb Callback) {
	c.submitWrite(shard.KindPut, m, cb)
}

// DeleteShardMeta removes the metadata of m.ShardID.
func (c *Coordinator) DeleteShardMeta(m *meta.ShardMeta, cb Callback) {
	c.submitWrite(shard.KindDelete, m, cb)
}

// GetShardMeta reads the metadata of shardID. hint locates the metadata node
// when this node holds no copy.
func (c *Coordinator) GetShardMeta(shardID uint64, hint meta.RoutingHint, cb Callback) {
	op := newOperation(shard.KindGet, shardID, nil, cb)
	op.hint = hint
	c.exec.Submit(func() { c.dispatch(op) })
}

func (c *Coordinator) submitWrite(kind shard.Kind, m *meta.ShardMeta, cb Callback) {
	if m == nil {
		c.exec.Submit(func() { cb(Result{Status: meta.StatusMetaDataInvalid}) })
		return
	}
	m = m.Clone()
	if err := m.Validate(); err != nil {
		c.log.Info("rejecting invalid metadata", zap.Uint64("shard", m.ShardID), zap.Error(err))
		c.exec.Submit(func() { cb(Result{Status: meta.StatusOf(err)}) })
		return
	}
	op := newOperation(kind, m.ShardID, m, cb)
	c.exec.Submit(func() { c.dispatch(op) })
}

// AddListener registers l for committed changes.
func (c *Coordinator) AddListener(l Listener) {
	c.exec.Submit(func() { c.listeners = append(c.listeners, l) })
}

// NodeLive records that node is reachable and should receive notifications.
func (c *Coordinator) NodeLive(node meta.NodeID) {
	c.exec.Submit(func() {
		if node == c.self || slices.Contains(c.live, node) {
			return
		}
		c.live = append(c.live, node)
		slices.Sort(c.live)
		c.liveCount.Store(int64(len(c.live)))
		c.log.Info("node live", zap.Stringer("peer", node))
	})
}

// NodeDead records that node is gone. Leases it holds are cleared and
// operations waiting on it fail with NODE_DEAD.
func (c *Coordinator) NodeDead(node meta.NodeID) {
	c.exec.Submit(func() { c.nodeDead(node) })
}

func (c *Coordinator) nodeDead(node meta.NodeID) {
	if i := slices.Index(c.live, node); i >= 0 {
		c.live = slices.Delete(c.live, i, i+1)
		c.liveCount.Store(int64(len(c.live)))
	}
	c.log.Info("node dead", zap.Stringer("peer", node))

	for _, id := range c.remoteIDs() {
		if ro := c.remote[id]; ro.to == node {
			c.resolveRemote(id, Result{Status: meta.StatusNodeDead})
		}
	}
	for _, id := range c.shardIDs() {
		s := c.shards[id]
		if s.state == shard.StateNormal && s.leaseExists && s.meta.CurrentHomeNode == node {
			s.setLeaseNone("home node dead")
		}
	}
}

// ReceiveMsg feeds an inbound wire message to the coordinator.
func (c *Coordinator) ReceiveMsg(msg *cluster.Message) {
	c.exec.Submit(func() { c.receive(msg) })
}

// Shutdown fails all pending work with SHUTDOWN and calls done once every
// shard and remote operation has unwound. done runs on the executor.
func (c *Coordinator) Shutdown(done func()) {
	c.exec.Submit(func() {
		if c.shuttingDown {
			return
		}
		c.shuttingDown = true
		c.shutdownFlag.Store(true)
		c.onShutdown = done
		c.log.Info("shutting down",
			zap.Int("shards", len(c.shards)),
			zap.Int("remote_ops", len(c.remote)))

		for _, id := range c.remoteIDs() {
			c.resolveRemote(id, Result{Status: meta.StatusShutdown})
		}
		for _, id := range c.shardIDs() {
			c.shards[id].shutdown()
		}
		c.release()
	})
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	NodeID       meta.NodeID `json:"node_id"`
	Shards       int64       `json:"shards"`
	RemoteOps    int64       `json:"remote_ops"`
	LiveNodes    int64       `json:"live_nodes"`
	ShuttingDown bool        `json:"shutting_down"`
	Ops          shard.Stats `json:"ops"`
}

// Stats may be called from any goroutine.
func (c *Coordinator) Stats() Stats {
	return Stats{
		NodeID:       c.self,
		Shards:       c.shardCount.Load(),
		RemoteOps:    c.remoteCount.Load(),
		LiveNodes:    c.liveCount.Load(),
		ShuttingDown: c.shutdownFlag.Load(),
		Ops:          c.stats.Snapshot(),
	}
}

// dispatch routes op to the local shard table, a remote metadata node or
// the consensus backend.
func (c *Coordinator) dispatch(op *operation) {
	if op.start.IsZero() {
		op.start = c.exec.Now()
	}
	if c.shuttingDown {
		op.complete(Result{Status: meta.StatusShutdown})
		return
	}
	c.stats.Record(op.kind)

	if op.inbound {
		c.local(op)
		return
	}
	if op.hint.Type.Storage() == meta.StoragePaxos && op.target == meta.NodeNone {
		c.propose(op)
		return
	}
	node, err := c.route(op)
	if err != nil {
		c.log.Info("no metadata node for shard",
			zap.Uint64("shard", op.shardID),
			zap.Uint64("meta_shard", op.metaShardID()),
			zap.Error(err))
		op.complete(Result{Status: meta.StatusNodeDead})
		return
	}
	if node == c.self && (!c.alwaysRemote || op.kind == shard.KindReput) {
		c.local(op)
		return
	}
	c.sendRequest(node, op)
}

func (c *Coordinator) route(op *operation) (meta.NodeID, error) {
	if op.target != meta.NodeNone {
		return op.target, nil
	}
	if op.hint.Type.Storage() != meta.StorageSupernode || c.registry == nil {
		return c.self, nil
	}
	return c.registry.NodeFor(op.metaShardID())
}

func (c *Coordinator) local(op *operation) {
	s := c.shards[op.shardID]
	if s == nil {
		s = newShardState(c, op.shardID, op.metaShardID())
		c.shards[op.shardID] = s
		c.pending++
		c.shardCount.Store(int64(len(c.shards)))
	}
	s.enqueue(op)
}

func (c *Coordinator) propose(op *operation) {
	if c.consensus == nil {
		op.complete(Result{Status: meta.StatusUnsupported})
		return
	}
	c.pending++
	c.consensus.Propose(op.kind, op.shardID, op.proposed, func(st meta.Status, m *meta.ShardMeta) {
		c.exec.Submit(func() {
			op.complete(Result{Status: st, Meta: m})
			c.release()
		})
	})
}

// detach removes s from the table if it is still the live state for its shard.
func (c *Coordinator) detach(s *shardState) {
	if c.shards[s.id] == s {
		delete(c.shards, s.id)
		c.shardCount.Store(int64(len(c.shards)))
	}
}

// release drops one pending unit and completes shutdown at zero.
func (c *Coordinator) release() {
	c.pending--
	if c.pending > 0 || !c.shuttingDown || c.onShutdown == nil {
		return
	}
	done := c.onShutdown
	c.onShutdown = nil
	c.log.Info("shutdown complete")
	done()
}

func (c *Coordinator) shardIDs() []uint64 {
	ids := make([]uint64, 0, len(c.shards))
	for id := range c.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Coordinator) remoteIDs() []string {
	ids := make([]string, 0, len(c.remote))
	for id := range c.remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
