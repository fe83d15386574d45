package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/sched"
	"github.com/dreamware/shardmeta/internal/storage"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type change struct {
	shardID uint64
	meta    *meta.ShardMeta
	expires time.Time
}

type testNode struct {
	id      meta.NodeID
	c       *Coordinator
	store   *storage.MemoryStore
	changes []change
}

// testCluster runs several coordinators on one virtual-clock executor,
// connected by an in-process network.
type testCluster struct {
	t     *testing.T
	exec  *sched.Manual
	net   *cluster.LocalNetwork
	nodes map[meta.NodeID]*testNode
	logs  *observer.ObservedLogs
}

func newTestCluster(t *testing.T, ids []meta.NodeID, tweak func(*Config)) *testCluster {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	tc := &testCluster{
		t:     t,
		exec:  sched.NewManual(epoch),
		net:   cluster.NewLocalNetwork(),
		nodes: make(map[meta.NodeID]*testNode),
		logs:  logs,
	}

	for _, id := range ids {
		store := storage.NewMemoryStore()
		cfg := Config{
			NodeID:          id,
			Executor:        tc.exec,
			Flash:           storage.NewAsyncFlash(store, tc.exec),
			Transport:       tc.net,
			Logger:          zap.New(core),
			RemoteOpTimeout: 2 * time.Second,
		}
		if tweak != nil {
			tweak(&cfg)
		}
		c, err := New(cfg)
		require.NoError(t, err)

		n := &testNode{id: id, c: c, store: store}
		c.AddListener(func(shardID uint64, m *meta.ShardMeta, expires time.Time) {
			n.changes = append(n.changes, change{shardID: shardID, meta: m, expires: expires})
		})
		tc.net.Attach(id, c.ReceiveMsg)
		tc.nodes[id] = n
	}
	for _, a := range ids {
		for _, b := range ids {
			if a != b {
				tc.nodes[a].c.NodeLive(b)
			}
		}
	}
	tc.exec.Run()
	return tc
}

func (tc *testCluster) node(id meta.NodeID) *testNode {
	n, ok := tc.nodes[id]
	require.True(tc.t, ok, "no node %d", id)
	return n
}

// do starts one operation, runs the executor until idle and returns the
// operation's result.
func (tc *testCluster) do(start func(Callback)) Result {
	tc.t.Helper()
	var got *Result
	start(func(r Result) {
		require.Nil(tc.t, got, "callback called twice")
		got = &r
	})
	tc.exec.Run()
	require.NotNil(tc.t, got, "operation did not complete")
	return *got
}

func (tc *testCluster) create(id meta.NodeID, m *meta.ShardMeta) Result {
	tc.t.Helper()
	return tc.do(func(cb Callback) { tc.node(id).c.CreateShardMeta(m, cb) })
}

func (tc *testCluster) put(id meta.NodeID, m *meta.ShardMeta) Result {
	tc.t.Helper()
	return tc.do(func(cb Callback) { tc.node(id).c.PutShardMeta(m, cb) })
}

func (tc *testCluster) get(id meta.NodeID, shardID uint64, hint meta.RoutingHint) Result {
	tc.t.Helper()
	return tc.do(func(cb Callback) { tc.node(id).c.GetShardMeta(shardID, hint, cb) })
}

func (tc *testCluster) del(id meta.NodeID, m *meta.ShardMeta) Result {
	tc.t.Helper()
	return tc.do(func(cb Callback) { tc.node(id).c.DeleteShardMeta(m, cb) })
}

// shardMeta returns metadata homed on home with the given lease and counters.
func shardMeta(id uint64, typ meta.ReplicationType, home meta.NodeID, leaseUsecs, seqno, ltime uint64) *meta.ShardMeta {
	m := meta.New(id, typ)
	m.CurrentHomeNode = home
	m.WriteNode = home
	m.LeaseUsecs = leaseUsecs
	m.Seqno = seqno
	m.Ltime = ltime
	return m
}
