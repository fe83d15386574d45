package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/config"
	"github.com/dreamware/shardmeta/internal/coordinator"
	"github.com/dreamware/shardmeta/internal/meta"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NodeID = 1
	cfg.HealthInterval = time.Hour
	return cfg
}

// startNode serves a fresh node on an httptest server.
func startNode(t *testing.T, cfg config.Config) (*node, *httptest.Server) {
	t.Helper()
	n, err := newNode(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(n.routes())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = n.close(ctx)
	})
	return n, srv
}

func doJSON(t *testing.T, method, url string, body any) (int, cluster.ShardResponse) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out cluster.ShardResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func supernodeDoc(id uint64, seqno, ltime uint64, home meta.NodeID) *cluster.ShardMetaDoc {
	m := meta.New(id, meta.ReplicationSupernode)
	m.CurrentHomeNode = home
	m.WriteNode = home
	m.LeaseUsecs = 30_000_000
	m.Seqno = seqno
	m.Ltime = ltime
	return cluster.DocFromMeta(m)
}

func TestShardLifecycle(t *testing.T) {
	_, srv := startNode(t, testConfig())
	url := srv.URL + "/shards/7"

	code, res := doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SHARD_DOES_NOT_EXIST", res.Status)

	code, res = doJSON(t, http.MethodPost, url, supernodeDoc(7, 1, 1, 1))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SUCCESS", res.Status)
	require.NotNil(t, res.LeaseExpires)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), *res.LeaseExpires, 5*time.Second)

	code, res = doJSON(t, http.MethodPost, url, supernodeDoc(7, 1, 1, 1))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONTAINER_EXISTS", res.Status)

	code, res = doJSON(t, http.MethodGet, url+"?type=supernode&meta_shard=7", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, res.Meta)
	assert.Equal(t, meta.NodeID(1), res.Meta.CurrentHome)
	assert.Equal(t, uint64(1), res.Meta.Seqno)

	code, res = doJSON(t, http.MethodPut, url, supernodeDoc(7, 5, 1, 1))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "BAD_META_SEQNO", res.Status)
	require.NotNil(t, res.Meta, "rejections carry the current record")
	assert.Equal(t, uint64(1), res.Meta.Seqno)

	code, _ = doJSON(t, http.MethodPut, url, supernodeDoc(7, 2, 1, 1))
	assert.Equal(t, http.StatusOK, code)

	code, res = doJSON(t, http.MethodDelete, url, supernodeDoc(7, 2, 1, 1))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SUCCESS", res.Status)

	code, res = doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", res.Status)
}

func TestShardRequestErrors(t *testing.T) {
	_, srv := startNode(t, testConfig())

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		expected int
	}{
		{name: "bad shard id", method: http.MethodGet, path: "/shards/abc", expected: http.StatusBadRequest},
		{name: "bad type hint", method: http.MethodGet, path: "/shards/1?type=raft", expected: http.StatusBadRequest},
		{name: "bad meta shard hint", method: http.MethodGet, path: "/shards/1?meta_shard=x", expected: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPut, path: "/shards/1", body: "{", expected: http.StatusBadRequest},
		{name: "id mismatch", method: http.MethodPut, path: "/shards/1", body: `{"shard_id":2,"type":"supernode"}`, expected: http.StatusBadRequest},
		{name: "invalid record", method: http.MethodPost, path: "/shards/1", body: `{"shard_id":1,"type":"raft"}`, expected: http.StatusBadRequest},
		{name: "unsupported method", method: http.MethodPatch, path: "/shards/1", body: "{}", expected: http.StatusMethodNotAllowed},
		{name: "paxos without backend", method: http.MethodGet, path: "/shards/1?type=paxos", expected: http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}

func TestInfoAndRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.Peers = []config.Peer{{ID: 2, Addr: "http://127.0.0.1:1"}}
	cfg.MetaNodes = []meta.NodeID{1, 2}
	cfg.MetaShards = 4
	_, srv := startNode(t, cfg)

	var info infoResponse
	require.NoError(t, cluster.GetJSON(context.Background(), srv.URL+"/info", &info))
	assert.Equal(t, meta.NodeID(1), info.Coordinator.NodeID)
	assert.False(t, info.Coordinator.ShuttingDown)

	var reg registryResponse
	require.NoError(t, cluster.GetJSON(context.Background(), srv.URL+"/registry", &reg))
	assert.Equal(t, 4, reg.NumShards)
	require.Len(t, reg.Assignments, 4)
	assert.Equal(t, meta.NodeID(1), reg.Assignments[0].NodeID)
	assert.Equal(t, meta.NodeID(2), reg.Assignments[1].NodeID)
	assert.Equal(t, map[meta.NodeID][]uint64{1: {0, 2}, 2: {1, 3}}, reg.Nodes)
}

func TestRegistryBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.Peers = []config.Peer{{ID: 2, Addr: "http://127.0.0.1:1"}}
	cfg.MetaNodes = []meta.NodeID{1}
	cfg.MetaShards = 2
	n, srv := startNode(t, cfg)

	send := func(method, path string, body any) (int, registryResponse) {
		t.Helper()
		var rd *bytes.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(raw)
		} else {
			rd = bytes.NewReader(nil)
		}
		req, err := http.NewRequest(method, srv.URL+path, rd)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var reg registryResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
		}
		return resp.StatusCode, reg
	}

	code, reg := send(http.MethodPut, "/registry/1", assignRequest{NodeID: 2})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[meta.NodeID][]uint64{1: {0}, 2: {1}}, reg.Nodes)
	node, err := n.registry.NodeFor(3)
	require.NoError(t, err)
	assert.Equal(t, meta.NodeID(2), node)

	code, reg = send(http.MethodDelete, "/registry/0", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []coordinator.ShardAssignment{{MetaShard: 1, NodeID: 2}}, reg.Assignments)

	code, res := doJSON(t, http.MethodPost, srv.URL+"/shards/4", supernodeDoc(4, 1, 1, 1))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NODE_DEAD", res.Status)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{name: "bucket out of range", method: http.MethodPut, path: "/registry/9", body: assignRequest{NodeID: 1}, code: http.StatusBadRequest},
		{name: "unknown node", method: http.MethodPut, path: "/registry/0", body: assignRequest{NodeID: 7}, code: http.StatusBadRequest},
		{name: "bad bucket", method: http.MethodDelete, path: "/registry/x", code: http.StatusBadRequest},
		{name: "bad method", method: http.MethodPost, path: "/registry/0", body: assignRequest{NodeID: 1}, code: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := send(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRegistryBucketsWithoutMetaNodes(t *testing.T) {
	_, srv := startNode(t, testConfig())
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/registry/0", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Advertise = "http://127.0.0.1:8081"
	cfg.Peers = []config.Peer{{ID: 3, Addr: "http://127.0.0.1:3"}}
	n, srv := startNode(t, cfg)

	raw, err := json.Marshal(cluster.NodeInfo{ID: 2, Addr: "http://127.0.0.1:2"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/peers", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	var peers []peerStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&peers))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, peers, 2, "this node is not its own peer")
	assert.Equal(t, meta.NodeID(2), peers[0].ID)
	assert.Equal(t, meta.NodeID(3), peers[1].ID)
	assert.Nil(t, peers[0].Health, "not checked yet")
	assert.False(t, peers[0].Healthy)
	assert.Equal(t, n.peers(), []cluster.NodeInfo{peers[0].NodeInfo, peers[1].NodeInfo})

	self, err := json.Marshal(cluster.NodeInfo{ID: 1, Addr: "http://elsewhere"})
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/peers", "application/json", bytes.NewReader(self))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContainerKeys(t *testing.T) {
	_, srv := startNode(t, testConfig())

	resp, err := http.Get(srv.URL + "/store/7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/shards/7", supernodeDoc(7, 1, 1, 1))
	require.Equal(t, http.StatusOK, code)

	var out containerResponse
	require.NoError(t, cluster.GetJSON(context.Background(), srv.URL+"/store/7", &out))
	assert.Equal(t, containerResponse{Container: 7, Keys: []string{"shard_meta/7"}}, out)
}

func TestHealthReportsShutdown(t *testing.T) {
	n, srv := startNode(t, testConfig())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.coord.Stop(ctx))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestPeersExchangeOverHTTP runs two nodes against each other: node 1 stores
// SUPERNODE metadata for both, and node 2 reaches it through /msg.
func TestPeersExchangeOverHTTP(t *testing.T) {
	l1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr1, addr2 := "http://"+l1.Addr().String(), "http://"+l2.Addr().String()

	cfg1 := testConfig()
	cfg1.Advertise = addr1
	cfg1.Peers = []config.Peer{{ID: 2, Addr: addr2}}
	cfg1.MetaNodes = []meta.NodeID{1}

	cfg2 := cfg1
	cfg2.NodeID = 2
	cfg2.Advertise = addr2
	cfg2.Peers = []config.Peer{{ID: 1, Addr: addr1}}

	serve := func(cfg config.Config, l net.Listener) *node {
		n, err := newNode(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		srv := &httptest.Server{Listener: l, Config: &http.Server{Handler: n.routes()}}
		srv.Start()
		t.Cleanup(func() {
			srv.Close()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = n.close(ctx)
		})
		return n
	}
	n1 := serve(cfg1, l1)
	n2 := serve(cfg2, l2)
	n1.coord.NodeLive(2)
	n2.coord.NodeLive(1)

	code, res := doJSON(t, http.MethodPost, addr2+"/shards/11", supernodeDoc(11, 1, 1, 2))
	require.Equal(t, http.StatusOK, code, res.Status)

	assert.Equal(t, 1, n1.store.Stats().Keys)
	assert.Equal(t, 0, n2.store.Stats().Keys)

	code, res = doJSON(t, http.MethodGet, addr2+"/shards/11", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, meta.NodeID(2), res.Meta.CurrentHome)
	assert.GreaterOrEqual(t, n2.coord.Stats().Ops.RemoteOps, uint64(2))
}
