package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/coordinator"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/storage"
)

type registryResponse struct {
	NumShards   int                           `json:"num_shards"`
	Assignments []coordinator.ShardAssignment `json:"assignments"`
	Nodes       map[meta.NodeID][]uint64      `json:"nodes"`
}

func (n *node) handleRegistry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, n.registryState())
}

// registryState reports the placement of every bucket, also grouped by node.
func (n *node) registryState() registryResponse {
	res := registryResponse{
		Assignments: []coordinator.ShardAssignment{},
		Nodes:       map[meta.NodeID][]uint64{},
	}
	if n.registry != nil {
		res.NumShards = n.registry.NumShards()
		res.Assignments = n.registry.GetAllAssignments()
		for _, a := range res.Assignments {
			if _, ok := res.Nodes[a.NodeID]; !ok {
				res.Nodes[a.NodeID] = n.registry.GetNodeShards(a.NodeID)
			}
		}
	}
	return res
}

type assignRequest struct {
	NodeID meta.NodeID `json:"node_id"`
}

// handleBucket moves one registry bucket.
// PUT /registry/{bucket} with {"node_id": N} assigns it, DELETE unassigns it.
func (n *node) handleBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/registry/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid bucket", http.StatusBadRequest)
		return
	}
	if n.registry == nil {
		http.Error(w, "no meta nodes configured", http.StatusConflict)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req assignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.NodeID != n.cfg.NodeID && !n.knownPeer(req.NodeID) {
			http.Error(w, "unknown node", http.StatusBadRequest)
			return
		}
		err = n.registry.AssignShard(bucket, req.NodeID)
	case http.MethodDelete:
		err = n.registry.RemoveShard(bucket)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.logger.Info("registry bucket changed",
		zap.Uint64("bucket", bucket),
		zap.String("method", r.Method))
	writeJSON(w, http.StatusOK, n.registryState())
}

func (n *node) knownPeer(id meta.NodeID) bool {
	for _, p := range n.peers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

type peerStatus struct {
	cluster.NodeInfo
	Healthy bool                    `json:"healthy"`
	Health  *coordinator.NodeHealth `json:"health,omitempty"`
}

// handlePeers lists peers with their health on GET and adds or moves one on
// POST. A new peer is picked up by the next health round.
func (n *node) handlePeers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var p cluster.NodeInfo
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if p.ID == n.cfg.NodeID || p.ID == meta.NodeNone || p.Addr == "" {
			http.Error(w, "peer needs an id other than this node's and an addr", http.StatusBadRequest)
			return
		}
		n.transport.SetPeer(p)
		n.logger.Info("peer added", zap.Stringer("peer", p.ID), zap.String("addr", p.Addr))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	peers := n.peers()
	out := make([]peerStatus, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerStatus{
			NodeInfo: p,
			Healthy:  n.health.IsHealthy(p.ID),
			Health:   n.health.GetNodeHealth(p.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type containerResponse struct {
	Container uint64   `json:"container"`
	Keys      []string `json:"keys"`
}

// handleContainer lists the keys of one metadata container.
func (n *node) handleContainer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/store/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid container", http.StatusBadRequest)
		return
	}
	keys, err := n.store.List(id)
	if errors.Is(err, storage.ErrShardNotFound) {
		http.Error(w, "no such container", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, containerResponse{Container: id, Keys: keys})
}
