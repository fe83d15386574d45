package cluster

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardmeta/internal/meta"
)

// ReplicaDoc is the JSON form of meta.Replica.
type ReplicaDoc struct {
	Node       meta.NodeID  `json:"node"`
	Recovering bool         `json:"recovering,omitempty"`
	Ranges     []meta.Range `json:"ranges,omitempty"`
}

// ShardMetaDoc is the JSON form of a metadata record used by the HTTP API.
// Node ids of -1 mean no node.
type ShardMetaDoc struct {
	ShardID       uint64          `json:"shard_id"`
	MetaShardID   uint64          `json:"meta_shard_id"`
	Type          string          `json:"type"`
	CurrentHome   meta.NodeID     `json:"current_home"`
	LastHome      meta.NodeID     `json:"last_home"`
	WriteNode     meta.NodeID     `json:"write_node"`
	LeaseUsecs    uint64          `json:"lease_usecs"`
	LeaseLiveness bool            `json:"lease_liveness,omitempty"`
	Ltime         uint64          `json:"ltime"`
	Seqno         uint64          `json:"seqno"`
	Replicas      []ReplicaDoc    `json:"replicas,omitempty"`
	VIPRecovered  map[uint64]bool `json:"vip_recovered,omitempty"`
}

// DocFromMeta converts a record for the HTTP API.
func DocFromMeta(m *meta.ShardMeta) *ShardMetaDoc {
	if m == nil {
		return nil
	}
	d := &ShardMetaDoc{
		ShardID:       m.ShardID,
		MetaShardID:   m.MetaShardID,
		Type:          m.Type.String(),
		CurrentHome:   m.CurrentHomeNode,
		LastHome:      m.LastHomeNode,
		WriteNode:     m.WriteNode,
		LeaseUsecs:    m.LeaseUsecs,
		LeaseLiveness: m.LeaseLiveness,
		Ltime:         m.Ltime,
		Seqno:         m.Seqno,
	}
	for _, r := range m.Replicas {
		d.Replicas = append(d.Replicas, ReplicaDoc{
			Node:       r.Node,
			Recovering: r.State == meta.ReplicaRecovering,
			Ranges:     r.Ranges,
		})
	}
	if m.VIP != nil {
		d.VIPRecovered = make(map[uint64]bool, len(m.VIP.Groups))
		for id, st := range m.VIP.Groups {
			d.VIPRecovered[id] = st == meta.VIPRecovered
		}
	}
	return d
}

// ToMeta converts the document back into a validated record. Adjacent
// ranges of the same type are merged first.
func (d *ShardMetaDoc) ToMeta() (*meta.ShardMeta, error) {
	typ, err := meta.ParseReplicationType(d.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", meta.StatusMetaDataInvalid, err)
	}
	m := &meta.ShardMeta{
		ShardID:         d.ShardID,
		MetaShardID:     d.MetaShardID,
		Type:            typ,
		CurrentHomeNode: d.CurrentHome,
		LastHomeNode:    d.LastHome,
		WriteNode:       d.WriteNode,
		LeaseUsecs:      d.LeaseUsecs,
		LeaseLiveness:   d.LeaseLiveness,
		Ltime:           d.Ltime,
		Seqno:           d.Seqno,
	}
	for _, r := range d.Replicas {
		st := meta.ReplicaAuthoritative
		if r.Recovering {
			st = meta.ReplicaRecovering
		}
		rep := meta.Replica{Node: r.Node, State: st, Ranges: slices.Clone(r.Ranges)}
		rep.Canonicalize()
		m.Replicas = append(m.Replicas, rep)
	}
	if d.VIPRecovered != nil {
		m.VIP = &meta.VIPMeta{Groups: make(map[uint64]meta.VIPGroupState, len(d.VIPRecovered))}
		for id, ok := range d.VIPRecovered {
			st := meta.VIPUnrecovered
			if ok {
				st = meta.VIPRecovered
			}
			m.VIP.Groups[id] = st
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ShardResponse is the body returned by the /shards endpoints.
type ShardResponse struct {
	Status       string        `json:"status"`
	Meta         *ShardMetaDoc `json:"meta,omitempty"`
	LeaseExpires *time.Time    `json:"lease_expires,omitempty"`
}

// HTTPStatus maps a metadata status onto the HTTP status code the API
// answers with.
func HTTPStatus(s meta.Status) int {
	switch s {
	case meta.StatusSuccess:
		return http.StatusOK
	case meta.StatusNotFound, meta.StatusShardDoesNotExist:
		return http.StatusNotFound
	case meta.StatusLeaseExists, meta.StatusBadMetaSeqno, meta.StatusBadLtime,
		meta.StatusContainerExists, meta.StatusUpdateDuplicate:
		return http.StatusConflict
	case meta.StatusMetaDataInvalid, meta.StatusVersionTooNew:
		return http.StatusBadRequest
	case meta.StatusTimeout:
		return http.StatusGatewayTimeout
	case meta.StatusNodeDead, meta.StatusShutdown:
		return http.StatusServiceUnavailable
	case meta.StatusUnsupported:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
