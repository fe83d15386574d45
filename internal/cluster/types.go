package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/shardmeta/internal/meta"
)

type NodeInfo struct {
	ID   meta.NodeID `json:"id"`
	Addr string      `json:"addr"`
}

// MsgType names a shard-metadata wire message.
type MsgType string

const (
	MsgCreate  MsgType = "create"
	MsgGet     MsgType = "get"
	MsgPut     MsgType = "put"
	MsgDelete  MsgType = "delete"
	MsgReturn  MsgType = "return"
	MsgChanged MsgType = "changed"
)

// IsRequest reports whether t expects a MsgReturn response.
func (t MsgType) IsRequest() bool {
	switch t {
	case MsgCreate, MsgGet, MsgPut, MsgDelete:
		return true
	}
	return false
}

// Valid reports whether t is a known message type.
func (t MsgType) Valid() bool {
	return t.IsRequest() || t == MsgReturn || t == MsgChanged
}

// Message is the envelope for all shard-metadata traffic between nodes.
// Meta holds a record encoded with meta.Marshal. LeaseUsecs on a return is
// the lease time remaining on the sender's clock, never an absolute time.
type Message struct {
	ID         string      `json:"id"`
	InReplyTo  string      `json:"in_reply_to,omitempty"`
	Type       MsgType     `json:"type"`
	From       meta.NodeID `json:"from"`
	To         meta.NodeID `json:"to"`
	ShardID    uint64      `json:"shard_id"`
	Status     meta.Status `json:"status"`
	Meta       []byte      `json:"meta,omitempty"`
	LeaseUsecs int64       `json:"lease_usecs,omitempty"`
}

// DecodeMeta unmarshals the carried record, or returns nil when absent.
func (m *Message) DecodeMeta() (*meta.ShardMeta, error) {
	if len(m.Meta) == 0 {
		return nil, nil
	}
	return meta.Unmarshal(m.Meta)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
