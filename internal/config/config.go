// Package config loads a metadata node's configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/meta"
)

// Peer is another node this node exchanges metadata with.
type Peer struct {
	ID   meta.NodeID `yaml:"id"`
	Addr string      `yaml:"addr"`
}

// Testing holds switches that exist to exercise the message paths.
type Testing struct {
	// AlwaysRemote forwards even locally-owned requests through the transport.
	AlwaysRemote bool `yaml:"always_remote"`
	// MessageOnlyNotify skips applying updates locally and notifies self by message.
	MessageOnlyNotify bool `yaml:"message_only_notify"`
	// ForceSelfMessage sends CHANGED to this node in addition to local delivery.
	ForceSelfMessage bool `yaml:"force_self_message"`
}

// Config is the complete node configuration.
type Config struct {
	NodeID    meta.NodeID `yaml:"node_id"`
	Listen    string      `yaml:"listen"`
	Advertise string      `yaml:"advertise"`
	Peers     []Peer      `yaml:"peers"`

	// MetaNodes are the supernodes that store metadata for SUPERNODE shards;
	// meta shards are spread across them round-robin.
	MetaNodes  []meta.NodeID `yaml:"meta_nodes"`
	MetaShards int           `yaml:"meta_shards"`

	BeaconInterval  time.Duration `yaml:"beacon_interval"`
	RemoteOpTimeout time.Duration `yaml:"remote_op_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	HealthFailures  int           `yaml:"health_failures"`

	RateLimit int `yaml:"rate_limit"`
	RateBurst int `yaml:"rate_burst"`

	LogLevel string `yaml:"log_level"`

	Testing Testing `yaml:"testing"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		NodeID:          0,
		Listen:          ":8081",
		Advertise:       "http://127.0.0.1:8081",
		MetaShards:      64,
		BeaconInterval:  2 * time.Second,
		RemoteOpTimeout: 5 * time.Second,
		SendTimeout:     2 * time.Second,
		HealthInterval:  5 * time.Second,
		HealthFailures:  3,
		RateLimit:       1000,
		RateBurst:       100,
		LogLevel:        "info",
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NODE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("NODE_ID: %w", err)
		}
		c.NodeID = meta.NodeID(id)
	}
	c.Listen = getenv("NODE_LISTEN", c.Listen)
	c.Advertise = getenv("NODE_ADDR", c.Advertise)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var err error
	if c.NodeID < 0 {
		err = multierr.Append(err, fmt.Errorf("node_id must be >= 0, got %d", c.NodeID))
	}
	if c.Listen == "" {
		err = multierr.Append(err, errors.New("listen must be set"))
	}
	if c.MetaShards <= 0 {
		err = multierr.Append(err, fmt.Errorf("meta_shards must be > 0, got %d", c.MetaShards))
	}
	for name, d := range map[string]time.Duration{
		"beacon_interval":   c.BeaconInterval,
		"remote_op_timeout": c.RemoteOpTimeout,
		"send_timeout":      c.SendTimeout,
		"health_interval":   c.HealthInterval,
	} {
		if d <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if c.HealthFailures <= 0 {
		err = multierr.Append(err, fmt.Errorf("health_failures must be > 0, got %d", c.HealthFailures))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		err = multierr.Append(err, errors.New("rate_limit and rate_burst must not be negative"))
	}

	seen := map[meta.NodeID]bool{c.NodeID: true}
	for _, p := range c.Peers {
		if p.Addr == "" {
			err = multierr.Append(err, fmt.Errorf("peer %d has no addr", p.ID))
		}
		if seen[p.ID] {
			err = multierr.Append(err, fmt.Errorf("duplicate node id %d in peers", p.ID))
		}
		seen[p.ID] = true
	}
	for _, id := range c.MetaNodes {
		if !seen[id] {
			err = multierr.Append(err, fmt.Errorf("meta node %d is neither this node nor a peer", id))
		}
	}
	return err
}

// Nodes returns this node and its peers as cluster addresses.
func (c *Config) Nodes() []cluster.NodeInfo {
	nodes := []cluster.NodeInfo{{ID: c.NodeID, Addr: c.Advertise}}
	for _, p := range c.Peers {
		nodes = append(nodes, cluster.NodeInfo{ID: p.ID, Addr: p.Addr})
	}
	return nodes
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
