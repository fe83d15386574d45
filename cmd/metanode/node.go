package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/config"
	"github.com/dreamware/shardmeta/internal/coordinator"
	"github.com/dreamware/shardmeta/internal/lease"
	"github.com/dreamware/shardmeta/internal/meta"
	"github.com/dreamware/shardmeta/internal/sched"
	"github.com/dreamware/shardmeta/internal/storage"
)

// node is one running metadata node: the coordinator, the executor it runs
// on, and the transport and health monitor that connect it to its peers.
type node struct {
	cfg       config.Config
	coord     *coordinator.Coordinator
	registry  *coordinator.ShardRegistry
	store     *storage.MemoryStore
	health    *coordinator.HealthMonitor
	transport *cluster.HTTPTransport
	limiter   *rate.Limiter
	logger    *zap.Logger

	stopLoop context.CancelFunc
	stopSend context.CancelFunc
}

// newNode builds a node from cfg and starts its executor. The caller owns
// the HTTP server and must call close when done.
func newNode(cfg config.Config, logger *zap.Logger) (*node, error) {
	var registry *coordinator.ShardRegistry
	if len(cfg.MetaNodes) > 0 {
		registry = coordinator.NewShardRegistry(cfg.MetaShards)
		if err := registry.RebalanceShards(cfg.MetaNodes); err != nil {
			return nil, fmt.Errorf("meta shard placement: %w", err)
		}
	}

	loop := sched.NewLoop()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)

	sendCtx, stopSend := context.WithCancel(context.Background())
	transport := cluster.NewHTTPTransport(sendCtx, cfg.Nodes(), cfg.SendTimeout, logger)

	store := storage.NewMemoryStore()
	coord, err := coordinator.New(coordinator.Config{
		NodeID:            cfg.NodeID,
		Executor:          loop,
		Flash:             storage.NewAsyncFlash(store, loop),
		Transport:         transport,
		Registry:          registry,
		Logger:            logger,
		BeaconInterval:    cfg.BeaconInterval,
		RemoteOpTimeout:   cfg.RemoteOpTimeout,
		AlwaysRemote:      cfg.Testing.AlwaysRemote,
		MessageOnlyNotify: cfg.Testing.MessageOnlyNotify,
		ForceSelfMessage:  cfg.Testing.ForceSelfMessage,
	})
	if err != nil {
		stopSend()
		stopLoop()
		return nil, err
	}

	health := coordinator.NewHealthMonitor(cfg.HealthInterval, cfg.HealthFailures, logger)
	health.SetCallbacks(coord.NodeLive, coord.NodeDead)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	return &node{
		cfg:       cfg,
		coord:     coord,
		registry:  registry,
		store:     store,
		health:    health,
		transport: transport,
		limiter:   limiter,
		logger:    logger.Named("http"),
		stopLoop:  stopLoop,
		stopSend:  stopSend,
	}, nil
}

// peers returns the nodes the health monitor watches: every address the
// transport knows except our own, including peers added at runtime.
func (n *node) peers() []cluster.NodeInfo {
	all := n.transport.Peers()
	out := make([]cluster.NodeInfo, 0, len(all))
	for _, p := range all {
		if p.ID != n.cfg.NodeID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b cluster.NodeInfo) int { return int(a.ID) - int(b.ID) })
	return out
}

func (n *node) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", n.handleHealth)
	mux.Handle("/msg", cluster.NewMessageHandler(n.coord.ReceiveMsg, n.limiter, n.logger))
	mux.HandleFunc("/info", n.handleInfo)
	mux.HandleFunc("/registry", n.handleRegistry)
	mux.HandleFunc("/registry/", n.handleBucket)
	mux.HandleFunc("/peers", n.handlePeers)
	mux.HandleFunc("/store/", n.handleContainer)

	// Path: /shards/{shardID}
	mux.HandleFunc("/shards/", n.handleShard)
	return mux
}

// close stops accepting work, fails whatever is still queued and releases
// the executor.
func (n *node) close(ctx context.Context) error {
	n.health.Stop()
	err := n.coord.Stop(ctx)
	n.stopSend()
	n.stopLoop()
	return err
}

func (n *node) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if n.coord.Stats().ShuttingDown {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type infoResponse struct {
	Coordinator coordinator.Stats                       `json:"coordinator"`
	Store       storage.StoreStats                      `json:"store"`
	Peers       map[meta.NodeID]*coordinator.NodeHealth `json:"peers"`
}

func (n *node) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{
		Coordinator: n.coord.Stats(),
		Store:       n.store.Stats(),
		Peers:       n.health.GetAllNodeHealth(),
	})
}

// handleShard serves GET, POST (create), PUT and DELETE on /shards/{id}.
// Writes carry a ShardMetaDoc body; GET takes the routing hint from the
// type and meta_shard query parameters.
func (n *node) handleShard(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/shards/")
	shardID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid shard id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodGet {
		hint, err := parseHint(r, shardID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := n.coord.Get(r.Context(), shardID, hint)
		n.writeResult(w, res, err)
		return
	}

	var write func(context.Context, *meta.ShardMeta) (coordinator.Result, error)
	switch r.Method {
	case http.MethodPost:
		write = n.coord.Create
	case http.MethodPut:
		write = n.coord.Put
	case http.MethodDelete:
		write = n.coord.Delete
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var doc cluster.ShardMetaDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if doc.ShardID != shardID {
		http.Error(w, "shard id in body does not match path", http.StatusBadRequest)
		return
	}
	m, err := doc.ToMeta()
	if err != nil {
		n.writeResult(w, coordinator.Result{Status: meta.StatusOf(err)}, err)
		return
	}
	res, err := write(r.Context(), m)
	n.writeResult(w, res, err)
}

func parseHint(r *http.Request, shardID uint64) (meta.RoutingHint, error) {
	q := r.URL.Query()
	hint := meta.HintFor(shardID, meta.ReplicationSupernode)
	if t := q.Get("type"); t != "" {
		typ, err := meta.ParseReplicationType(t)
		if err != nil {
			return hint, err
		}
		hint.Type = typ
	}
	if ms := q.Get("meta_shard"); ms != "" {
		id, err := strconv.ParseUint(ms, 10, 64)
		if err != nil {
			return hint, fmt.Errorf("invalid meta_shard: %w", err)
		}
		hint.MetaShardID = id
	}
	return hint, nil
}

// writeResult answers with the operation's outcome. Errors that are not a
// Status mean the request gave up waiting.
func (n *node) writeResult(w http.ResponseWriter, res coordinator.Result, err error) {
	var st meta.Status
	if err != nil && !errors.As(err, &st) {
		n.logger.Debug("request abandoned", zap.Error(err))
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	body := cluster.ShardResponse{
		Status: res.Status.String(),
		Meta:   cluster.DocFromMeta(res.Meta),
	}
	if !res.LeaseExpires.IsZero() && !res.LeaseExpires.Equal(lease.Forever) {
		exp := res.LeaseExpires.UTC().Truncate(time.Millisecond)
		body.LeaseExpires = &exp
	}
	writeJSON(w, cluster.HTTPStatus(res.Status), body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
