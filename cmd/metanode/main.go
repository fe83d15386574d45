// Package main runs a shard-metadata node.
//
// A node holds the lease-protected metadata records of the shards it knows
// about, stores SUPERNODE records for the meta shards assigned to it, and
// keeps DISTRIBUTED records loosely in sync with its peers.
//
// HTTP API:
//
//	/health        - 200 while serving, 503 once shutting down
//	/info          - coordinator counters, store size and peer health
//	/registry      - meta shard placement, per bucket and per node
//	/registry/{b}  - PUT {"node_id": N} assigns bucket b, DELETE unassigns it
//	/peers         - GET peers with health, POST {"id","addr"} adds a peer
//	/store/{c}     - keys held in metadata container c
//	/msg           - inbound peer messages (POST)
//	/shards/{id}   - GET, POST (create), PUT and DELETE of one record
//
// Configuration comes from the YAML file named by SHARDMETA_CONFIG, with
// NODE_ID, NODE_LISTEN, NODE_ADDR and LOG_LEVEL overriding it.
//
// Example usage:
//
//	SHARDMETA_CONFIG=node1.yaml NODE_ID=1 ./metanode
//
//	curl -X POST localhost:8081/shards/7 \
//	  -d '{"shard_id":7,"meta_shard_id":7,"type":"supernode","current_home":1,"last_home":-1,"write_node":1,"lease_usecs":5000000,"seqno":1,"ltime":1}'
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/config"
	"github.com/dreamware/shardmeta/internal/logging"
)

// shutdownTimeout bounds how long queued operations get to unwind.
const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("SHARDMETA_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("node failed", zap.Error(err))
	}
	logger.Info("node stopped")
}

// run serves until ctx is done or the listener fails, then shuts down.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	n, err := newNode(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           n.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.Stringer("node", cfg.NodeID),
			zap.String("listen", cfg.Listen),
			zap.String("advertise", cfg.Advertise),
			zap.Int("peers", len(cfg.Peers)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	go n.health.Start(ctx, n.peers)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return multierr.Combine(
		runErr,
		srv.Shutdown(shutdownCtx),
		n.close(shutdownCtx),
	)
}
