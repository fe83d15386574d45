package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/meta"
)

// NodeHealth tracks the health status of a single peer.
// It maintains the current status, last successful check time, and failure count.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time   `json:"last_check"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time   `json:"last_healthy"`      // Timestamp of the last successful health check
	NodeID           meta.NodeID `json:"node_id"`           // Peer being watched
	Status           string      `json:"status"`            // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int         `json:"consecutive_fails"` // Number of consecutive failed health checks
}

// HealthMonitor polls each peer's /health endpoint and turns transitions
// into liveness events for the coordinator: NodeLive when a peer starts
// answering, NodeDead when it stops.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[meta.NodeID]*NodeHealth // Current health status per peer
	httpClient  *http.Client                // HTTP client for health checks
	checkFunc   func(addr string) error     // Function to perform health check
	onLive      func(meta.NodeID)           // Callback when a peer becomes healthy
	onDead      func(meta.NodeID)           // Callback when a peer becomes unhealthy
	logger      *zap.Logger                 // Named "health"
	ctx         context.Context             // Context for cancellation
	cancel      context.CancelFunc          // Cancel function for shutdown
	interval    time.Duration               // How often to check peer health
	mu          sync.RWMutex                // Protects nodes map
	wg          sync.WaitGroup              // Wait group for graceful shutdown
	maxFailures int                         // Failures before marking unhealthy
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// The monitor will check each peer's /health endpoint every interval, and
// marks a peer unhealthy after maxFailures consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (recommended: 5s)
//   - maxFailures: Failures before a peer is declared dead (<= 0 means 3)
//   - logger: Parent logger, nil for none
//
// Returns:
//   - *HealthMonitor: Configured health monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, 3, logger)
//	monitor.SetCallbacks(coord.NodeLive, coord.NodeDead)
//	go monitor.Start(ctx, peers)
func NewHealthMonitor(interval time.Duration, maxFailures int, logger *zap.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthMonitor{
		interval:    interval,
		maxFailures: maxFailures,
		nodes:       make(map[meta.NodeID]*NodeHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      logger.Named("health"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetCallbacks registers the liveness handlers. onLive fires the first time
// a node passes a check and on every recovery. onDead fires when a node
// crosses the failure threshold. Neither is called with the lock held.
//
// Parameters:
//   - onLive: Called with the peer's id when it becomes healthy
//   - onDead: Called with the peer's id when it becomes unhealthy
//
// Example:
//
//	monitor.SetCallbacks(coord.NodeLive, coord.NodeDead)
func (h *HealthMonitor) SetCallbacks(onLive, onDead func(meta.NodeID)) {
	h.onLive = onLive
	h.onDead = onDead
}

// SetCheckFunction overrides the HTTP health check.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start begins the health monitoring process in the current goroutine.
// It checks the nodes returned by nodeProvider immediately and then every
// interval, and blocks until ctx is done or Stop is called.
//
// Parameters:
//   - ctx: Context for cancellation (nil uses the monitor's own)
//   - nodeProvider: Function that returns the current peers; peers that
//     disappear from it are dropped from tracking
//
// Example:
//
//	go monitor.Start(ctx, func() []cluster.NodeInfo {
//	    return transport.Peers()
//	})
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))
	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the health monitor.
// It cancels the monitoring goroutine and waits for it to complete.
//
// Example:
//
//	monitor.Stop()
//	// Monitor is now safely stopped
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

// checkAllNodes checks every node and forgets peers no longer listed.
func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	current := make(map[meta.NodeID]bool, len(nodes))
	for _, node := range nodes {
		current[node.ID] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for id := range h.nodes {
		if !current[id] {
			delete(h.nodes, id)
			h.logger.Info("node removed from monitoring", zap.Stringer("peer", id))
		}
	}
	h.mu.Unlock()
}

// checkNode performs a health check on a single node.
//
// Implementation:
//  1. Create a record on first sight (status "unknown")
//  2. Run the check without holding the lock
//  3. Update the record and decide on a transition
//  4. Fire onLive or onDead after releasing the lock
func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(node.Addr)

	h.mu.Lock()
	health.LastCheck = time.Now()
	previous := health.Status
	var notify func(meta.NodeID)

	if err != nil {
		health.ConsecutiveFails++
		h.logger.Debug("health check failed",
			zap.Stringer("peer", node.ID),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("max", h.maxFailures),
			zap.Error(err))
		if health.ConsecutiveFails >= h.maxFailures {
			health.Status = "unhealthy"
			if previous != "unhealthy" {
				h.logger.Warn("node marked unhealthy",
					zap.Stringer("peer", node.ID),
					zap.Int("failures", health.ConsecutiveFails))
				notify = h.onDead
			}
		}
	} else {
		if previous == "unhealthy" {
			h.logger.Info("node recovered", zap.Stringer("peer", node.ID))
		}
		health.Status = "healthy"
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
		if previous != "healthy" {
			notify = h.onLive
		}
	}
	h.mu.Unlock()

	if notify != nil {
		notify(node.ID)
	}
}

// defaultHealthCheck GETs {addr}/health and expects 200. A bare host:port
// gets an http:// scheme.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns the current health status of a specific peer.
//
// Parameters:
//   - node: ID of the peer to query
//
// Returns:
//   - *NodeHealth: Copy of the record (nil if the peer is not monitored)
//
// Thread Safety:
// Returns a copy to prevent external modification.
func (h *HealthMonitor) GetNodeHealth(node meta.NodeID) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[node]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns the health status of every monitored peer.
//
// Returns:
//   - map[meta.NodeID]*NodeHealth: Copies keyed by peer id
func (h *HealthMonitor) GetAllNodeHealth() map[meta.NodeID]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[meta.NodeID]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether node passed its most recent check.
//
// Parameters:
//   - node: ID of the peer to check
//
// Returns:
//   - bool: true only if the status is "healthy"
func (h *HealthMonitor) IsHealthy(node meta.NodeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[node]
	return exists && health.Status == "healthy"
}
