// Package balancer selects inference servers for new work and keeps fleet
// health and load metrics fresh via background monitoring loops.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"llmdash/internal/models"
	"llmdash/internal/store"
	"llmdash/internal/utils"
	"llmdash/internal/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Selection strategies.
const (
	StrategyRoundRobin = "round_robin"
	StrategyLeastLoad  = "least_load"
	StrategyGPUMemory  = "gpu_memory"
)

// ErrNoHealthyServers is returned when no active server is healthy.
var ErrNoHealthyServers = errors.New("balancer: no healthy servers available")

// Balancer distributes requests across healthy GPU servers and runs the
// health-check and metrics-collection loops that feed the utilization API.
type Balancer struct {
	store    *store.Store
	strategy string
	client   *http.Client
	logger   *utils.Logger

	mu           sync.Mutex
	lastIndex    int
	metricsCache map[int64]models.LoadMetrics

	stopMu sync.Mutex
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New builds a balancer over the given store. Unknown strategies fall back
// to round-robin at selection time.
func New(st *store.Store, strategy string, nodeTimeout time.Duration, logger *utils.Logger) *Balancer {
	if nodeTimeout <= 0 {
		nodeTimeout = 5 * time.Second
	}
	return &Balancer{
		store:        st,
		strategy:     strategy,
		client:       &http.Client{Timeout: nodeTimeout},
		logger:       logger,
		lastIndex:    -1,
		metricsCache: make(map[int64]models.LoadMetrics),
	}
}

// Start launches the health-check and metrics-collection loops. Calling
// Start on a running balancer is a no-op.
func (b *Balancer) Start(healthInterval, metricsInterval time.Duration) {
	b.stopMu.Lock()
	if b.stop != nil {
		b.stopMu.Unlock()
		return
	}
	stop := make(chan struct{})
	b.stop = stop
	b.stopMu.Unlock()

	b.wg.Add(2)
	go b.loop(stop, healthInterval, b.checkAllHealth)
	go b.loop(stop, metricsInterval, b.collectAllMetrics)
}

// Stop shuts the monitoring loops down and waits for them to exit.
func (b *Balancer) Stop() {
	b.stopMu.Lock()
	stop := b.stop
	b.stop = nil
	b.stopMu.Unlock()
	if stop != nil {
		close(stop)
	}
	b.wg.Wait()
}

func (b *Balancer) loop(stop chan struct{}, interval time.Duration, fn func(context.Context)) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	fn(ctx)
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-stop:
			return
		}
	}
}

// PickServer returns the best healthy server for new work according to the
// configured strategy.
func (b *Balancer) PickServer(ctx context.Context) (models.ServerNode, error) {
	servers, err := b.store.ActiveServers(ctx)
	if err != nil {
		return models.ServerNode{}, err
	}
	healthy := servers[:0:0]
	for _, s := range servers {
		if s.HealthStatus == models.HealthHealthy {
			healthy = append(healthy, s)
		}
	}
	if len(healthy) == 0 {
		return models.ServerNode{}, ErrNoHealthyServers
	}

	switch b.strategy {
	case StrategyLeastLoad:
		return b.leastLoad(healthy), nil
	case StrategyGPUMemory:
		return b.mostFreeMemory(healthy), nil
	default:
		return b.roundRobin(healthy), nil
	}
}

func (b *Balancer) roundRobin(servers []models.ServerNode) models.ServerNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastIndex = (b.lastIndex + 1) % len(servers)
	return servers[b.lastIndex]
}

// leastLoad picks the server with the fewest active plus queued requests.
func (b *Balancer) leastLoad(servers []models.ServerNode) models.ServerNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	selected := servers[0]
	minLoad := -1
	for _, s := range servers {
		m := b.metricsCache[s.ID]
		load := m.ActiveRequests + m.QueueDepth
		if minLoad < 0 || load < minLoad {
			minLoad = load
			selected = s
		}
	}
	return selected
}

// mostFreeMemory picks the server with the most unused VRAM.
func (b *Balancer) mostFreeMemory(servers []models.ServerNode) models.ServerNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	selected := servers[0]
	maxFree := -1.0
	for _, s := range servers {
		m, ok := b.metricsCache[s.ID]
		total := m.GPUMemoryTotal
		if !ok || total <= 0 {
			total = s.GPUMemory
		}
		free := total - m.GPUMemoryUsed
		if free > maxFree {
			maxFree = free
			selected = s
		}
	}
	return selected
}

// CachedMetrics returns the last collected metrics for a server, if any.
func (b *Balancer) CachedMetrics(serverID int64) (models.LoadMetrics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.metricsCache[serverID]
	return m, ok
}

func (b *Balancer) checkAllHealth(ctx context.Context) {
	servers, err := b.store.ActiveServers(ctx)
	if err != nil {
		b.logf("Health check: listing servers failed: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, server := range servers {
		healthy, status := b.checkServerHealth(ctx, server)
		if err := b.store.SetHealth(ctx, server.ID, status, now); err != nil {
			b.logf("Health check: persisting status for %s failed: %v", server.Name, err)
			continue
		}
		if !healthy && server.HealthStatus != status {
			b.logf("Server %s is unhealthy: %s", server.Name, status)
		}
	}
}

// checkServerHealth probes one node's /health endpoint. The status string
// mirrors what the dashboard displays: "healthy", "Unhealthy: HTTP <code>"
// or "Error: <cause>".
func (b *Balancer) checkServerHealth(ctx context.Context, server models.ServerNode) (bool, string) {
	url := fmt.Sprintf("http://%s:%d/health", server.Host, server.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("Error: %v", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+server.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return true, models.HealthHealthy
	}
	return false, fmt.Sprintf("Unhealthy: HTTP %d", resp.StatusCode)
}

func (b *Balancer) collectAllMetrics(ctx context.Context) {
	servers, err := b.store.ActiveServers(ctx)
	if err != nil {
		b.logf("Metrics collection: listing servers failed: %v", err)
		return
	}
	for _, server := range servers {
		// Unhealthy servers are skipped; their last metrics stay in place.
		if server.HealthStatus != models.HealthHealthy {
			continue
		}
		m := b.fetchNodeMetrics(ctx, server)
		m.ServerID = server.ID
		m.Timestamp = time.Now().UTC()

		b.mu.Lock()
		b.metricsCache[server.ID] = m
		b.mu.Unlock()

		if err := b.store.InsertMetrics(ctx, m); err != nil {
			b.logf("Metrics collection: persisting metrics for %s failed: %v", server.Name, err)
		}
	}
}

// fetchNodeMetrics scrapes one node's /metrics endpoint, substituting zero
// metrics (with the configured VRAM capacity) when the node is unreachable.
func (b *Balancer) fetchNodeMetrics(ctx context.Context, server models.ServerNode) models.LoadMetrics {
	fallback := models.LoadMetrics{GPUMemoryTotal: server.GPUMemory}

	url := fmt.Sprintf("http://%s:%d/metrics", server.Host, server.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.logf("Metrics fetch for %s: %v", server.Name, err)
		return fallback
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+server.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.logf("Metrics fetch for %s: %v", server.Name, err)
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.logf("Metrics fetch for %s: HTTP %d", server.Name, resp.StatusCode)
		return fallback
	}

	var m models.LoadMetrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		b.logf("Metrics fetch for %s: decode: %v", server.Name, err)
		return fallback
	}
	if m.GPUMemoryTotal <= 0 {
		m.GPUMemoryTotal = server.GPUMemory
	}
	return m
}

func (b *Balancer) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if b.logger != nil {
		b.logger.Write(msg)
		return
	}
	log.Println(msg)
}
