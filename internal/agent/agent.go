// Package agent implements the per-node metrics endpoint scraped by the
// admin backend: /health and /metrics for one GPU inference server.
package agent

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"llmdash/internal/models"
)

// GPUStats reports accelerator telemetry when the deployment has a source
// for it (NVML exporter, ROCm SMI wrapper, etc.). Utilization is a percent,
// memory values are GB.
type GPUStats func() (utilization, memoryUsed float64, ok bool)

// Options configures one node agent.
type Options struct {
	APIKey      string  // optional bearer key required on both endpoints
	GPUCount    int     // advertised accelerator count
	GPUMemoryGB float64 // advertised total VRAM
	GPUStats    GPUStats
}

// Agent samples host load and serves it in the shape the fleet monitor expects.
type Agent struct {
	opts     Options
	inflight atomic.Int64
	queued   atomic.Int64
	started  time.Time
}

// New constructs an agent.
func New(opts Options) *Agent {
	if opts.GPUCount <= 0 {
		opts.GPUCount = 1
	}
	return &Agent{opts: opts, started: time.Now()}
}

// TrackRequests is middleware that counts in-flight work so active_requests
// reflects the node's real concurrency. The monitor's own health and metrics
// scrapes are not inference work and stay out of the count.
func (a *Agent) TrackRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/health", "/metrics":
			c.Next()
			return
		}
		a.inflight.Add(1)
		defer a.inflight.Add(-1)
		c.Next()
	}
}

// AddQueued adjusts the reported queue depth; inference runtimes call this
// as work enters and leaves their admission queue.
func (a *Agent) AddQueued(delta int) {
	if v := a.queued.Add(int64(delta)); v < 0 {
		a.queued.Store(0)
	}
}

// Register mounts /health and /metrics on the router.
func (a *Agent) Register(r *gin.Engine) {
	group := r.Group("/")
	if a.opts.APIKey != "" {
		group.Use(a.requireKey())
	}
	group.GET("/health", a.health)
	group.GET("/metrics", a.metrics)
}

func (a *Agent) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || token != a.opts.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (a *Agent) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(a.started).Seconds()),
	})
}

func (a *Agent) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, a.Sample())
}

// Sample collects one load observation for this node.
func (a *Agent) Sample() models.LoadMetrics {
	m := models.LoadMetrics{
		Timestamp:      time.Now().UTC(),
		GPUMemoryTotal: a.opts.GPUMemoryGB,
		ActiveRequests: int(a.inflight.Load()),
		QueueDepth:     int(a.queued.Load()),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.CPUUtilization = clampPercent(percents[0])
	}
	if a.opts.GPUStats != nil {
		if util, used, ok := a.opts.GPUStats(); ok {
			m.GPUUtilization = clampPercent(util)
			m.GPUMemoryUsed = used
			return m
		}
	}
	// Without accelerator telemetry, approximate VRAM pressure from host
	// memory so the dashboard still shows movement on dev nodes.
	if vm, err := mem.VirtualMemory(); err == nil && a.opts.GPUMemoryGB > 0 {
		m.GPUMemoryUsed = a.opts.GPUMemoryGB * vm.UsedPercent / 100
	}
	return m
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
