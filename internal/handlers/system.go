// Package handlers wires the admin HTTP API: GPU utilization, demo seeding,
// fleet health, server-node CRUD, and the rendered heatmap surface.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"

	"llmdash/internal/balancer"
	"llmdash/internal/heatmap"
	"llmdash/internal/middleware"
	"llmdash/internal/models"
	"llmdash/internal/store"
	"llmdash/internal/utils"
)

// minFreeDiskPercent is the threshold below which the health endpoint
// reports the disk component as low on space.
const minFreeDiskPercent = 10.0

// historyWindow is how far back the per-server metrics history API reaches.
const historyWindow = 24 * time.Hour

// SystemHandlers serves the utilization, seeding, and health endpoints.
type SystemHandlers struct {
	store    *store.Store
	poller   *heatmap.Poller
	seed     *SeedAction
	balancer *balancer.Balancer
	hub      *middleware.Hub
	logger   *utils.Logger
}

// NewSystemHandlers builds the system handler set. A nil hub reports zero
// websocket clients.
func NewSystemHandlers(st *store.Store, poller *heatmap.Poller, seed *SeedAction, lb *balancer.Balancer, hub *middleware.Hub, logger *utils.Logger) *SystemHandlers {
	return &SystemHandlers{store: st, poller: poller, seed: seed, balancer: lb, hub: hub, logger: logger}
}

// APIGPUUtilization returns the latest utilization snapshot for every active
// server. An empty fleet is a success with empty data, not an error.
func (h *SystemHandlers) APIGPUUtilization(c *gin.Context) {
	snapshots, err := h.store.UtilizationSnapshots(c.Request.Context())
	if err != nil {
		h.serveError(c, "Error getting GPU utilization data", err)
		return
	}

	env := models.UtilizationEnvelope{
		Status:    models.StatusSuccess,
		Data:      snapshots,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(snapshots) == 0 {
		env.Data = []models.UtilizationSnapshot{}
		env.Message = heatmap.NoServersMessage
	} else {
		env.Message = fmt.Sprintf("Retrieved data for %d servers", len(snapshots))
	}
	c.JSON(http.StatusOK, env)
}

// APIGPUHistory returns one server's load observations from the last 24
// hours, oldest first, for trend charts beside the live heatmap.
func (h *SystemHandlers) APIGPUHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.HistoryEnvelope{
			Status:    models.StatusError,
			Message:   "Invalid server id",
			Data:      []models.HistoryPoint{},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	server, err := h.store.ServerByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.HistoryEnvelope{
				Status:    models.StatusError,
				Message:   fmt.Sprintf("Server with ID %d not found", id),
				Data:      []models.HistoryPoint{},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		h.serveError(c, "Error getting GPU utilization history", err)
		return
	}

	metrics, err := h.store.MetricsSince(c.Request.Context(), id, time.Now().Add(-historyWindow))
	if err != nil {
		h.serveError(c, "Error getting GPU utilization history", err)
		return
	}

	points := make([]models.HistoryPoint, 0, len(metrics))
	for _, m := range metrics {
		points = append(points, models.HistoryPoint{
			Timestamp:      m.Timestamp.Format(time.RFC3339),
			GPUUtilization: m.GPUUtilization,
			GPUMemoryUsed:  m.GPUMemoryUsed,
			GPUMemoryTotal: m.GPUMemoryTotal,
			CPUUtilization: m.CPUUtilization,
			ActiveRequests: m.ActiveRequests,
			QueueDepth:     m.QueueDepth,
		})
	}
	c.JSON(http.StatusOK, models.HistoryEnvelope{
		Status:     models.StatusSuccess,
		Message:    fmt.Sprintf("Retrieved %d historical metrics for server %s", len(points), server.Name),
		ServerName: server.Name,
		Data:       points,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// APISeedDemoData seeds the demo fleet and triggers an immediate heatmap
// refresh. Concurrent seeds are rejected so the triggering control can stay
// disabled while one is in flight.
func (h *SystemHandlers) APISeedDemoData(c *gin.Context) {
	if err := h.poller.SeedDemoData(c.Request.Context()); err != nil {
		if errors.Is(err, heatmap.ErrSeedBusy) {
			c.JSON(http.StatusConflict, models.SeedResult{
				Status:    models.StatusError,
				Message:   "Demo data seeding already in progress",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		errorID := uuid.NewString()
		h.logf("Error ID: %s - Error seeding demo data: %v", errorID, err)
		c.JSON(http.StatusInternalServerError, models.SeedResult{
			Status:    models.StatusError,
			ErrorID:   errorID,
			Message:   "Error seeding demo data",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, models.SeedResult{
		Status:    models.StatusSuccess,
		Message:   "Demo data seeded successfully",
		Servers:   h.seed.Last(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// APIHealth reports component health: database connectivity and disk space.
func (h *SystemHandlers) APIHealth(c *gin.Context) {
	status := "healthy"

	dbStatus := "healthy"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logf("Health check database error: %v", err)
		dbStatus = "unhealthy"
		status = "unhealthy"
	}

	diskComponent := gin.H{"status": "healthy"}
	if usage, err := disk.Usage("/"); err == nil {
		freePercent := 100 - usage.UsedPercent
		diskStatus := "healthy"
		if freePercent <= minFreeDiskPercent {
			diskStatus = "low_space"
			status = "unhealthy"
		}
		diskComponent = gin.H{
			"status":       diskStatus,
			"total_gb":     float64(usage.Total) / (1 << 30),
			"free_gb":      float64(usage.Free) / (1 << 30),
			"percent_free": freePercent,
		}
	}

	servers, err := h.store.ActiveServers(c.Request.Context())
	serverCount := len(servers)
	if err != nil {
		serverCount = 0
	}

	wsClients := 0
	if h.hub != nil {
		wsClients = h.hub.GetClientCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"components": gin.H{
			"database":    gin.H{"status": dbStatus},
			"disk":        diskComponent,
			"gpu_servers": gin.H{"status": "configured", "count": serverCount},
			"websocket":   gin.H{"status": "ok", "clients": wsClients},
		},
	})
}

// APISelectServer returns the server the balancer would route new work to.
func (h *SystemHandlers) APISelectServer(c *gin.Context) {
	node, err := h.balancer.PickServer(c.Request.Context())
	if err != nil {
		if errors.Is(err, balancer.ErrNoHealthyServers) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  models.StatusError,
				"message": "No healthy servers available",
			})
			return
		}
		h.serveError(c, "Error selecting server", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": models.StatusSuccess,
		"server": node,
	})
}

// serveError logs with a generated error id and answers with the envelope
// shape the dashboard understands.
func (h *SystemHandlers) serveError(c *gin.Context, message string, err error) {
	errorID := uuid.NewString()
	h.logf("Error ID: %s - %s: %v", errorID, message, err)
	c.JSON(http.StatusInternalServerError, models.UtilizationEnvelope{
		Status:    models.StatusError,
		ErrorID:   errorID,
		Message:   message,
		Data:      []models.UtilizationSnapshot{},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *SystemHandlers) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if h.logger != nil {
		h.logger.Write(msg)
		return
	}
	log.Println(msg)
}

// SeedAction adapts the store's demo seeding to the poller's Seeder
// interface while remembering which servers the last seed touched.
type SeedAction struct {
	store *store.Store
	mu    sync.Mutex
	last  []models.SeedServer
}

// NewSeedAction builds the seeding adapter.
func NewSeedAction(st *store.Store) *SeedAction {
	return &SeedAction{store: st}
}

// SeedDemoData seeds the demo fleet.
func (s *SeedAction) SeedDemoData(ctx context.Context) error {
	seeded, err := s.store.SeedDemoData(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.last = seeded
	s.mu.Unlock()
	return nil
}

// Last returns the servers created or reused by the most recent seed.
func (s *SeedAction) Last() []models.SeedServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SeedServer(nil), s.last...)
}
