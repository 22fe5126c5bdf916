// Package models defines the persistent and wire-level types shared across
// the llmdash admin backend: GPU server nodes, their load metrics, and the
// JSON envelopes returned by the utilization API.
package models

import "time"

// Health status values reported for a server node. Anything outside
// "healthy"/"unhealthy" (e.g. "unknown", "Error: ...") is treated as
// indeterminate by the dashboard.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// ServerNode describes one GPU inference server registered with the fleet.
type ServerNode struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Host            string     `json:"host"`
	Port            int        `json:"port"`
	APIKey          string     `json:"-"`
	GPUCount        int        `json:"gpu_count"`
	GPUMemory       float64    `json:"gpu_memory"` // GB of VRAM per node
	IsActive        bool       `json:"is_active"`
	HealthStatus    string     `json:"health_status"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// LoadMetrics is one sampled load observation for a server node.
type LoadMetrics struct {
	ID             int64     `json:"id"`
	ServerID       int64     `json:"server_id"`
	Timestamp      time.Time `json:"timestamp"`
	GPUUtilization float64   `json:"gpu_utilization"` // percent, 0-100
	GPUMemoryUsed  float64   `json:"gpu_memory_used"` // GB
	GPUMemoryTotal float64   `json:"gpu_memory_total"` // GB
	CPUUtilization float64   `json:"cpu_utilization"` // percent, 0-100
	ActiveRequests int       `json:"active_requests"`
	QueueDepth     int       `json:"queue_depth"`
}

// UtilizationSnapshot is the per-server payload element served by
// /api/gpu/utilization and consumed by the heatmap poller.
type UtilizationSnapshot struct {
	ServerID        int64   `json:"server_id"`
	ServerName      string  `json:"server_name"`
	GPUCount        int     `json:"gpu_count"`
	GPUMemoryTotal  float64 `json:"gpu_memory_total"`
	HealthStatus    string  `json:"health_status"`
	LastHealthCheck string  `json:"last_health_check,omitempty"`
	GPUUtilization  float64 `json:"gpu_utilization"`
	GPUMemoryUsed   float64 `json:"gpu_memory_used"`
	CPUUtilization  float64 `json:"cpu_utilization"`
	ActiveRequests  int     `json:"active_requests"`
	QueueDepth      int     `json:"queue_depth"`
	Timestamp       string  `json:"timestamp"`
}

// Envelope statuses used by the utilization and seed APIs.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// UtilizationEnvelope is the full response of one utilization fetch.
type UtilizationEnvelope struct {
	Status    string                `json:"status"`
	Message   string                `json:"message,omitempty"`
	ErrorID   string                `json:"error_id,omitempty"`
	Data      []UtilizationSnapshot `json:"data"`
	Timestamp string                `json:"timestamp"`
}

// HistoryPoint is one historical load observation in the metrics history API.
type HistoryPoint struct {
	Timestamp      string  `json:"timestamp"`
	GPUUtilization float64 `json:"gpu_utilization"`
	GPUMemoryUsed  float64 `json:"gpu_memory_used"`
	GPUMemoryTotal float64 `json:"gpu_memory_total"`
	CPUUtilization float64 `json:"cpu_utilization"`
	ActiveRequests int     `json:"active_requests"`
	QueueDepth     int     `json:"queue_depth"`
}

// HistoryEnvelope is the response of the per-server metrics history API.
type HistoryEnvelope struct {
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	ErrorID    string         `json:"error_id,omitempty"`
	ServerName string         `json:"server_name,omitempty"`
	Data       []HistoryPoint `json:"data"`
	Timestamp  string         `json:"timestamp"`
}

// SeedResult reports the outcome of the demo-data seeding action.
type SeedResult struct {
	Status    string       `json:"status"`
	Message   string       `json:"message"`
	ErrorID   string       `json:"error_id,omitempty"`
	Servers   []SeedServer `json:"servers,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// SeedServer identifies one server created or reused by seeding.
type SeedServer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
