package heatmap

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"llmdash/internal/models"
)

// Badge styling classes for the status list.
const (
	BadgeSuccess = "success"
	BadgeDanger  = "danger"
	BadgeNeutral = "neutral"
)

// Fixed metric rows of the heatmap grid, in display order.
var metricRows = []string{"GPU", "Memory", "CPU", "Queue"}

// Cell is one value of the heatmap grid, pre-formatted for display.
type Cell struct {
	Value   float64   `json:"value"`
	Display string    `json:"display"` // rounded integer percent, e.g. "76%"
	Tooltip string    `json:"tooltip"` // one-decimal value, e.g. "75.8"
	Color   CellColor `json:"color"`
	RGBA    string    `json:"rgba"`
}

// MetricRow is one labeled row of cells, one cell per server.
type MetricRow struct {
	Label string `json:"label"`
	Cells []Cell `json:"cells"`
}

// ServerStatus is one entry of the status list beside the grid.
type ServerStatus struct {
	Name           string `json:"name"`
	HealthStatus   string `json:"health_status"`
	Badge          string `json:"badge"`
	ActiveRequests int    `json:"active_requests"`
	Memory         string `json:"memory"`              // "18.2/24 GB"
	LastSeen       string `json:"last_seen,omitempty"` // "2 minutes ago"
}

// Frame is a fully built heatmap render: header columns, the four metric
// rows, and the per-server status list. Frames are immutable once built;
// each poll cycle replaces the previous frame wholesale.
type Frame struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Columns     []string       `json:"columns"`
	Rows        []MetricRow    `json:"rows"`
	Status      []ServerStatus `json:"status"`
}

// BuildFrame translates a batch of snapshots into a renderable frame.
func BuildFrame(snapshots []models.UtilizationSnapshot, generatedAt time.Time) *Frame {
	frame := &Frame{
		GeneratedAt: generatedAt,
		Columns:     make([]string, 0, len(snapshots)),
		Rows:        make([]MetricRow, 0, len(metricRows)),
		Status:      make([]ServerStatus, 0, len(snapshots)),
	}
	for _, snap := range snapshots {
		frame.Columns = append(frame.Columns, snap.ServerName)
	}
	for _, label := range metricRows {
		row := MetricRow{Label: label, Cells: make([]Cell, 0, len(snapshots))}
		for _, snap := range snapshots {
			row.Cells = append(row.Cells, buildCell(rowValue(label, snap)))
		}
		frame.Rows = append(frame.Rows, row)
	}
	for _, snap := range snapshots {
		frame.Status = append(frame.Status, buildStatus(snap))
	}
	return frame
}

func rowValue(label string, snap models.UtilizationSnapshot) float64 {
	switch label {
	case "GPU":
		return snap.GPUUtilization
	case "Memory":
		return MemoryPercent(snap.GPUMemoryUsed, snap.GPUMemoryTotal)
	case "CPU":
		return snap.CPUUtilization
	case "Queue":
		return QueuePercent(snap.QueueDepth)
	}
	return 0
}

func buildCell(v float64) Cell {
	color := ColorFor(v)
	return Cell{
		Value:   v,
		Display: fmt.Sprintf("%d%%", int(math.Round(v))),
		Tooltip: fmt.Sprintf("%.1f", v),
		Color:   color,
		RGBA:    color.RGBA(),
	}
}

func buildStatus(snap models.UtilizationSnapshot) ServerStatus {
	badge := BadgeNeutral
	switch snap.HealthStatus {
	case models.HealthHealthy:
		badge = BadgeSuccess
	case models.HealthUnhealthy:
		badge = BadgeDanger
	}
	status := ServerStatus{
		Name:           snap.ServerName,
		HealthStatus:   snap.HealthStatus,
		Badge:          badge,
		ActiveRequests: snap.ActiveRequests,
		Memory:         fmt.Sprintf("%.1f/%g GB", snap.GPUMemoryUsed, snap.GPUMemoryTotal),
	}
	if snap.LastHealthCheck != "" {
		if t, err := time.Parse(time.RFC3339, snap.LastHealthCheck); err == nil {
			status.LastSeen = humanize.Time(t)
		}
	}
	return status
}
