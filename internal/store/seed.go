package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"llmdash/internal/models"
)

// Demo fleet created by SeedDemoData. The two nodes model a loaded primary
// and a mostly idle secondary so the heatmap shows all three heat bands.
var demoServers = []models.ServerNode{
	{
		Name:         "default-gpu-server",
		Host:         "localhost",
		Port:         8080,
		GPUCount:     4,
		GPUMemory:    24,
		IsActive:     true,
		HealthStatus: models.HealthHealthy,
	},
	{
		Name:         "secondary-gpu-server",
		Host:         "192.168.1.101",
		Port:         8080,
		GPUCount:     2,
		GPUMemory:    16,
		IsActive:     true,
		HealthStatus: models.HealthHealthy,
	},
}

var demoMetrics = []models.LoadMetrics{
	{
		GPUUtilization: 78.5,
		GPUMemoryUsed:  18.2,
		GPUMemoryTotal: 24.0,
		CPUUtilization: 45.0,
		ActiveRequests: 12,
		QueueDepth:     3,
	},
	{
		GPUUtilization: 35.2,
		GPUMemoryUsed:  6.8,
		GPUMemoryTotal: 16.0,
		CPUUtilization: 28.0,
		ActiveRequests: 4,
		QueueDepth:     0,
	},
}

// SeedDemoData creates the demo servers when missing, replaces their metrics
// with a known snapshot, and returns the seeded server identities. Repeated
// calls reuse the existing nodes.
func (s *Store) SeedDemoData(ctx context.Context) ([]models.SeedServer, error) {
	now := time.Now().UTC()
	seeded := make([]models.SeedServer, 0, len(demoServers))
	ids := make([]int64, 0, len(demoServers))

	for _, tmpl := range demoServers {
		node, err := s.ServerByName(ctx, tmpl.Name)
		if errors.Is(err, ErrNotFound) {
			tmpl.LastHealthCheck = &now
			node, err = s.CreateServer(ctx, tmpl)
		}
		if err != nil {
			return nil, fmt.Errorf("store: seed server %q: %w", tmpl.Name, err)
		}
		seeded = append(seeded, models.SeedServer{ID: node.ID, Name: node.Name})
		ids = append(ids, node.ID)
	}

	if err := s.ClearMetrics(ctx, ids...); err != nil {
		return nil, err
	}
	for i, m := range demoMetrics {
		if i >= len(ids) {
			break
		}
		m.ServerID = ids[i]
		m.Timestamp = now
		if err := s.InsertMetrics(ctx, m); err != nil {
			return nil, err
		}
	}
	return seeded, nil
}
