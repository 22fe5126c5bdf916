package store

import (
	"context"
	"errors"
	"time"

	"llmdash/internal/models"
)

// UtilizationSnapshots assembles the per-server payload served by the
// utilization API: every active server joined with its latest load metrics,
// or zeroed metrics when none have been collected yet.
func (s *Store) UtilizationSnapshots(ctx context.Context) ([]models.UtilizationSnapshot, error) {
	servers, err := s.ActiveServers(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := make([]models.UtilizationSnapshot, 0, len(servers))
	for _, server := range servers {
		snap := models.UtilizationSnapshot{
			ServerID:       server.ID,
			ServerName:     server.Name,
			GPUCount:       server.GPUCount,
			GPUMemoryTotal: server.GPUMemory,
			HealthStatus:   server.HealthStatus,
		}
		if server.LastHealthCheck != nil {
			snap.LastHealthCheck = server.LastHealthCheck.Format(time.RFC3339)
		}

		m, err := s.LatestMetrics(ctx, server.ID)
		switch {
		case err == nil:
			snap.GPUUtilization = m.GPUUtilization
			snap.GPUMemoryUsed = m.GPUMemoryUsed
			if m.GPUMemoryTotal > 0 {
				snap.GPUMemoryTotal = m.GPUMemoryTotal
			}
			snap.CPUUtilization = m.CPUUtilization
			snap.ActiveRequests = m.ActiveRequests
			snap.QueueDepth = m.QueueDepth
			snap.Timestamp = m.Timestamp.Format(time.RFC3339)
		case errors.Is(err, ErrNotFound):
			snap.Timestamp = time.Now().UTC().Format(time.RFC3339)
		default:
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
