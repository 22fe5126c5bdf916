// Package store persists GPU server nodes and their load metrics in SQLite,
// backing the utilization API, the fleet monitor, and demo-data seeding.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"llmdash/internal/models"
)

var (
	// ErrNotFound is returned when a server node does not exist.
	ErrNotFound = errors.New("store: server not found")
	// ErrDuplicateName is returned when a server name is already registered.
	ErrDuplicateName = errors.New("store: server name already exists")
)

// Store wraps the SQLite database holding server nodes and load metrics.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS server_nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    host TEXT NOT NULL,
    port INTEGER NOT NULL DEFAULT 8080,
    api_key TEXT,
    gpu_count INTEGER NOT NULL DEFAULT 1,
    gpu_memory REAL NOT NULL DEFAULT 24,
    is_active INTEGER NOT NULL DEFAULT 1,
    health_status TEXT NOT NULL DEFAULT 'unknown',
    last_health_check INTEGER,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS server_load_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id INTEGER NOT NULL REFERENCES server_nodes(id) ON DELETE CASCADE,
    timestamp INTEGER NOT NULL,
    gpu_utilization REAL NOT NULL DEFAULT 0,
    gpu_memory_used REAL NOT NULL DEFAULT 0,
    gpu_memory_total REAL NOT NULL DEFAULT 0,
    cpu_utilization REAL NOT NULL DEFAULT 0,
    active_requests INTEGER NOT NULL DEFAULT 0,
    queue_depth INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_metrics_server_ts
    ON server_load_metrics(server_id, timestamp DESC);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("store: enable foreign keys: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies database connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var one int
	return row.Scan(&one)
}

// CreateServer inserts a new server node and returns it with its assigned ID.
func (s *Store) CreateServer(ctx context.Context, node models.ServerNode) (models.ServerNode, error) {
	if node.Port == 0 {
		node.Port = 8080
	}
	if node.HealthStatus == "" {
		node.HealthStatus = models.HealthUnknown
	}
	node.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO server_nodes (name, host, port, api_key, gpu_count, gpu_memory, is_active, health_status, last_health_check, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.Name, node.Host, node.Port, nullString(node.APIKey), node.GPUCount, node.GPUMemory,
		boolInt(node.IsActive), node.HealthStatus, nullUnix(node.LastHealthCheck), node.CreatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return models.ServerNode{}, ErrDuplicateName
		}
		return models.ServerNode{}, fmt.Errorf("store: create server: %w", err)
	}
	node.ID, err = res.LastInsertId()
	if err != nil {
		return models.ServerNode{}, fmt.Errorf("store: create server id: %w", err)
	}
	return node, nil
}

// ServerByName returns the server node with the given name.
func (s *Store) ServerByName(ctx context.Context, name string) (models.ServerNode, error) {
	return s.scanServer(s.db.QueryRowContext(ctx, selectServer+` WHERE name = ?`, name))
}

// ServerByID returns the server node with the given ID.
func (s *Store) ServerByID(ctx context.Context, id int64) (models.ServerNode, error) {
	return s.scanServer(s.db.QueryRowContext(ctx, selectServer+` WHERE id = ?`, id))
}

// ActiveServers returns all server nodes marked active, ordered by name.
func (s *Store) ActiveServers(ctx context.Context) ([]models.ServerNode, error) {
	return s.queryServers(ctx, selectServer+` WHERE is_active = 1 ORDER BY name`)
}

// AllServers returns every registered server node, ordered by name.
func (s *Store) AllServers(ctx context.Context) ([]models.ServerNode, error) {
	return s.queryServers(ctx, selectServer+` ORDER BY name`)
}

// UpdateServer persists mutable fields of an existing server node.
func (s *Store) UpdateServer(ctx context.Context, node models.ServerNode) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE server_nodes SET host = ?, port = ?, api_key = ?, gpu_count = ?, gpu_memory = ?, is_active = ?
WHERE id = ?`,
		node.Host, node.Port, nullString(node.APIKey), node.GPUCount, node.GPUMemory,
		boolInt(node.IsActive), node.ID)
	if err != nil {
		return fmt.Errorf("store: update server: %w", err)
	}
	return requireRow(res)
}

// SetHealth records a health-check outcome for a server node.
func (s *Store) SetHealth(ctx context.Context, serverID int64, status string, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE server_nodes SET health_status = ?, last_health_check = ? WHERE id = ?`,
		status, checkedAt.UTC().Unix(), serverID)
	if err != nil {
		return fmt.Errorf("store: set health: %w", err)
	}
	return requireRow(res)
}

// SetActive toggles whether a server participates in the fleet.
func (s *Store) SetActive(ctx context.Context, serverID int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE server_nodes SET is_active = ? WHERE id = ?`, boolInt(active), serverID)
	if err != nil {
		return fmt.Errorf("store: set active: %w", err)
	}
	return requireRow(res)
}

// InsertMetrics records one load observation for a server.
func (s *Store) InsertMetrics(ctx context.Context, m models.LoadMetrics) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO server_load_metrics (server_id, timestamp, gpu_utilization, gpu_memory_used, gpu_memory_total, cpu_utilization, active_requests, queue_depth)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ServerID, m.Timestamp.UTC().Unix(), m.GPUUtilization, m.GPUMemoryUsed,
		m.GPUMemoryTotal, m.CPUUtilization, m.ActiveRequests, m.QueueDepth)
	if err != nil {
		return fmt.Errorf("store: insert metrics: %w", err)
	}
	return nil
}

// LatestMetrics returns the most recent load observation for a server,
// or ErrNotFound when the server has no metrics yet.
func (s *Store) LatestMetrics(ctx context.Context, serverID int64) (models.LoadMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, server_id, timestamp, gpu_utilization, gpu_memory_used, gpu_memory_total, cpu_utilization, active_requests, queue_depth
FROM server_load_metrics WHERE server_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, serverID)
	var m models.LoadMetrics
	var ts int64
	err := row.Scan(&m.ID, &m.ServerID, &ts, &m.GPUUtilization, &m.GPUMemoryUsed,
		&m.GPUMemoryTotal, &m.CPUUtilization, &m.ActiveRequests, &m.QueueDepth)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LoadMetrics{}, ErrNotFound
	}
	if err != nil {
		return models.LoadMetrics{}, fmt.Errorf("store: latest metrics: %w", err)
	}
	m.Timestamp = time.Unix(ts, 0).UTC()
	return m, nil
}

// MetricsSince returns a server's load observations at or after cutoff,
// oldest first.
func (s *Store) MetricsSince(ctx context.Context, serverID int64, cutoff time.Time) ([]models.LoadMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, server_id, timestamp, gpu_utilization, gpu_memory_used, gpu_memory_total, cpu_utilization, active_requests, queue_depth
FROM server_load_metrics WHERE server_id = ? AND timestamp >= ? ORDER BY timestamp ASC, id ASC`,
		serverID, cutoff.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("store: metrics since: %w", err)
	}
	defer rows.Close()
	var out []models.LoadMetrics
	for rows.Next() {
		var m models.LoadMetrics
		var ts int64
		if err := rows.Scan(&m.ID, &m.ServerID, &ts, &m.GPUUtilization, &m.GPUMemoryUsed,
			&m.GPUMemoryTotal, &m.CPUUtilization, &m.ActiveRequests, &m.QueueDepth); err != nil {
			return nil, fmt.Errorf("store: scan metrics: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate metrics: %w", err)
	}
	return out, nil
}

// ClearMetrics removes all load observations for the given servers.
func (s *Store) ClearMetrics(ctx context.Context, serverIDs ...int64) error {
	for _, id := range serverIDs {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM server_load_metrics WHERE server_id = ?`, id); err != nil {
			return fmt.Errorf("store: clear metrics: %w", err)
		}
	}
	return nil
}

const selectServer = `
SELECT id, name, host, port, api_key, gpu_count, gpu_memory, is_active, health_status, last_health_check, created_at
FROM server_nodes`

func (s *Store) queryServers(ctx context.Context, query string, args ...any) ([]models.ServerNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query servers: %w", err)
	}
	defer rows.Close()
	var nodes []models.ServerNode
	for rows.Next() {
		node, err := scanServerRow(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate servers: %w", err)
	}
	return nodes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanServer(row *sql.Row) (models.ServerNode, error) {
	node, err := scanServerRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ServerNode{}, ErrNotFound
	}
	return node, err
}

func scanServerRow(row rowScanner) (models.ServerNode, error) {
	var node models.ServerNode
	var apiKey sql.NullString
	var lastCheck sql.NullInt64
	var active int
	var created int64
	err := row.Scan(&node.ID, &node.Name, &node.Host, &node.Port, &apiKey,
		&node.GPUCount, &node.GPUMemory, &active, &node.HealthStatus, &lastCheck, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ServerNode{}, err
		}
		return models.ServerNode{}, fmt.Errorf("store: scan server: %w", err)
	}
	node.APIKey = apiKey.String
	node.IsActive = active != 0
	node.CreatedAt = time.Unix(created, 0).UTC()
	if lastCheck.Valid {
		t := time.Unix(lastCheck.Int64, 0).UTC()
		node.LastHealthCheck = &t
	}
	return node, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
