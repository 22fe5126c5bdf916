package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"llmdash/internal/heatmap"
	"llmdash/internal/models"
	"llmdash/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSystem builds the system handler set over a fresh store, with the
// poller reading utilization straight from the store and rendering into a
// hub-less broadcaster.
func testSystem(t *testing.T) (*SystemHandlers, *store.Store, *FrameBroadcaster, *gin.Engine) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "llmdash.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sink := NewFrameBroadcaster(nil)
	seed := NewSeedAction(st)
	src := &heatmap.StoreSource{Provider: func(ctx context.Context) (*models.UtilizationEnvelope, error) {
		snapshots, err := st.UtilizationSnapshots(ctx)
		if err != nil {
			return nil, err
		}
		return &models.UtilizationEnvelope{
			Status:    models.StatusSuccess,
			Data:      snapshots,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, nil
	}}
	poller := heatmap.NewPoller(src, seed, sink, nil, time.Hour)

	h := NewSystemHandlers(st, poller, seed, nil, nil, nil)
	r := gin.New()
	r.GET("/api/gpu/utilization", h.APIGPUUtilization)
	r.GET("/api/gpu/seed-demo-data", h.APISeedDemoData)
	r.GET("/api/gpu/history/:server_id", h.APIGPUHistory)
	r.GET("/api/health", h.APIHealth)
	r.GET("/api/gpu/heatmap", sink.APIHeatmap)
	return h, st, sink, r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIGPUUtilizationEmptyFleet(t *testing.T) {
	_, _, _, r := testSystem(t)
	w := doRequest(t, r, http.MethodGet, "/api/gpu/utilization")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var env models.UtilizationEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != models.StatusSuccess {
		t.Errorf("status = %q, want success even with no servers", env.Status)
	}
	if env.Message != heatmap.NoServersMessage {
		t.Errorf("message = %q, want %q", env.Message, heatmap.NoServersMessage)
	}
	if env.Data == nil || len(env.Data) != 0 {
		t.Errorf("data = %v, want an empty (non-null) array", env.Data)
	}
}

func TestAPIGPUUtilizationAfterSeed(t *testing.T) {
	_, st, _, r := testSystem(t)
	if _, err := st.SeedDemoData(context.Background()); err != nil {
		t.Fatalf("SeedDemoData: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/api/gpu/utilization")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var env models.UtilizationEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(env.Data))
	}
	if env.Message != "Retrieved data for 2 servers" {
		t.Errorf("message = %q", env.Message)
	}
	if env.Data[0].ServerName != "default-gpu-server" || env.Data[0].GPUUtilization != 78.5 {
		t.Errorf("first snapshot = %+v", env.Data[0])
	}
	if env.Timestamp == "" {
		t.Error("envelope missing timestamp")
	}
}

func TestAPISeedDemoData(t *testing.T) {
	_, _, sink, r := testSystem(t)

	w := doRequest(t, r, http.MethodGet, "/api/gpu/seed-demo-data")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var result models.SeedResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("status = %q", result.Status)
	}
	if len(result.Servers) != 2 {
		t.Fatalf("seeded %d servers, want 2", len(result.Servers))
	}
	if result.Servers[0].Name != "default-gpu-server" {
		t.Errorf("first seeded server = %q", result.Servers[0].Name)
	}

	// Seeding refreshes the heatmap synchronously, so the sink should now
	// hold a rendered frame for both demo servers.
	state, _, frame, loading := sink.Snapshot()
	if state != StateData || loading {
		t.Fatalf("sink state = %q loading=%v, want data after seed", state, loading)
	}
	if frame == nil || len(frame.Columns) != 2 {
		t.Fatalf("sink frame = %+v, want 2 columns", frame)
	}
}

func TestAPIGPUHistory(t *testing.T) {
	_, st, _, r := testSystem(t)
	seeded, err := st.SeedDemoData(context.Background())
	if err != nil {
		t.Fatalf("SeedDemoData: %v", err)
	}
	serverID := seeded[0].ID

	// A sample older than the 24h window must not be returned.
	if err := st.InsertMetrics(context.Background(), models.LoadMetrics{
		ServerID:       serverID,
		Timestamp:      time.Now().Add(-48 * time.Hour),
		GPUUtilization: 99,
	}); err != nil {
		t.Fatalf("InsertMetrics: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, fmt.Sprintf("/api/gpu/history/%d", serverID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var env models.HistoryEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != models.StatusSuccess {
		t.Errorf("status = %q", env.Status)
	}
	if env.ServerName != "default-gpu-server" {
		t.Errorf("server_name = %q", env.ServerName)
	}
	if len(env.Data) != 1 {
		t.Fatalf("got %d history points, want only the seeded sample", len(env.Data))
	}
	if env.Data[0].GPUUtilization != 78.5 || env.Data[0].QueueDepth != 3 {
		t.Errorf("history point = %+v", env.Data[0])
	}
	if env.Message != "Retrieved 1 historical metrics for server default-gpu-server" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestAPIGPUHistoryUnknownServer(t *testing.T) {
	_, _, _, r := testSystem(t)

	w := doRequest(t, r, http.MethodGet, "/api/gpu/history/9999")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var env models.HistoryEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != models.StatusError {
		t.Errorf("status = %q, want error", env.Status)
	}
	if env.Message != "Server with ID 9999 not found" {
		t.Errorf("message = %q", env.Message)
	}
	if env.Data == nil || len(env.Data) != 0 {
		t.Errorf("data = %v, want an empty (non-null) array", env.Data)
	}

	if w := doRequest(t, r, http.MethodGet, "/api/gpu/history/not-a-number"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", w.Code)
	}
}

func TestAPIHealthReportsComponents(t *testing.T) {
	_, st, _, r := testSystem(t)
	if _, err := st.SeedDemoData(context.Background()); err != nil {
		t.Fatalf("SeedDemoData: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Status     string `json:"status"`
		Components struct {
			Database struct {
				Status string `json:"status"`
			} `json:"database"`
			GPUServers struct {
				Status string `json:"status"`
				Count  int    `json:"count"`
			} `json:"gpu_servers"`
			Websocket struct {
				Status  string `json:"status"`
				Clients int    `json:"clients"`
			} `json:"websocket"`
		} `json:"components"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Components.Database.Status != "healthy" {
		t.Errorf("database status = %q", body.Components.Database.Status)
	}
	if body.Components.GPUServers.Count != 2 {
		t.Errorf("gpu server count = %d, want 2", body.Components.GPUServers.Count)
	}
	if body.Components.Websocket.Status != "ok" || body.Components.Websocket.Clients != 0 {
		t.Errorf("websocket component = %+v", body.Components.Websocket)
	}
}

func TestAPIHeatmapServesCurrentState(t *testing.T) {
	_, _, _, r := testSystem(t)

	// Before any cycle the broadcaster reports the initial loading state.
	w := doRequest(t, r, http.MethodGet, "/api/gpu/heatmap")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var event struct {
		Type    string `json:"type"`
		State   string `json:"state"`
		Loading bool   `json:"loading"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != "heatmap" || event.State != StateLoading || !event.Loading {
		t.Errorf("initial event = %+v", event)
	}

	// After a seed plus refresh the endpoint serves the data state.
	doRequest(t, r, http.MethodGet, "/api/gpu/seed-demo-data")
	w = doRequest(t, r, http.MethodGet, "/api/gpu/heatmap")
	var after struct {
		State string         `json:"state"`
		Frame *heatmap.Frame `json:"frame"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if after.State != StateData || after.Frame == nil {
		t.Fatalf("post-seed event state=%q frame=%v", after.State, after.Frame)
	}
}
