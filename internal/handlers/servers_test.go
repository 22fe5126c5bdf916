package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"llmdash/internal/models"
	"llmdash/internal/store"
)

func testServerRouter(t *testing.T) (*store.Store, *gin.Engine) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "llmdash.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := NewServerHandlers(st, nil)
	r := gin.New()
	r.GET("/api/servers", h.APIServers)
	r.POST("/api/servers", h.APIServerCreate)
	r.PUT("/api/servers/:server_id", h.APIServerUpdate)
	r.POST("/api/servers/:server_id/deactivate", h.APIServerDeactivate)
	return st, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIServerCreate(t *testing.T) {
	_, r := testServerRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/servers",
		`{"name":"gpu-1","host":"10.0.0.1","port":8080,"gpu_count":4,"gpu_memory":24}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Server models.ServerNode `json:"server"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Server.ID == 0 || resp.Server.Name != "gpu-1" {
		t.Errorf("created server = %+v", resp.Server)
	}
	if !resp.Server.IsActive {
		t.Error("server not active by default")
	}
}

func TestAPIServerCreateDefaults(t *testing.T) {
	_, r := testServerRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/servers", `{"name":"bare","host":"h"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Server models.ServerNode `json:"server"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Server.GPUCount != 1 || resp.Server.GPUMemory != 24 || resp.Server.Port != 8080 {
		t.Errorf("defaults not applied: %+v", resp.Server)
	}
}

func TestAPIServerCreateValidation(t *testing.T) {
	_, r := testServerRouter(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"host":"h"}`},
		{"missing host", `{"name":"n"}`},
		{"bad port", `{"name":"n","host":"h","port":70000}`},
		{"malformed json", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/servers", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAPIServerCreateDuplicate(t *testing.T) {
	_, r := testServerRouter(t)
	body := `{"name":"dup","host":"h"}`
	if w := doJSON(t, r, http.MethodPost, "/api/servers", body); w.Code != http.StatusCreated {
		t.Fatalf("first create: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/servers", body); w.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", w.Code)
	}
}

func TestAPIServersList(t *testing.T) {
	st, r := testServerRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/servers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Servers []models.ServerNode `json:"servers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Servers == nil || len(resp.Servers) != 0 {
		t.Fatalf("empty registry = %v, want empty array", resp.Servers)
	}

	if _, err := st.CreateServer(context.Background(), models.ServerNode{Name: "n", Host: "h", IsActive: true}); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	w = doJSON(t, r, http.MethodGet, "/api/servers", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(resp.Servers))
	}
}

func TestAPIServerUpdate(t *testing.T) {
	st, r := testServerRouter(t)
	node, err := st.CreateServer(context.Background(), models.ServerNode{
		Name: "n", Host: "old", Port: 8080, GPUCount: 1, GPUMemory: 24, IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	w := doJSON(t, r, http.MethodPut, fmt.Sprintf("/api/servers/%d", node.ID),
		`{"name":"n","host":"new-host","port":9090,"is_active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	got, err := st.ServerByID(context.Background(), node.ID)
	if err != nil {
		t.Fatalf("ServerByID: %v", err)
	}
	if got.Host != "new-host" || got.Port != 9090 || got.IsActive {
		t.Errorf("updated node = %+v", got)
	}
	// Fields omitted from the payload keep their values.
	if got.GPUCount != 1 || got.GPUMemory != 24 {
		t.Errorf("omitted fields changed: %+v", got)
	}
}

func TestAPIServerUpdateNotFound(t *testing.T) {
	_, r := testServerRouter(t)
	w := doJSON(t, r, http.MethodPut, "/api/servers/9999", `{"name":"n","host":"h"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	w = doJSON(t, r, http.MethodPut, "/api/servers/not-a-number", `{"name":"n","host":"h"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", w.Code)
	}
}

func TestAPIServerDeactivate(t *testing.T) {
	st, r := testServerRouter(t)
	node, err := st.CreateServer(context.Background(), models.ServerNode{Name: "n", Host: "h", IsActive: true})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/servers/%d/deactivate", node.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got, err := st.ServerByID(context.Background(), node.ID)
	if err != nil {
		t.Fatalf("ServerByID: %v", err)
	}
	if got.IsActive {
		t.Error("server still active after deactivate")
	}

	w = doJSON(t, r, http.MethodPost, "/api/servers/9999/deactivate", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing server status = %d, want 404", w.Code)
	}
}
