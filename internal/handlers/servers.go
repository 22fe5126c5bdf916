package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"llmdash/internal/middleware"
	"llmdash/internal/models"
	"llmdash/internal/store"
	"llmdash/internal/utils"
)

// ServerHandlers manages the GPU server node registry.
type ServerHandlers struct {
	store  *store.Store
	logger *utils.Logger
}

// NewServerHandlers builds the server registry handler set.
func NewServerHandlers(st *store.Store, logger *utils.Logger) *ServerHandlers {
	return &ServerHandlers{store: st, logger: logger}
}

// ServerPayload is the create/update request body for a server node.
type ServerPayload struct {
	Name      string  `json:"name" validate:"required,min=1,max=64"`
	Host      string  `json:"host" validate:"required,max=128"`
	Port      int     `json:"port" validate:"omitempty,min=1,max=65535"`
	APIKey    string  `json:"api_key" validate:"omitempty,max=256"`
	GPUCount  int     `json:"gpu_count" validate:"omitempty,min=1,max=64"`
	GPUMemory float64 `json:"gpu_memory" validate:"omitempty,gt=0"`
	IsActive  *bool   `json:"is_active"`
}

// APIServers lists every registered server node.
func (h *ServerHandlers) APIServers(c *gin.Context) {
	servers, err := h.store.AllServers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing servers"})
		return
	}
	if servers == nil {
		servers = []models.ServerNode{}
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// APIServerCreate registers a new server node.
func (h *ServerHandlers) APIServerCreate(c *gin.Context) {
	payload, ok := h.bindPayload(c)
	if !ok {
		return
	}
	node := models.ServerNode{
		Name:      middleware.SanitizeString(payload.Name),
		Host:      middleware.SanitizeString(payload.Host),
		Port:      payload.Port,
		APIKey:    payload.APIKey,
		GPUCount:  payload.GPUCount,
		GPUMemory: payload.GPUMemory,
		IsActive:  payload.IsActive == nil || *payload.IsActive,
	}
	if node.GPUCount == 0 {
		node.GPUCount = 1
	}
	if node.GPUMemory == 0 {
		node.GPUMemory = 24
	}

	created, err := h.store.CreateServer(c.Request.Context(), node)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{"error": "Server name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating server"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"server": created})
}

// APIServerUpdate modifies an existing server node.
func (h *ServerHandlers) APIServerUpdate(c *gin.Context) {
	id, ok := h.serverID(c)
	if !ok {
		return
	}
	node, err := h.store.ServerByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	payload, ok := h.bindPayload(c)
	if !ok {
		return
	}

	node.Host = middleware.SanitizeString(payload.Host)
	if payload.Port != 0 {
		node.Port = payload.Port
	}
	if payload.APIKey != "" {
		node.APIKey = payload.APIKey
	}
	if payload.GPUCount != 0 {
		node.GPUCount = payload.GPUCount
	}
	if payload.GPUMemory != 0 {
		node.GPUMemory = payload.GPUMemory
	}
	if payload.IsActive != nil {
		node.IsActive = *payload.IsActive
	}

	if err := h.store.UpdateServer(c.Request.Context(), node); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": node})
}

// APIServerDeactivate removes a server from the active fleet without
// deleting its history.
func (h *ServerHandlers) APIServerDeactivate(c *gin.Context) {
	id, ok := h.serverID(c)
	if !ok {
		return
	}
	if err := h.store.SetActive(c.Request.Context(), id, false); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusSuccess})
}

func (h *ServerHandlers) bindPayload(c *gin.Context) (ServerPayload, bool) {
	var payload ServerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return payload, false
	}
	if err := middleware.ValidateStruct(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return payload, false
	}
	return payload, true
}

func (h *ServerHandlers) serverID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("server_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid server id"})
		return 0, false
	}
	return id, true
}

func (h *ServerHandlers) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Server operation failed"})
}
