package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"llmdash/internal/heatmap"
	"llmdash/internal/middleware"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Heatmap display states pushed to dashboard clients.
const (
	StateLoading = "loading"
	StateData    = "data"
	StateEmpty   = "empty"
	StateError   = "error"
)

// frameEvent is the wire shape broadcast over the websocket hub and served
// by the heatmap GET endpoint.
type frameEvent struct {
	Type      string         `json:"type"`
	State     string         `json:"state"`
	Message   string         `json:"message,omitempty"`
	Frame     *heatmap.Frame `json:"frame,omitempty"`
	Loading   bool           `json:"loading"`
	UpdatedAt string         `json:"updated_at"`
}

// FrameBroadcaster is the production ViewSink: it holds the current heatmap
// display state, pushes every transition to the websocket hub, and answers
// HTTP reads with the latest state. The three terminal states are mutually
// exclusive; loading overlays whichever state is current.
type FrameBroadcaster struct {
	hub *middleware.Hub

	mu      sync.Mutex
	state   string
	message string
	frame   *heatmap.Frame
	loading bool
}

// NewFrameBroadcaster builds a sink over the given hub. A nil hub disables
// broadcasting, which tests use.
func NewFrameBroadcaster(hub *middleware.Hub) *FrameBroadcaster {
	return &FrameBroadcaster{hub: hub, state: StateLoading, loading: true}
}

// ShowLoading marks a cycle as in flight.
func (f *FrameBroadcaster) ShowLoading() {
	f.transition(func() { f.loading = true })
}

// HideLoading clears the in-flight marker; the terminal state is untouched.
func (f *FrameBroadcaster) HideLoading() {
	f.transition(func() { f.loading = false })
}

// ShowData replaces the display with a fresh frame.
func (f *FrameBroadcaster) ShowData(frame *heatmap.Frame) {
	f.transition(func() {
		f.state = StateData
		f.frame = frame
		f.message = ""
		f.loading = false
	})
}

// ShowEmpty displays the no-servers placeholder (not an error).
func (f *FrameBroadcaster) ShowEmpty(message string) {
	f.transition(func() {
		f.state = StateEmpty
		f.frame = nil
		f.message = message
		f.loading = false
	})
}

// ShowError displays a failed cycle with its cause.
func (f *FrameBroadcaster) ShowError(message string) {
	f.transition(func() {
		f.state = StateError
		f.frame = nil
		f.message = message
		f.loading = false
	})
}

func (f *FrameBroadcaster) transition(apply func()) {
	f.mu.Lock()
	apply()
	event := f.eventLocked()
	f.mu.Unlock()

	if f.hub == nil {
		return
	}
	if payload, err := json.Marshal(event); err == nil {
		f.hub.Broadcast(payload)
	}
}

func (f *FrameBroadcaster) eventLocked() frameEvent {
	return frameEvent{
		Type:      "heatmap",
		State:     f.state,
		Message:   f.message,
		Frame:     f.frame,
		Loading:   f.loading,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Snapshot returns the current display state.
func (f *FrameBroadcaster) Snapshot() (state, message string, frame *heatmap.Frame, loading bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.message, f.frame, f.loading
}

// APIHeatmap serves the current rendered heatmap state for dashboards that
// poll over HTTP instead of holding a websocket open.
func (f *FrameBroadcaster) APIHeatmap(c *gin.Context) {
	f.mu.Lock()
	event := f.eventLocked()
	f.mu.Unlock()
	c.JSON(http.StatusOK, event)
}
