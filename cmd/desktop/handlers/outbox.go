// Package handlers provides REST API handlers for the terminal outbox.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/models"
	"github.com/tablepos/terminal/internal/outbox/scheduler"
)

// Outbox is the scheduler surface exposed over HTTP.
type Outbox interface {
	Enqueue(ctx context.Context, op scheduler.Operation) (string, error)
	EnqueueTableOperation(ctx context.Context, tableID string, action scheduler.Action, data json.RawMessage) (string, error)
	EnqueueOrderOperation(ctx context.Context, orderID string, action scheduler.Action, data json.RawMessage) (string, error)
	ProcessPass(ctx context.Context) scheduler.PassResult
	Status() scheduler.Status
	Items() []*models.QueueItem
	Clear(ctx context.Context) error
	Pause()
	Resume()
}

// ConnectivitySink receives the desktop shell's online/offline events.
type ConnectivitySink interface {
	IsOnline() bool
	SetOnline(online bool) bool
}

// MetricsSource exposes in-process metric values.
type MetricsSource interface {
	Snapshot(ctx context.Context) (map[string]float64, error)
}

// OutboxHandler handles outbox operations.
type OutboxHandler struct {
	outbox  Outbox
	network ConnectivitySink
	metrics MetricsSource
}

// NewOutboxHandler creates a new OutboxHandler. metrics may be nil.
func NewOutboxHandler(outbox Outbox, network ConnectivitySink, metrics MetricsSource) *OutboxHandler {
	return &OutboxHandler{
		outbox:  outbox,
		network: network,
		metrics: metrics,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeEnqueueError maps validation failures to 400.
func writeEnqueueError(w http.ResponseWriter, err error) {
	if apperrors.Is(err, apperrors.KindValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// GetStatus handles GET /api/outbox/status
func (h *OutboxHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.outbox.Status())
}

// ListItems handles GET /api/outbox/items
// Items are returned in replay order.
func (h *OutboxHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items := h.outbox.Items()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// Enqueue handles POST /api/outbox/enqueue
func (h *OutboxHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var op scheduler.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.outbox.Enqueue(r.Context(), op)
	if err != nil {
		writeEnqueueError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

type entityRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EnqueueTable handles POST /api/outbox/tables/{id}
func (h *OutboxHandler) EnqueueTable(w http.ResponseWriter, r *http.Request) {
	h.enqueueEntity(w, r, h.outbox.EnqueueTableOperation)
}

// EnqueueOrder handles POST /api/outbox/orders/{id}
func (h *OutboxHandler) EnqueueOrder(w http.ResponseWriter, r *http.Request) {
	h.enqueueEntity(w, r, h.outbox.EnqueueOrderOperation)
}

func (h *OutboxHandler) enqueueEntity(w http.ResponseWriter, r *http.Request,
	enqueue func(ctx context.Context, id string, action scheduler.Action, data json.RawMessage) (string, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request entityRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	id, err := enqueue(r.Context(), r.PathValue("id"), scheduler.Action(request.Action), request.Data)
	if err != nil {
		writeEnqueueError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

// Process handles POST /api/outbox/process
// Runs a pass synchronously, e.g. from a "sync now" button.
func (h *OutboxHandler) Process(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := h.outbox.ProcessPass(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
		"status": h.outbox.Status(),
	})
}

// Clear handles POST /api/outbox/clear
func (h *OutboxHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.outbox.Clear(r.Context()); err != nil {
		logging.Error("Failed to clear outbox", err, map[string]interface{}{"component": "api"})
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, h.outbox.Status())
}

// Pause handles POST /api/outbox/pause
func (h *OutboxHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.outbox.Pause()
	writeJSON(w, http.StatusOK, h.outbox.Status())
}

// Resume handles POST /api/outbox/resume
func (h *OutboxHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.outbox.Resume()
	writeJSON(w, http.StatusOK, h.outbox.Status())
}

// SetConnectivity handles POST /api/connectivity
// The desktop shell forwards its online/offline events here.
func (h *OutboxHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}

	changed := h.network.SetOnline(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":  h.network.IsOnline(),
		"changed": changed,
	})
}

// GetMetrics handles GET /api/outbox/metrics
func (h *OutboxHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.metrics == nil {
		http.Error(w, "Metrics are disabled", http.StatusNotFound)
		return
	}

	values, err := h.metrics.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, values)
}
