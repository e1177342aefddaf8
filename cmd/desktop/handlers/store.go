package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/models"
	"github.com/tablepos/terminal/internal/outbox/persistence"
)

// maxSnapshotBytes bounds a PUT body.
const maxSnapshotBytes = 16 << 20

// StoreHandler is the persistence owner behind persistence.HostPersistence:
// renderers and companion processes load and save their queue snapshot here.
type StoreHandler struct {
	storeFor func(key string) persistence.QueuePersistence
}

// NewStoreHandler creates a StoreHandler. storeFor returns the durable
// backend for a queue key.
func NewStoreHandler(storeFor func(key string) persistence.QueuePersistence) *StoreHandler {
	return &StoreHandler{storeFor: storeFor}
}

// ServeHTTP handles GET and PUT /api/outbox/store?key=...
func (h *StoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		key = persistence.DefaultKey
	}
	store := h.storeFor(key)

	switch r.Method {
	case http.MethodGet:
		items, err := store.Load(r.Context())
		if err != nil {
			logging.Error("Failed to load stored snapshot", err,
				map[string]interface{}{"component": "api", "key": key})
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []*models.QueueItem{}
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPut:
		var items []*models.QueueItem
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBytes)).Decode(&items); err != nil {
			http.Error(w, "Invalid snapshot: expected a JSON array of queue items", http.StatusBadRequest)
			return
		}
		if err := store.Save(r.Context(), items); err != nil {
			logging.Error("Failed to save stored snapshot", err,
				map[string]interface{}{"component": "api", "key": key})
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
