package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

// StorePath is the host endpoint owning the persisted queue.
const StorePath = "/api/outbox/store"

// HostPersistence round-trips the snapshot to the desktop host process,
// which owns the durable copy.
type HostPersistence struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
}

// NewHostPersistence creates a HostPersistence talking to baseURL.
// A nil client gets a 5 second timeout; the host is local.
func NewHostPersistence(baseURL string, client *http.Client, opts Options) *HostPersistence {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HostPersistence{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		opts:       opts.withDefaults(),
	}
}

func (h *HostPersistence) endpoint() string {
	return h.baseURL + StorePath + "?key=" + url.QueryEscape(h.opts.Key)
}

// Load fetches the snapshot from the host.
func (h *HostPersistence) Load(ctx context.Context) ([]*models.QueueItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(), nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "build host load request", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := h.do(req)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(body, h.opts)
}

// Save sends the whole snapshot to the host.
func (h *HostPersistence) Save(ctx context.Context, items []*models.QueueItem) error {
	data, err := encodeSnapshot(items)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.endpoint(), bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "build host save request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = h.do(req)
	return err
}

func (h *HostPersistence) do(req *http.Request) ([]byte, error) {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "host persistence unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "read host response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperrors.AppError{
			Kind:       apperrors.KindPersistence,
			Message:    fmt.Sprintf("host persistence %s failed", req.Method),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}
