package executor

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

// DefaultTimeout bounds one background replay. Interactive calls use the
// API client's own, longer timeout.
const DefaultTimeout = 10 * time.Second

// Executor maps a queued item's method onto the HTTPClient.
type Executor struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates an Executor; a non-positive timeout uses DefaultTimeout.
func New(client HTTPClient, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{client: client, timeout: timeout}
}

// Execute performs one attempt of item. Errors come back exactly as the
// client raised them; the executor never retries.
func (e *Executor) Execute(ctx context.Context, item *models.QueueItem) error {
	timeout := e.timeout
	if t := item.Config.Timeout(); t > 0 {
		timeout = t
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch item.Method {
	case models.MethodGet:
		return e.client.Get(ctx, item.URL, item.Config)
	case models.MethodPost:
		return e.client.Post(ctx, item.URL, item.Data, item.Config)
	case models.MethodPut:
		return e.client.Put(ctx, item.URL, item.Data, item.Config)
	case models.MethodPatch:
		return e.client.Patch(ctx, item.URL, item.Data, item.Config)
	case models.MethodDelete:
		return e.client.Delete(ctx, item.URL, item.Data, item.Config)
	}

	return apperrors.New(apperrors.KindValidation, fmt.Sprintf("unsupported method %q", item.Method))
}
