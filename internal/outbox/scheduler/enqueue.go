package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/models"
)

// Operation is an enqueue request. Method and URL are required; the other
// fields default to normal priority and the scheduler's retry budget.
type Operation struct {
	Method     string               `json:"method"`
	URL        string               `json:"url"`
	Data       json.RawMessage      `json:"data,omitempty"`
	Config     models.RequestConfig `json:"config"`
	Priority   models.Priority      `json:"priority,omitempty"`
	MaxRetries int                  `json:"max_retries,omitempty"`
	Metadata   models.Metadata      `json:"metadata"`
}

// Enqueue validates op, appends it and persists the queue. When online and
// running, a pass is scheduled immediately. It returns the new item id.
// Invalid input returns a VALIDATION_ERROR and leaves the queue untouched.
func (s *Scheduler) Enqueue(ctx context.Context, op Operation) (string, error) {
	item, err := s.newItem(op)
	if err != nil {
		logging.Warn("Rejected outbox operation",
			map[string]interface{}{"component": "scheduler", "error": err.Error()})
		return "", err
	}

	s.ensureLoaded(ctx)
	s.queue.Append(item)
	// The item stays queued in memory even if this save fails.
	s.persist(ctx)
	s.metrics.QueueDepth(ctx, s.queue.Len())

	logging.Info("Operation queued",
		map[string]interface{}{
			"component": "scheduler",
			"item_id":   item.ID,
			"method":    string(item.Method),
			"url":       item.URL,
			"priority":  string(item.Priority),
			"type":      item.Metadata.Type,
		})

	if s.monitor.IsOnline() {
		s.trigger("enqueue")
	}

	return item.ID, nil
}

func (s *Scheduler) newItem(op Operation) (*models.QueueItem, error) {
	if strings.TrimSpace(op.Method) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "method is required")
	}
	method := models.NormalizeMethod(op.Method)
	if !method.Valid() {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("unsupported method %q", op.Method))
	}

	rawURL := strings.TrimSpace(op.URL)
	if rawURL == "" {
		return nil, apperrors.New(apperrors.KindValidation, "url is required")
	}

	priority := op.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown priority %q", op.Priority))
	}

	if op.MaxRetries < 0 {
		return nil, apperrors.New(apperrors.KindValidation, "max_retries must not be negative")
	}
	maxRetries := op.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.maxRetries
	}

	if len(op.Data) > 0 && !json.Valid(op.Data) {
		return nil, apperrors.New(apperrors.KindValidation, "data must be valid JSON")
	}

	return &models.QueueItem{
		ID:         s.ids(),
		Method:     method,
		URL:        rawURL,
		Data:       op.Data,
		Config:     op.Config,
		Timestamp:  s.now().UTC(),
		Priority:   priority,
		Retries:    0,
		MaxRetries: maxRetries,
		Metadata:   op.Metadata,
	}, nil
}

// Action is a logical change to a restaurant entity.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionPatch  Action = "patch"
	ActionStatus Action = "status"
	ActionDelete Action = "delete"
)

// Entity types used in metadata.type and as API collections.
const (
	EntityTable = "table"
	EntityOrder = "order"
)

// EnqueueTableOperation queues a change to a table. Table changes replay with
// normal priority.
func (s *Scheduler) EnqueueTableOperation(ctx context.Context, tableID string, action Action, data json.RawMessage) (string, error) {
	op, err := entityOperation("/tables", EntityTable, tableID, action, data)
	if err != nil {
		return "", err
	}
	op.Priority = models.PriorityNormal
	return s.Enqueue(ctx, op)
}

// EnqueueOrderOperation queues a change to an order. Orders carry money and
// kitchen tickets, so they replay with high priority.
func (s *Scheduler) EnqueueOrderOperation(ctx context.Context, orderID string, action Action, data json.RawMessage) (string, error) {
	op, err := entityOperation("/orders", EntityOrder, orderID, action, data)
	if err != nil {
		return "", err
	}
	op.Priority = models.PriorityHigh
	return s.Enqueue(ctx, op)
}

// entityOperation maps an action to a REST call:
// create is POST on the collection, update PUT on the item,
// patch and status PATCH on the item, delete DELETE on the item.
func entityOperation(collection, entityType, id string, action Action, data json.RawMessage) (Operation, error) {
	id = strings.TrimSpace(id)
	action = Action(strings.ToLower(strings.TrimSpace(string(action))))
	itemURL := collection + "/" + url.PathEscape(id)

	op := Operation{
		Data: data,
		Metadata: models.Metadata{
			Type:      entityType,
			EntityID:  id,
			Operation: string(action),
		},
	}

	switch action {
	case ActionCreate:
		op.Method, op.URL = string(models.MethodPost), collection
	case ActionUpdate:
		op.Method, op.URL = string(models.MethodPut), itemURL
	case ActionPatch, ActionStatus:
		op.Method, op.URL = string(models.MethodPatch), itemURL
	case ActionDelete:
		op.Method, op.URL = string(models.MethodDelete), itemURL
		op.Data = nil
	default:
		return Operation{}, apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("unknown %s action %q", entityType, action))
	}

	if id == "" && op.URL != collection {
		return Operation{}, apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("%s id is required for %s", entityType, action))
	}

	return op, nil
}
