// Package models provides data model definitions for the terminal outbox.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Method is the HTTP verb of a queued operation.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// NormalizeMethod upper-cases and trims a raw verb.
func NormalizeMethod(raw string) Method {
	return Method(strings.ToUpper(strings.TrimSpace(raw)))
}

// Valid reports whether m is one of the supported verbs.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// Priority is the replay tier of a queued operation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, higher first. Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Normalize maps unknown values to PriorityNormal, matching Rank.
func (p Priority) Normalize() Priority {
	if p.Valid() {
		return p
	}
	return PriorityNormal
}

// RequestConfig carries per-call overrides for a replayed request.
type RequestConfig struct {
	TimeoutMs int               `json:"timeout_ms,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Timeout returns the configured timeout, zero when unset.
func (c RequestConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LastError describes the most recent failed attempt.
type LastError struct {
	Message    string    `json:"message"`
	Kind       string    `json:"kind"`
	StatusCode int       `json:"status_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Metadata tags an operation for status reporting only.
type Metadata struct {
	Type      string            `json:"type,omitempty"`      // table, order, ...
	EntityID  string            `json:"entity_id,omitempty"` // id of the touched entity
	Operation string            `json:"operation,omitempty"` // create, update, ...
	Tags      map[string]string `json:"tags,omitempty"`
}

// QueueItem is a pending side-effecting operation.
type QueueItem struct {
	ID         string          `json:"id"`
	Method     Method          `json:"method"`
	URL        string          `json:"url"`
	Data       json.RawMessage `json:"data,omitempty"`
	Config     RequestConfig   `json:"config"`
	Timestamp  time.Time       `json:"timestamp"`
	Priority   Priority        `json:"priority"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	LastError  *LastError      `json:"last_error,omitempty"`
	NextRetry  *time.Time      `json:"next_retry,omitempty"`
	Metadata   Metadata        `json:"metadata"`
}

// Clone returns a deep copy, so callbacks and status readers never alias
// the scheduler's live items.
func (item *QueueItem) Clone() *QueueItem {
	if item == nil {
		return nil
	}

	c := *item
	if item.Data != nil {
		c.Data = append(json.RawMessage(nil), item.Data...)
	}
	if item.Config.Headers != nil {
		c.Config.Headers = make(map[string]string, len(item.Config.Headers))
		for k, v := range item.Config.Headers {
			c.Config.Headers[k] = v
		}
	}
	if item.LastError != nil {
		le := *item.LastError
		c.LastError = &le
	}
	if item.NextRetry != nil {
		nr := *item.NextRetry
		c.NextRetry = &nr
	}
	if item.Metadata.Tags != nil {
		c.Metadata.Tags = make(map[string]string, len(item.Metadata.Tags))
		for k, v := range item.Metadata.Tags {
			c.Metadata.Tags[k] = v
		}
	}
	return &c
}

// Expired reports whether the item is older than retention at now.
func (item *QueueItem) Expired(now time.Time, retention time.Duration) bool {
	if retention <= 0 {
		return false
	}
	return now.Sub(item.Timestamp) > retention
}
