// Package retry decides what happens to a queued operation after a failed attempt.
package retry

import (
	"math"
	"time"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

const (
	// DefaultBaseDelay is the backoff unit.
	DefaultBaseDelay = time.Second

	// MaxDelay caps the computed backoff.
	MaxDelay = time.Hour

	maxShift = 62
)

// Decision is the outcome of applying the policy to a failure.
type Decision int

const (
	// DecisionRetry keeps the item pending for a later pass.
	DecisionRetry Decision = iota
	// DecisionDrop removes the item as permanently failed.
	DecisionDrop
)

func (d Decision) String() string {
	if d == DecisionDrop {
		return "drop"
	}
	return "retry"
}

// Policy applies bounded retries with exponential backoff.
type Policy struct {
	BaseDelay time.Duration
}

// NewPolicy creates a Policy; a non-positive base uses DefaultBaseDelay.
func NewPolicy(base time.Duration) Policy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return Policy{BaseDelay: base}
}

// Backoff returns BaseDelay * 2^retries, capped at MaxDelay.
func (p Policy) Backoff(retries int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if retries < 0 {
		retries = 0
	} else if retries > maxShift {
		retries = maxShift
	}

	multiplier := int64(1) << retries
	if int64(p.BaseDelay) > math.MaxInt64/multiplier {
		return MaxDelay
	}

	delay := time.Duration(int64(p.BaseDelay) * multiplier)
	if delay > MaxDelay {
		return MaxDelay
	}
	return delay
}

// Apply records a failed attempt on item and decides its fate.
// It increments Retries, stores LastError and, for a retry, NextRetry.
func (p Policy) Apply(item *models.QueueItem, err error, now time.Time) Decision {
	item.Retries++
	item.LastError = &models.LastError{
		Message:    errorMessage(err),
		Kind:       string(apperrors.KindOf(err)),
		StatusCode: apperrors.StatusCode(err),
		Timestamp:  now,
	}

	if item.Retries >= item.MaxRetries {
		item.NextRetry = nil
		return DecisionDrop
	}

	next := now.Add(p.Backoff(item.Retries))
	item.NextRetry = &next
	return DecisionRetry
}

// Ready reports whether item's backoff has elapsed at now.
func Ready(item *models.QueueItem, now time.Time) bool {
	return item.NextRetry == nil || !now.Before(*item.NextRetry)
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
