// Package scheduler replays queued operations against the restaurant API.
//
// A Scheduler owns the in-memory queue and its persisted mirror. Operations
// are enqueued by the host, replayed in passes (periodic, after enqueue and
// on connectivity restoration) and removed on success or once their retry
// budget is spent. At most one pass runs at a time.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/models"
	"github.com/tablepos/terminal/internal/outbox/connectivity"
	"github.com/tablepos/terminal/internal/outbox/persistence"
	"github.com/tablepos/terminal/internal/outbox/queue"
	"github.com/tablepos/terminal/internal/outbox/retry"
	"github.com/tablepos/terminal/internal/telemetry"
	"github.com/tablepos/terminal/internal/uuid"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultMaxRetries = 5
)

// PersistMode selects when the queue is written back to persistence.
type PersistMode string

const (
	// PersistPerPass saves once at the end of every pass. A crash between a
	// successful call and that save replays the call on restart, so delivery
	// is at-least-once.
	PersistPerPass PersistMode = "pass"

	// PersistPerItem also saves after every success, drop and retry.
	PersistPerItem PersistMode = "item"
)

// ParsePersistMode validates a configuration value. Empty means PersistPerPass.
func ParsePersistMode(s string) (PersistMode, error) {
	switch PersistMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PersistPerPass:
		return PersistPerPass, nil
	case PersistPerItem:
		return PersistPerItem, nil
	}
	return "", apperrors.New(apperrors.KindValidation, fmt.Sprintf("unknown persist mode %q", s))
}

// Executor performs one queued operation.
type Executor interface {
	Execute(ctx context.Context, item *models.QueueItem) error
}

// Monitor reports connectivity. *connectivity.Monitor satisfies it.
type Monitor interface {
	IsOnline() bool
	OnRestored(fn func()) func()
	OnLost(fn func()) func()
}

// Callbacks are host notifications. Each is optional. They run on the
// goroutine that produced the event, never while the queue is locked.
type Callbacks struct {
	OnItemProcessed   func(item *models.QueueItem)
	OnItemFailed      func(item *models.QueueItem, err error)
	OnQueueEmpty      func()
	OnNetworkRestored func()
	OnNetworkLost     func()
}

// Options configure a Scheduler. Persistence and Executor are required.
type Options struct {
	Persistence persistence.QueuePersistence
	Executor    Executor
	Monitor     Monitor // defaults to connectivity.NewAlwaysOnline()
	Policy      retry.Policy
	Interval    time.Duration
	MaxRetries  int
	PersistMode PersistMode

	// EnforceBackoff skips items whose NextRetry is still in the future.
	// When false every pass retries every pending item.
	EnforceBackoff bool

	IDs     uuid.Generator
	Now     func() time.Time
	Metrics *telemetry.Metrics

	Callbacks Callbacks
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	QueueLength int            `json:"queue_length"`
	Processing  bool           `json:"processing"`
	Online      bool           `json:"online"`
	Paused      bool           `json:"paused"`
	Running     bool           `json:"running"`
	LastPassAt  *time.Time     `json:"last_pass_at,omitempty"`
	ByPriority  map[string]int `json:"by_priority"`
	ByType      map[string]int `json:"by_type"`
}

// PassResult summarizes one call to ProcessPass.
type PassResult struct {
	Ran       bool `json:"ran"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Retried   int  `json:"retried"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
}

// Scheduler manages the outbox queue and its replay passes.
type Scheduler struct {
	store    persistence.QueuePersistence
	executor Executor
	monitor  Monitor
	policy   retry.Policy
	interval time.Duration

	maxRetries     int
	persistMode    PersistMode
	enforceBackoff bool

	ids       uuid.Generator
	now       func() time.Time
	metrics   *telemetry.Metrics
	callbacks Callbacks

	queue      *queue.Queue
	processing atomic.Bool
	paused     atomic.Bool

	loadMu sync.Mutex
	loaded bool

	// persistMu serializes saves so the last write always carries the
	// latest snapshot.
	persistMu sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	running     bool
	destroyed   bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe []func()
	lastPassAt  time.Time
}

// New creates a Scheduler. Call Start to load the persisted queue and begin
// periodic passes.
func New(opts Options) (*Scheduler, error) {
	if opts.Persistence == nil {
		return nil, apperrors.New(apperrors.KindValidation, "scheduler requires a persistence backend")
	}
	if opts.Executor == nil {
		return nil, apperrors.New(apperrors.KindValidation, "scheduler requires an executor")
	}
	if opts.Monitor == nil {
		opts.Monitor = connectivity.NewAlwaysOnline()
	}
	if opts.Policy.BaseDelay <= 0 {
		opts.Policy = retry.NewPolicy(0)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.PersistMode == "" {
		opts.PersistMode = PersistPerPass
	}
	if opts.IDs == nil {
		opts.IDs = uuid.New
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		store:          opts.Persistence,
		executor:       opts.Executor,
		monitor:        opts.Monitor,
		policy:         opts.Policy,
		interval:       opts.Interval,
		maxRetries:     opts.MaxRetries,
		persistMode:    opts.PersistMode,
		enforceBackoff: opts.EnforceBackoff,
		ids:            opts.IDs,
		now:            opts.Now,
		metrics:        opts.Metrics,
		callbacks:      opts.Callbacks,
		queue:          queue.New(nil),
		ctx:            context.Background(),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start loads the persisted snapshot, subscribes to connectivity changes and
// starts the periodic ticker. If online, a first pass is scheduled right away.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	loaded := s.ensureLoaded(ctx)

	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe,
		s.monitor.OnRestored(s.handleRestored),
		s.monitor.OnLost(s.handleLost),
	)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.tickLoop(ctx)

	logging.Info("Outbox scheduler started",
		map[string]interface{}{
			"component":    "scheduler",
			"loaded":       loaded,
			"interval_sec": s.interval.Seconds(),
			"persist_mode": string(s.persistMode),
			"is_online":    s.monitor.IsOnline(),
		})

	if s.monitor.IsOnline() {
		s.trigger("startup")
	}
}

// Destroy stops the ticker, drops the connectivity subscriptions and waits
// for an in-flight pass to finish. The scheduler cannot be restarted.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.running = false
	close(s.stopCh)
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}

	s.wg.Wait()

	logging.Info("Outbox scheduler stopped", map[string]interface{}{"component": "scheduler"})
}

// ensureLoaded merges the persisted snapshot into the queue once, ahead of
// anything enqueued earlier, so the first save never overwrites it. A failed
// load is logged and leaves the queue as is. It returns how many items
// were loaded.
func (s *Scheduler) ensureLoaded(ctx context.Context) int {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.loaded {
		return 0
	}
	s.loaded = true

	items, err := s.store.Load(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to load outbox snapshot, starting empty",
			string(apperrors.KindPersistence), err,
			map[string]interface{}{"component": "scheduler"})
		return 0
	}
	items = s.normalizeLoaded(items)
	s.queue.Prepend(items)
	return len(items)
}

// normalizeLoaded fills defaults that older or foreign writers may have
// left out and discards items that can never be replayed.
func (s *Scheduler) normalizeLoaded(items []*models.QueueItem) []*models.QueueItem {
	kept := items[:0]
	for _, item := range items {
		if item == nil {
			continue
		}

		item.Method = models.NormalizeMethod(string(item.Method))
		item.URL = strings.TrimSpace(item.URL)
		if !item.Method.Valid() || item.URL == "" {
			logging.Warn("Discarding unreplayable outbox item",
				map[string]interface{}{
					"component": "scheduler",
					"item_id":   item.ID,
					"method":    string(item.Method),
					"url":       item.URL,
				})
			continue
		}

		if item.ID == "" {
			item.ID = s.ids()
		}
		if item.MaxRetries <= 0 {
			item.MaxRetries = s.maxRetries
		}
		if item.Retries < 0 {
			item.Retries = 0
		}
		item.Priority = item.Priority.Normalize()
		if item.Timestamp.IsZero() {
			item.Timestamp = s.now().UTC()
		}
		kept = append(kept, item)
	}
	return kept
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ProcessPass(ctx)
		}
	}
}

// trigger runs a pass in the background when the scheduler is running.
func (s *Scheduler) trigger(reason string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		logging.Debug("Outbox pass triggered",
			map[string]interface{}{"component": "scheduler", "reason": reason})
		s.ProcessPass(ctx)
	}()
}

func (s *Scheduler) handleRestored() {
	logging.Info("Network restored, replaying outbox",
		map[string]interface{}{"component": "scheduler", "queue_length": s.queue.Len()})

	s.fire(func() {
		if s.callbacks.OnNetworkRestored != nil {
			s.callbacks.OnNetworkRestored()
		}
	})
	s.trigger("network_restored")
}

func (s *Scheduler) handleLost() {
	logging.Warn("Network lost, operations will be queued",
		map[string]interface{}{"component": "scheduler", "queue_length": s.queue.Len()})

	s.fire(func() {
		if s.callbacks.OnNetworkLost != nil {
			s.callbacks.OnNetworkLost()
		}
	})
}

// ProcessPass replays every due item once, in priority then FIFO order.
// It is a no-op when a pass is already running, when paused, offline or
// the queue is empty. Execution and persistence failures are contained:
// they are reported through callbacks and logs only.
func (s *Scheduler) ProcessPass(ctx context.Context) PassResult {
	var result PassResult

	s.ensureLoaded(ctx)

	if s.paused.Load() {
		logging.Debug("Outbox paused, skipping pass", map[string]interface{}{"component": "scheduler"})
		return result
	}
	if !s.monitor.IsOnline() {
		logging.Debug("Offline, skipping pass", map[string]interface{}{"component": "scheduler"})
		return result
	}
	if s.queue.Len() == 0 {
		return result
	}
	if !s.processing.CompareAndSwap(false, true) {
		logging.Debug("Outbox pass already in progress, skipping", map[string]interface{}{"component": "scheduler"})
		return result
	}
	defer s.processing.Store(false)

	result.Ran = true
	started := s.now()
	ordered := queue.Order(s.queue.Snapshot())

	logging.Info("Processing outbox pass",
		map[string]interface{}{"component": "scheduler", "count": len(ordered)})

	for _, pending := range ordered {
		if ctx.Err() != nil {
			break
		}

		item, ok := s.queue.Get(pending.ID)
		if !ok {
			continue
		}
		if s.enforceBackoff && !retry.Ready(item, s.now()) {
			result.Skipped++
			continue
		}

		result.Attempted++
		err := s.executor.Execute(ctx, item)
		if err != nil && ctx.Err() != nil {
			// Shutdown interrupted the attempt; it is not counted against the item.
			break
		}

		if err == nil {
			result.Succeeded++
			s.succeed(ctx, item)
		} else {
			switch s.fail(ctx, item, err) {
			case outcomeDropped:
				result.Failed++
			case outcomeRetry:
				result.Retried++
			}
		}

		if s.persistMode == PersistPerItem {
			s.persist(ctx)
		}
	}

	s.persist(ctx)

	depth := s.queue.Len()
	s.metrics.PassCompleted(ctx, s.now().Sub(started))
	s.metrics.QueueDepth(ctx, depth)

	s.mu.Lock()
	s.lastPassAt = s.now()
	s.mu.Unlock()

	logging.Info("Outbox pass completed",
		map[string]interface{}{
			"component": "scheduler",
			"attempted": result.Attempted,
			"succeeded": result.Succeeded,
			"retried":   result.Retried,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
			"remaining": depth,
		})

	if depth == 0 {
		s.fire(func() {
			if s.callbacks.OnQueueEmpty != nil {
				s.callbacks.OnQueueEmpty()
			}
		})
	}

	return result
}

func (s *Scheduler) succeed(ctx context.Context, item *models.QueueItem) {
	s.metrics.ItemProcessed(ctx, item.Metadata.Type)
	if _, ok := s.queue.Remove(item.ID); !ok {
		// Cleared while the attempt was in flight.
		return
	}

	logging.Debug("Outbox operation replayed",
		map[string]interface{}{
			"component": "scheduler",
			"item_id":   item.ID,
			"method":    string(item.Method),
			"url":       item.URL,
		})

	s.fire(func() {
		if s.callbacks.OnItemProcessed != nil {
			s.callbacks.OnItemProcessed(item)
		}
	})
}

// failOutcome is what became of an item after a failed attempt.
type failOutcome int

const (
	outcomeRetry failOutcome = iota
	outcomeDropped
	outcomeGone
)

// fail applies the retry policy to the live item.
func (s *Scheduler) fail(ctx context.Context, item *models.QueueItem, err error) failOutcome {
	var decision retry.Decision
	updated, ok := s.queue.Update(item.ID, func(live *models.QueueItem) {
		decision = s.policy.Apply(live, err, s.now())
	})
	if !ok {
		// Cleared while the attempt was in flight.
		return outcomeGone
	}

	kind := string(apperrors.KindOf(err))

	if decision == retry.DecisionRetry {
		s.metrics.ItemRetried(ctx, updated.Metadata.Type, kind)
		logging.Warn("Outbox operation failed, will retry",
			map[string]interface{}{
				"component":   "scheduler",
				"item_id":     updated.ID,
				"retries":     updated.Retries,
				"max_retries": updated.MaxRetries,
				"next_retry":  updated.NextRetry,
				"error":       err.Error(),
			})
		return outcomeRetry
	}

	if _, ok := s.queue.Remove(updated.ID); !ok {
		return outcomeGone
	}
	s.metrics.ItemFailed(ctx, updated.Metadata.Type, kind)
	logging.ErrorWithCode("Outbox operation dropped", kind,
		fmt.Errorf("%w: %v", apperrors.ErrRetriesExhausted, err),
		map[string]interface{}{
			"component": "scheduler",
			"item_id":   updated.ID,
			"method":    string(updated.Method),
			"url":       updated.URL,
			"retries":   updated.Retries,
		})

	s.fire(func() {
		if s.callbacks.OnItemFailed != nil {
			s.callbacks.OnItemFailed(updated, err)
		}
	})
	return outcomeDropped
}

// persist writes the current queue. Failures are logged, the in-memory
// queue stays authoritative and the next save retries.
func (s *Scheduler) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	items := s.queue.Snapshot()
	if err := s.store.Save(context.WithoutCancel(ctx), items); err != nil {
		logging.ErrorWithCode("Failed to persist outbox", string(apperrors.KindPersistence), err,
			map[string]interface{}{"component": "scheduler", "count": len(items)})
		return err
	}
	return nil
}

// fire runs a host callback, containing panics.
func (s *Scheduler) fire(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Outbox callback panicked", fmt.Errorf("%v", r),
				map[string]interface{}{"component": "scheduler"})
		}
	}()
	fn()
}

// Pause blocks new passes from starting. A pass in flight completes.
func (s *Scheduler) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		logging.Info("Outbox paused", map[string]interface{}{"component": "scheduler"})
	}
}

// Resume allows passes again. The next tick, enqueue or restoration runs one.
func (s *Scheduler) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		logging.Info("Outbox resumed", map[string]interface{}{"component": "scheduler"})
	}
}

// Clear empties the queue and persists the empty snapshot.
func (s *Scheduler) Clear(ctx context.Context) error {
	s.ensureLoaded(ctx)
	dropped := s.queue.Reset()

	logging.Warn("Outbox cleared",
		map[string]interface{}{"component": "scheduler", "dropped": dropped})

	if err := s.persist(ctx); err != nil {
		return err
	}
	s.metrics.QueueDepth(ctx, 0)
	return nil
}

// Status returns the current queue and scheduler state. Before the first
// Start, Enqueue or pass it reports an empty queue.
func (s *Scheduler) Status() Status {
	stats := s.queue.Stats()

	s.mu.Lock()
	running := s.running
	lastPassAt := s.lastPassAt
	s.mu.Unlock()

	status := Status{
		QueueLength: stats.Total,
		Processing:  s.processing.Load(),
		Online:      s.monitor.IsOnline(),
		Paused:      s.paused.Load(),
		Running:     running,
		ByPriority:  stats.ByPriority,
		ByType:      stats.ByType,
	}
	if !lastPassAt.IsZero() {
		status.LastPassAt = &lastPassAt
	}
	return status
}

// Items returns a copy of the pending items in replay order.
func (s *Scheduler) Items() []*models.QueueItem {
	return queue.Order(s.queue.Snapshot())
}
