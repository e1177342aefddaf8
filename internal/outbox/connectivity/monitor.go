// Package connectivity tracks whether the terminal can reach the restaurant API.
package connectivity

import (
	"sync"

	"github.com/tablepos/terminal/internal/logging"
)

// Monitor holds the current online state and fires edge-triggered
// notifications when it changes. Hosts push their connectivity events
// through SetOnline.
type Monitor struct {
	mu       sync.RWMutex
	online   bool
	static   bool
	nextID   int
	restored map[int]func()
	lost     map[int]func()
}

// NewMonitor creates a Monitor starting in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:   online,
		restored: make(map[int]func()),
		lost:     make(map[int]func()),
	}
}

// NewAlwaysOnline creates a Monitor for hosts without connectivity events.
// It reports online forever and ignores SetOnline.
func NewAlwaysOnline() *Monitor {
	m := NewMonitor(true)
	m.static = true
	return m
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnRestored registers fn for offline→online transitions and returns a
// function removing it.
func (m *Monitor) OnRestored(fn func()) func() {
	return m.subscribe(m.restored, fn)
}

// OnLost registers fn for online→offline transitions and returns a
// function removing it.
func (m *Monitor) OnLost(fn func()) func() {
	return m.subscribe(m.lost, fn)
}

func (m *Monitor) subscribe(set map[int]func(), fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	set[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(set, id)
		m.mu.Unlock()
	}
}

// SetOnline records a connectivity event. Subscribers run synchronously,
// outside the lock, only when the state actually changes. It reports
// whether a transition happened.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.static || m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online

	set := m.lost
	if online {
		set = m.restored
	}
	callbacks := make([]func(), 0, len(set))
	for _, fn := range set {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed",
		map[string]interface{}{
			"component": "connectivity",
			"is_online": online,
		})

	for _, fn := range callbacks {
		fn()
	}
	return true
}
