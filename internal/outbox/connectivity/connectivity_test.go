package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================================
// Monitor Tests
// =====================================================

func TestMonitor_EdgeTriggered(t *testing.T) {
	m := NewMonitor(true)

	var restored, lost int
	m.OnRestored(func() { restored++ })
	m.OnLost(func() { lost++ })

	assert.False(t, m.SetOnline(true), "same state is not an edge")
	assert.True(t, m.SetOnline(false))
	assert.False(t, m.SetOnline(false))
	assert.False(t, m.IsOnline())
	assert.True(t, m.SetOnline(true))
	assert.True(t, m.IsOnline())

	assert.Equal(t, 1, restored)
	assert.Equal(t, 1, lost)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(false)

	var calls int
	unsubscribe := m.OnRestored(func() { calls++ })
	m.SetOnline(true)
	unsubscribe()
	m.SetOnline(false)
	m.SetOnline(true)

	assert.Equal(t, 1, calls)
}

func TestMonitor_CallbackMayReadState(t *testing.T) {
	m := NewMonitor(false)

	var seen bool
	m.OnRestored(func() { seen = m.IsOnline() })
	m.SetOnline(true)

	assert.True(t, seen, "callbacks run after the state is updated and the lock released")
}

func TestAlwaysOnline(t *testing.T) {
	m := NewAlwaysOnline()

	var lost int
	m.OnLost(func() { lost++ })

	assert.True(t, m.IsOnline())
	assert.False(t, m.SetOnline(false))
	assert.True(t, m.IsOnline())
	assert.Zero(t, lost)
}

// =====================================================
// Prober Tests
// =====================================================

func TestProber_Check(t *testing.T) {
	var up atomic.Bool
	up.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if !up.Load() {
			// An error status still proves the network path works
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(m, srv.URL+"/health", time.Second, nil)

	assert.True(t, p.Check(context.Background()))
	assert.True(t, m.IsOnline())

	up.Store(false)
	assert.True(t, p.Check(context.Background()))
}

func TestProber_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(true)
	p := NewProber(m, url, time.Second, nil)

	assert.False(t, p.Check(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(m, srv.URL, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.IsOnline())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewProber_Defaults(t *testing.T) {
	p := NewProber(NewMonitor(true), "http://127.0.0.1:1", 0, nil)
	assert.Equal(t, DefaultProbeInterval, p.interval)
	assert.NotNil(t, p.client)
}
