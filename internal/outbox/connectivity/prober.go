package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/tablepos/terminal/internal/logging"
)

// DefaultProbeInterval is used when NewProber gets a non-positive interval.
const DefaultProbeInterval = 15 * time.Second

// Prober is a connectivity event source for headless hosts: it polls a URL
// and feeds the result into a Monitor. Any HTTP response counts as online,
// a transport failure as offline.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a Prober. A nil client gets a 3 second timeout.
func NewProber(monitor *Monitor, url string, interval time.Duration, client *http.Client) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: interval,
		client:   client,
	}
}

// Check probes once and updates the monitor. It returns the observed state.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}
	p.monitor.SetOnline(online)
	return online
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		logging.Error("Invalid connectivity probe url", err,
			map[string]interface{}{"component": "connectivity", "url": p.url})
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Connectivity probe failed",
			map[string]interface{}{"component": "connectivity", "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return true
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
