package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tablepos/terminal/cmd/desktop/handlers"
	"github.com/tablepos/terminal/internal/config"
	"github.com/tablepos/terminal/internal/db"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/outbox/connectivity"
	"github.com/tablepos/terminal/internal/outbox/executor"
	"github.com/tablepos/terminal/internal/outbox/persistence"
	"github.com/tablepos/terminal/internal/outbox/retry"
	"github.com/tablepos/terminal/internal/outbox/scheduler"
	"github.com/tablepos/terminal/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// server wires the outbox scheduler to the local REST and WebSocket API.
type server struct {
	cfg       *config.Config
	database  *db.DB
	closeKV   func() error
	monitor   *connectivity.Monitor
	prober    *connectivity.Prober
	provider  *telemetry.LocalProvider
	hub       *WSHub
	scheduler *scheduler.Scheduler
}

// newServer builds every component from cfg without starting any of them.
func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	s := &server{cfg: cfg, closeKV: func() error { return nil }}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	s.database = database

	store, err := s.openPersistence(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	s.monitor = connectivity.NewMonitor(true)
	if cfg.Connectivity.ProbeURL != "" {
		s.prober = connectivity.NewProber(s.monitor, cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval, nil)
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		s.provider = telemetry.NewLocalProvider()
		if metrics, err = telemetry.NewMetrics(s.provider); err != nil {
			s.close()
			return nil, err
		}
	}

	s.hub = NewWSHub()

	client := executor.NewRESTClient(cfg.API.BaseURL, cfg.API.Timeout, nil)
	s.scheduler, err = scheduler.New(scheduler.Options{
		Persistence:    store,
		Executor:       executor.New(client, cfg.Outbox.ExecutorTimeout),
		Monitor:        s.monitor,
		Policy:         retry.NewPolicy(cfg.Outbox.RetryBaseDelay),
		Interval:       cfg.Outbox.Interval,
		MaxRetries:     cfg.Outbox.MaxRetries,
		PersistMode:    scheduler.PersistMode(cfg.Outbox.PersistMode),
		EnforceBackoff: cfg.Outbox.EnforceBackoff,
		Metrics:        metrics,
		Callbacks:      s.hub.Callbacks(),
	})
	if err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

// openPersistence reuses the host database for the sqlite backend and
// opens the other backends separately.
func (s *server) openPersistence(ctx context.Context) (persistence.QueuePersistence, error) {
	spec := s.cfg.PersistenceSpec()
	if spec.Backend == persistence.BackendSQLite {
		return persistence.NewSQLiteStore(s.database.DB, spec.Options), nil
	}

	store, closeFn, err := persistence.Open(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.closeKV = closeFn
	return store, nil
}

// routes registers the local API.
func (s *server) routes() http.Handler {
	var metrics handlers.MetricsSource
	if s.provider != nil {
		metrics = s.provider
	}
	outbox := handlers.NewOutboxHandler(s.scheduler, s.monitor, metrics)
	store := handlers.NewStoreHandler(func(key string) persistence.QueuePersistence {
		return persistence.NewSQLiteStore(s.database.DB, persistence.Options{
			Key:       key,
			Retention: s.cfg.Outbox.Retention,
		})
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"tablepos-desktop"}`))
	})

	mux.HandleFunc("/api/outbox/status", outbox.GetStatus)
	mux.HandleFunc("/api/outbox/items", outbox.ListItems)
	mux.HandleFunc("/api/outbox/enqueue", outbox.Enqueue)
	mux.HandleFunc("/api/outbox/tables/{id}", outbox.EnqueueTable)
	mux.HandleFunc("/api/outbox/orders/{id}", outbox.EnqueueOrder)
	mux.HandleFunc("/api/outbox/process", outbox.Process)
	mux.HandleFunc("/api/outbox/clear", outbox.Clear)
	mux.HandleFunc("/api/outbox/pause", outbox.Pause)
	mux.HandleFunc("/api/outbox/resume", outbox.Resume)
	mux.HandleFunc("/api/outbox/metrics", outbox.GetMetrics)
	mux.HandleFunc("/api/connectivity", outbox.SetConnectivity)
	mux.Handle(persistence.StorePath, store)

	mux.HandleFunc("/ws", HandleWebSocket(s.hub))

	return mux
}

// run serves the API until ctx is cancelled. The listener is bound before
// the scheduler starts so a host backend pointing at this process can load.
func (s *server) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	logging.Info("Desktop server listening",
		map[string]interface{}{
			"component": "desktop",
			"address":   ln.Addr().String(),
			"backend":   s.cfg.Outbox.Backend,
		})

	s.scheduler.Start(ctx)
	if s.prober != nil {
		go s.prober.Run(ctx)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	// The final save of an interrupted pass may target this listener when
	// the host backend points here, so the scheduler stops first.
	s.scheduler.Destroy()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP shutdown failed", err, map[string]interface{}{"component": "desktop"})
	}
	return nil
}

// close releases every component. It is safe on a partially built server.
func (s *server) close() {
	if s.scheduler != nil {
		s.scheduler.Destroy()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.provider != nil {
		s.provider.Shutdown(context.Background())
	}
	if err := s.closeKV(); err != nil {
		logging.Error("Failed to close outbox backend", err, map[string]interface{}{"component": "desktop"})
	}
	if s.database != nil {
		s.database.Close()
	}
}
