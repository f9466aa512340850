// Package supervisor wires the monitoring pipeline together and owns its
// process lifecycle: startup ordering, the bound HTTP/WebSocket listener,
// and graceful shutdown on an OS signal.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"analysis/internal/chain"
	"analysis/internal/clock"
	"analysis/internal/config"
	"analysis/internal/eventbus"
	"analysis/internal/monitor"
	"analysis/internal/pnl"
	"analysis/internal/pushhub"
	"analysis/internal/store"
	"analysis/internal/tokenmeta"

	"github.com/shirou/gopsutil/process"
)

// Supervisor owns every long-lived component and the HTTP listener that
// serves the push protocol.
type Supervisor struct {
	cfg *config.Config

	store     store.Store
	chain     chain.Client
	tokenmeta *tokenmeta.Resolver
	bus       *eventbus.Bus
	pnl       *pnl.Aggregator
	monitor   *monitor.Monitor
	hub       *pushhub.Hub

	httpServer *http.Server
}

// New assembles every component from its dependencies but starts nothing;
// call Run to bring the system up.
func New(cfg *config.Config, st store.Store, ch chain.Client, redisTier *tokenmeta.RedisTier) *Supervisor {
	clk := clock.System{}
	tm := tokenmeta.New(st, ch, redisTier)
	bus := eventbus.New()
	agg := pnl.New(st, clk, bus)
	mon := monitor.New(st, ch, clk, bus, agg)
	hub := pushhub.New(st, tm, clk)

	return &Supervisor{
		cfg:       cfg,
		store:     st,
		chain:     ch,
		tokenmeta: tm,
		bus:       bus,
		pnl:       agg,
		monitor:   mon,
		hub:       hub,
	}
}

// Run executes the full startup sequence, blocks until a termination
// signal arrives (or ctx is cancelled), then shuts everything down: the
// Monitor first, then the listener, the push hub's connections, and the
// store. It returns nil on a clean shutdown; the caller should
// os.Exit(1) on a non-nil error, matching the teacher's own
// log.Fatalf-on-init-failure convention.
func (s *Supervisor) Run(ctx context.Context) error {
	n, err := s.tokenmeta.Preload(ctx)
	if err != nil {
		return fmt.Errorf("preload tokenmeta: %w", err)
	}
	log.Printf("[supervisor] preloaded %d token metadata rows", n)

	s.monitor.Start()
	log.Printf("[supervisor] monitor started")

	s.hub.Start(s.bus)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.WSPort),
		Handler: s.hub.Router(s.cfg.CORSOrigins),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("[supervisor] push hub listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	logResourceSnapshot("startup complete")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-sigCh:
		log.Printf("[supervisor] received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("push hub listener: %w", err)
		}
	}

	logResourceSnapshot("shutdown start")
	return s.shutdown()
}

func (s *Supervisor) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.monitor.Stop()
	log.Printf("[supervisor] monitor stopped")

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[supervisor] push hub listener shutdown error: %v", err)
	}
	s.hub.Stop()
	log.Printf("[supervisor] push hub stopped")

	if err := s.store.Close(); err != nil {
		log.Printf("[supervisor] store close error: %v", err)
	}
	return nil
}

// logResourceSnapshot writes a one-line RSS/goroutine-count snapshot, the
// way the teacher's own monitoring system samples host metrics with
// gopsutil — here reduced to a single informational line tied to startup
// and shutdown rather than a running alerting loop.
func logResourceSnapshot(stage string) {
	goroutines := runtime.NumGoroutine()
	rss := "unknown"
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			rss = fmt.Sprintf("%.1fMB", float64(info.RSS)/(1024*1024))
		}
	}
	log.Printf("[supervisor] resource snapshot (%s): rss=%s goroutines=%d", stage, rss, goroutines)
}
