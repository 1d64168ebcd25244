// Package supervisor implements C12: the start/stop graph that owns
// process-level shutdown sequencing. It is the only place in the
// module that listens for OS signals; Run returns the exit code that
// cmd/printerd passes to os.Exit.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eatsome/printerd/engine"
)

// Exit codes returned by Run, surfaced as the process exit status.
const (
	ExitOK               = 0
	ExitCorruptQueue     = 64
	ExitConfigUnreadable = 65
	ExitTransportMissing = 69
	ExitInternalPanic    = 70
)

// DefaultDrainTimeout bounds how long shutdown waits for in-flight
// dispatcher jobs to finish before cutting them loose; their leases
// simply expire and revert to pending on the next start.
const DefaultDrainTimeout = 30 * time.Second

// Supervisor runs two process groups with an ordered shutdown between
// them: ingress (realtime channel, HTTP API) stops accepting new work
// first, then workers (dispatcher, sync client) get up to DrainTimeout
// to finish what's already in flight.
type Supervisor struct {
	Ingress      *engine.ProcMgr
	Workers      *engine.ProcMgr
	DrainTimeout time.Duration
	logger       *slog.Logger
}

func New() *Supervisor {
	return &Supervisor{
		Ingress:      &engine.ProcMgr{},
		Workers:      &engine.ProcMgr{},
		DrainTimeout: DefaultDrainTimeout,
		logger:       slog.Default().With("module", "supervisor"),
	}
}

// Run blocks until a shutdown signal arrives or a proc group faults,
// then sequences shutdown and returns the process exit code to use.
func (s *Supervisor) Run(ctx context.Context) int {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ingressCtx, cancelIngress := context.WithCancel(sigCtx)
	defer cancelIngress()
	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	ingressDone := make(chan error, 1)
	workersDone := make(chan error, 1)
	go func() { ingressDone <- s.Ingress.Run(ingressCtx) }()
	go func() { workersDone <- s.Workers.Run(workersCtx) }()

	select {
	case <-sigCtx.Done():
		s.logger.Info("shutdown signal received, stopping ingress")
	case err := <-ingressDone:
		if err != nil {
			s.logger.Error("ingress faulted", "error", err)
			cancelWorkers()
			<-workersDone
			return ExitInternalPanic
		}
	case err := <-workersDone:
		s.logger.Error("a worker faulted", "error", err)
		cancelIngress()
		<-ingressDone
		return ExitInternalPanic
	}

	cancelIngress()
	<-ingressDone
	s.logger.Info("ingress stopped, draining workers", "drain_timeout", s.DrainTimeout)

	drainTimer := time.AfterFunc(s.DrainTimeout, cancelWorkers)
	defer drainTimer.Stop()

	err := <-workersDone
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("worker shutdown faulted", "error", err)
		return ExitInternalPanic
	}

	s.logger.Info("clean shutdown complete")
	return ExitOK
}
