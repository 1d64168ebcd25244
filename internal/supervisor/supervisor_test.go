package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSupervisor_IngressStopsBeforeWorkersDrain asserts the required
// ordering: ingress sees its context canceled before workers do.
func TestSupervisor_IngressStopsBeforeWorkersDrain(t *testing.T) {
	s := New()
	s.DrainTimeout = 100 * time.Millisecond

	var ingressStoppedAt, workerStoppedAt atomic.Int64
	s.Ingress.Add(func(ctx context.Context) error {
		<-ctx.Done()
		ingressStoppedAt.Store(time.Now().UnixNano())
		return ctx.Err()
	})
	s.Workers.Add(func(ctx context.Context) error {
		<-ctx.Done()
		workerStoppedAt.Store(time.Now().UnixNano())
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		require.Equal(t, ExitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	require.Greater(t, workerStoppedAt.Load(), ingressStoppedAt.Load())
}

// TestSupervisor_WorkerFaultStopsIngress asserts a fatal worker fault
// tears down ingress too rather than leaving it half-running.
func TestSupervisor_WorkerFaultStopsIngress(t *testing.T) {
	s := New()

	ingressCanceled := make(chan struct{})
	s.Ingress.Add(func(ctx context.Context) error {
		<-ctx.Done()
		close(ingressCanceled)
		return ctx.Err()
	})
	s.Workers.Add(func(ctx context.Context) error {
		return errors.New("boom")
	})

	code := s.Run(context.Background())
	require.Equal(t, ExitInternalPanic, code)

	select {
	case <-ingressCanceled:
	case <-time.After(time.Second):
		t.Fatal("ingress was never canceled after worker fault")
	}
}

// TestSupervisor_DrainTimesOut asserts a worker that never finishes
// is force-canceled once DrainTimeout elapses, rather than hanging
// shutdown forever.
func TestSupervisor_DrainTimesOut(t *testing.T) {
	s := New()
	s.DrainTimeout = 100 * time.Millisecond
	s.Ingress.Add(func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })

	workerSawCancel := make(chan struct{})
	s.Workers.Add(func(ctx context.Context) error {
		<-ctx.Done()
		close(workerSawCancel)
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		require.Equal(t, ExitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down after drain timeout")
	}

	select {
	case <-workerSawCancel:
	default:
		t.Fatal("worker never observed the drain-timeout cancellation")
	}
}
