// Package dispatcher implements C7: one cooperative worker per
// configured printer, pulling leased jobs off the queue, rendering
// and sending them, and reporting the verdict back to the queue and
// the printer's circuit breaker.
package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/breaker"
	"github.com/eatsome/printerd/internal/escpos"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/perr"
	"github.com/eatsome/printerd/internal/queue"
	"github.com/eatsome/printerd/internal/router"
	"github.com/eatsome/printerd/internal/transport"
)

// idlePoll is the worker's idle-backoff ceiling: when the queue has
// nothing ready, sleep with jittered backoff up to this long.
const idlePoll = time.Second

// printerSendRate caps each printer worker's job throughput. Real
// thermal printers choke well under this; it exists to smooth bursts
// (e.g. a backlog draining after a reconnect) rather than to model
// any real device limit.
const printerSendRate = 4

// DriverFactory opens (or returns a cached) transport.Driver for a
// printer. The dispatcher doesn't know or care which of USB/TCP/BLE
// it gets back.
type DriverFactory func(ctx context.Context, p model.Printer) (transport.Driver, error)

// StationName resolves a group_id to the display name the receipt
// header prints. Backed by the router's routing-group table in
// practice.
type StationName func(groupID string) string

// Dispatcher owns one worker per printer plus that printer's breaker.
// Breakers persist across SetPrinters calls for printers that remain
// configured, so a reconfigure never resets an open breaker.
type Dispatcher struct {
	queue       *queue.Queue
	router      *router.Router
	renderer    *escpos.Renderer
	drivers     DriverFactory
	stationName StationName
	cache       *renderCache
	logger      *slog.Logger

	mu       sync.Mutex
	printers map[string]model.Printer
	breakers map[string]*breaker.Breaker
	procs    []engine.Proc

	onJobDead func(context.Context, model.Job)
}

func New(q *queue.Queue, r *router.Router, renderer *escpos.Renderer, drivers DriverFactory, stationName StationName) *Dispatcher {
	return &Dispatcher{
		queue:       q,
		router:      r,
		renderer:    renderer,
		drivers:     drivers,
		stationName: stationName,
		cache:       newRenderCache(),
		logger:      slog.Default().With("module", "dispatcher"),
		printers:    map[string]model.Printer{},
		breakers:    map[string]*breaker.Breaker{},
	}
}

// SetPrinters replaces the set of printers the dispatcher drives. Any
// printer dropped from printers stops receiving new leases once its
// current worker goroutine exits on the next context cancellation;
// breakers for printers that remain are left untouched.
func (d *Dispatcher) SetPrinters(printers []model.Printer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]model.Printer, len(printers))
	for _, p := range printers {
		next[p.ID] = p
		if _, ok := d.breakers[p.ID]; !ok {
			d.breakers[p.ID] = breaker.New(breaker.Config{})
		}
	}
	d.printers = next
}

// OnJobDead registers a hook invoked whenever a job transitions to
// dead (permanent failure or attempts exhausted). Typically wired to
// the cloud sync client's job-dead telemetry; nil is a valid no-op.
func (d *Dispatcher) OnJobDead(fn func(context.Context, model.Job)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onJobDead = fn
}

// Breaker returns the breaker for printerID, mainly for the health
// endpoint and tests; nil if the printer is unknown.
func (d *Dispatcher) Breaker(printerID string) *breaker.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakers[printerID]
}

// AttachWorkers registers one polling worker per currently configured
// printer. Call after SetPrinters has been called at least once;
// printers added later via SetPrinters before startup are picked up,
// but printers added after Run has started require a daemon restart
// (spec doesn't require hot-adding printer workers mid-run).
func (d *Dispatcher) AttachWorkers(pm *engine.ProcMgr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.printers {
		w := &printerWorker{
			printerID: id,
			parent:    d,
		}
		wq := engine.WithRateLimiting[*queue.JobLease](w, printerSendRate)
		pm.Add(engine.PollWithWake(idlePoll, d.queue.Notify, engine.PollWorkqueue[*queue.JobLease](wq)))
	}
}

// printerWorker adapts one printer to engine.Workqueue so it can run
// under engine.PollWithWake the same way every other polling loop in
// this codebase does.
type printerWorker struct {
	printerID string
	parent    *Dispatcher

	driver   transport.Driver
	lastErr  error
	lastKind queue.FailKind
	minBackoff time.Duration
}

func (w *printerWorker) breaker() *breaker.Breaker {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	return w.parent.breakers[w.printerID]
}

// GetItem reports "no work" via sql.ErrNoRows rather than a bare nil
// lease: engine.PollWorkqueue treats that sentinel as the signal to
// go back to sleep, the same convention every other workqueue in
// this codebase uses.
func (w *printerWorker) GetItem(ctx context.Context) (*queue.JobLease, error) {
	b := w.breaker()
	if b == nil || !b.Admit() {
		return nil, sql.ErrNoRows
	}

	groups := w.parent.router.GroupsForPrinter(w.printerID)
	lease, err := w.parent.queue.Lease(ctx, w.printerID, groups, time.Now())
	if err != nil {
		b.Release()
		return nil, err
	}
	if lease == nil {
		b.Release()
		return nil, sql.ErrNoRows
	}
	return lease, nil
}

func (w *printerWorker) ProcessItem(ctx context.Context, lease *queue.JobLease) error {
	w.lastErr, w.lastKind, w.minBackoff = nil, queue.FailTransient, 0

	bytes, ok := w.parent.cache.get(lease.Job.JobID, lease.Job.AttemptCount)
	if !ok {
		station := lease.Job.GroupID
		if w.parent.stationName != nil {
			if name := w.parent.stationName(lease.Job.GroupID); name != "" {
				station = name
			}
		}
		bytes = w.parent.renderer.Render(lease.Job, station, time.Now())
		w.parent.cache.put(lease.Job.JobID, lease.Job.AttemptCount, bytes)
	}

	driver, err := w.getDriver(ctx)
	if err != nil {
		w.classify(err)
		return err
	}

	sendCtx, cancel := context.WithDeadline(ctx, lease.Deadline)
	defer cancel()
	_, err = driver.Send(sendCtx, bytes)
	if err != nil {
		w.driver = nil // force reconnect next attempt
		w.classify(err)
		return err
	}
	return nil
}

func (w *printerWorker) getDriver(ctx context.Context) (transport.Driver, error) {
	if w.driver != nil {
		return w.driver, nil
	}
	printer := w.parent.printerSnapshot(w.printerID)
	driver, err := w.parent.drivers(ctx, printer)
	if err != nil {
		return nil, err
	}
	w.driver = driver
	return driver, nil
}

// classify records the terminal disposition of the last Send/render
// failure so UpdateItem can report the right verdict to the queue.
func (w *printerWorker) classify(err error) {
	w.lastErr = err
	var perm *perr.Permanent
	if errors.As(err, &perm) {
		w.lastKind = queue.FailPermanent
		return
	}
	w.lastKind = queue.FailTransient

	var transient *perr.Transient
	if errors.As(err, &transient) && transient.Kind == perr.KindPrinter {
		w.minBackoff = perr.PrinterMinBackoff * time.Second
	}
}

func (w *printerWorker) UpdateItem(ctx context.Context, lease *queue.JobLease, success bool) error {
	b := w.breaker()
	if success {
		if b != nil {
			b.Success()
		}
		w.parent.cache.drop(lease.Job.JobID)
		return w.parent.queue.Complete(ctx, lease.Job.JobID)
	}

	if b != nil {
		b.Failure()
	}
	status, err := w.parent.queue.Fail(ctx, lease.Job.JobID, w.lastKind, w.lastErr, w.minBackoff)
	if w.lastKind == queue.FailPermanent || status == model.JobDead {
		w.parent.cache.drop(lease.Job.JobID)
	}
	if err == nil && status == model.JobDead {
		w.parent.notifyJobDead(ctx, lease.Job)
	}
	return err
}

// notifyJobDead calls the registered dead-job hook, if any.
func (d *Dispatcher) notifyJobDead(ctx context.Context, job model.Job) {
	d.mu.Lock()
	fn := d.onJobDead
	d.mu.Unlock()
	if fn != nil {
		fn(ctx, job)
	}
}

func (d *Dispatcher) printerSnapshot(id string) model.Printer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.printers[id]
}
