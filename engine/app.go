package engine

import (
	"context"
	"sync"
)

// App is a wrapper around the process manager and http router concepts
// defined by this package. It represents a set of "modules": types that
// can run workers or handle http routes. Load up modules with .Add()
// and then run the thing with .Run().
type App struct {
	ProcMgr
	Router *Router
}

func NewApp(httpAddr string, router *Router) *App {
	a := &App{Router: router}
	a.ProcMgr.Add(router.Serve(httpAddr))
	return a
}

func (a *App) Add(mod any) {
	type routableModule interface {
		AttachRoutes(*Router)
	}
	if m, ok := mod.(routableModule); ok {
		m.AttachRoutes(a.Router)
	}

	type workableModule interface {
		AttachWorkers(*ProcMgr)
	}
	if m, ok := mod.(workableModule); ok {
		m.AttachWorkers(&a.ProcMgr)
	}
}

type Proc func(context.Context) error

// ProcMgr runs a fixed set of long-running goroutines and reports the
// first one that exits unexpectedly (before the context was canceled).
//
// Unlike a plain sync.WaitGroup, Run distinguishes a clean shutdown
// (ctx canceled) from a fatal fault: the supervisor (internal/supervisor)
// maps the latter to a process exit code. A proc returning nil while ctx is
// still live is a programming error and panics.
type ProcMgr struct {
	procs []Proc
}

func (p *ProcMgr) Add(proc Proc) { p.procs = append(p.procs, proc) }

// Run blocks until ctx is canceled or a proc fails. It returns the
// first fault encountered, or nil on clean shutdown.
func (p *ProcMgr) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		once       sync.Once
		firstFault error
	)
	for _, proc := range p.procs {
		wg.Add(1)
		go func(proc Proc) {
			defer wg.Done()
			err := proc(ctx)
			if ctx.Err() != nil {
				return // shutting down on purpose
			}
			if err == nil {
				panic("a proc returned unexpectedly without an error")
			}
			once.Do(func() { firstFault = err })
			cancel() // bring down the rest of the fleet
		}(proc)
	}
	wg.Wait()
	return firstFault
}
