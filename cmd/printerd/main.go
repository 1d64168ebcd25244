// Command printerd is a local daemon that receives kitchen order
// tickets from a cloud relay (or a loopback fallback), routes them to
// the right station printer, and drives USB/network/Bluetooth thermal
// printers directly over ESC/POS.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/cloudsync"
	"github.com/eatsome/printerd/internal/config"
	"github.com/eatsome/printerd/internal/discovery"
	"github.com/eatsome/printerd/internal/dispatcher"
	"github.com/eatsome/printerd/internal/escpos"
	"github.com/eatsome/printerd/internal/httpapi"
	"github.com/eatsome/printerd/internal/ingest"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/queue"
	"github.com/eatsome/printerd/internal/realtime"
	"github.com/eatsome/printerd/internal/router"
	"github.com/eatsome/printerd/internal/supervisor"
	"github.com/eatsome/printerd/internal/transport"
)

const (
	defaultRoutingGroup   = "kitchen"
	defaultReceiptColumns = 42

	// leaseReapInterval governs how often in_flight jobs whose lease
	// has silently expired (crash, kill -9) are reverted to pending so
	// dispatch picks them back up.
	leaseReapInterval = 30 * time.Second
	// queueCleanupInterval governs how often done/dead rows past
	// retention are purged; it only needs to run often enough to keep
	// the table from growing unbounded between restarts.
	queueCleanupInterval = time.Hour
)

func main() {
	os.Exit(run())
}

func run() int {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading environment:", err)
		return supervisor.ExitConfigUnreadable
	}
	setUpLogging(env.LogLevel, env.ConfigDir)

	cfg, err := config.Load(env.ConfigDir)
	if err != nil {
		slog.Error("loading config.json", "error", err)
		return supervisor.ExitConfigUnreadable
	}

	for _, p := range cfg.Printers {
		if p.Transport == model.TransportBluetooth && env.DisableBLE {
			slog.Error("a configured printer requires bluetooth but DISABLE_BLE is set", "printer_id", p.ID)
			return supervisor.ExitTransportMissing
		}
	}

	db, err := engine.OpenDB(filepath.Join(env.ConfigDir, config.QueueFile))
	if err != nil {
		slog.Error("opening queue database", "error", err)
		return supervisor.ExitCorruptQueue
	}
	defer db.Close()

	ctx := context.Background()
	q, err := queue.Open(ctx, db, cfg.RestaurantCode)
	if err != nil {
		slog.Error("opening job queue", "error", err)
		return supervisor.ExitCorruptQueue
	}
	if n, err := q.ReapExpiredLeases(ctx, time.Now()); err != nil {
		slog.Warn("startup lease reap failed", "error", err)
	} else if n > 0 {
		slog.Info("reaped expired leases left by a prior unclean shutdown", "count", n)
	}

	cfg.Printers = mergeDiscoveredPrinters(ctx, env, cfg.Printers)
	if err := config.Save(env.ConfigDir, cfg); err != nil {
		slog.Warn("persisting config after discovery merge", "error", err)
	}

	r := router.New(defaultRoutingGroup)
	r.SetConfig(cfg.Routing)

	renderer := &escpos.Renderer{
		RestaurantName: cfg.RestaurantID,
		Codepage:       escpos.CodepageCP437,
		MaxColumns:     defaultReceiptColumns,
	}
	stationName := stationNameLookup(cfg.Routing.Groups)

	disp := dispatcher.New(q, r, renderer, transport.Dial, stationName)
	disp.SetPrinters(cfg.Printers)

	ing := ingest.New(r, q)

	// The daemon presents auth_token when it dials out; inbound tokens
	// are verified with restaurant_code as the HMAC secret, since
	// config.json has no separate signing-secret field -- see DESIGN.md.
	auth := engine.NewAuthenticator(cfg.RestaurantID, []byte(cfg.RestaurantCode), nil)

	channel := realtime.New(cfg.CloudBaseURL, cfg.RestaurantID, cfg.AuthToken, auth, ing.Accept)

	printers := cfg.Printers
	sync := cloudsync.New(cfg.CloudBaseURL, cfg.RestaurantID, cfg.AuthToken, r, func() []model.Printer { return printers })
	if err := sync.UpsertPrinters(ctx); err != nil {
		slog.Warn("startup printer upsert failed", "error", err)
	}
	disp.OnJobDead(sync.NotifyJobDead)

	httpRouter := engine.NewRouter()
	httpSrv := httpapi.New(auth, ing, q, r, channel.Connected)
	httpSrv.AttachRoutes(httpRouter)

	sup := supervisor.New()
	sup.Ingress.Add(httpRouter.Serve(env.HTTPBindAddr))
	channel.AttachWorkers(sup.Ingress)
	disp.AttachWorkers(sup.Workers)
	sync.AttachWorkers(sup.Workers)
	sup.Workers.Add(engine.Poll(leaseReapInterval, func(ctx context.Context) bool {
		if _, err := q.ReapExpiredLeases(ctx, time.Now()); err != nil {
			slog.Error("reaping expired leases", "error", err)
		}
		return false
	}))
	sup.Workers.Add(engine.Poll(queueCleanupInterval, engine.Cleanup("done/dead jobs", func(ctx context.Context) (int64, error) {
		return q.Cleanup(ctx, 0)
	})))

	slog.Info("printerd starting",
		"restaurant_id", cfg.RestaurantID,
		"printer_count", len(cfg.Printers),
		"routing_group_count", len(cfg.Routing.Groups),
		"http_addr", env.HTTPBindAddr,
	)

	code := sup.Run(ctx)
	slog.Info("printerd exiting", "code", code)
	return code
}

// logRotationSizeMB and logRotationBackups bound a kiosk machine's log
// disk usage to roughly 100MB even if left running for months.
const (
	logRotationSizeMB  = 10
	logRotationBackups = 10
)

func setUpLogging(level, configDir string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	w := io.Writer(os.Stderr)
	if configDir != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(configDir, config.LogFile),
			MaxSize:    logRotationSizeMB,
			MaxBackups: logRotationBackups,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func stationNameLookup(groups []model.RoutingGroup) dispatcher.StationName {
	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return func(groupID string) string {
		if name, ok := names[groupID]; ok {
			return name
		}
		return groupID
	}
}

// mergeDiscoveredPrinters runs one bounded discovery scan at startup
// and folds any not-yet-known device into the persisted printer list,
// by id. It never removes a configured printer discovery didn't see
// this time -- USB/BLE devices routinely miss a scan window.
func mergeDiscoveredPrinters(ctx context.Context, env config.Env, known []model.Printer) []model.Printer {
	seen := make(map[string]bool, len(known))
	for _, p := range known {
		seen[p.ID] = true
	}

	found, err := discovery.New(env.DisableBLE).Scan(ctx)
	if err != nil {
		slog.Warn("startup discovery scan failed", "error", err)
		return known
	}

	merged := known
	for _, d := range found {
		if seen[d.ID] {
			continue
		}
		merged = append(merged, model.Printer{
			ID:           d.ID,
			Name:         d.Name,
			Transport:    d.Transport,
			Address:      d.Address,
			Protocol:     d.ProtocolGuess,
			Capabilities: d.Capabilities,
			Status:       model.PrinterOffline,
		})
	}
	return merged
}
