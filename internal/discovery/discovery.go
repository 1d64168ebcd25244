// Package discovery implements C4: concurrent scans for candidate
// printers across USB, the local network (mDNS + SNMP fallback), and
// BLE, under one bounded deadline. Discovery never touches the queue
// or router; its output feeds the sync client (C10) and the
// setup-wizard UI (external).
package discovery

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/eatsome/printerd/internal/model"
)

// DefaultDeadline bounds the total time a Scan may take.
const DefaultDeadline = 30 * time.Second

// seenCacheSize bounds the recently-seen dedup cache; a scan window
// never surfaces more candidates than this without the oldest being
// evicted, which is fine since dedup only needs to survive one Scan
// call's lifetime of repeat adverts.
const seenCacheSize = 512

// DiscoveredPrinter is one candidate surfaced by a scan. It carries
// enough to either auto-register the printer or show it to the
// setup-wizard UI for confirmation.
type DiscoveredPrinter struct {
	ID            string
	Name          string
	Transport     model.TransportKind
	Address       string
	Vendor        string
	ProtocolGuess string
	Capabilities  model.Capabilities
}

// Discovery runs the three scans and deduplicates their output.
type Discovery struct {
	disableBLE bool
	deadline   time.Duration
	logger     *slog.Logger
}

func New(disableBLE bool) *Discovery {
	return &Discovery{disableBLE: disableBLE, deadline: DefaultDeadline, logger: slog.Default().With("module", "discovery")}
}

// Scan runs all configured transports concurrently and returns their
// combined, deduplicated results. An individual transport's failure
// (e.g. no BLE radio) is logged and excluded from the result rather
// than failing the whole scan.
func (d *Discovery) Scan(ctx context.Context) ([]DiscoveredPrinter, error) {
	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	seen, err := lru.New[string, time.Time](seenCacheSize)
	if err != nil {
		return nil, err
	}

	var usbFound, netFound, bleFound []DiscoveredPrinter
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		found, err := scanUSB(gctx)
		if err != nil {
			d.logger.Warn("usb scan failed", "error", err)
			return nil
		}
		usbFound = found
		return nil
	})
	g.Go(func() error {
		found, err := scanNetwork(gctx)
		if err != nil {
			d.logger.Warn("network scan failed", "error", err)
			return nil
		}
		netFound = found
		return nil
	})
	if !d.disableBLE {
		g.Go(func() error {
			found, err := scanBLE(gctx)
			if err != nil {
				d.logger.Warn("ble scan failed", "error", err)
				return nil
			}
			bleFound = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]DiscoveredPrinter, 0, len(usbFound)+len(netFound)+len(bleFound))
	all = append(all, usbFound...)
	all = append(all, netFound...)
	all = append(all, bleFound...)

	out := make([]DiscoveredPrinter, 0, len(all))
	for _, p := range all {
		if _, ok := seen.Get(p.ID); ok {
			continue
		}
		seen.Add(p.ID, time.Now())
		out = append(out, p)
	}
	return out, nil
}
