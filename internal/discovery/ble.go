package discovery

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/eatsome/printerd/internal/model"
)

// bleScanDuration is the BLE scan window.
const bleScanDuration = 10 * time.Second

// printerServiceUUIDs is the known set of GATT service UUIDs exposed
// by thermal printer BLE profiles in the field (grounded on the
// LX-D02 driver's service UUID).
var printerServiceUUIDs = []bluetooth.UUID{
	bluetooth.NewUUID([16]byte{0x00, 0x00, 0xff, 0xf0, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb}),
}

func scanBLE(ctx context.Context) ([]DiscoveredPrinter, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enabling bluetooth radio: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, bleScanDuration)
	defer cancel()

	var out []DiscoveredPrinter
	seen := map[string]bool{}
	resultsDone := make(chan struct{})

	go func() {
		adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if scanCtx.Err() != nil {
				a.StopScan()
				return
			}
			if !advertisesPrinterService(result) {
				return
			}
			addr := result.Address.String()
			if seen[addr] {
				return
			}
			seen[addr] = true
			out = append(out, DiscoveredPrinter{
				ID:            fmt.Sprintf("ble-%s", addr),
				Name:          result.LocalName(),
				Transport:     model.TransportBluetooth,
				Address:       addr,
				ProtocolGuess: "escpos",
				Capabilities:  defaultCapabilities,
			})
		})
		close(resultsDone)
	}()

	select {
	case <-scanCtx.Done():
		adapter.StopScan()
	case <-resultsDone:
	}
	return out, nil
}

func advertisesPrinterService(result bluetooth.ScanResult) bool {
	for _, want := range printerServiceUUIDs {
		if result.HasServiceUUID(want) {
			return true
		}
	}
	return false
}
