package transport

import (
	"context"
	"fmt"

	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/perr"
)

// Dial opens the right Driver for p.Transport, letting callers treat
// DriverFactory-shaped dependencies (the dispatcher) uniformly
// regardless of transport kind.
func Dial(ctx context.Context, p model.Printer) (Driver, error) {
	switch p.Transport {
	case model.TransportUSB:
		addr, err := ParseUSBAddress(p.Address)
		if err != nil {
			return nil, perr.NewPermanent(perr.KindTransport, err)
		}
		return NewUSBDriver(addr)
	case model.TransportNetwork:
		return NewTCPDriver(ctx, p.Address)
	case model.TransportBluetooth:
		return ConnectBLE(ctx, p.Address, BLEConfig{MTU: defaultBLEMTU})
	default:
		return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("unknown transport kind %q", p.Transport))
	}
}
