package transport

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/eatsome/printerd/internal/perr"
)

// BLEConfig carries the vendor-specific knobs a BLE printer needs.
// ChunkTerminator, when set, is appended to every chunk; it defaults
// to nil (no terminator appended). Dial fills in only MTU.
type BLEConfig struct {
	ServiceUUID        bluetooth.UUID
	WriteCharacteristic bluetooth.UUID
	MTU                int
	ChunkTerminator    []byte
}

const defaultBLEMTU = 20 // conservative default absent an MTU exchange

// BLEDriver writes to a GATT characteristic in MTU-sized chunks.
// Sends failing within BLESendGrace of Connect are reported as
// transient regardless of the underlying error: BLE support is
// experimental, and an early failure is far more likely a connection
// settling hiccup than a real fault.
type BLEDriver struct {
	adapter    *bluetooth.Adapter
	device     bluetooth.Device
	char       bluetooth.DeviceCharacteristic
	cfg        BLEConfig
	connectedAt time.Time
}

// ConnectBLE connects directly to addr (a MAC-shaped address) without
// scanning, then discovers the configured service/characteristic.
func ConnectBLE(ctx context.Context, addr string, cfg BLEConfig) (*BLEDriver, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, perr.NewFatal(perr.KindTransport, fmt.Errorf("enabling bluetooth radio: %w", err))
	}

	mac, err := bluetooth.ParseMAC(addr)
	if err != nil {
		return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("bad ble address %q: %w", addr, err))
	}

	device, err := adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, perr.NewTransient(perr.KindTransport, fmt.Errorf("ble connect: %w", err))
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{cfg.ServiceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("not-a-printer: service not found: %w", err))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{cfg.WriteCharacteristic})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("not-a-printer: write characteristic not found: %w", err))
	}

	if cfg.MTU == 0 {
		cfg.MTU = defaultBLEMTU
	}
	return &BLEDriver{adapter: adapter, device: device, char: chars[0], cfg: cfg, connectedAt: time.Now()}, nil
}

func (d *BLEDriver) Send(ctx context.Context, data []byte) (Ack, error) {
	start := time.Now()
	total := len(data)
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return Ack{}, d.classify(err)
		}
		n := d.cfg.MTU
		if n > len(data) {
			n = len(data)
		}
		chunk := data[:n]
		if len(d.cfg.ChunkTerminator) > 0 {
			chunk = append(append([]byte{}, chunk...), d.cfg.ChunkTerminator...)
		}
		if _, err := d.char.WriteWithoutResponse(chunk); err != nil {
			return Ack{}, d.classify(err)
		}
		data = data[n:]
	}
	return Ack{BytesWritten: total, Duration: time.Since(start)}, nil
}

// classify wraps a send failure as transient. BLE support is
// experimental: even past the initial connect grace period, a write
// failure is far more often a transient radio hiccup than a permanent
// fault, so this transport never escalates to Permanent on its own.
func (d *BLEDriver) classify(err error) error {
	return perr.NewTransient(perr.KindTransport, err)
}

func (d *BLEDriver) Probe(ctx context.Context) (ProbeResult, error) {
	return ProbeResult{Status: StatusOnline}, nil
}

func (d *BLEDriver) Close() error {
	return d.device.Disconnect()
}
