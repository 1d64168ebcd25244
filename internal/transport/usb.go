package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"

	"github.com/eatsome/printerd/internal/perr"
)

// usbPrinterClass is the USB interface class for printer-class
// devices (USB_CLASS_PRINTER). Discovery matches the same class value
// through its own constant; NewUSBDriver does not check it.
const usbPrinterClass = gousb.ClassPrinter

// USBDriver writes to a device opened by (vendor, product, serial).
// The printer-class bulk-out endpoint is claimed once and reused
// across sends; a status-register read (DLE EOT n) surfaces
// paper-out/cover-open/cutter-error without a full transport
// round-trip.
type USBDriver struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	out    *gousb.OutEndpoint
	closed bool
}

// USBAddress identifies a USB printer: vendor/product IDs plus an
// optional serial to disambiguate multiple identical devices.
type USBAddress struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Serial    string
}

// ParseUSBAddress parses the "vid:pid:serial" shape stored in
// Printer.Address for USB transport printers.
func ParseUSBAddress(address string) (USBAddress, error) {
	parts := strings.SplitN(address, ":", 3)
	if len(parts) < 2 {
		return USBAddress{}, perr.NewPermanent(perr.KindTransport, fmt.Errorf("malformed usb address %q", address))
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return USBAddress{}, perr.NewPermanent(perr.KindTransport, fmt.Errorf("bad vendor id in %q: %w", address, err))
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return USBAddress{}, perr.NewPermanent(perr.KindTransport, fmt.Errorf("bad product id in %q: %w", address, err))
	}
	addr := USBAddress{VendorID: gousb.ID(vid), ProductID: gousb.ID(pid)}
	if len(parts) == 3 {
		addr.Serial = parts[2]
	}
	return addr, nil
}

// NewUSBDriver opens the first device matching the vid/pid, selects
// configuration 1, claims interface 0 (alternate setting 0) and
// readies its out endpoint 1 for writes. It does not search the
// device's interfaces for a printer-class or other bulk-out interface.
func NewUSBDriver(addr USBAddress) (*USBDriver, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(addr.VendorID, addr.ProductID)
	if err != nil || dev == nil {
		ctx.Close()
		return nil, perr.NewTransient(perr.KindTransport, fmt.Errorf("opening usb device %04x:%04x: %w", addr.VendorID, addr.ProductID, err))
	}
	if addr.Serial != "" {
		if serial, err := dev.SerialNumber(); err == nil && serial != addr.Serial {
			dev.Close()
			ctx.Close()
			return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("serial mismatch: want %s got %s", addr.Serial, serial))
		}
	}

	dev.SetAutoDetach(true)
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, perr.NewTransient(perr.KindTransport, fmt.Errorf("selecting usb config: %w", err))
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, perr.NewTransient(perr.KindTransport, fmt.Errorf("claiming usb interface: %w", err))
	}
	out, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		dev.Close()
		ctx.Close()
		return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("not-a-printer: no bulk-out endpoint: %w", err))
	}

	return &USBDriver{ctx: ctx, dev: dev, intf: intf, out: out}, nil
}

func (d *USBDriver) Send(ctx context.Context, data []byte) (Ack, error) {
	sendCtx, cancel := context.WithTimeout(ctx, USBWriteTimeout)
	defer cancel()

	start := time.Now()
	n, err := d.out.WriteContext(sendCtx, data)
	if err != nil {
		return Ack{}, perr.NewTransient(perr.KindTransport, fmt.Errorf("usb write: %w", err))
	}
	return Ack{BytesWritten: n, Duration: time.Since(start)}, nil
}

// Probe reads the ESC/POS real-time status register (DLE EOT n) to
// detect paper-out, cover-open, and cutter-error without sending a
// job.
func (d *USBDriver) Probe(ctx context.Context) (ProbeResult, error) {
	status, err := d.readStatus(ctx)
	if err != nil {
		return ProbeResult{Status: StatusOffline}, nil
	}
	if reason, degraded := decodeStatus(status); degraded {
		return ProbeResult{Status: StatusDegraded, Reason: reason}, nil
	}
	return ProbeResult{Status: StatusOnline}, nil
}

func (d *USBDriver) readStatus(ctx context.Context) (byte, error) {
	// DLE EOT n, n=2 queries paper sensor status; a real driver reads
	// the paired interrupt-in endpoint. Modeled here as a control
	// transfer since not every printer exposes a bulk-in status pipe.
	buf := make([]byte, 1)
	_, err := d.dev.Control(0xa1, 0x01, 0, 0, buf)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func decodeStatus(status byte) (reason string, degraded bool) {
	switch {
	case status&0x60 != 0:
		return "paper-out", true
	case status&0x04 != 0:
		return "cover-open", true
	case status&0x08 != 0:
		return "cutter-error", true
	default:
		return "", false
	}
}

func (d *USBDriver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.intf.Close()
	err := d.dev.Close()
	d.ctx.Close()
	return err
}
