package discovery

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	"github.com/eatsome/printerd/internal/model"
)

// printerInterfaceClass is USB_CLASS_PRINTER (7).
const printerInterfaceClass = 7

// scanUSB enumerates attached USB devices, keeping those whose
// interface class is the printer class or whose (vendor, product) is
// in the curated vendor table.
func scanUSB(ctx context.Context) ([]DiscoveredPrinter, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	var out []DiscoveredPrinter
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		_, known := VendorTable[usbID{uint16(desc.Vendor), uint16(desc.Product)}]
		return known || hasPrinterInterface(desc)
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating usb devices: %w", err)
	}
	defer func() {
		for _, dev := range devs {
			dev.Close()
		}
	}()

	for _, dev := range devs {
		vid, pid := uint16(dev.Desc.Vendor), uint16(dev.Desc.Product)
		info := Lookup(vid, pid)
		serial, _ := dev.SerialNumber()

		out = append(out, DiscoveredPrinter{
			ID:            fmt.Sprintf("usb-%04x-%04x-%s", vid, pid, serial),
			Name:          info.Name,
			Transport:     model.TransportUSB,
			Address:       fmt.Sprintf("%04x:%04x:%s", vid, pid, serial),
			Vendor:        info.Name,
			ProtocolGuess: "escpos",
			Capabilities:  info.Capabilities,
		})
	}
	return out, nil
}

func hasPrinterInterface(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == printerInterfaceClass {
					return true
				}
			}
		}
	}
	return false
}
