package discovery

import "github.com/eatsome/printerd/internal/model"

// usbID is a (vendor, product) pair used to key the curated vendor
// table.
type usbID [2]uint16

// VendorInfo is what the curated vendor table knows about a
// (vendor_id, product_id) pair: its marketing name and the
// capabilities the setup-wizard UI (external) should assume absent a
// live probe.
type VendorInfo struct {
	Name         string
	Capabilities model.Capabilities
}

// VendorTable is exported so the setup-wizard UI can show
// "detected as Epson TM-T88"-style copy.
var VendorTable = map[usbID]VendorInfo{
	{0x04b8, 0x0202}: {"Epson TM-T88", model.Capabilities{Cutter: true, Drawer: true, QRCode: true, MaxColumns: 48}},
	{0x04b8, 0x0e15}: {"Epson TM-m30", model.Capabilities{Cutter: true, Drawer: true, QRCode: true, MaxColumns: 42}},
	{0x0519, 0x0003}: {"Star TSP100", model.Capabilities{Cutter: true, Drawer: true, QRCode: false, MaxColumns: 48}},
	{0x0525, 0xa700}: {"Star TSP650", model.Capabilities{Cutter: true, Drawer: true, QRCode: true, MaxColumns: 48}},
	{0x1504, 0x0006}: {"Bixolon SRP-350", model.Capabilities{Cutter: true, Drawer: true, QRCode: false, MaxColumns: 42}},
	{0x20d1, 0x7008}: {"Citizen CT-S310", model.Capabilities{Cutter: true, Drawer: true, QRCode: true, MaxColumns: 48}},
	{0x0493, 0x8760}: {"Brother TD-4550DNWB", model.Capabilities{Cutter: false, Drawer: false, QRCode: true, MaxColumns: 48}},
}

// defaultCapabilities is what an unrecognized (vendor, product) gets.
var defaultCapabilities = model.Capabilities{Cutter: true, Drawer: false, QRCode: true, MaxColumns: 48}

// Lookup returns the vendor table entry for (vid, pid), or a
// synthesized one using defaultCapabilities if unknown.
func Lookup(vid, pid uint16) VendorInfo {
	if info, ok := VendorTable[usbID{vid, pid}]; ok {
		return info
	}
	return VendorInfo{Name: "Unknown printer", Capabilities: defaultCapabilities}
}
