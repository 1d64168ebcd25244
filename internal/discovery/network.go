package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/hashicorp/mdns"

	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/transport"
)

// mdnsServiceTypes are the service types browsed for candidate printers.
var mdnsServiceTypes = []string{"_ipp._tcp", "_printer._tcp", "_pdl-datastream._tcp"}

const (
	mdnsBrowseTimeout = 5 * time.Second
	tcpProbeTimeout   = 1 * time.Second
)

// scanNetwork browses mDNS for printer service types, probes each
// responder with a short raw-socket connect, and falls back to an
// SNMP sweep of the local /24 when mDNS finds nothing.
func scanNetwork(ctx context.Context) ([]DiscoveredPrinter, error) {
	var out []DiscoveredPrinter
	for _, svc := range mdnsServiceTypes {
		entries := browseMDNS(ctx, svc)
		for _, e := range entries {
			if ctx.Err() != nil {
				return out, nil
			}
			addr := fmt.Sprintf("%s:%d", e.AddrV4, portOrDefault(e.Port))
			if !tcpProbe(ctx, addr) {
				continue
			}
			out = append(out, DiscoveredPrinter{
				ID:            fmt.Sprintf("net-%s", addr),
				Name:          e.Name,
				Transport:     model.TransportNetwork,
				Address:       addr,
				ProtocolGuess: "escpos",
				Capabilities:  defaultCapabilities,
			})
		}
	}

	if len(out) == 0 {
		out = append(out, snmpSweep(ctx)...)
	}
	return out, nil
}

func browseMDNS(ctx context.Context, service string) []*mdns.ServiceEntry {
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	var entries []*mdns.ServiceEntry
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entriesCh {
			entries = append(entries, e)
		}
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = mdnsBrowseTimeout
	params.Entries = entriesCh
	mdns.Query(params) // best-effort; errors surface as zero entries
	close(entriesCh)
	<-done
	return entries
}

func portOrDefault(p int) int {
	if p == 0 {
		return transport.DefaultTCPPort
	}
	return p
}

func tcpProbe(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: tcpProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// snmpSweep scans the daemon's local /24 for SNMP-speaking print
// devices as a fallback when mDNS found no responders.
func snmpSweep(ctx context.Context) []DiscoveredPrinter {
	localNet, err := localIPv4Net()
	if err != nil {
		return nil
	}

	var out []DiscoveredPrinter
	for _, ip := range hostsIn(localNet) {
		if ctx.Err() != nil {
			break
		}
		client := &gosnmp.GoSNMP{
			Target:    ip,
			Port:      161,
			Community: "public",
			Version:   gosnmp.Version2c,
			Timeout:   200 * time.Millisecond,
			Retries:   0,
		}
		if err := client.Connect(); err != nil {
			continue
		}
		// sysDescr.0 -- a non-error GET is enough signal that
		// something SNMP-capable (frequently a network printer) is
		// listening; deeper MIB walks are left to the setup wizard.
		_, err := client.Get([]string{"1.3.6.1.2.1.1.1.0"})
		client.Conn.Close()
		if err != nil {
			continue
		}
		out = append(out, DiscoveredPrinter{
			ID:            fmt.Sprintf("net-snmp-%s", ip),
			Name:          "SNMP-discovered printer",
			Transport:     model.TransportNetwork,
			Address:       fmt.Sprintf("%s:%d", ip, transport.DefaultTCPPort),
			ProtocolGuess: "escpos",
			Capabilities:  defaultCapabilities,
		})
	}
	return out
}

func localIPv4Net() (*net.IPNet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return &net.IPNet{IP: v4.Mask(ipnet.Mask), Mask: ipnet.Mask}, nil
		}
	}
	return nil, fmt.Errorf("no local ipv4 network found")
}

// hostsIn enumerates host addresses in a /24 (or smaller) network;
// a network wider than /24 yields no hosts, keeping a scan bounded
// under the 30s deadline.
func hostsIn(n *net.IPNet) []string {
	ones, bits := n.Mask.Size()
	if bits-ones > 8 {
		return nil // wider than /24: too slow for a bounded scan
	}
	base := n.IP.To4()
	if base == nil {
		return nil
	}
	var out []string
	for i := 1; i < 255; i++ {
		ip := net.IPv4(base[0], base[1], base[2], byte(i))
		if n.Contains(ip) {
			out = append(out, ip.String())
		}
	}
	return out
}
