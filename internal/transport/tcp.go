package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/eatsome/printerd/internal/perr"
)

// TCPDriver speaks raw ESC/POS over a TCP socket (the "9100" raw
// printing convention). ESC/POS has no framing, so Send is just a
// byte-for-byte write.
type TCPDriver struct {
	host string
	port int
	tls  bool

	conn net.Conn
}

// NewTCPDriver dials host:port immediately, so an unreachable printer
// fails here rather than on the first send. Discovery's probe uses
// its own dialer. Port 9101 (reserved) opts into TLS.
func NewTCPDriver(ctx context.Context, address string) (*TCPDriver, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		portStr = strconv.Itoa(DefaultTCPPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, perr.NewPermanent(perr.KindTransport, fmt.Errorf("bad port in address %q: %w", address, err))
	}

	d := &TCPDriver{host: host, port: port, tls: port == TLSPort}
	if err := d.dial(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *TCPDriver) dial(ctx context.Context) error {
	addr := net.JoinHostPort(d.host, strconv.Itoa(d.port))
	dialer := net.Dialer{Timeout: TCPConnectTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, TCPConnectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return perr.NewTransient(perr.KindTransport, fmt.Errorf("dialing %s: %w", addr, err))
	}
	if d.tls {
		conn = tls.Client(conn, &tls.Config{ServerName: d.host})
	}
	d.conn = conn
	return nil
}

func (d *TCPDriver) Send(ctx context.Context, data []byte) (Ack, error) {
	if d.conn == nil {
		if err := d.dial(ctx); err != nil {
			return Ack{}, err
		}
	}

	deadline := time.Now().Add(TCPWriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	d.conn.SetWriteDeadline(deadline)

	start := time.Now()
	n, err := d.conn.Write(data)
	if err != nil {
		d.conn.Close()
		d.conn = nil
		if isTimeoutErr(err) {
			return Ack{}, perr.NewTransient(perr.KindTransport, err)
		}
		return Ack{}, perr.NewTransient(perr.KindTransport, fmt.Errorf("write: %w", err))
	}
	return Ack{BytesWritten: n, Duration: time.Since(start)}, nil
}

func (d *TCPDriver) Probe(ctx context.Context) (ProbeResult, error) {
	if d.conn == nil {
		if err := d.dial(ctx); err != nil {
			return ProbeResult{Status: StatusOffline}, nil
		}
	}
	return ProbeResult{Status: StatusOnline}, nil
}

func (d *TCPDriver) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}
