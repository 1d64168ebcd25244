// Package transport implements the one polymorphic write interface
// C2 exposes over three backends (USB, TCP, BLE); the dispatcher
// (C7) picks an implementation at runtime by a printer's transport
// kind and never branches on it itself.
package transport

import (
	"context"
	"time"
)

// Status is a driver's self-reported reachability, returned by Probe.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
	StatusDegraded
)

// ProbeResult is the outcome of Probe. Reason is set only when Status
// is StatusDegraded (e.g. "paper-out", "cover-open").
type ProbeResult struct {
	Status Status
	Reason string
}

// Ack confirms a Send completed; Duration is exposed for metrics/logs,
// not used by any control-flow decision.
type Ack struct {
	BytesWritten int
	Duration     time.Duration
}

// Driver is the write+status primitive every transport kind
// implements. Send must honour ctx's deadline; callers (the
// dispatcher) set that deadline from the job lease and from the
// shutdown grace period.
type Driver interface {
	Send(ctx context.Context, data []byte) (Ack, error)
	Probe(ctx context.Context) (ProbeResult, error)
	Close() error
}

// Connect and write timeouts per transport kind.
const (
	USBWriteTimeout  = 5 * time.Second
	TCPConnectTimeout = 3 * time.Second
	TCPWriteTimeout  = 10 * time.Second
	// BLESendGrace is the post-connect window named in BLEDriver's
	// doc. BLE send failures are reported as transient whether or not
	// they fall inside it, and the dispatcher still counts each one as
	// a breaker failure.
	BLESendGrace = 2 * time.Second
	// TLSPort is the reserved port that opts a TCP driver into TLS.
	TLSPort = 9101
	// DefaultTCPPort is used when a network printer's address omits one.
	DefaultTCPPort = 9100
)
