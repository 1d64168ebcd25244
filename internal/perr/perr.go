// Package perr implements the error taxonomy of the print pipeline:
// every domain error is wrapped as Transient, Permanent, or Fatal so
// callers can decide retry vs. dead-letter vs. process exit with a
// single errors.As instead of string-matching messages.
package perr

import "fmt"

// Kind further classifies an error beyond its retry disposition, for
// logging and for the {error, code} envelope returned by ingress.
type Kind string

const (
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindPrinter   Kind = "printer"
	KindQueue     Kind = "queue"
	KindRouting   Kind = "routing"
	KindAuth      Kind = "auth"
	KindCloud     Kind = "cloud"
)

// Transient wraps an error that's worth retrying: a timeout,
// disconnect, busy device, or a 5xx from the cloud.
type Transient struct {
	Kind Kind
	Err  error
}

func (e *Transient) Error() string { return fmt.Sprintf("%s: %s (transient)", e.Kind, e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient error of the given kind.
func NewTransient(kind Kind, err error) *Transient { return &Transient{Kind: kind, Err: err} }

// Permanent wraps an error that retrying cannot fix: a bad address, a
// device that isn't a printer, a 4xx from the cloud, an auth failure.
type Permanent struct {
	Kind Kind
	Err  error
}

func (e *Permanent) Error() string { return fmt.Sprintf("%s: %s (permanent)", e.Kind, e.Err) }
func (e *Permanent) Unwrap() error { return e.Err }

// NewPermanent wraps err as a Permanent error of the given kind.
func NewPermanent(kind Kind, err error) *Permanent { return &Permanent{Kind: kind, Err: err} }

// Fatal wraps an error that should bring the process down: a corrupt
// queue file or unreadable config. cmd/printerd maps startup failures
// to a process exit code.
type Fatal struct {
	Kind Kind
	Err  error
}

func (e *Fatal) Error() string { return fmt.Sprintf("%s: %s (fatal)", e.Kind, e.Err) }
func (e *Fatal) Unwrap() error  { return e.Err }

// NewFatal wraps err as a Fatal error of the given kind.
func NewFatal(kind Kind, err error) *Fatal { return &Fatal{Kind: kind, Err: err} }

// PrinterMinBackoff is the floor applied to a device-reported fault
// (paper-out, cover-open, cutter-error): these need a human, so
// retrying faster than this just wastes a dispatch cycle.
const PrinterMinBackoff = 30
