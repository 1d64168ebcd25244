// Package model holds the data types shared across the print pipeline:
// printers, routing configuration, inbound orders, and the jobs the
// router derives from them.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TransportKind identifies which driver (internal/transport) owns a printer.
type TransportKind string

const (
	TransportUSB       TransportKind = "usb"
	TransportNetwork   TransportKind = "network"
	TransportBluetooth TransportKind = "bluetooth"
)

// PrinterStatus is the last-known reachability of a printer.
type PrinterStatus string

const (
	PrinterOnline   PrinterStatus = "online"
	PrinterOffline  PrinterStatus = "offline"
	PrinterDisabled PrinterStatus = "disabled"
)

// Capabilities describes what a printer can render.
type Capabilities struct {
	Cutter     bool `json:"cutter"`
	Drawer     bool `json:"drawer"`
	QRCode     bool `json:"qrcode"`
	MaxColumns int  `json:"max_columns"`
}

// Printer is the persistent record of a kitchen printer. ID is
// deterministic from its address so re-discovering the same device
// never creates a duplicate record.
type Printer struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Transport    TransportKind `json:"transport"`
	Address      string        `json:"address"` // "vid:pid:serial", "host:port", or a MAC
	Protocol     string        `json:"protocol"`
	Capabilities Capabilities  `json:"capabilities"`
	LastSeen     time.Time     `json:"last_seen"`
	Status       PrinterStatus `json:"status"`
}

// RoutingGroup is a named kitchen station, e.g. "bar" or "grill".
type RoutingGroup struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Sort    int    `json:"sort"`
	Colour  string `json:"colour"`
}

// AssignmentRole distinguishes the preferred printer for a group from
// its fallbacks.
type AssignmentRole string

const (
	RolePrimary AssignmentRole = "primary"
	RoleBackup  AssignmentRole = "backup"
)

// StationAssignment binds a printer to a routing group with a role. At
// most one primary may exist per group; any number of backups.
type StationAssignment struct {
	GroupID   string         `json:"group_id"`
	PrinterID string         `json:"printer_id"`
	Role      AssignmentRole `json:"role"`
}

// OrderType distinguishes dine-in tickets (which usually carry a table
// number) from takeaway/delivery ones.
type OrderType string

const (
	OrderDineIn   OrderType = "dine_in"
	OrderTakeaway OrderType = "takeaway"
	OrderDelivery OrderType = "delivery"
)

// OrderItem is one line of an incoming order.
type OrderItem struct {
	MenuItemID     string   `json:"menu_item_id,omitempty"`
	Name           string   `json:"name"`
	Quantity       int      `json:"quantity"`
	Modifiers      []string `json:"modifiers,omitempty"`
	Note           string   `json:"note,omitempty"`
	RoutingGroupID string   `json:"routing_group_id,omitempty"`
}

// Order is the transient input accepted by both ingress paths (C8/C9).
type Order struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Type        OrderType   `json:"type"`
	Table       string      `json:"table,omitempty"`
	Items       []OrderItem `json:"items"`
}

// MaxOrderItems bounds an order's item count; above this the ingress
// layer rejects the request as malformed rather than handing the
// router a pathological input.
const MaxOrderItems = 500

// JobStatus is a Job's position in its lifecycle DAG:
// pending -> in_flight -> {done, pending (after backoff), dead}.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobInFlight JobStatus = "in_flight"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobDead     JobStatus = "dead"
)

const (
	DefaultPriority = 3
	MaxAttempts     = 5
)

// Job is one unit of printing: the items routed to a single station
// for a single order. PrinterID is assigned at lease time, not at
// enqueue, so a printer that comes online after the order arrived can
// still take the job.
type Job struct {
	JobID         string      `json:"job_id"`
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	OrderType     OrderType   `json:"order_type"`
	Table         string      `json:"table,omitempty"`
	GroupID       string      `json:"group_id"`
	PrinterID     string      `json:"printer_id,omitempty"`
	Items         []OrderItem `json:"items"`
	Priority      int         `json:"priority"`
	Status        JobStatus   `json:"status"`
	AttemptCount  int         `json:"attempt_count"`
	NextAttemptAt time.Time   `json:"next_attempt_at"`
	CreatedAt     time.Time   `json:"created_at"`
	LastError     string      `json:"last_error,omitempty"`
	DedupKey      string      `json:"dedup_key"`
}

// DedupKey hashes (order_id, group_id) into the key enqueue uses to
// make delivery idempotent: at most one non-terminal job may exist
// per key.
func DedupKey(orderID, groupID string) string {
	sum := sha256.Sum256([]byte(orderID + "\x00" + groupID))
	return hex.EncodeToString(sum[:])
}

// BreakerState is the per-printer failure-isolation state tracked by
// internal/breaker.
type BreakerState struct {
	PrinterID          string    `json:"printer_id"`
	State              string    `json:"state"` // closed | open | half_open
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastFailureAt      time.Time `json:"last_failure_at"`
	OpenUntil          time.Time `json:"open_until"`
}
