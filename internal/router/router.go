// Package router implements C6: a pure function turning an incoming
// Order into one Job descriptor per routing group it touches. It
// never picks a concrete printer -- that happens at lease time -- and
// it never talks to the queue directly.
package router

import (
	"sync"

	"github.com/eatsome/printerd/internal/config"
	"github.com/eatsome/printerd/internal/model"
)

// NoPrinterAssigned is the last_error recorded on a job emitted for a
// group with no assigned printer.
const NoPrinterAssigned = "no_printer_assigned"

// Router holds the current routing-config snapshot (groups and
// station assignments) and a default fallback group for items that
// don't name one. The snapshot is replaced wholesale by the sync
// client (C10) on every config fetch; Route always runs against a
// single atomically-loaded snapshot, never a partially-updated one.
type Router struct {
	mu            sync.RWMutex
	defaultGroup  string
	table         config.RoutingTable
	groupsByPrinter map[string][]string
}

// New returns a Router with an empty routing table; call SetConfig
// once real groups/assignments are available (typically right after
// the first sync-client fetch).
func New(defaultGroup string) *Router {
	return &Router{defaultGroup: defaultGroup}
}

// SetConfig atomically replaces the routing snapshot.
func (r *Router) SetConfig(table config.RoutingTable) {
	byPrinter := make(map[string][]string)
	for _, a := range table.Assignments {
		byPrinter[a.PrinterID] = append(byPrinter[a.PrinterID], a.GroupID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
	r.groupsByPrinter = byPrinter
}

// snapshot clones the fields Route needs under the lock, then runs
// the rest of the function lock-free.
func (r *Router) snapshot() (config.RoutingTable, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table, r.defaultGroup
}

// GroupsForPrinter returns the routing groups printerID is assigned
// to (primary or backup), for the dispatcher to pass to Queue.Lease.
func (r *Router) GroupsForPrinter(printerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.groupsByPrinter[printerID]...)
}

// Route buckets order items by routing_group_id (falling back to the
// configured default group) and emits one Job descriptor per
// non-empty bucket. A group with no assigned printer still gets a
// job, but it's marked dead on arrival so the failure shows up in
// stats instead of vanishing silently.
func (r *Router) Route(order model.Order) []model.Job {
	table, defaultGroup := r.snapshot()

	buckets := make(map[string][]model.OrderItem)
	orderGroups := make([]string, 0, 4)
	for _, item := range order.Items {
		group := item.RoutingGroupID
		if group == "" {
			group = defaultGroup
		}
		if _, ok := buckets[group]; !ok {
			orderGroups = append(orderGroups, group)
		}
		buckets[group] = append(buckets[group], item)
	}

	jobs := make([]model.Job, 0, len(orderGroups))
	for _, group := range orderGroups {
		job := model.Job{
			OrderID:     order.OrderID,
			OrderNumber: order.OrderNumber,
			OrderType:   order.Type,
			Table:       order.Table,
			GroupID:     group,
			Items:       buckets[group],
			Priority:    model.DefaultPriority,
			Status:      model.JobPending,
		}
		if len(table.PrimaryAndBackups(group)) == 0 {
			job.Status = model.JobDead
			job.LastError = NoPrinterAssigned
		}
		jobs = append(jobs, job)
	}
	return jobs
}
