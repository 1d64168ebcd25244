package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatsome/printerd/internal/config"
	"github.com/eatsome/printerd/internal/model"
)

func withAssignment(r *Router, group, printer string) {
	r.SetConfig(config.RoutingTable{
		Groups:      []model.RoutingGroup{{ID: group, Name: group}},
		Assignments: []model.StationAssignment{{GroupID: group, PrinterID: printer, Role: model.RolePrimary}},
	})
}

func TestRouter_SingleStationFallsBackToDefault(t *testing.T) {
	r := New("kitchen")
	withAssignment(r, "kitchen", "p1")

	jobs := r.Route(model.Order{
		OrderID:     "o1",
		OrderNumber: "R001-0001",
		Type:        model.OrderDineIn,
		Items: []model.OrderItem{
			{Name: "Burger", Quantity: 2, Modifiers: []string{"no onion"}},
		},
	})

	require.Len(t, jobs, 1)
	assert.Equal(t, "kitchen", jobs[0].GroupID)
	assert.Equal(t, model.JobPending, jobs[0].Status)
	assert.Len(t, jobs[0].Items, 1)
}

func TestRouter_MultiStationSplit(t *testing.T) {
	r := New("kitchen")
	r.SetConfig(config.RoutingTable{
		Assignments: []model.StationAssignment{
			{GroupID: "bar", PrinterID: "p1", Role: model.RolePrimary},
			{GroupID: "grill", PrinterID: "p2", Role: model.RolePrimary},
		},
	})

	jobs := r.Route(model.Order{
		OrderID: "o1",
		Items: []model.OrderItem{
			{Name: "Cola", Quantity: 1, RoutingGroupID: "bar"},
			{Name: "Steak", Quantity: 1, Modifiers: []string{"rare"}, RoutingGroupID: "grill"},
		},
	})

	require.Len(t, jobs, 2)
	byGroup := map[string]model.Job{}
	for _, j := range jobs {
		byGroup[j.GroupID] = j
	}
	assert.Equal(t, "Cola", byGroup["bar"].Items[0].Name)
	assert.Equal(t, "Steak", byGroup["grill"].Items[0].Name)
}

func TestRouter_NoAssignedPrinterProducesDeadJob(t *testing.T) {
	r := New("kitchen")

	jobs := r.Route(model.Order{
		OrderID: "o1",
		Items:   []model.OrderItem{{Name: "Soup", Quantity: 1, RoutingGroupID: "kitchen"}},
	})

	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobDead, jobs[0].Status)
	assert.Equal(t, NoPrinterAssigned, jobs[0].LastError)
}

func TestRouter_ItemUnionHasNoDuplication(t *testing.T) {
	r := New("kitchen")
	withAssignment(r, "kitchen", "p1")

	order := model.Order{
		OrderID: "o1",
		Items: []model.OrderItem{
			{Name: "A", Quantity: 1},
			{Name: "B", Quantity: 1},
			{Name: "C", Quantity: 1},
		},
	}
	jobs := r.Route(order)
	require.Len(t, jobs, 1)
	assert.ElementsMatch(t, order.Items, jobs[0].Items)
}

func TestRouter_GroupsForPrinter(t *testing.T) {
	r := New("kitchen")
	r.SetConfig(config.RoutingTable{
		Assignments: []model.StationAssignment{
			{GroupID: "kitchen", PrinterID: "p1", Role: model.RolePrimary},
			{GroupID: "grill", PrinterID: "p1", Role: model.RoleBackup},
		},
	})

	assert.ElementsMatch(t, []string{"kitchen", "grill"}, r.GroupsForPrinter("p1"))
	assert.Empty(t, r.GroupsForPrinter("unknown"))
}
