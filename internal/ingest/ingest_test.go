package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/config"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/queue"
	"github.com/eatsome/printerd/internal/router"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := engine.OpenTestDB(t)
	q, err := queue.Open(context.Background(), db, "test-passphrase")
	require.NoError(t, err)

	r := router.New("kitchen")
	r.SetConfig(config.RoutingTable{
		Groups: []model.RoutingGroup{{ID: "kitchen", Name: "Kitchen"}, {ID: "bar", Name: "Bar"}},
		Assignments: []model.StationAssignment{
			{GroupID: "kitchen", PrinterID: "p1", Role: model.RolePrimary},
		},
	})
	return New(r, q)
}

func TestAccept_RejectsEmptyOrder(t *testing.T) {
	s := newTestService(t)
	_, _, err := s.Accept(context.Background(), model.Order{OrderID: "o1"})
	var empty *ErrEmptyOrder
	assert.ErrorAs(t, err, &empty)
}

func TestAccept_RejectsTooManyItems(t *testing.T) {
	s := newTestService(t)
	items := make([]model.OrderItem, model.MaxOrderItems+1)
	for i := range items {
		items[i] = model.OrderItem{Name: "x", Quantity: 1}
	}
	_, _, err := s.Accept(context.Background(), model.Order{OrderID: "o1", Items: items})
	var tooMany *ErrTooManyItems
	assert.ErrorAs(t, err, &tooMany)
}

func TestAccept_EnqueuesRoutedJobs(t *testing.T) {
	s := newTestService(t)
	order := model.Order{
		OrderID:     "o1",
		OrderNumber: "100",
		Type:        model.OrderDineIn,
		Items:       []model.OrderItem{{Name: "Burger", Quantity: 1, RoutingGroupID: "kitchen"}},
	}

	accepted, deduped, err := s.Accept(context.Background(), order)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	assert.Empty(t, deduped)
}

func TestAccept_DuplicateOrderDedupes(t *testing.T) {
	s := newTestService(t)
	order := model.Order{
		OrderID:     "o1",
		OrderNumber: "100",
		Items:       []model.OrderItem{{Name: "Burger", Quantity: 1, RoutingGroupID: "kitchen"}},
	}

	_, _, err := s.Accept(context.Background(), order)
	require.NoError(t, err)

	accepted, deduped, err := s.Accept(context.Background(), order)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, deduped, 1)
}

func TestAccept_UnroutableItemIsEnqueuedDeadNotFailed(t *testing.T) {
	s := newTestService(t)
	order := model.Order{
		OrderID:     "o1",
		OrderNumber: "100",
		Items:       []model.OrderItem{{Name: "Mystery dish", Quantity: 1, RoutingGroupID: "does-not-exist"}},
	}

	accepted, deduped, err := s.Accept(context.Background(), order)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Empty(t, deduped)

	stats, err := s.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedTerminal)
}

func TestValidateOrderPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid order",
			payload: `{"order_id":"o1","items":[{"name":"Burger","quantity":1}]}`,
		},
		{
			name:    "valid with empty items",
			payload: `{"order_id":"o1","items":[]}`,
		},
		{
			name:    "missing order_id",
			payload: `{"items":[{"name":"Burger","quantity":1}]}`,
			wantErr: true,
		},
		{
			name:    "missing items",
			payload: `{"order_id":"o1"}`,
			wantErr: true,
		},
		{
			name:    "item missing quantity",
			payload: `{"order_id":"o1","items":[{"name":"Burger"}]}`,
			wantErr: true,
		},
		{
			name:    "zero quantity",
			payload: `{"order_id":"o1","items":[{"name":"Burger","quantity":0}]}`,
			wantErr: true,
		},
		{
			name:    "unknown order type",
			payload: `{"order_id":"o1","type":"brunch","items":[{"name":"Burger","quantity":1}]}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			payload: `["order_id"]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderPayload([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				var schemaErr *ErrSchemaValidation
				assert.ErrorAs(t, err, &schemaErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
