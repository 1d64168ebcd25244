package escpos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatsome/printerd/internal/model"
)

func TestRenderer_Render_IsPure(t *testing.T) {
	r := &Renderer{RestaurantName: "Eatsome", Codepage: CodepageCP437, MaxColumns: 42}
	job := model.Job{
		OrderID:     "11111111-2222-3333-4444-555555555555",
		OrderNumber: "A12",
		OrderType:   model.OrderDineIn,
		Table:       "7",
		Items: []model.OrderItem{
			{Name: "Burger", Quantity: 2, Modifiers: []string{"no onions"}},
			{Name: "Fries", Quantity: 1, Note: "extra crispy"},
		},
	}
	now := time.Date(2026, 7, 31, 12, 30, 0, 0, time.UTC)

	first := r.Render(job, "Grill", now)
	second := r.Render(job, "Grill", now)
	require.Equal(t, first, second)
	assert.Contains(t, string(first), "Eatsome")
	assert.Contains(t, string(first), "Grill")
	assert.Contains(t, string(first), "Burger")
	assert.Contains(t, string(first), "11111111")
}

func TestRenderer_Render_WrapsLongItemNames(t *testing.T) {
	r := &Renderer{RestaurantName: "Eatsome", Codepage: CodepageUTF8, MaxColumns: 20}
	name := "Double Bacon Cheeseburger With Extra Pickles"
	job := model.Job{
		OrderNumber: "A1",
		Items:       []model.OrderItem{{Name: name, Quantity: 1}},
	}

	out := string(r.Render(job, "Grill", time.Now()))
	assert.NotContains(t, out, name, "long item name should have been wrapped across multiple lines")
	assert.Contains(t, out, "Double")
	assert.Contains(t, out, "Pickles")
}

func TestRenderer_Render_DefaultsColumnsWhenUnset(t *testing.T) {
	r := &Renderer{RestaurantName: "Eatsome"}
	out := r.Render(model.Job{OrderNumber: "A1"}, "Grill", time.Now())
	assert.NotEmpty(t, out)
}
