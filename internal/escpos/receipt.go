package escpos

import (
	"fmt"
	"time"

	"github.com/eatsome/printerd/internal/model"
)

// Renderer produces the kitchen-receipt template, the only template
// this daemon ships. It is pure: Render(job) is byte-identical across
// calls given the same inputs and clock reading.
type Renderer struct {
	RestaurantName string
	Codepage       Codepage
	MaxColumns     int

	// IncludeBarcode prints a Code128 barcode of the order number
	// below the footer. Off by default.
	IncludeBarcode bool
}

// Render builds the byte stream for job, addressed to station (the
// routing group's display name), using now for the printed timestamp.
func (r *Renderer) Render(job model.Job, station string, now time.Time) []byte {
	cols := r.MaxColumns
	if cols <= 0 {
		cols = 48
	}
	b := New(r.Codepage, cols)
	b.Init()

	b.Justify(JustifyCenter).Size(Size2x2).Bold(true)
	b.Line(r.RestaurantName)
	b.Size(Size1x1)
	b.Line(station)
	b.Bold(false)
	b.Justify(JustifyLeft)

	left := fmt.Sprintf("%s  %s", job.OrderNumber, orderTypeLabel(job.OrderType))
	if job.Table != "" {
		left += "  table " + job.Table
	}
	right := now.Format("15:04:05")
	b.Table(
		[]Column{{Width: cols - 8, Align: JustifyLeft}, {Width: 8, Align: JustifyRight}},
		[]string{left, right},
	)
	b.Rule()

	for _, item := range job.Items {
		b.Bold(true)
		b.WrappedLine(fmt.Sprintf("%d x  %s", item.Quantity, item.Name))
		b.Bold(false)
		for _, mod := range item.Modifiers {
			b.WrappedLine(" +" + mod)
		}
		if item.Note != "" {
			b.WrappedLine(" !" + item.Note)
		}
	}
	b.Rule()

	b.Justify(JustifyCenter)
	b.Line("#" + shortID(job.OrderID))
	if r.IncludeBarcode {
		b.Feed(1)
		b.Barcode(SymbologyCode128, job.OrderNumber)
	}
	b.Feed(3)
	b.FullCut()
	return b.Bytes()
}

func orderTypeLabel(t model.OrderType) string {
	switch t {
	case model.OrderTakeaway:
		return "TAKEAWAY"
	case model.OrderDelivery:
		return "DELIVERY"
	default:
		return "DINE IN"
	}
}

// shortID returns the first 8 characters of a UUID-shaped id, or the
// whole string if it's already short.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
