package orders

import (
	"fmt"
	"math"

	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// qtyEpsilon absorbs float drift in cumulative quantity comparisons.
const qtyEpsilon = 1e-9

// movementTarget is the cumulative ceiling a movement type posts
// against: shipments against the ordered quantity, deliveries against
// shipped, invoices against delivered.
func movementTarget(o Order, t MovementType) float64 {
	switch t {
	case MovementShip:
		return o.OrderedQty()
	case MovementDeliver:
		return o.PostedQty(MovementShip)
	default:
		return o.PostedQty(MovementDeliver)
	}
}

// PostMovement flips a draft row to posted after checking that the
// cumulative posted quantity stays within the type's ceiling. Rows not
// in draft are left untouched and reported as not posted.
func PostMovement(o *Order, movementID string) (bool, error) {
	m, err := o.Movement(movementID)
	if err != nil {
		return false, err
	}
	if m.Status != MovementDraft {
		return false, nil
	}
	target := movementTarget(*o, m.Type)
	posted := o.PostedQty(m.Type)
	if posted+m.Qty > target+qtyEpsilon {
		return false, fmt.Errorf("%w: %s %.4f posted %.4f of %.4f",
			ErrQtyOutOfRange, m.Type, m.Qty, posted, target)
	}
	m.Status = MovementPosted
	return true, nil
}

// CancelMovement sets a row to cancelled unconditionally and reports
// whether the row had been posted, so the caller can unwind its stock
// contribution.
func CancelMovement(o *Order, movementID string) (bool, Movement, error) {
	m, err := o.Movement(movementID)
	if err != nil {
		return false, Movement{}, err
	}
	wasPosted := m.Status == MovementPosted
	m.Status = MovementCancelled
	return wasPosted, *m, nil
}

// DeriveStatus recomputes the header status from posted movement
// quantities. The status is derived, never assigned, after every row
// mutation; when no movement has posted the current status stands.
func DeriveStatus(o Order) Status {
	ordered := o.OrderedQty()
	shipped := o.PostedQty(MovementShip)
	delivered := o.PostedQty(MovementDeliver)
	invoiced := o.PostedQty(MovementInvoice)

	switch {
	case invoiced > qtyEpsilon && invoiced >= delivered-qtyEpsilon:
		return StatusInvoiced
	case invoiced > qtyEpsilon:
		return StatusPartiallyInvoiced
	case delivered > qtyEpsilon && delivered >= shipped-qtyEpsilon:
		return StatusDelivered
	case delivered > qtyEpsilon:
		return StatusPartiallyDelivered
	case shipped > qtyEpsilon && shipped >= ordered-qtyEpsilon:
		return StatusShipped
	case shipped > qtyEpsilon:
		return StatusPartiallyShipped
	}
	// Cancelling every posted movement drops an advanced order back to
	// confirmed; earlier lifecycle states stand as they are.
	if fulfillmentStatus(o.Status) {
		return StatusConfirmed
	}
	return o.Status
}

func fulfillmentStatus(s Status) bool {
	switch s {
	case StatusPartiallyShipped, StatusShipped,
		StatusPartiallyDelivered, StatusDelivered,
		StatusPartiallyInvoiced, StatusInvoiced:
		return true
	}
	return false
}

// Allocation assigns part of a movement quantity to one order line.
type Allocation struct {
	Line OrderLine
	Qty  float64
}

// allocate distributes a movement quantity across order lines in line
// order, skipping quantity already consumed by earlier postings. The
// walk is deterministic so posting and unwinding produce identical
// line lists.
func allocate(lines []OrderLine, consumed, qty float64) []Allocation {
	var out []Allocation
	for _, line := range lines {
		if qty <= qtyEpsilon {
			break
		}
		avail := line.Qty
		if consumed >= avail-qtyEpsilon {
			consumed -= avail
			continue
		}
		avail -= consumed
		consumed = 0
		take := math.Min(avail, qty)
		qty -= take
		out = append(out, Allocation{Line: line, Qty: take})
	}
	return out
}

// stockLines projects allocations into movement lines at order prices.
func stockLines(allocs []Allocation) []stock.Line {
	out := make([]stock.Line, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, stock.Line{Key: a.Line.Key, Qty: a.Qty, Price: a.Line.UnitPrice})
	}
	return out
}
