// Package orders implements the order fulfillment state machine: the
// header status lifecycle, partial ship/deliver/invoice movements, and
// the stock and ledger side effects each posting triggers.
package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// Kind distinguishes the direction of goods and money.
type Kind string

const (
	KindSales    Kind = "SALES"
	KindPurchase Kind = "PURCHASE"
	KindReturn   Kind = "RETURN"
)

// Valid reports whether k is a known order kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSales, KindPurchase, KindReturn:
		return true
	}
	return false
}

// Status enumerates the order lifecycle.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusApproved           Status = "APPROVED"
	StatusConfirmed          Status = "CONFIRMED"
	StatusPartiallyShipped   Status = "PARTIALLY_SHIPPED"
	StatusShipped            Status = "SHIPPED"
	StatusPartiallyDelivered Status = "PARTIALLY_DELIVERED"
	StatusDelivered          Status = "DELIVERED"
	StatusPartiallyInvoiced  Status = "PARTIALLY_INVOICED"
	StatusInvoiced           Status = "INVOICED"
	StatusCancelled          Status = "CANCELLED"
	// StatusAdminMode and StatusAnyMode are administrative override
	// states, enterable from and exitable to any state.
	StatusAdminMode Status = "ADMINMODE"
	StatusAnyMode   Status = "ANYMODE"
)

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusConfirmed,
		StatusPartiallyShipped, StatusShipped,
		StatusPartiallyDelivered, StatusDelivered,
		StatusPartiallyInvoiced, StatusInvoiced,
		StatusCancelled, StatusAdminMode, StatusAnyMode:
		return true
	}
	return false
}

var orderTransitions = map[Status][]Status{
	StatusDraft:              {StatusApproved, StatusCancelled},
	StatusApproved:           {StatusConfirmed, StatusCancelled},
	StatusConfirmed:          {StatusPartiallyShipped, StatusShipped, StatusCancelled},
	StatusPartiallyShipped:   {StatusPartiallyShipped, StatusShipped, StatusCancelled},
	StatusShipped:            {StatusPartiallyDelivered, StatusDelivered},
	StatusPartiallyDelivered: {StatusPartiallyDelivered, StatusDelivered},
	StatusDelivered:          {StatusPartiallyInvoiced, StatusInvoiced},
	StatusPartiallyInvoiced:  {StatusPartiallyInvoiced, StatusInvoiced},
	StatusInvoiced:           {},
	StatusCancelled:          {},
}

// CanTransition reports whether an order may move between two statuses.
// The admin override states are universal.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == StatusAdminMode || from == StatusAnyMode || to == StatusAdminMode || to == StatusAnyMode {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MovementType names the three movement collections on an order.
type MovementType string

const (
	MovementShip    MovementType = "SHIP"
	MovementDeliver MovementType = "DELIVER"
	MovementInvoice MovementType = "INVOICE"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementShip, MovementDeliver, MovementInvoice:
		return true
	}
	return false
}

// MovementStatus is the per-row lifecycle.
type MovementStatus string

const (
	MovementDraft     MovementStatus = "DRAFT"
	MovementPosted    MovementStatus = "POSTED"
	MovementCancelled MovementStatus = "CANCELLED"
)

// Movement is one partial-fulfillment row.
type Movement struct {
	ID          string         `json:"id"`
	Type        MovementType   `json:"type"`
	Qty         float64        `json:"qty"`
	Mode        string         `json:"mode,omitempty"`
	ExternalRef string         `json:"externalRef,omitempty"`
	Date        time.Time      `json:"date"`
	Status      MovementStatus `json:"status"`
}

// OrderLine is one valued order line tied to a balance key.
type OrderLine struct {
	Num             int                 `json:"num"`
	Key             stock.DimensionKey  `json:"key"`
	Qty             float64             `json:"qty"`
	UnitPrice       float64             `json:"unitPrice"`
	DiscountPercent float64             `json:"discountPercent,omitempty"`
	ChargePercent   float64             `json:"chargePercent,omitempty"`
	GSTPercent      float64             `json:"gstPercent,omitempty"`
	TDSPercent      float64             `json:"tdsPercent,omitempty"`
	Regime          valuation.TaxRegime `json:"regime,omitempty"`
	AssessableValue float64             `json:"assessableValue"`
	DiscountAmount  float64             `json:"discountAmount"`
	ChargesAmount   float64             `json:"chargesAmount"`
	TaxableValue    float64             `json:"taxableValue"`
	CGST            float64             `json:"cgst"`
	SGST            float64             `json:"sgst"`
	IGST            float64             `json:"igst"`
	TDSAmount       float64             `json:"tdsAmount"`
}

// Order is the fulfillment document.
type Order struct {
	ID           string      `json:"id"`
	OrderNo      string      `json:"orderNo"`
	Kind         Kind        `json:"kind"`
	PartyID      string      `json:"partyId"`
	Currency     string      `json:"currency"`
	ExchangeRate float64     `json:"exchangeRate"`
	Status       Status      `json:"status"`
	Lines        []OrderLine `json:"lines"`
	Movements    []Movement  `json:"movements"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// OrderedQty is the total quantity across lines.
func (o Order) OrderedQty() float64 {
	var total float64
	for _, line := range o.Lines {
		total += line.Qty
	}
	return total
}

// PostedQty is the cumulative posted quantity of one movement type.
func (o Order) PostedQty(t MovementType) float64 {
	var total float64
	for _, m := range o.Movements {
		if m.Type == t && m.Status == MovementPosted {
			total += m.Qty
		}
	}
	return total
}

// Movement finds a movement row by id.
func (o Order) Movement(id string) (*Movement, error) {
	for i := range o.Movements {
		if o.Movements[i].ID == id {
			return &o.Movements[i], nil
		}
	}
	return nil, ErrMovementNotFound
}

// Sentinel errors.
var (
	ErrOrderNotFound    = errors.New("orders: order not found")
	ErrMovementNotFound = errors.New("orders: movement not found")
	ErrLineRequired     = errors.New("orders: order requires at least one line")
	ErrBadKind          = errors.New("orders: unknown order kind")
	ErrBadMovementType  = errors.New("orders: unknown movement type")
	ErrBadQty           = errors.New("orders: movement quantity must be positive")
	ErrQtyOutOfRange    = errors.New("orders: movement quantity exceeds remaining")
	ErrNotConfirmed     = errors.New("orders: movements require a confirmed order")
)

// StatusError describes an illegal status change.
type StatusError struct {
	From Status
	To   Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("orders: illegal status transition %s to %s", e.From, e.To)
}
