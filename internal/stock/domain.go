// Package stock maintains composite-key inventory balances: provisional
// reservations made when orders confirm, and actual balances with
// moving-average costing mutated when movements post.
package stock

import "errors"

// DimensionKey identifies one balance record. Every set dimension is
// part of the key; unset dimensions are empty strings and match only
// records that also leave them unset.
type DimensionKey struct {
	ItemID    string `json:"itemId"`
	Site      string `json:"site,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Zone      string `json:"zone,omitempty"`
	Location  string `json:"location,omitempty"`
	Aisle     string `json:"aisle,omitempty"`
	Rack      string `json:"rack,omitempty"`
	Shelf     string `json:"shelf,omitempty"`
	Bin       string `json:"bin,omitempty"`
	Config    string `json:"config,omitempty"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Style     string `json:"style,omitempty"`
	Version   string `json:"version,omitempty"`
	Batch     string `json:"batch,omitempty"`
	Serial    string `json:"serial,omitempty"`
}

// RefTags record which document last touched a balance.
type RefTags struct {
	RefType    string `json:"refType"`
	RefID      string `json:"refId"`
	RefNum     string `json:"refNum"`
	RefLineNum int    `json:"refLineNum"`
}

// ProvisionalBalance holds reserved-not-yet-real quantity and value.
type ProvisionalBalance struct {
	Key               DimensionKey `json:"key"`
	Quantity          float64      `json:"quantity"`
	TotalReserveValue float64      `json:"totalReserveValue"`
	Ref               RefTags      `json:"ref"`
}

// StockBalance is the actual on-hand record. CostPrice is the moving
// average: totalCostValue / quantity while quantity is nonzero.
type StockBalance struct {
	Key                DimensionKey `json:"key"`
	Quantity           float64      `json:"quantity"`
	TotalCostValue     float64      `json:"totalCostValue"`
	TotalPurchaseValue float64      `json:"totalPurchaseValue"`
	TotalSalesValue    float64      `json:"totalSalesValue"`
	TotalRevenueValue  float64      `json:"totalRevenueValue"`
	CostPrice          float64      `json:"costPrice"`
	Ref                RefTags      `json:"ref"`
}

// Line is one movement line against a single balance key. Qty carries
// the caller's sign: positive adds stock, negative removes it.
type Line struct {
	Key   DimensionKey `json:"key"`
	Qty   float64      `json:"qty"`
	Price float64      `json:"price"`
}

var (
	// ErrBalanceMissing indicates a reversal against a balance that was
	// never applied. Always fatal.
	ErrBalanceMissing = errors.New("stock: no balance to reverse")
	// ErrDuplicateKey indicates a first-insert race on a composite key.
	ErrDuplicateKey = errors.New("stock: duplicate balance key")
	// ErrNotFound indicates a missing balance record.
	ErrNotFound = errors.New("stock: balance not found")
)
