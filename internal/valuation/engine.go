// Package valuation computes per-line discount, charge and tax amounts
// for document lines. It is pure: no I/O, deterministic output.
package valuation

import (
	"github.com/shopspring/decimal"
)

// TaxRegime selects which GST split applies to a line. Intra-state
// trade splits the tax into CGST and SGST halves; inter-state trade
// levies the whole amount as IGST. The two are mutually exclusive.
type TaxRegime string

const (
	RegimeIntraState TaxRegime = "INTRA_STATE"
	RegimeInterState TaxRegime = "INTER_STATE"
)

// Line is the raw input for valuing a single document line. Optional
// fields are pointers: when nil they are derived from the other fields.
type Line struct {
	Qty             float64
	UnitPrice       float64
	AssessableValue *float64
	DiscountPercent float64
	ChargePercent   float64
	GSTPercent      float64
	TDSPercent      float64
	Regime          TaxRegime
	Debit           float64
	Credit          float64
	Currency        string
	ExchangeRate    float64
	LocalAmount     *float64
}

// Valued carries the original line fields plus every computed amount,
// all rounded to two decimal places.
type Valued struct {
	Qty             float64
	UnitPrice       float64
	AssessableValue float64
	DiscountPercent float64
	DiscountAmount  float64
	ChargePercent   float64
	ChargesAmount   float64
	TaxableValue    float64
	GSTPercent      float64
	TotalGST        float64
	CGST            float64
	SGST            float64
	IGST            float64
	TDSPercent      float64
	TDSAmount       float64
	Regime          TaxRegime
	Debit           float64
	Credit          float64
	Currency        string
	ExchangeRate    float64
	LocalAmount     float64
}

// Round2 rounds to 2 decimal places, halves away from zero, so
// -0.125 becomes -0.13. Idempotent.
func Round2(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}

func pct(base float64, percent float64) float64 {
	v, _ := decimal.NewFromFloat(base).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(2).Float64()
	return v
}

// ComputeLine values a single line.
func ComputeLine(in Line) Valued {
	assessable := in.Qty * in.UnitPrice
	if in.AssessableValue != nil {
		assessable = *in.AssessableValue
	}

	discount := pct(assessable, in.DiscountPercent)
	charges := pct(assessable, in.ChargePercent)
	taxable := Round2(assessable - discount + charges)
	totalGST := pct(taxable, in.GSTPercent)
	tds := pct(taxable, in.TDSPercent)

	out := Valued{
		Qty:             in.Qty,
		UnitPrice:       in.UnitPrice,
		AssessableValue: assessable,
		DiscountPercent: in.DiscountPercent,
		DiscountAmount:  discount,
		ChargePercent:   in.ChargePercent,
		ChargesAmount:   charges,
		TaxableValue:    taxable,
		GSTPercent:      in.GSTPercent,
		TotalGST:        totalGST,
		TDSPercent:      in.TDSPercent,
		TDSAmount:       tds,
		Regime:          in.Regime,
		Currency:        in.Currency,
		Debit:           Round2(in.Debit),
		Credit:          Round2(in.Credit),
		ExchangeRate:    Round2(in.ExchangeRate),
	}

	// CGST/SGST and IGST are mutually exclusive regimes; an unset
	// regime is treated as intra-state.
	switch in.Regime {
	case RegimeInterState:
		out.IGST = totalGST
	default:
		out.Regime = RegimeIntraState
		half := Round2(totalGST / 2)
		out.CGST = half
		out.SGST = half
	}

	if in.LocalAmount != nil {
		out.LocalAmount = *in.LocalAmount
	} else {
		out.LocalAmount = Round2((out.Debit - out.Credit) * out.ExchangeRate)
	}
	return out
}

// ComputeLines values every line in order.
func ComputeLines(lines []Line) []Valued {
	out := make([]Valued, 0, len(lines))
	for _, line := range lines {
		out = append(out, ComputeLine(line))
	}
	return out
}
