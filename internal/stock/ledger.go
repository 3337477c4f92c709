package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// StockDelta is the increment applied to a StockBalance. CostPrice is
// recomputed by the repository after the delta lands.
type StockDelta struct {
	Qty           float64
	CostValue     float64
	PurchaseValue float64
	SalesValue    float64
	RevenueValue  float64
}

// Repository is the balance persistence port. Update methods return
// ErrNotFound when no record matches the key; insert methods return
// ErrDuplicateKey when another writer created the record first.
type Repository interface {
	GetProvisional(ctx context.Context, key DimensionKey) (ProvisionalBalance, error)
	InsertProvisional(ctx context.Context, balance ProvisionalBalance) error
	UpdateProvisionalDelta(ctx context.Context, key DimensionKey, dQty, dValue float64, ref RefTags) error

	GetStock(ctx context.Context, key DimensionKey) (StockBalance, error)
	InsertStock(ctx context.Context, balance StockBalance) error
	UpdateStockDelta(ctx context.Context, key DimensionKey, delta StockDelta, ref RefTags) error
}

// Ledger applies reservation and movement line lists to balances. A
// single-line order is just a one-element list; there is one code path.
type Ledger struct {
	repo Repository
	log  *slog.Logger
}

// NewLedger builds the stock ledger engine.
func NewLedger(repo Repository, log *slog.Logger) *Ledger {
	return &Ledger{repo: repo, log: log}
}

// Reserve records provisional quantity and value for every line. A
// return order reserves with the opposite sign.
func (l *Ledger) Reserve(ctx context.Context, lines []Line, ref RefTags, isReturn bool) error {
	for i, line := range lines {
		qty := line.Qty
		if isReturn {
			qty = -qty
		}
		value := valuation.Round2(qty * line.Price)
		if err := l.upsertProvisional(ctx, line.Key, qty, value, ref); err != nil {
			return fmt.Errorf("stock: reserve line %d: %w", i, err)
		}
	}
	return nil
}

// Release undoes a reservation with identical data. Missing records are
// skipped; a released reservation that was never made is not a fault.
func (l *Ledger) Release(ctx context.Context, lines []Line, ref RefTags, isReturn bool) error {
	for i, line := range lines {
		qty := line.Qty
		if isReturn {
			qty = -qty
		}
		value := valuation.Round2(qty * line.Price)
		err := l.repo.UpdateProvisionalDelta(ctx, line.Key, -qty, -value, ref)
		if errors.Is(err, ErrNotFound) {
			l.log.Debug("release without reservation",
				slog.String("item_id", line.Key.ItemID),
				slog.String("ref_id", ref.RefID))
			continue
		}
		if err != nil {
			return fmt.Errorf("stock: release line %d: %w", i, err)
		}
	}
	return nil
}

// Apply realizes movement lines into actual balances, maintaining the
// moving-average cost price. Qty carries the caller's sign.
func (l *Ledger) Apply(ctx context.Context, lines []Line, ref RefTags) error {
	for i, line := range lines {
		if err := l.upsertStock(ctx, line.Key, applyDelta(line), ref); err != nil {
			return fmt.Errorf("stock: apply line %d: %w", i, err)
		}
	}
	return nil
}

// Reverse undoes an apply with identical data. A reversal against a
// missing balance is a data-integrity fault and always fails.
func (l *Ledger) Reverse(ctx context.Context, lines []Line, ref RefTags) error {
	for i, line := range lines {
		delta := applyDelta(line)
		delta.Qty = -delta.Qty
		delta.CostValue = -delta.CostValue
		delta.PurchaseValue = -delta.PurchaseValue
		delta.SalesValue = -delta.SalesValue
		delta.RevenueValue = -delta.RevenueValue
		err := l.repo.UpdateStockDelta(ctx, line.Key, delta, ref)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("stock: reverse line %d: %w", i, ErrBalanceMissing)
		}
		if err != nil {
			return fmt.Errorf("stock: reverse line %d: %w", i, err)
		}
	}
	return nil
}

// applyDelta splits a signed movement into balance increments. Inflow
// accrues purchase value; outflow accrues revenue value and its sales
// counterpart.
func applyDelta(line Line) StockDelta {
	value := valuation.Round2(line.Qty * line.Price)
	delta := StockDelta{Qty: line.Qty, CostValue: value}
	if line.Qty >= 0 {
		delta.PurchaseValue = value
	} else {
		delta.RevenueValue = value
		delta.SalesValue = -value
	}
	return delta
}

// upsertProvisional updates first and inserts on miss. A first-insert
// race surfaces as a duplicate key and is retried exactly once as a
// plain update; a second failure propagates.
func (l *Ledger) upsertProvisional(ctx context.Context, key DimensionKey, dQty, dValue float64, ref RefTags) error {
	err := l.repo.UpdateProvisionalDelta(ctx, key, dQty, dValue, ref)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	err = l.repo.InsertProvisional(ctx, ProvisionalBalance{
		Key:               key,
		Quantity:          dQty,
		TotalReserveValue: dValue,
		Ref:               ref,
	})
	if errors.Is(err, ErrDuplicateKey) {
		return l.repo.UpdateProvisionalDelta(ctx, key, dQty, dValue, ref)
	}
	return err
}

func (l *Ledger) upsertStock(ctx context.Context, key DimensionKey, delta StockDelta, ref RefTags) error {
	err := l.repo.UpdateStockDelta(ctx, key, delta, ref)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	balance := StockBalance{
		Key:                key,
		Quantity:           delta.Qty,
		TotalCostValue:     delta.CostValue,
		TotalPurchaseValue: delta.PurchaseValue,
		TotalSalesValue:    delta.SalesValue,
		TotalRevenueValue:  delta.RevenueValue,
		Ref:                ref,
	}
	if balance.Quantity != 0 {
		balance.CostPrice = valuation.Round2(balance.TotalCostValue / balance.Quantity)
	}
	err = l.repo.InsertStock(ctx, balance)
	if errors.Is(err, ErrDuplicateKey) {
		return l.repo.UpdateStockDelta(ctx, key, delta, ref)
	}
	return err
}

// Provisional reads one provisional balance.
func (l *Ledger) Provisional(ctx context.Context, key DimensionKey) (ProvisionalBalance, error) {
	return l.repo.GetProvisional(ctx, key)
}

// Balance reads one actual balance.
func (l *Ledger) Balance(ctx context.Context, key DimensionKey) (StockBalance, error) {
	return l.repo.GetStock(ctx, key)
}
