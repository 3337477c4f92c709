package stock

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// Dimension columns are NOT NULL with an empty-string default so the
// composite primary key matches records dimension-for-dimension.
const keyWhere = `item_id = $1 AND site = $2 AND warehouse = $3 AND zone = $4 AND location = $5
	AND aisle = $6 AND rack = $7 AND shelf = $8 AND bin = $9 AND config = $10
	AND color = $11 AND size = $12 AND style = $13 AND version = $14 AND batch = $15 AND serial = $16`

func keyArgs(key DimensionKey) []any {
	return []any{
		key.ItemID, key.Site, key.Warehouse, key.Zone, key.Location,
		key.Aisle, key.Rack, key.Shelf, key.Bin, key.Config,
		key.Color, key.Size, key.Style, key.Version, key.Batch, key.Serial,
	}
}

// PG persists balances in PostgreSQL. It works over a pool or an open
// transaction, so order flows can mutate stock atomically with their
// own writes.
type PG struct {
	q db.Querier
}

// NewPG constructs the PostgreSQL balance repository.
func NewPG(q db.Querier) *PG {
	return &PG{q: q}
}

func (r *PG) GetProvisional(ctx context.Context, key DimensionKey) (ProvisionalBalance, error) {
	balance := ProvisionalBalance{Key: key}
	err := r.q.QueryRow(ctx, `SELECT quantity, total_reserve_value,
	COALESCE(ref_type, ''), COALESCE(ref_id, ''), COALESCE(ref_num, ''), COALESCE(ref_line_num, 0)
FROM provisional_balances WHERE `+keyWhere, keyArgs(key)...).
		Scan(&balance.Quantity, &balance.TotalReserveValue,
			&balance.Ref.RefType, &balance.Ref.RefID, &balance.Ref.RefNum, &balance.Ref.RefLineNum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProvisionalBalance{}, ErrNotFound
		}
		return ProvisionalBalance{}, err
	}
	return balance, nil
}

func (r *PG) InsertProvisional(ctx context.Context, balance ProvisionalBalance) error {
	args := append(keyArgs(balance.Key),
		balance.Quantity, balance.TotalReserveValue,
		balance.Ref.RefType, balance.Ref.RefID, balance.Ref.RefNum, balance.Ref.RefLineNum)
	_, err := r.q.Exec(ctx, `INSERT INTO provisional_balances (
	item_id, site, warehouse, zone, location, aisle, rack, shelf, bin, config,
	color, size, style, version, batch, serial,
	quantity, total_reserve_value, ref_type, ref_id, ref_num, ref_line_num)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`, args...)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *PG) UpdateProvisionalDelta(ctx context.Context, key DimensionKey, dQty, dValue float64, ref RefTags) error {
	args := append(keyArgs(key), dQty, dValue, ref.RefType, ref.RefID, ref.RefNum, ref.RefLineNum)
	tag, err := r.q.Exec(ctx, `UPDATE provisional_balances SET
	quantity = quantity + $17,
	total_reserve_value = total_reserve_value + $18,
	ref_type = $19, ref_id = $20, ref_num = $21, ref_line_num = $22
WHERE `+keyWhere, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PG) GetStock(ctx context.Context, key DimensionKey) (StockBalance, error) {
	balance := StockBalance{Key: key}
	err := r.q.QueryRow(ctx, `SELECT quantity, total_cost_value, total_purchase_value,
	total_sales_value, total_revenue_value, cost_price,
	COALESCE(ref_type, ''), COALESCE(ref_id, ''), COALESCE(ref_num, ''), COALESCE(ref_line_num, 0)
FROM stock_balances WHERE `+keyWhere, keyArgs(key)...).
		Scan(&balance.Quantity, &balance.TotalCostValue, &balance.TotalPurchaseValue,
			&balance.TotalSalesValue, &balance.TotalRevenueValue, &balance.CostPrice,
			&balance.Ref.RefType, &balance.Ref.RefID, &balance.Ref.RefNum, &balance.Ref.RefLineNum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBalance{}, ErrNotFound
		}
		return StockBalance{}, err
	}
	return balance, nil
}

func (r *PG) InsertStock(ctx context.Context, balance StockBalance) error {
	args := append(keyArgs(balance.Key),
		balance.Quantity, balance.TotalCostValue, balance.TotalPurchaseValue,
		balance.TotalSalesValue, balance.TotalRevenueValue, balance.CostPrice,
		balance.Ref.RefType, balance.Ref.RefID, balance.Ref.RefNum, balance.Ref.RefLineNum)
	_, err := r.q.Exec(ctx, `INSERT INTO stock_balances (
	item_id, site, warehouse, zone, location, aisle, rack, shelf, bin, config,
	color, size, style, version, batch, serial,
	quantity, total_cost_value, total_purchase_value, total_sales_value, total_revenue_value,
	cost_price, ref_type, ref_id, ref_num, ref_line_num)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`, args...)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *PG) UpdateStockDelta(ctx context.Context, key DimensionKey, delta StockDelta, ref RefTags) error {
	args := append(keyArgs(key),
		delta.Qty, delta.CostValue, delta.PurchaseValue, delta.SalesValue, delta.RevenueValue,
		ref.RefType, ref.RefID, ref.RefNum, ref.RefLineNum)
	tag, err := r.q.Exec(ctx, `UPDATE stock_balances SET
	quantity = quantity + $17,
	total_cost_value = total_cost_value + $18,
	total_purchase_value = total_purchase_value + $19,
	total_sales_value = total_sales_value + $20,
	total_revenue_value = total_revenue_value + $21,
	cost_price = CASE WHEN quantity + $17 <> 0
		THEN ROUND(((total_cost_value + $18) / (quantity + $17))::numeric, 2)
		ELSE 0 END,
	ref_type = $22, ref_id = $23, ref_num = $24, ref_line_num = $25
WHERE `+keyWhere, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PG)(nil)

// MemoryRepo keeps balances in process, for tests and order-flow fakes.
type MemoryRepo struct {
	mu          sync.Mutex
	provisional map[DimensionKey]ProvisionalBalance
	stock       map[DimensionKey]StockBalance
}

// NewMemoryRepo builds an empty in-memory balance repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		provisional: map[DimensionKey]ProvisionalBalance{},
		stock:       map[DimensionKey]StockBalance{},
	}
}

func (m *MemoryRepo) GetProvisional(_ context.Context, key DimensionKey) (ProvisionalBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.provisional[key]
	if !ok {
		return ProvisionalBalance{}, ErrNotFound
	}
	return balance, nil
}

func (m *MemoryRepo) InsertProvisional(_ context.Context, balance ProvisionalBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.provisional[balance.Key]; ok {
		return ErrDuplicateKey
	}
	m.provisional[balance.Key] = balance
	return nil
}

func (m *MemoryRepo) UpdateProvisionalDelta(_ context.Context, key DimensionKey, dQty, dValue float64, ref RefTags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.provisional[key]
	if !ok {
		return ErrNotFound
	}
	balance.Quantity += dQty
	balance.TotalReserveValue = valuation.Round2(balance.TotalReserveValue + dValue)
	balance.Ref = ref
	m.provisional[key] = balance
	return nil
}

func (m *MemoryRepo) GetStock(_ context.Context, key DimensionKey) (StockBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.stock[key]
	if !ok {
		return StockBalance{}, ErrNotFound
	}
	return balance, nil
}

func (m *MemoryRepo) InsertStock(_ context.Context, balance StockBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[balance.Key]; ok {
		return ErrDuplicateKey
	}
	m.stock[balance.Key] = balance
	return nil
}

func (m *MemoryRepo) UpdateStockDelta(_ context.Context, key DimensionKey, delta StockDelta, ref RefTags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.stock[key]
	if !ok {
		return ErrNotFound
	}
	balance.Quantity += delta.Qty
	balance.TotalCostValue = valuation.Round2(balance.TotalCostValue + delta.CostValue)
	balance.TotalPurchaseValue = valuation.Round2(balance.TotalPurchaseValue + delta.PurchaseValue)
	balance.TotalSalesValue = valuation.Round2(balance.TotalSalesValue + delta.SalesValue)
	balance.TotalRevenueValue = valuation.Round2(balance.TotalRevenueValue + delta.RevenueValue)
	if balance.Quantity != 0 {
		balance.CostPrice = valuation.Round2(balance.TotalCostValue / balance.Quantity)
	} else {
		balance.CostPrice = 0
	}
	balance.Ref = ref
	m.stock[key] = balance
	return nil
}

var _ Repository = (*MemoryRepo)(nil)
