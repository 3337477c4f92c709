package orders

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// TxRepository is the order write surface bound to one transaction.
type TxRepository interface {
	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status Status) error
	InsertMovement(ctx context.Context, orderID string, m Movement) error
	UpdateMovementStatus(ctx context.Context, orderID, movementID string, status MovementStatus) error
}

// UnitOfWork exposes the order, stock and ledger write surfaces bound
// to one database transaction, so an order status change and its side
// effects commit or roll back together.
type UnitOfWork interface {
	Orders() TxRepository
	Stock() stock.Repository
	Ledger() ledger.TxRepository
}

// Repository is the full order persistence port.
type Repository interface {
	WithUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, status Status, limit int) ([]Order, error)
}

// PG persists orders in PostgreSQL.
type PG struct {
	pool *pgxpool.Pool
	txRepo
}

// NewPG constructs the PostgreSQL order repository.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, txRepo: txRepo{q: pool}}
}

type pgUnitOfWork struct {
	orders TxRepository
	stock  stock.Repository
	ledger ledger.TxRepository
}

func (u pgUnitOfWork) Orders() TxRepository        { return u.orders }
func (u pgUnitOfWork) Stock() stock.Repository     { return u.stock }
func (u pgUnitOfWork) Ledger() ledger.TxRepository { return u.ledger }

// WithUnitOfWork runs fn inside one repeatable-read transaction shared
// by the order, stock and ledger repositories.
func (r *PG) WithUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgUnitOfWork{
			orders: txRepo{q: tx},
			stock:  stock.NewPG(tx),
			ledger: ledger.NewTxRepo(tx),
		})
	})
}

type txRepo struct {
	q db.Querier
}

func (r txRepo) InsertOrder(ctx context.Context, order Order) error {
	_, err := r.q.Exec(ctx, `INSERT INTO orders (
	id, order_no, kind, party_id, currency, exchange_rate, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		order.ID, order.OrderNo, order.Kind, order.PartyID, order.Currency,
		order.ExchangeRate, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}
	for _, line := range order.Lines {
		if err := r.insertLine(ctx, order.ID, line); err != nil {
			return err
		}
	}
	for _, m := range order.Movements {
		if err := r.InsertMovement(ctx, order.ID, m); err != nil {
			return err
		}
	}
	return nil
}

func (r txRepo) insertLine(ctx context.Context, orderID string, line OrderLine) error {
	_, err := r.q.Exec(ctx, `INSERT INTO order_lines (
	order_id, num,
	item_id, site, warehouse, zone, location, aisle, rack, shelf, bin, config,
	color, size, style, version, batch, serial,
	qty, unit_price, discount_percent, charge_percent, gst_percent, tds_percent, regime,
	assessable_value, discount_amount, charges_amount, taxable_value,
	cgst, sgst, igst, tds_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)`,
		orderID, line.Num,
		line.Key.ItemID, line.Key.Site, line.Key.Warehouse, line.Key.Zone, line.Key.Location,
		line.Key.Aisle, line.Key.Rack, line.Key.Shelf, line.Key.Bin, line.Key.Config,
		line.Key.Color, line.Key.Size, line.Key.Style, line.Key.Version, line.Key.Batch, line.Key.Serial,
		line.Qty, line.UnitPrice, line.DiscountPercent, line.ChargePercent, line.GSTPercent,
		line.TDSPercent, line.Regime,
		line.AssessableValue, line.DiscountAmount, line.ChargesAmount, line.TaxableValue,
		line.CGST, line.SGST, line.IGST, line.TDSAmount)
	return err
}

func (r txRepo) GetOrder(ctx context.Context, id string) (Order, error) {
	var order Order
	err := r.q.QueryRow(ctx, `SELECT id, order_no, kind, party_id, currency, exchange_rate, status, created_at, updated_at
FROM orders WHERE id = $1`, id).
		Scan(&order.ID, &order.OrderNo, &order.Kind, &order.PartyID, &order.Currency,
			&order.ExchangeRate, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	if order.Lines, err = r.orderLines(ctx, id); err != nil {
		return Order{}, err
	}
	if order.Movements, err = r.movements(ctx, id); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (r txRepo) orderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	rows, err := r.q.Query(ctx, `SELECT num,
	item_id, site, warehouse, zone, location, aisle, rack, shelf, bin, config,
	color, size, style, version, batch, serial,
	qty, unit_price, discount_percent, charge_percent, gst_percent, tds_percent, regime,
	assessable_value, discount_amount, charges_amount, taxable_value,
	cgst, sgst, igst, tds_amount
FROM order_lines WHERE order_id = $1 ORDER BY num`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var line OrderLine
		if err := rows.Scan(&line.Num,
			&line.Key.ItemID, &line.Key.Site, &line.Key.Warehouse, &line.Key.Zone, &line.Key.Location,
			&line.Key.Aisle, &line.Key.Rack, &line.Key.Shelf, &line.Key.Bin, &line.Key.Config,
			&line.Key.Color, &line.Key.Size, &line.Key.Style, &line.Key.Version, &line.Key.Batch, &line.Key.Serial,
			&line.Qty, &line.UnitPrice, &line.DiscountPercent, &line.ChargePercent, &line.GSTPercent,
			&line.TDSPercent, &line.Regime,
			&line.AssessableValue, &line.DiscountAmount, &line.ChargesAmount, &line.TaxableValue,
			&line.CGST, &line.SGST, &line.IGST, &line.TDSAmount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r txRepo) movements(ctx context.Context, orderID string) ([]Movement, error) {
	rows, err := r.q.Query(ctx, `SELECT id, type, qty, COALESCE(mode, ''), COALESCE(external_ref, ''), date, status
FROM order_movements WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Type, &m.Qty, &m.Mode, &m.ExternalRef, &m.Date, &m.Status); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r txRepo) UpdateOrderStatus(ctx context.Context, id string, status Status) error {
	tag, err := r.q.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r txRepo) InsertMovement(ctx context.Context, orderID string, m Movement) error {
	_, err := r.q.Exec(ctx, `INSERT INTO order_movements (
	id, order_id, type, qty, mode, external_ref, date, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())`,
		m.ID, orderID, m.Type, m.Qty, m.Mode, m.ExternalRef, m.Date, m.Status)
	return err
}

func (r txRepo) UpdateMovementStatus(ctx context.Context, orderID, movementID string, status MovementStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE order_movements SET status = $3 WHERE order_id = $1 AND id = $2`,
		orderID, movementID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *PG) ListOrders(ctx context.Context, status Status, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id FROM orders ORDER BY created_at DESC LIMIT $1`
	args := []any{limit}
	if status != "" {
		query = `SELECT id FROM orders WHERE status = $2 ORDER BY created_at DESC LIMIT $1`
		args = append(args, status)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		order, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

var _ Repository = (*PG)(nil)

// MemoryRepo is an in-memory Repository whose unit of work shares one
// ledger and stock fake, for tests.
type MemoryRepo struct {
	mu         sync.Mutex
	orders     map[string]Order
	insertions []string
	StockRepo  *stock.MemoryRepo
	LedgerRepo *ledger.Memory
}

// NewMemoryRepo builds an empty in-memory order repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:     map[string]Order{},
		StockRepo:  stock.NewMemoryRepo(),
		LedgerRepo: ledger.NewMemory(),
	}
}

func (m *MemoryRepo) Orders() TxRepository        { return m }
func (m *MemoryRepo) Stock() stock.Repository     { return m.StockRepo }
func (m *MemoryRepo) Ledger() ledger.TxRepository { return m.LedgerRepo }

func (m *MemoryRepo) WithUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	return fn(ctx, m)
}

func (m *MemoryRepo) InsertOrder(_ context.Context, order Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	m.insertions = append(m.insertions, order.ID)
	return nil
}

func (m *MemoryRepo) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (m *MemoryRepo) ListOrders(_ context.Context, status Status, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, id := range m.insertions {
		order := m.orders[id]
		if status != "" && order.Status != status {
			continue
		}
		out = append(out, order)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepo) UpdateOrderStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	m.orders[id] = order
	return nil
}

func (m *MemoryRepo) InsertMovement(_ context.Context, orderID string, mv Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Movements = append(order.Movements, mv)
	m.orders[orderID] = order
	return nil
}

func (m *MemoryRepo) UpdateMovementStatus(_ context.Context, orderID, movementID string, status MovementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	for i := range order.Movements {
		if order.Movements[i].ID == movementID {
			order.Movements[i].Status = status
			m.orders[orderID] = order
			return nil
		}
	}
	return ErrMovementNotFound
}

var _ Repository = (*MemoryRepo)(nil)
var _ UnitOfWork = (*MemoryRepo)(nil)
