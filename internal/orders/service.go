package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/sequence"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// Config carries the posting accounts order invoicing writes against.
type Config struct {
	RevenueAccountID string
	ExpenseAccountID string
	TaxAccountID     string
}

// LineInput is one raw order line.
type LineInput struct {
	Key             stock.DimensionKey
	Qty             float64
	UnitPrice       float64
	DiscountPercent float64
	ChargePercent   float64
	GSTPercent      float64
	TDSPercent      float64
	Regime          valuation.TaxRegime
}

// CreateInput groups the fields required to create an order.
type CreateInput struct {
	Kind         Kind
	PartyID      string
	Currency     string
	ExchangeRate float64
	Lines        []LineInput
}

// MovementInput is one raw fulfillment row.
type MovementInput struct {
	Type        MovementType
	Qty         float64
	Mode        string
	ExternalRef string
	Date        time.Time
}

// Service drives the order lifecycle and its stock and ledger side
// effects. Every status change and its side effects share one
// transaction.
type Service struct {
	repo   Repository
	ledger *ledger.Service
	seq    sequence.Sequencer
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// NewService builds the order service.
func NewService(repo Repository, ledgerSvc *ledger.Service, seq sequence.Sequencer, cfg Config, log *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, seq: seq, cfg: cfg, log: log, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

var orderPrefix = map[Kind]string{
	KindSales:    "SO",
	KindPurchase: "PO",
	KindReturn:   "RO",
}

// Create values every line and persists a draft order. The order number
// comes from a per-kind counter; a failed insert compensates the
// counter best-effort.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if !in.Kind.Valid() {
		return Order{}, ErrBadKind
	}
	if len(in.Lines) == 0 {
		return Order{}, ErrLineRequired
	}
	for i, line := range in.Lines {
		if line.Qty <= 0 {
			return Order{}, fmt.Errorf("orders: line %d: %w", i, ErrBadQty)
		}
	}

	counter := "order:" + string(in.Kind)
	num, err := s.seq.Next(ctx, counter)
	if err != nil {
		return Order{}, err
	}
	committed := false
	defer func() {
		if !committed {
			s.seq.Compensate(ctx, counter)
		}
	}()

	now := s.now().UTC()
	order := Order{
		ID:           uuid.NewString(),
		OrderNo:      fmt.Sprintf("%s_%06d", orderPrefix[in.Kind], num),
		Kind:         in.Kind,
		PartyID:      in.PartyID,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, line := range in.Lines {
		valued := valuation.ComputeLine(valuation.Line{
			Qty:             line.Qty,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			ChargePercent:   line.ChargePercent,
			GSTPercent:      line.GSTPercent,
			TDSPercent:      line.TDSPercent,
			Regime:          line.Regime,
		})
		order.Lines = append(order.Lines, OrderLine{
			Num:             i + 1,
			Key:             line.Key,
			Qty:             line.Qty,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			ChargePercent:   line.ChargePercent,
			GSTPercent:      line.GSTPercent,
			TDSPercent:      line.TDSPercent,
			Regime:          valued.Regime,
			AssessableValue: valued.AssessableValue,
			DiscountAmount:  valued.DiscountAmount,
			ChargesAmount:   valued.ChargesAmount,
			TaxableValue:    valued.TaxableValue,
			CGST:            valued.CGST,
			SGST:            valued.SGST,
			IGST:            valued.IGST,
			TDSAmount:       valued.TDSAmount,
		})
	}

	err = s.repo.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		return uow.Orders().InsertOrder(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	committed = true
	s.log.Info("order created",
		slog.String("order_no", order.OrderNo),
		slog.String("kind", string(order.Kind)),
		slog.Int("lines", len(order.Lines)))
	return order, nil
}

// Get loads an order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns orders, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Order, error) {
	return s.repo.ListOrders(ctx, status, limit)
}

// Approve transitions a draft order to approved.
func (s *Service) Approve(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, id, StatusApproved, nil)
}

// Confirm transitions an approved order to confirmed and reserves
// provisional stock for every line in the same transaction.
func (s *Service) Confirm(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, id, StatusConfirmed, func(ctx context.Context, uow UnitOfWork, order Order) error {
		lines := stockLines(allocate(order.Lines, 0, order.OrderedQty()))
		return stock.NewLedger(uow.Stock(), s.log).
			Reserve(ctx, lines, s.refTags(order, 0), order.Kind == KindReturn)
	})
}

// Cancel transitions an order to cancelled and releases whatever
// provisional quantity its shipments have not consumed.
func (s *Service) Cancel(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, id, StatusCancelled, func(ctx context.Context, uow UnitOfWork, order Order) error {
		if order.Status == StatusDraft || order.Status == StatusApproved {
			return nil
		}
		shipped := order.PostedQty(MovementShip)
		remaining := allocate(order.Lines, shipped, order.OrderedQty()-shipped)
		return stock.NewLedger(uow.Stock(), s.log).
			Release(ctx, stockLines(remaining), s.refTags(order, 0), order.Kind == KindReturn)
	})
}

// SetStatus applies an explicit transition with no side effects beyond
// those the named operations carry.
func (s *Service) SetStatus(ctx context.Context, id string, to Status) (Order, error) {
	switch to {
	case StatusConfirmed:
		return s.Confirm(ctx, id)
	case StatusCancelled:
		return s.Cancel(ctx, id)
	}
	return s.transition(ctx, id, to, nil)
}

func (s *Service) transition(ctx context.Context, id string, to Status, sideEffect func(ctx context.Context, uow UnitOfWork, order Order) error) (Order, error) {
	var order Order
	err := s.repo.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		order, err = uow.Orders().GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(order.Status, to) {
			return &StatusError{From: order.Status, To: to}
		}
		if sideEffect != nil {
			if err := sideEffect(ctx, uow, order); err != nil {
				return err
			}
		}
		if err := uow.Orders().UpdateOrderStatus(ctx, id, to); err != nil {
			return err
		}
		order.Status = to
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.log.Info("order status changed",
		slog.String("order_no", order.OrderNo),
		slog.String("status", string(to)))
	return order, nil
}

// AddMovement appends a draft fulfillment row.
func (s *Service) AddMovement(ctx context.Context, orderID string, in MovementInput) (Order, error) {
	if !in.Type.Valid() {
		return Order{}, ErrBadMovementType
	}
	if in.Qty <= 0 {
		return Order{}, ErrBadQty
	}
	movement := Movement{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Qty:         in.Qty,
		Mode:        in.Mode,
		ExternalRef: in.ExternalRef,
		Date:        in.Date,
		Status:      MovementDraft,
	}
	if movement.Date.IsZero() {
		movement.Date = s.now().UTC()
	}

	var order Order
	err := s.repo.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		order, err = uow.Orders().GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == StatusDraft || order.Status == StatusApproved || order.Status == StatusCancelled {
			return fmt.Errorf("%w: status %s", ErrNotConfirmed, order.Status)
		}
		if err := uow.Orders().InsertMovement(ctx, orderID, movement); err != nil {
			return err
		}
		order.Movements = append(order.Movements, movement)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// PostMovement posts one draft row and applies its side effects:
// shipments move provisional stock to actual balances, invoices post a
// journal and build its voucher. Everything shares one transaction.
func (s *Service) PostMovement(ctx context.Context, orderID, movementID string) (Order, error) {
	var order Order
	err := s.repo.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		order, err = uow.Orders().GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		posted, err := PostMovement(&order, movementID)
		if err != nil {
			return err
		}
		if !posted {
			return nil
		}
		m, err := order.Movement(movementID)
		if err != nil {
			return err
		}

		consumed := order.PostedQty(m.Type) - m.Qty
		allocs := allocate(order.Lines, consumed, m.Qty)
		switch m.Type {
		case MovementShip:
			if err := s.applyShipment(ctx, uow, order, *m, allocs); err != nil {
				return err
			}
		case MovementInvoice:
			if err := s.postInvoice(ctx, uow, order, *m, allocs); err != nil {
				return err
			}
		}

		if err := uow.Orders().UpdateMovementStatus(ctx, orderID, movementID, MovementPosted); err != nil {
			return err
		}
		return s.settleStatus(ctx, uow, &order)
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// CancelMovement cancels one row unconditionally. A posted shipment is
// reversed out of stock and its provisional reservation restored, so a
// later order cancel releases exactly what is still reserved.
func (s *Service) CancelMovement(ctx context.Context, orderID, movementID string) (Order, error) {
	var order Order
	err := s.repo.WithUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		order, err = uow.Orders().GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		wasPosted, movement, err := CancelMovement(&order, movementID)
		if err != nil {
			return err
		}
		if err := uow.Orders().UpdateMovementStatus(ctx, orderID, movementID, MovementCancelled); err != nil {
			return err
		}
		if wasPosted && movement.Type == MovementShip {
			allocs := allocate(order.Lines, order.PostedQty(MovementShip), movement.Qty)
			lines := stockLines(allocs)
			ref := s.refTags(order, movementLineNum(order, movementID))
			stockLedger := stock.NewLedger(uow.Stock(), s.log)
			if err := stockLedger.Reverse(ctx, signedLines(lines, order.Kind), ref); err != nil {
				return err
			}
			if err := stockLedger.Reserve(ctx, lines, ref, order.Kind == KindReturn); err != nil {
				return err
			}
		}
		return s.settleStatus(ctx, uow, &order)
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *Service) settleStatus(ctx context.Context, uow UnitOfWork, order *Order) error {
	derived := DeriveStatus(*order)
	if derived == order.Status {
		return nil
	}
	if err := uow.Orders().UpdateOrderStatus(ctx, order.ID, derived); err != nil {
		return err
	}
	order.Status = derived
	return nil
}

// applyShipment realizes the shipped quantity: the provisional
// reservation shrinks and the actual balance absorbs the signed
// movement.
func (s *Service) applyShipment(ctx context.Context, uow UnitOfWork, order Order, m Movement, allocs []Allocation) error {
	stockLedger := stock.NewLedger(uow.Stock(), s.log)
	lines := stockLines(allocs)
	ref := s.refTags(order, movementLineNum(order, m.ID))
	if err := stockLedger.Release(ctx, lines, ref, order.Kind == KindReturn); err != nil {
		return err
	}
	return stockLedger.Apply(ctx, signedLines(lines, order.Kind), ref)
}

// signedLines orients quantities by order kind: sales ship out,
// purchases and returns bring goods in.
func signedLines(lines []stock.Line, kind Kind) []stock.Line {
	if kind != KindSales {
		return lines
	}
	out := make([]stock.Line, len(lines))
	for i, line := range lines {
		line.Qty = -line.Qty
		out[i] = line
	}
	return out
}

func movementLineNum(o Order, movementID string) int {
	for i, m := range o.Movements {
		if m.ID == movementID {
			return i + 1
		}
	}
	return 0
}

func (s *Service) refTags(order Order, lineNum int) stock.RefTags {
	return stock.RefTags{
		RefType:    "ORDER",
		RefID:      order.ID,
		RefNum:     order.OrderNo,
		RefLineNum: lineNum,
	}
}

// postInvoice opens a sub-ledger transaction for the order's party,
// creates and posts the invoice journal, and builds its voucher, all on
// the surrounding transaction.
func (s *Service) postInvoice(ctx context.Context, uow UnitOfWork, order Order, m Movement, allocs []Allocation) error {
	slType := ledger.SubledgerAR
	if order.Kind == KindPurchase {
		slType = ledger.SubledgerAP
	}

	previousTxnID := ""
	prior, err := uow.Ledger().LatestSubledgerTxn(ctx, slType, order.PartyID)
	switch {
	case err == nil:
		previousTxnID = prior.ID
	case !errors.Is(err, ledger.ErrSubledgerTxnNotFound):
		return err
	}
	txn := ledger.SubledgerTxn{
		ID:            uuid.NewString(),
		Type:          slType,
		EntityID:      order.PartyID,
		PreviousTxnID: previousTxnID,
		CreatedAt:     s.now().UTC(),
	}
	if err := uow.Ledger().InsertSubledgerTxn(ctx, txn); err != nil {
		return err
	}

	lines, err := s.invoiceLines(order, txn, allocs)
	if err != nil {
		return err
	}
	journal, err := s.ledger.CreateJournalIn(ctx, uow.Ledger(), ledger.CreateJournalInput{
		JournalDate: m.Date,
		Reference:   order.OrderNo,
		CreatedBy:   "orders",
		Lines:       lines,
	})
	if err != nil {
		return err
	}
	if _, err := s.ledger.PostJournalIn(ctx, uow.Ledger(), journal.ID); err != nil {
		return err
	}
	_, err = s.ledger.BuildVoucherIn(ctx, uow.Ledger(), journal.ID, ledger.VoucherMeta{
		EventType:  "ORDER_INVOICE",
		SourceType: "ORDER",
		SourceID:   order.ID,
		InvoiceRef: m.ExternalRef,
	})
	return err
}

// invoiceLines builds the journal legs for the invoiced allocations:
// the party leg carries the gross amount against the sub-ledger, the
// revenue or expense leg the taxable value, and the tax leg the GST.
func (s *Service) invoiceLines(order Order, txn ledger.SubledgerTxn, allocs []Allocation) ([]ledger.JournalLine, error) {
	var taxable, tax float64
	for _, a := range allocs {
		v := valuation.ComputeLine(valuation.Line{
			Qty:             a.Qty,
			UnitPrice:       a.Line.UnitPrice,
			DiscountPercent: a.Line.DiscountPercent,
			ChargePercent:   a.Line.ChargePercent,
			GSTPercent:      a.Line.GSTPercent,
			TDSPercent:      a.Line.TDSPercent,
			Regime:          a.Line.Regime,
		})
		taxable += v.TaxableValue
		tax += v.CGST + v.SGST + v.IGST
	}
	taxable = valuation.Round2(taxable)
	tax = valuation.Round2(tax)
	gross := valuation.Round2(taxable + tax)
	if gross <= 0 {
		return nil, fmt.Errorf("orders: invoice amount must be positive, got %.2f", gross)
	}

	partyLine := ledger.JournalLine{
		Subledger:    &ledger.SubledgerRef{Type: txn.Type, TxnID: txn.ID, LineNum: 1},
		Currency:     order.Currency,
		ExchangeRate: order.ExchangeRate,
	}
	if txn.Type == ledger.SubledgerAP {
		partyLine.VendorID = order.PartyID
	} else {
		partyLine.CustomerID = order.PartyID
	}

	valueLine := ledger.JournalLine{Currency: order.Currency, ExchangeRate: order.ExchangeRate}
	taxLine := ledger.JournalLine{AccountID: s.cfg.TaxAccountID, Currency: order.Currency, ExchangeRate: order.ExchangeRate}

	switch order.Kind {
	case KindPurchase:
		partyLine.Credit = gross
		valueLine.AccountID = s.cfg.ExpenseAccountID
		valueLine.Debit = taxable
		taxLine.Debit = tax
	case KindReturn:
		partyLine.Credit = gross
		valueLine.AccountID = s.cfg.RevenueAccountID
		valueLine.Debit = taxable
		taxLine.Debit = tax
	default:
		partyLine.Debit = gross
		valueLine.AccountID = s.cfg.RevenueAccountID
		valueLine.Credit = taxable
		taxLine.Credit = tax
	}

	lines := []ledger.JournalLine{partyLine, valueLine}
	if tax > 0 {
		lines = append(lines, taxLine)
	}
	return lines, nil
}
