package orders

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/platform/sequence"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

type masterFake struct {
	accounts map[string]masterdata.Account
	parties  map[string]masterdata.Party
}

func (f *masterFake) Account(_ context.Context, id string) (masterdata.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return masterdata.Account{}, masterdata.ErrAccountNotFound
	}
	return a, nil
}

func (f *masterFake) Party(_ context.Context, kind masterdata.PartyKind, id string) (masterdata.Party, error) {
	p, ok := f.parties[string(kind)+":"+id]
	if !ok {
		return masterdata.Party{}, masterdata.ErrPartyNotFound
	}
	return p, nil
}

func newOrderService(t *testing.T) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	seq := sequence.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	master := &masterFake{
		accounts: map[string]masterdata.Account{
			"acc-rev": {ID: "acc-rev", Code: "4000", IsLeaf: true, AllowManualPost: true},
			"acc-exp": {ID: "acc-exp", Code: "5000", IsLeaf: true, AllowManualPost: true},
			"acc-tax": {ID: "acc-tax", Code: "2300", IsLeaf: true, AllowManualPost: true},
			"acc-ar":  {ID: "acc-ar", Code: "1200", IsLeaf: true, AllowManualPost: true},
			"acc-ap":  {ID: "acc-ap", Code: "2100", IsLeaf: true, AllowManualPost: true},
		},
		parties: map[string]masterdata.Party{
			"CUSTOMER:cust-1": {ID: "cust-1", Kind: masterdata.PartyCustomer, LinkedCoaAccount: "acc-ar"},
			"VENDOR:vend-1":   {ID: "vend-1", Kind: masterdata.PartyVendor, LinkedCoaAccount: "acc-ap"},
		},
	}
	ledgerSvc := ledger.NewService(repo.LedgerRepo, master, seq, ledger.Config{}, log)
	svc := NewService(repo, ledgerSvc, seq, Config{
		RevenueAccountID: "acc-rev",
		ExpenseAccountID: "acc-exp",
		TaxAccountID:     "acc-tax",
	}, log)
	svc.WithNow(func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) })
	return svc, repo
}

func salesInput() CreateInput {
	return CreateInput{
		Kind:         KindSales,
		PartyID:      "cust-1",
		Currency:     "USD",
		ExchangeRate: 1,
		Lines: []LineInput{
			{Key: stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"}, Qty: 6, UnitPrice: 100, GSTPercent: 10},
			{Key: stock.DimensionKey{ItemID: "item-b", Warehouse: "wh-1"}, Qty: 4, UnitPrice: 100, GSTPercent: 10},
		},
	}
}

func confirmOrder(t *testing.T, svc *Service, in CreateInput) Order {
	t.Helper()
	ctx := context.Background()
	order, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	confirmed, err := svc.Confirm(ctx, order.ID)
	require.NoError(t, err)
	return confirmed
}

func addAndPost(t *testing.T, svc *Service, orderID string, in MovementInput) Order {
	t.Helper()
	ctx := context.Background()
	order, err := svc.AddMovement(ctx, orderID, in)
	require.NoError(t, err)
	movementID := order.Movements[len(order.Movements)-1].ID
	order, err = svc.PostMovement(ctx, orderID, movementID)
	require.NoError(t, err)
	return order
}

func TestCreateOrderValuesLinesAndNumbers(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, salesInput())
	require.NoError(t, err)
	require.Equal(t, "SO_000001", order.OrderNo)
	require.Equal(t, StatusDraft, order.Status)
	require.InDelta(t, 600.0, order.Lines[0].TaxableValue, 1e-9)
	require.InDelta(t, 30.0, order.Lines[0].CGST, 1e-9)
	require.InDelta(t, 30.0, order.Lines[0].SGST, 1e-9)

	second, err := svc.Create(ctx, salesInput())
	require.NoError(t, err)
	require.Equal(t, "SO_000002", second.OrderNo)

	purchase := salesInput()
	purchase.Kind = KindPurchase
	purchase.PartyID = "vend-1"
	third, err := svc.Create(ctx, purchase)
	require.NoError(t, err)
	require.Equal(t, "PO_000001", third.OrderNo)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Kind: "BARTER"})
	require.ErrorIs(t, err, ErrBadKind)

	_, err = svc.Create(ctx, CreateInput{Kind: KindSales})
	require.ErrorIs(t, err, ErrLineRequired)

	bad := salesInput()
	bad.Lines[0].Qty = -1
	_, err = svc.Create(ctx, bad)
	require.ErrorIs(t, err, ErrBadQty)
}

func TestConfirmReservesProvisionalStock(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	require.Equal(t, StatusConfirmed, order.Status)

	balance, err := repo.StockRepo.GetProvisional(ctx, stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"})
	require.NoError(t, err)
	require.InDelta(t, 6.0, balance.Quantity, 1e-9)
	require.InDelta(t, 600.0, balance.TotalReserveValue, 1e-9)
	require.Equal(t, order.OrderNo, balance.Ref.RefNum)
}

func TestCancelReleasesReservation(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	cancelled, err := svc.Cancel(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	balance, err := repo.StockRepo.GetProvisional(ctx, stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"})
	require.NoError(t, err)
	require.InDelta(t, 0.0, balance.Quantity, 1e-9)
	require.InDelta(t, 0.0, balance.TotalReserveValue, 1e-9)
}

func TestShipMovementMovesProvisionalToActual(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	shipped := addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 6})
	require.Equal(t, StatusPartiallyShipped, shipped.Status)

	keyA := stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"}
	provisional, err := repo.StockRepo.GetProvisional(ctx, keyA)
	require.NoError(t, err)
	require.InDelta(t, 0.0, provisional.Quantity, 1e-9)

	actual, err := repo.StockRepo.GetStock(ctx, keyA)
	require.NoError(t, err)
	require.InDelta(t, -6.0, actual.Quantity, 1e-9)
	require.InDelta(t, -600.0, actual.TotalCostValue, 1e-9)
	require.InDelta(t, 600.0, actual.TotalSalesValue, 1e-9)

	full := addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 4})
	require.Equal(t, StatusShipped, full.Status)
}

func TestPurchaseShipmentBringsGoodsIn(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	in := salesInput()
	in.Kind = KindPurchase
	in.PartyID = "vend-1"
	order := confirmOrder(t, svc, in)
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 6})

	actual, err := repo.StockRepo.GetStock(ctx, stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"})
	require.NoError(t, err)
	require.InDelta(t, 6.0, actual.Quantity, 1e-9)
	require.InDelta(t, 600.0, actual.TotalPurchaseValue, 1e-9)
	require.InDelta(t, 100.0, actual.CostPrice, 1e-9)
}

func TestPostMovementOutOfRange(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 10})

	over, err := svc.AddMovement(ctx, order.ID, MovementInput{Type: MovementShip, Qty: 1})
	require.NoError(t, err)
	movementID := over.Movements[len(over.Movements)-1].ID
	_, err = svc.PostMovement(ctx, order.ID, movementID)
	require.ErrorIs(t, err, ErrQtyOutOfRange)
}

func TestDeliveryIsStatusOnly(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 10})

	before, err := repo.StockRepo.GetStock(ctx, stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"})
	require.NoError(t, err)

	delivered := addAndPost(t, svc, order.ID, MovementInput{Type: MovementDeliver, Qty: 10})
	require.Equal(t, StatusDelivered, delivered.Status)

	after, err := repo.StockRepo.GetStock(ctx, stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"})
	require.NoError(t, err)
	require.InDelta(t, before.Quantity, after.Quantity, 1e-9)
}

func TestInvoicePostsJournalAndBuildsVoucher(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 10})
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementDeliver, Qty: 10})
	invoiced := addAndPost(t, svc, order.ID, MovementInput{Type: MovementInvoice, Qty: 10, ExternalRef: "INV-77"})
	require.Equal(t, StatusInvoiced, invoiced.Status)

	voucher, err := repo.LedgerRepo.GetVoucher(ctx, "FVCHR_000001")
	require.NoError(t, err)
	require.Equal(t, "ORDER_INVOICE", voucher.PostingEventType)
	require.Equal(t, order.ID, voucher.SourceID)
	require.Equal(t, "INV-77", voucher.InvoiceRef)
	require.Len(t, voucher.Lines, 3)

	// AR gross 1100 against revenue 1000 and tax 100.
	require.Equal(t, "1200", voucher.Lines[0].AccountCode)
	require.InDelta(t, 1100.0, voucher.Lines[0].Debit, 1e-9)
	require.Equal(t, "4000", voucher.Lines[1].AccountCode)
	require.InDelta(t, 1000.0, voucher.Lines[1].Credit, 1e-9)
	require.Equal(t, "2300", voucher.Lines[2].AccountCode)
	require.InDelta(t, 100.0, voucher.Lines[2].Credit, 1e-9)

	var net float64
	for _, line := range voucher.Lines {
		net += line.LocalAmount
	}
	require.InDelta(t, 0.0, net, 0.01)
}

func TestSuccessiveInvoicesChainVouchers(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 10})
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementDeliver, Qty: 10})
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementInvoice, Qty: 4})
	addAndPost(t, svc, order.ID, MovementInput{Type: MovementInvoice, Qty: 6})

	second, err := repo.LedgerRepo.GetVoucher(ctx, "FVCHR_000002")
	require.NoError(t, err)
	require.Equal(t, "FVCHR_000001", second.PreviousVoucherNo)

	first, err := repo.LedgerRepo.LatestSubledgerTxn(ctx, ledger.SubledgerAR, "cust-1")
	require.NoError(t, err)
	require.Equal(t, "FVCHR_000002", first.CurrentVoucherNo)
}

func TestCancelPostedShipmentReversesStock(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	shipped := addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 6})
	movementID := shipped.Movements[0].ID

	cancelled, err := svc.CancelMovement(ctx, order.ID, movementID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, cancelled.Status)

	keyA := stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"}
	actual, err := repo.StockRepo.GetStock(ctx, keyA)
	require.NoError(t, err)
	require.InDelta(t, 0.0, actual.Quantity, 1e-9)
	require.InDelta(t, 0.0, actual.CostPrice, 1e-9)

	// The reservation the shipment consumed is back.
	provisional, err := repo.StockRepo.GetProvisional(ctx, keyA)
	require.NoError(t, err)
	require.InDelta(t, 6.0, provisional.Quantity, 1e-9)
	require.InDelta(t, 600.0, provisional.TotalReserveValue, 1e-9)
}

func TestCancelOrderAfterCancelledShipmentUnwindsReservation(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	order := confirmOrder(t, svc, salesInput())
	shipped := addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 10})

	_, err := svc.CancelMovement(ctx, order.ID, shipped.Movements[0].ID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, order.ID)
	require.NoError(t, err)

	for _, key := range []stock.DimensionKey{
		{ItemID: "item-a", Warehouse: "wh-1"},
		{ItemID: "item-b", Warehouse: "wh-1"},
	} {
		provisional, err := repo.StockRepo.GetProvisional(ctx, key)
		require.NoError(t, err)
		require.InDelta(t, 0.0, provisional.Quantity, 1e-9, "key %s", key.ItemID)
		require.InDelta(t, 0.0, provisional.TotalReserveValue, 1e-9, "key %s", key.ItemID)
	}
}

func TestAddMovementRequiresConfirmedOrder(t *testing.T) {
	svc, _ := newOrderService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, salesInput())
	require.NoError(t, err)

	_, err = svc.AddMovement(ctx, order.ID, MovementInput{Type: MovementShip, Qty: 1})
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestReturnOrderReservesNegativeAndShipsIn(t *testing.T) {
	svc, repo := newOrderService(t)
	ctx := context.Background()

	in := salesInput()
	in.Kind = KindReturn
	order := confirmOrder(t, svc, in)

	keyA := stock.DimensionKey{ItemID: "item-a", Warehouse: "wh-1"}
	provisional, err := repo.StockRepo.GetProvisional(ctx, keyA)
	require.NoError(t, err)
	require.InDelta(t, -6.0, provisional.Quantity, 1e-9)

	addAndPost(t, svc, order.ID, MovementInput{Type: MovementShip, Qty: 6})
	actual, err := repo.StockRepo.GetStock(ctx, keyA)
	require.NoError(t, err)
	require.InDelta(t, 6.0, actual.Quantity, 1e-9)
}
