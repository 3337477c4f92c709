package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/platform/sequence"
)

type fakeMaster struct {
	accounts map[string]masterdata.Account
	parties  map[string]masterdata.Party
}

func (f *fakeMaster) Account(_ context.Context, id string) (masterdata.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return masterdata.Account{}, masterdata.ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeMaster) Party(_ context.Context, kind masterdata.PartyKind, id string) (masterdata.Party, error) {
	p, ok := f.parties[fmt.Sprintf("%s:%s", kind, id)]
	if !ok {
		return masterdata.Party{}, masterdata.ErrPartyNotFound
	}
	return p, nil
}

func testMaster() *fakeMaster {
	return &fakeMaster{
		accounts: map[string]masterdata.Account{
			"acc-sales":   {ID: "acc-sales", Code: "4000", Name: "Sales", IsLeaf: true, AllowManualPost: true},
			"acc-ar":      {ID: "acc-ar", Code: "1200", Name: "Receivables", IsLeaf: true, AllowManualPost: true},
			"acc-bank":    {ID: "acc-bank", Code: "1000", Name: "Bank", IsLeaf: true, AllowManualPost: true},
			"acc-summary": {ID: "acc-summary", Code: "9999", Name: "Summary", IsLeaf: false, AllowManualPost: true},
		},
		parties: map[string]masterdata.Party{
			"CUSTOMER:cust-1": {ID: "cust-1", Kind: masterdata.PartyCustomer, Name: "Acme", LinkedCoaAccount: "acc-ar"},
			"CUSTOMER:cust-2": {ID: "cust-2", Kind: masterdata.PartyCustomer, Name: "Globex"},
		},
	}
}

func newTestService(t *testing.T) (*Service, *Memory, *sequence.Memory) {
	t.Helper()
	repo := NewMemory()
	seq := sequence.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, testMaster(), seq, Config{}, log)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	return svc, repo, seq
}

func debitLine(account string, amount float64) JournalLine {
	return JournalLine{AccountID: account, Debit: amount, Currency: "USD", ExchangeRate: 1}
}

func creditLine(account string, amount float64) JournalLine {
	return JournalLine{AccountID: account, Credit: amount, Currency: "USD", ExchangeRate: 1}
}

func TestCreateJournalComputesLineAmounts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{
		Reference: "INV-1001",
		CreatedBy: "tester",
		Lines: []JournalLine{
			{
				AccountID:       "acc-sales",
				Qty:             10,
				UnitPrice:       120,
				DiscountPercent: 10,
				GSTPercent:      10,
				Credit:          1080,
				Currency:        "USD",
				ExchangeRate:    1,
			},
			debitLine("acc-ar", 1080),
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, journal.Status)
	require.Len(t, journal.Lines, 2)

	line := journal.Lines[0]
	require.Equal(t, 1, line.Num)
	require.Equal(t, "4000", line.AccountCode)
	require.Equal(t, "acc-sales", line.SubledgerCode)
	require.InDelta(t, 1200.0, line.AssessableValue, 1e-9)
	require.InDelta(t, 120.0, line.DiscountAmount, 1e-9)
	require.InDelta(t, 1080.0, line.TaxableValue, 1e-9)
	require.InDelta(t, 54.0, line.CGST, 1e-9)
	require.InDelta(t, 54.0, line.SGST, 1e-9)
	require.InDelta(t, 0.0, line.IGST, 1e-9)
	require.InDelta(t, -1080.0, line.LocalAmount, 1e-9)

	require.Equal(t, 2, journal.Lines[1].Num)
	require.InDelta(t, 1080.0, journal.Lines[1].LocalAmount, 1e-9)
}

func TestCreateJournalRejectsEmptyLineSet(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateJournal(context.Background(), CreateJournalInput{})
	require.ErrorIs(t, err, ErrEmptyJournal)
}

func TestCreateJournalAccountReferenceRules(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{Debit: 10, Currency: "USD", ExchangeRate: 1},
	}})
	require.ErrorIs(t, err, ErrAccountRefMissing)

	_, err = svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{AccountID: "acc-ar", Subledger: &SubledgerRef{Type: SubledgerAR, TxnID: "t1"}, Debit: 10, Currency: "USD", ExchangeRate: 1},
	}})
	require.ErrorIs(t, err, ErrAccountRefConflict)

	_, err = svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-summary", 10),
	}})
	require.ErrorIs(t, err, ErrAccountNotPostable)

	journals, err := repo.ListJournals(ctx, "", 0)
	require.NoError(t, err)
	require.Empty(t, journals)
}

func TestCreateJournalResolvesSubledgerAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{
			Subledger:  &SubledgerRef{Type: SubledgerAR, TxnID: "txn-1", LineNum: 1},
			CustomerID: "cust-1",
			Debit:      500, Currency: "USD", ExchangeRate: 1,
		},
		creditLine("acc-sales", 500),
	}})
	require.NoError(t, err)
	require.Equal(t, "1200", journal.Lines[0].AccountCode)
	require.Equal(t, "cust-1", journal.Lines[0].SubledgerCode)
}

func TestCreateJournalSubledgerFailures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{Subledger: &SubledgerRef{Type: SubledgerAR, TxnID: "t"}, Debit: 10, Currency: "USD", ExchangeRate: 1},
	}})
	require.ErrorIs(t, err, ErrSubledgerEntity)

	_, err = svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{Subledger: &SubledgerRef{Type: "PAYROLL", TxnID: "t"}, Debit: 10, Currency: "USD", ExchangeRate: 1},
	}})
	require.ErrorIs(t, err, ErrUnknownSubledger)

	_, err = svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{Subledger: &SubledgerRef{Type: SubledgerAR, TxnID: "t"}, CustomerID: "cust-2", Debit: 10, Currency: "USD", ExchangeRate: 1},
	}})
	require.ErrorIs(t, err, masterdata.ErrNoLinkedAccount)

	_, err = svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{Subledger: &SubledgerRef{Type: SubledgerAR, TxnID: "t"}, CustomerID: "cust-404", Debit: 10, Currency: "USD", ExchangeRate: 1},
	}})
	require.ErrorIs(t, err, masterdata.ErrPartyNotFound)
}

func TestCreateJournalLineValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		line JournalLine
		want error
	}{
		{"missing currency", JournalLine{AccountID: "acc-ar", Debit: 10, ExchangeRate: 1}, ErrCurrencyRequired},
		{"bad currency", JournalLine{AccountID: "acc-ar", Debit: 10, Currency: "DOLLARS", ExchangeRate: 1}, ErrCurrencyInvalid},
		{"negative rate", JournalLine{AccountID: "acc-ar", Debit: 10, Currency: "USD", ExchangeRate: -1}, ErrBadExchangeRate},
		{"both sides", JournalLine{AccountID: "acc-ar", Debit: 10, Credit: 10, Currency: "USD", ExchangeRate: 1}, ErrDebitCreditExclusive},
		{"neither side", JournalLine{AccountID: "acc-ar", Currency: "USD", ExchangeRate: 1}, ErrDebitCreditExclusive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{tc.line}})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPostJournalEnforcesBalance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-ar", 100),
		creditLine("acc-sales", 90),
	}})
	require.NoError(t, err)

	_, err = svc.PostJournal(ctx, journal.ID)
	require.ErrorIs(t, err, ErrUnbalanced)

	got, err := svc.GetJournal(ctx, journal.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestPostJournalLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-ar", 250),
		creditLine("acc-sales", 250),
	}})
	require.NoError(t, err)

	posted, err := svc.PostJournal(ctx, journal.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)

	_, err = svc.PostJournal(ctx, journal.ID)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, StatusPosted, statusErr.From)

	cancelled, err := svc.ArchiveJournal(ctx, journal.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.SetStatus(ctx, journal.ID, StatusPosted)
	require.ErrorAs(t, err, &statusErr)
}

func TestSetStatusAdminModeIsUniversal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-ar", 10),
		creditLine("acc-sales", 10),
	}})
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, journal.ID, StatusCancelled)
	require.NoError(t, err)

	got, err := svc.SetStatus(ctx, journal.ID, StatusAdminMode)
	require.NoError(t, err)
	require.Equal(t, StatusAdminMode, got.Status)

	got, err = svc.SetStatus(ctx, journal.ID, StatusDraft)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestBuildVoucherRequiresPostedJournal(t *testing.T) {
	svc, _, seq := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-ar", 10),
		creditLine("acc-sales", 10),
	}})
	require.NoError(t, err)

	_, err = svc.BuildVoucher(ctx, journal.ID, VoucherMeta{EventType: "INVOICE"})
	require.ErrorIs(t, err, ErrNotPosted)

	// No voucher was written, so the counter did not advance.
	n, err := seq.Next(ctx, voucherCounter)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestBuildVoucherNumbersSequentially(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
			debitLine("acc-ar", 10),
			creditLine("acc-sales", 10),
		}})
		require.NoError(t, err)
		_, err = svc.PostJournal(ctx, journal.ID)
		require.NoError(t, err)

		voucher, err := svc.BuildVoucher(ctx, journal.ID, VoucherMeta{EventType: "INVOICE"})
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("FVCHR_%06d", want), voucher.VoucherNo)
	}
}

func TestBuildVoucherInjectsFXBalancingLine(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	local := func(v float64) *float64 { return &v }
	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{AccountID: "acc-ar", Debit: 100, Currency: "USD", ExchangeRate: 1, LocalAmount: local(100)},
		{AccountID: "acc-sales", Credit: 100, Currency: "EUR", ExchangeRate: 1.005, LocalAmount: local(-100.50)},
	}})
	require.NoError(t, err)
	_, err = svc.PostJournal(ctx, journal.ID)
	require.NoError(t, err)

	voucher, err := svc.BuildVoucher(ctx, journal.ID, VoucherMeta{EventType: "PAYMENT"})
	require.NoError(t, err)
	require.Len(t, voucher.Lines, 3)

	fx := voucher.Lines[2]
	require.Equal(t, "FX-LOSS", fx.AccountCode)
	require.InDelta(t, 0.50, fx.Debit, 1e-9)
	require.InDelta(t, 0.50, fx.LocalAmount, 1e-9)

	var net float64
	for _, line := range voucher.Lines {
		net += line.LocalAmount
	}
	require.InDelta(t, 0, net, 0.01)
}

func TestBuildVoucherSkipsFXLineWithinTolerance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	local := func(v float64) *float64 { return &v }
	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{AccountID: "acc-ar", Debit: 100, Currency: "USD", ExchangeRate: 1, LocalAmount: local(100)},
		{AccountID: "acc-sales", Credit: 100, Currency: "USD", ExchangeRate: 1, LocalAmount: local(-100.01)},
	}})
	require.NoError(t, err)
	_, err = svc.PostJournal(ctx, journal.ID)
	require.NoError(t, err)

	voucher, err := svc.BuildVoucher(ctx, journal.ID, VoucherMeta{EventType: "PAYMENT"})
	require.NoError(t, err)
	require.Len(t, voucher.Lines, 2)
}

func TestBuildVoucherStampsLineage(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertSubledgerTxn(ctx, SubledgerTxn{
		ID: "sl-1", Type: SubledgerAR, EntityID: "cust-1",
	}))
	require.NoError(t, repo.InsertSubledgerTxn(ctx, SubledgerTxn{
		ID: "sl-2", Type: SubledgerAR, EntityID: "cust-1", PreviousTxnID: "sl-1",
	}))

	buildFor := func(txnID string) Voucher {
		journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
			{
				Subledger:  &SubledgerRef{Type: SubledgerAR, TxnID: txnID, LineNum: 1},
				CustomerID: "cust-1",
				Debit:      100, Currency: "USD", ExchangeRate: 1,
			},
			creditLine("acc-sales", 100),
		}})
		require.NoError(t, err)
		_, err = svc.PostJournal(ctx, journal.ID)
		require.NoError(t, err)
		voucher, err := svc.BuildVoucher(ctx, journal.ID, VoucherMeta{EventType: "INVOICE"})
		require.NoError(t, err)
		return voucher
	}

	first := buildFor("sl-1")
	require.Equal(t, "FVCHR_000001", first.VoucherNo)
	require.Empty(t, first.PreviousVoucherNo)

	txn1, err := repo.GetSubledgerTxn(ctx, "sl-1")
	require.NoError(t, err)
	require.Equal(t, "FVCHR_000001", txn1.CurrentVoucherNo)
	require.Equal(t, "FVCHR_000001", txn1.RelatedVoucherNo)

	second := buildFor("sl-2")
	require.Equal(t, "FVCHR_000002", second.VoucherNo)
	require.Equal(t, "FVCHR_000001", second.PreviousVoucherNo)

	txn1, err = repo.GetSubledgerTxn(ctx, "sl-1")
	require.NoError(t, err)
	require.Equal(t, "FVCHR_000002", txn1.NextVoucherNo)

	txn2, err := repo.GetSubledgerTxn(ctx, "sl-2")
	require.NoError(t, err)
	require.Equal(t, "FVCHR_000002", txn2.CurrentVoucherNo)
}

func TestBuildVoucherUnknownSubledgerTxn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		{
			Subledger:  &SubledgerRef{Type: SubledgerAR, TxnID: "missing", LineNum: 1},
			CustomerID: "cust-1",
			Debit:      50, Currency: "USD", ExchangeRate: 1,
		},
		creditLine("acc-sales", 50),
	}})
	require.NoError(t, err)
	_, err = svc.PostJournal(ctx, journal.ID)
	require.NoError(t, err)

	_, err = svc.BuildVoucher(ctx, journal.ID, VoucherMeta{EventType: "INVOICE"})
	require.ErrorIs(t, err, ErrSubledgerTxnNotFound)
}

func TestTrialBalanceAggregatesPostedOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journal, err := svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-ar", 100),
		creditLine("acc-sales", 100),
	}})
	require.NoError(t, err)
	_, err = svc.PostJournal(ctx, journal.ID)
	require.NoError(t, err)

	// Draft journals stay out of the trial balance.
	_, err = svc.CreateJournal(ctx, CreateJournalInput{Lines: []JournalLine{
		debitLine("acc-bank", 42),
		creditLine("acc-ar", 42),
	}})
	require.NoError(t, err)

	rows, err := svc.TrialBalance(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byCode := map[string]TrialBalanceRow{}
	for _, row := range rows {
		byCode[row.AccountCode] = row
	}
	require.InDelta(t, 100.0, byCode["1200"].Debit, 1e-9)
	require.InDelta(t, 100.0, byCode["4000"].Credit, 1e-9)
}
