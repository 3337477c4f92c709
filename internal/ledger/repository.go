package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// TxRepository is the transactional write surface of the posting
// engine. Every method runs on the caller's transaction.
type TxRepository interface {
	InsertJournal(ctx context.Context, journal GLJournal) error
	GetJournal(ctx context.Context, id string) (GLJournal, error)
	UpdateJournalStatus(ctx context.Context, id string, status JournalStatus) error
	InsertVoucher(ctx context.Context, voucher Voucher) error
	InsertSubledgerTxn(ctx context.Context, txn SubledgerTxn) error
	GetSubledgerTxn(ctx context.Context, id string) (SubledgerTxn, error)
	LatestSubledgerTxn(ctx context.Context, t SubledgerType, entityID string) (SubledgerTxn, error)
	StampCurrentVoucher(ctx context.Context, txnID, voucherNo string) error
	StampNextVoucher(ctx context.Context, txnID, voucherNo string) error
}

// Repository is the full ledger persistence port.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetJournal(ctx context.Context, id string) (GLJournal, error)
	ListJournals(ctx context.Context, status JournalStatus, limit int) ([]GLJournal, error)
	GetVoucher(ctx context.Context, voucherNo string) (Voucher, error)
	TrialBalance(ctx context.Context) ([]TrialBalanceRow, error)
	VoucherImbalances(ctx context.Context, tolerance float64) ([]string, error)
}

// PG persists journals and vouchers in PostgreSQL.
type PG struct {
	pool *pgxpool.Pool
	txRepo
}

// NewPG constructs the PostgreSQL repository.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, txRepo: txRepo{q: pool}}
}

// WithTx runs fn inside a repeatable-read transaction with a
// transaction-bound repository.
func (r *PG) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, txRepo{q: tx})
	})
}

// NewTxRepo binds the ledger write surface to an open transaction, for
// flows that span modules.
func NewTxRepo(q db.Querier) TxRepository {
	return txRepo{q: q}
}

type txRepo struct {
	q db.Querier
}

func (r txRepo) InsertJournal(ctx context.Context, journal GLJournal) error {
	_, err := r.q.Exec(ctx, `INSERT INTO journals (id, journal_date, reference, created_by, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		journal.ID, journal.JournalDate, journal.Reference, journal.CreatedBy,
		journal.Status, journal.CreatedAt, journal.UpdatedAt)
	if err != nil {
		return err
	}
	for _, line := range journal.Lines {
		if err := r.insertLine(ctx, journal.ID, line); err != nil {
			return err
		}
	}
	return nil
}

func (r txRepo) insertLine(ctx context.Context, journalID string, line Line) error {
	dims, err := json.Marshal(line.Dimensions)
	if err != nil {
		return err
	}
	extras, err := json.Marshal(line.Extras)
	if err != nil {
		return err
	}
	var (
		slType  *string
		slTxnID *string
		slLine  *int
	)
	if line.Subledger != nil {
		t := string(line.Subledger.Type)
		slType, slTxnID, slLine = &t, &line.Subledger.TxnID, &line.Subledger.LineNum
	}
	_, err = r.q.Exec(ctx, `INSERT INTO journal_lines (
	journal_id, num, account_id, account_code, subledger_code,
	subledger_type, subledger_txn_id, subledger_line_num,
	customer_id, vendor_id, item_id, bank_account_id,
	qty, unit_price, assessable_value, discount_amount, charges_amount,
	taxable_value, cgst, sgst, igst, tds_amount,
	debit, credit, currency, exchange_rate, local_amount,
	dimensions, extras)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)`,
		journalID, line.Num, line.AccountID, line.AccountCode, line.SubledgerCode,
		slType, slTxnID, slLine,
		nullable(line.CustomerID), nullable(line.VendorID), nullable(line.ItemID), nullable(line.BankAccountID),
		line.Qty, line.UnitPrice, line.AssessableValue, line.DiscountAmount, line.ChargesAmount,
		line.TaxableValue, line.CGST, line.SGST, line.IGST, line.TDSAmount,
		line.Debit, line.Credit, line.Currency, line.ExchangeRate, line.LocalAmount,
		dims, extras)
	return err
}

func (r txRepo) GetJournal(ctx context.Context, id string) (GLJournal, error) {
	var journal GLJournal
	err := r.q.QueryRow(ctx, `SELECT id, journal_date, COALESCE(reference, ''), COALESCE(created_by, ''), status, created_at, updated_at
FROM journals WHERE id = $1`, id).
		Scan(&journal.ID, &journal.JournalDate, &journal.Reference, &journal.CreatedBy,
			&journal.Status, &journal.CreatedAt, &journal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GLJournal{}, ErrJournalNotFound
		}
		return GLJournal{}, err
	}
	journal.Lines, err = r.journalLines(ctx, id)
	if err != nil {
		return GLJournal{}, err
	}
	return journal, nil
}

func (r txRepo) journalLines(ctx context.Context, journalID string) ([]Line, error) {
	rows, err := r.q.Query(ctx, `SELECT num, account_id, account_code, subledger_code,
	subledger_type, subledger_txn_id, subledger_line_num,
	COALESCE(customer_id, ''), COALESCE(vendor_id, ''), COALESCE(item_id, ''), COALESCE(bank_account_id, ''),
	qty, unit_price, assessable_value, discount_amount, charges_amount,
	taxable_value, cgst, sgst, igst, tds_amount,
	debit, credit, currency, exchange_rate, local_amount, dimensions, extras
FROM journal_lines WHERE journal_id = $1 ORDER BY num`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var (
			line    Line
			slType  *string
			slTxnID *string
			slLine  *int
			dims    []byte
			extras  []byte
		)
		if err := rows.Scan(&line.Num, &line.AccountID, &line.AccountCode, &line.SubledgerCode,
			&slType, &slTxnID, &slLine,
			&line.CustomerID, &line.VendorID, &line.ItemID, &line.BankAccountID,
			&line.Qty, &line.UnitPrice, &line.AssessableValue, &line.DiscountAmount, &line.ChargesAmount,
			&line.TaxableValue, &line.CGST, &line.SGST, &line.IGST, &line.TDSAmount,
			&line.Debit, &line.Credit, &line.Currency, &line.ExchangeRate, &line.LocalAmount,
			&dims, &extras); err != nil {
			return nil, err
		}
		if slType != nil && slTxnID != nil {
			ref := SubledgerRef{Type: SubledgerType(*slType), TxnID: *slTxnID}
			if slLine != nil {
				ref.LineNum = *slLine
			}
			line.Subledger = &ref
		}
		if len(dims) > 0 {
			if err := json.Unmarshal(dims, &line.Dimensions); err != nil {
				return nil, err
			}
		}
		if len(extras) > 0 {
			if err := json.Unmarshal(extras, &line.Extras); err != nil {
				return nil, err
			}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r txRepo) UpdateJournalStatus(ctx context.Context, id string, status JournalStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE journals SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJournalNotFound
	}
	return nil
}

func (r txRepo) InsertVoucher(ctx context.Context, voucher Voucher) error {
	_, err := r.q.Exec(ctx, `INSERT INTO vouchers (
	id, voucher_no, previous_voucher_no, next_voucher_no, related_voucher_no,
	posting_event_type, source_type, source_id, invoice_ref, journal_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		voucher.ID, voucher.VoucherNo,
		nullable(voucher.PreviousVoucherNo), nullable(voucher.NextVoucherNo), nullable(voucher.RelatedVoucherNo),
		voucher.PostingEventType, voucher.SourceType, voucher.SourceID,
		nullable(voucher.InvoiceRef), voucher.JournalID, voucher.CreatedAt)
	if err != nil {
		return err
	}
	for _, line := range voucher.Lines {
		if err := r.insertVoucherLine(ctx, voucher.ID, line); err != nil {
			return err
		}
	}
	return nil
}

func (r txRepo) insertVoucherLine(ctx context.Context, voucherID string, line VoucherLine) error {
	dims, err := json.Marshal(line.Dimensions)
	if err != nil {
		return err
	}
	var (
		slType  *string
		slTxnID *string
	)
	if line.Subledger != nil {
		t := string(line.Subledger.Type)
		slType, slTxnID = &t, &line.Subledger.TxnID
	}
	_, err = r.q.Exec(ctx, `INSERT INTO voucher_lines (
	voucher_id, num, account_code, subledger_code, debit, credit,
	currency, exchange_rate, local_amount, dimensions, subledger_type, subledger_txn_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		voucherID, line.Num, line.AccountCode, line.SubledgerCode, line.Debit, line.Credit,
		line.Currency, line.ExchangeRate, line.LocalAmount, dims, slType, slTxnID)
	return err
}

func (r txRepo) InsertSubledgerTxn(ctx context.Context, txn SubledgerTxn) error {
	_, err := r.q.Exec(ctx, `INSERT INTO subledger_txns (
	id, type, entity_id, previous_txn_id, current_voucher_no, related_voucher_no, next_voucher_no, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		txn.ID, txn.Type, txn.EntityID, nullable(txn.PreviousTxnID),
		nullable(txn.CurrentVoucherNo), nullable(txn.RelatedVoucherNo), nullable(txn.NextVoucherNo),
		txn.CreatedAt)
	return err
}

func (r txRepo) GetSubledgerTxn(ctx context.Context, id string) (SubledgerTxn, error) {
	return r.scanSubledgerTxn(ctx, `SELECT id, type, entity_id,
	COALESCE(previous_txn_id, ''), COALESCE(current_voucher_no, ''),
	COALESCE(related_voucher_no, ''), COALESCE(next_voucher_no, ''), created_at
FROM subledger_txns WHERE id = $1`, id)
}

func (r txRepo) LatestSubledgerTxn(ctx context.Context, t SubledgerType, entityID string) (SubledgerTxn, error) {
	return r.scanSubledgerTxn(ctx, `SELECT id, type, entity_id,
	COALESCE(previous_txn_id, ''), COALESCE(current_voucher_no, ''),
	COALESCE(related_voucher_no, ''), COALESCE(next_voucher_no, ''), created_at
FROM subledger_txns WHERE type = $1 AND entity_id = $2
ORDER BY created_at DESC LIMIT 1`, t, entityID)
}

func (r txRepo) scanSubledgerTxn(ctx context.Context, query string, args ...any) (SubledgerTxn, error) {
	var txn SubledgerTxn
	err := r.q.QueryRow(ctx, query, args...).
		Scan(&txn.ID, &txn.Type, &txn.EntityID, &txn.PreviousTxnID,
			&txn.CurrentVoucherNo, &txn.RelatedVoucherNo, &txn.NextVoucherNo, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubledgerTxn{}, ErrSubledgerTxnNotFound
		}
		return SubledgerTxn{}, err
	}
	return txn, nil
}

func (r txRepo) StampCurrentVoucher(ctx context.Context, txnID, voucherNo string) error {
	tag, err := r.q.Exec(ctx, `UPDATE subledger_txns SET current_voucher_no = $2, related_voucher_no = $2 WHERE id = $1`, txnID, voucherNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubledgerTxnNotFound
	}
	return nil
}

func (r txRepo) StampNextVoucher(ctx context.Context, txnID, voucherNo string) error {
	tag, err := r.q.Exec(ctx, `UPDATE subledger_txns SET next_voucher_no = $2 WHERE id = $1`, txnID, voucherNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubledgerTxnNotFound
	}
	return nil
}

func (r *PG) ListJournals(ctx context.Context, status JournalStatus, limit int) ([]GLJournal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id FROM journals ORDER BY created_at DESC LIMIT $1`
	args := []any{limit}
	if status != "" {
		query = `SELECT id FROM journals WHERE status = $2 ORDER BY created_at DESC LIMIT $1`
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

	journals := make([]GLJournal, 0, len(ids))
	for _, id := range ids {
		journal, err := r.GetJournal(ctx, id)
		if err != nil {
			return nil, err
		}
		journals = append(journals, journal)
	}
	return journals, nil
}

func (r *PG) GetVoucher(ctx context.Context, voucherNo string) (Voucher, error) {
	var voucher Voucher
	err := r.pool.QueryRow(ctx, `SELECT id, voucher_no,
	COALESCE(previous_voucher_no, ''), COALESCE(next_voucher_no, ''), COALESCE(related_voucher_no, ''),
	posting_event_type, source_type, source_id, COALESCE(invoice_ref, ''), journal_id, created_at
FROM vouchers WHERE voucher_no = $1`, voucherNo).
		Scan(&voucher.ID, &voucher.VoucherNo,
			&voucher.PreviousVoucherNo, &voucher.NextVoucherNo, &voucher.RelatedVoucherNo,
			&voucher.PostingEventType, &voucher.SourceType, &voucher.SourceID,
			&voucher.InvoiceRef, &voucher.JournalID, &voucher.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT num, account_code, subledger_code, debit, credit,
	currency, exchange_rate, local_amount, dimensions, subledger_type, subledger_txn_id
FROM voucher_lines WHERE voucher_id = $1 ORDER BY num`, voucher.ID)
	if err != nil {
		return Voucher{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line    VoucherLine
			dims    []byte
			slType  *string
			slTxnID *string
		)
		if err := rows.Scan(&line.Num, &line.AccountCode, &line.SubledgerCode, &line.Debit, &line.Credit,
			&line.Currency, &line.ExchangeRate, &line.LocalAmount, &dims, &slType, &slTxnID); err != nil {
			return Voucher{}, err
		}
		if len(dims) > 0 {
			if err := json.Unmarshal(dims, &line.Dimensions); err != nil {
				return Voucher{}, err
			}
		}
		if slType != nil && slTxnID != nil {
			line.Subledger = &SubledgerRef{Type: SubledgerType(*slType), TxnID: *slTxnID}
		}
		voucher.Lines = append(voucher.Lines, line)
	}
	return voucher, rows.Err()
}

func (r *PG) TrialBalance(ctx context.Context) ([]TrialBalanceRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.account_code, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journals j ON j.id = l.journal_id
WHERE j.status = 'POSTED'
GROUP BY l.account_code
ORDER BY l.account_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountCode, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// VoucherImbalances returns voucher numbers whose local amounts fail to
// net within the tolerance. Consumed by the background integrity scan.
func (r *PG) VoucherImbalances(ctx context.Context, tolerance float64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT v.voucher_no
FROM vouchers v
JOIN voucher_lines l ON l.voucher_id = v.id
GROUP BY v.voucher_no
HAVING ABS(COALESCE(SUM(l.local_amount), 0)) > $1
ORDER BY v.voucher_no`, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, err
		}
		out = append(out, no)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*PG)(nil)

// Memory is an in-memory Repository used by tests and by modules
// exercising posting flows without a database.
type Memory struct {
	journals   map[string]GLJournal
	vouchers   map[string]Voucher
	subledger  map[string]SubledgerTxn
	txnInserts []string
}

// NewMemory builds an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		journals:  map[string]GLJournal{},
		vouchers:  map[string]Voucher{},
		subledger: map[string]SubledgerTxn{},
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, m)
}

func (m *Memory) InsertJournal(_ context.Context, journal GLJournal) error {
	if _, ok := m.journals[journal.ID]; ok {
		return fmt.Errorf("ledger: duplicate journal %s", journal.ID)
	}
	m.journals[journal.ID] = journal
	return nil
}

func (m *Memory) GetJournal(_ context.Context, id string) (GLJournal, error) {
	journal, ok := m.journals[id]
	if !ok {
		return GLJournal{}, ErrJournalNotFound
	}
	return journal, nil
}

func (m *Memory) ListJournals(_ context.Context, status JournalStatus, limit int) ([]GLJournal, error) {
	var out []GLJournal
	for _, journal := range m.journals {
		if status == "" || journal.Status == status {
			out = append(out, journal)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpdateJournalStatus(_ context.Context, id string, status JournalStatus) error {
	journal, ok := m.journals[id]
	if !ok {
		return ErrJournalNotFound
	}
	journal.Status = status
	m.journals[id] = journal
	return nil
}

func (m *Memory) InsertVoucher(_ context.Context, voucher Voucher) error {
	if _, ok := m.vouchers[voucher.VoucherNo]; ok {
		return fmt.Errorf("ledger: duplicate voucher %s", voucher.VoucherNo)
	}
	m.vouchers[voucher.VoucherNo] = voucher
	return nil
}

func (m *Memory) GetVoucher(_ context.Context, voucherNo string) (Voucher, error) {
	voucher, ok := m.vouchers[voucherNo]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return voucher, nil
}

func (m *Memory) InsertSubledgerTxn(_ context.Context, txn SubledgerTxn) error {
	m.subledger[txn.ID] = txn
	m.txnInserts = append(m.txnInserts, txn.ID)
	return nil
}

func (m *Memory) LatestSubledgerTxn(_ context.Context, t SubledgerType, entityID string) (SubledgerTxn, error) {
	for i := len(m.txnInserts) - 1; i >= 0; i-- {
		txn := m.subledger[m.txnInserts[i]]
		if txn.Type == t && txn.EntityID == entityID {
			return txn, nil
		}
	}
	return SubledgerTxn{}, ErrSubledgerTxnNotFound
}

func (m *Memory) GetSubledgerTxn(_ context.Context, id string) (SubledgerTxn, error) {
	txn, ok := m.subledger[id]
	if !ok {
		return SubledgerTxn{}, ErrSubledgerTxnNotFound
	}
	return txn, nil
}

func (m *Memory) StampCurrentVoucher(_ context.Context, txnID, voucherNo string) error {
	txn, ok := m.subledger[txnID]
	if !ok {
		return ErrSubledgerTxnNotFound
	}
	txn.CurrentVoucherNo = voucherNo
	txn.RelatedVoucherNo = voucherNo
	m.subledger[txnID] = txn
	return nil
}

func (m *Memory) StampNextVoucher(_ context.Context, txnID, voucherNo string) error {
	txn, ok := m.subledger[txnID]
	if !ok {
		return ErrSubledgerTxnNotFound
	}
	txn.NextVoucherNo = voucherNo
	m.subledger[txnID] = txn
	return nil
}

func (m *Memory) TrialBalance(_ context.Context) ([]TrialBalanceRow, error) {
	totals := map[string]*TrialBalanceRow{}
	var order []string
	for _, journal := range m.journals {
		if journal.Status != StatusPosted {
			continue
		}
		for _, line := range journal.Lines {
			row, ok := totals[line.AccountCode]
			if !ok {
				row = &TrialBalanceRow{AccountCode: line.AccountCode}
				totals[line.AccountCode] = row
				order = append(order, line.AccountCode)
			}
			row.Debit += line.Debit
			row.Credit += line.Credit
		}
	}
	out := make([]TrialBalanceRow, 0, len(order))
	for _, code := range order {
		out = append(out, *totals[code])
	}
	return out, nil
}

func (m *Memory) VoucherImbalances(_ context.Context, tolerance float64) ([]string, error) {
	var out []string
	for no, voucher := range m.vouchers {
		var net float64
		for _, line := range voucher.Lines {
			net += line.LocalAmount
		}
		if net > tolerance || net < -tolerance {
			out = append(out, no)
		}
	}
	return out, nil
}

var _ Repository = (*Memory)(nil)
