package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/platform/sequence"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// voucherCounter names the shared sequence behind voucher numbering.
const voucherCounter = "voucher"

// balanceTolerance is the maximum absolute local-amount drift a voucher
// may carry after FX balancing.
const balanceTolerance = 0.01

// Config carries the posting accounts the engine itself needs.
type Config struct {
	FXGainAccountCode string
	FXLossAccountCode string
}

// CreateJournalInput groups the fields required to create a journal.
type CreateJournalInput struct {
	JournalDate time.Time
	Reference   string
	CreatedBy   string
	Lines       []JournalLine
}

// VoucherMeta describes the posting event a voucher records.
type VoucherMeta struct {
	EventType        string
	SourceType       string
	SourceID         string
	InvoiceRef       string
	RelatedVoucherNo string
}

// Service is the ledger posting engine.
type Service struct {
	repo   Repository
	master masterdata.Lookup
	seq    sequence.Sequencer
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// NewService builds the posting engine.
func NewService(repo Repository, master masterdata.Lookup, seq sequence.Sequencer, cfg Config, log *slog.Logger) *Service {
	if cfg.FXGainAccountCode == "" {
		cfg.FXGainAccountCode = "FX-GAIN"
	}
	if cfg.FXLossAccountCode == "" {
		cfg.FXLossAccountCode = "FX-LOSS"
	}
	return &Service{repo: repo, master: master, seq: seq, cfg: cfg, log: log, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateJournal validates the whole line set and persists a DRAFT
// journal in one transaction. No partial journal is ever stored.
func (s *Service) CreateJournal(ctx context.Context, in CreateJournalInput) (GLJournal, error) {
	var journal GLJournal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = s.CreateJournalIn(ctx, tx, in)
		return err
	})
	if err != nil {
		return GLJournal{}, err
	}
	return journal, nil
}

// CreateJournalIn is CreateJournal running on a caller-owned
// transaction, for flows that couple journal creation to other writes.
func (s *Service) CreateJournalIn(ctx context.Context, tx TxRepository, in CreateJournalInput) (GLJournal, error) {
	lines, err := s.processLines(ctx, in.Lines)
	if err != nil {
		return GLJournal{}, err
	}

	now := s.now().UTC()
	journal := GLJournal{
		ID:          uuid.NewString(),
		JournalDate: in.JournalDate,
		Reference:   in.Reference,
		CreatedBy:   in.CreatedBy,
		Status:      StatusDraft,
		Lines:       lines,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if journal.JournalDate.IsZero() {
		journal.JournalDate = now
	}
	if err := tx.InsertJournal(ctx, journal); err != nil {
		return GLJournal{}, fmt.Errorf("ledger: insert journal: %w", err)
	}
	s.log.Info("journal created",
		slog.String("journal_id", journal.ID),
		slog.Int("lines", len(journal.Lines)))
	return journal, nil
}

// processLines validates and resolves every line before anything is
// persisted; the first failure aborts the whole set.
func (s *Service) processLines(ctx context.Context, input []JournalLine) ([]Line, error) {
	if len(input) == 0 {
		return nil, ErrEmptyJournal
	}
	lines := make([]Line, 0, len(input))
	for idx, raw := range input {
		account, err := s.resolveAccount(ctx, raw)
		if err != nil {
			return nil, lineError(idx, err)
		}
		if !account.IsLeaf || !account.AllowManualPost {
			return nil, lineError(idx, fmt.Errorf("%w: %s", ErrAccountNotPostable, account.Code))
		}
		if raw.Currency == "" {
			return nil, lineError(idx, ErrCurrencyRequired)
		}
		if _, err := currency.ParseISO(raw.Currency); err != nil {
			return nil, lineError(idx, fmt.Errorf("%w: %q", ErrCurrencyInvalid, raw.Currency))
		}
		if raw.ExchangeRate < 0 {
			return nil, lineError(idx, ErrBadExchangeRate)
		}
		if raw.Debit < 0 || raw.Credit < 0 {
			return nil, lineError(idx, ErrDebitCreditExclusive)
		}
		if (raw.Debit > 0) == (raw.Credit > 0) {
			return nil, lineError(idx, ErrDebitCreditExclusive)
		}

		valued := valuation.ComputeLine(valuation.Line{
			Qty:             raw.Qty,
			UnitPrice:       raw.UnitPrice,
			AssessableValue: raw.AssessableValue,
			DiscountPercent: raw.DiscountPercent,
			ChargePercent:   raw.ChargePercent,
			GSTPercent:      raw.GSTPercent,
			TDSPercent:      raw.TDSPercent,
			Regime:          raw.Regime,
			Debit:           raw.Debit,
			Credit:          raw.Credit,
			Currency:        raw.Currency,
			ExchangeRate:    raw.ExchangeRate,
			LocalAmount:     raw.LocalAmount,
		})

		lines = append(lines, Line{
			Num:             idx + 1,
			AccountID:       account.ID,
			AccountCode:     account.Code,
			SubledgerCode:   subledgerCode(raw, account),
			Subledger:       raw.Subledger,
			CustomerID:      raw.CustomerID,
			VendorID:        raw.VendorID,
			ItemID:          raw.ItemID,
			BankAccountID:   raw.BankAccountID,
			Qty:             valued.Qty,
			UnitPrice:       valued.UnitPrice,
			AssessableValue: valued.AssessableValue,
			DiscountAmount:  valued.DiscountAmount,
			ChargesAmount:   valued.ChargesAmount,
			TaxableValue:    valued.TaxableValue,
			CGST:            valued.CGST,
			SGST:            valued.SGST,
			IGST:            valued.IGST,
			TDSAmount:       valued.TDSAmount,
			Debit:           valued.Debit,
			Credit:          valued.Credit,
			Currency:        valued.Currency,
			ExchangeRate:    valued.ExchangeRate,
			LocalAmount:     valued.LocalAmount,
			Dimensions:      raw.Dimensions,
			Extras:          raw.Extras,
		})
	}
	return lines, nil
}

// resolveAccount finds the posting account for a line: either given
// explicitly or derived from the linked ledger account of the
// referenced sub-ledger entity. Exactly one reference must be present.
func (s *Service) resolveAccount(ctx context.Context, raw JournalLine) (masterdata.Account, error) {
	switch {
	case raw.AccountID != "" && raw.Subledger != nil:
		return masterdata.Account{}, ErrAccountRefConflict
	case raw.AccountID != "":
		return s.master.Account(ctx, raw.AccountID)
	case raw.Subledger == nil:
		return masterdata.Account{}, ErrAccountRefMissing
	}

	ref := raw.Subledger
	if _, err := ParseSubledgerType(string(ref.Type)); err != nil {
		return masterdata.Account{}, err
	}
	entityID := subledgerEntityID(raw, ref.Type)
	if entityID == "" {
		return masterdata.Account{}, fmt.Errorf("%w: %s", ErrSubledgerEntity, ref.Type)
	}
	party, err := s.master.Party(ctx, ref.Type.PartyKind(), entityID)
	if err != nil {
		return masterdata.Account{}, err
	}
	if party.LinkedCoaAccount == "" {
		return masterdata.Account{}, masterdata.ErrNoLinkedAccount
	}
	return s.master.Account(ctx, party.LinkedCoaAccount)
}

func subledgerEntityID(raw JournalLine, t SubledgerType) string {
	switch t {
	case SubledgerAR:
		return raw.CustomerID
	case SubledgerAP:
		return raw.VendorID
	case SubledgerBank:
		return raw.BankAccountID
	case SubledgerInventory:
		return raw.ItemID
	}
	return ""
}

// subledgerCode is the first non-empty of customer, vendor, item, bank
// account and the resolved account.
func subledgerCode(raw JournalLine, account masterdata.Account) string {
	for _, id := range []string{raw.CustomerID, raw.VendorID, raw.ItemID, raw.BankAccountID} {
		if id != "" {
			return id
		}
	}
	return account.ID
}

// PostJournal transitions a journal from DRAFT to POSTED, enforcing the
// balance invariant.
func (s *Service) PostJournal(ctx context.Context, id string) (GLJournal, error) {
	var journal GLJournal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = s.PostJournalIn(ctx, tx, id)
		return err
	})
	if err != nil {
		return GLJournal{}, err
	}
	return journal, nil
}

// PostJournalIn is PostJournal on a caller-owned transaction.
func (s *Service) PostJournalIn(ctx context.Context, tx TxRepository, id string) (GLJournal, error) {
	journal, err := tx.GetJournal(ctx, id)
	if err != nil {
		return GLJournal{}, err
	}
	if journal.Status != StatusDraft {
		return GLJournal{}, TransitionError(journal.Status, StatusPosted)
	}
	var debit, credit float64
	for _, line := range journal.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	if valuation.Round2(debit) != valuation.Round2(credit) {
		return GLJournal{}, fmt.Errorf("%w: debit %.2f credit %.2f", ErrUnbalanced, debit, credit)
	}
	if err := tx.UpdateJournalStatus(ctx, id, StatusPosted); err != nil {
		return GLJournal{}, err
	}
	journal.Status = StatusPosted
	s.log.Info("journal posted", slog.String("journal_id", id))
	return journal, nil
}

// SetStatus applies an arbitrary transition through the status table;
// ADMINMODE and ANYMODE are universal escape hatches.
func (s *Service) SetStatus(ctx context.Context, id string, to JournalStatus) (GLJournal, error) {
	var journal GLJournal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = tx.GetJournal(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(journal.Status, to) {
			return TransitionError(journal.Status, to)
		}
		if to == StatusPosted {
			// force balance enforcement through the posting path
			journal, err = s.PostJournalIn(ctx, tx, id)
			return err
		}
		if err := tx.UpdateJournalStatus(ctx, id, to); err != nil {
			return err
		}
		journal.Status = to
		return nil
	})
	if err != nil {
		return GLJournal{}, err
	}
	return journal, nil
}

// ArchiveJournal cancels a posted journal.
func (s *Service) ArchiveJournal(ctx context.Context, id string) (GLJournal, error) {
	return s.SetStatus(ctx, id, StatusCancelled)
}

// BuildVoucher builds and persists the voucher for a posted journal.
func (s *Service) BuildVoucher(ctx context.Context, journalID string, meta VoucherMeta) (Voucher, error) {
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		voucher, err = s.BuildVoucherIn(ctx, tx, journalID, meta)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	return voucher, nil
}

// BuildVoucherIn builds the voucher on a caller-owned transaction. The
// voucher number comes from a shared counter that is incremented
// outside the transaction; on failure the increment is compensated
// best-effort, so gaps in voucher numbers can occur.
func (s *Service) BuildVoucherIn(ctx context.Context, tx TxRepository, journalID string, meta VoucherMeta) (Voucher, error) {
	journal, err := tx.GetJournal(ctx, journalID)
	if err != nil {
		return Voucher{}, err
	}
	if journal.Status != StatusPosted {
		return Voucher{}, fmt.Errorf("%w: status %s", ErrNotPosted, journal.Status)
	}

	num, err := s.seq.Next(ctx, voucherCounter)
	if err != nil {
		return Voucher{}, err
	}
	voucherNo := fmt.Sprintf("FVCHR_%06d", num)
	committed := false
	defer func() {
		if !committed {
			s.seq.Compensate(ctx, voucherCounter)
		}
	}()

	lines, total := buildVoucherLines(journal)
	if math.Abs(total) > balanceTolerance {
		lines = append(lines, s.fxBalancingLine(journal, len(lines)+1, total))
	}

	// Read every referenced sub-ledger transaction before stamping so
	// the previous-voucher link reflects the pre-posting state.
	type stampTarget struct {
		txn SubledgerTxn
	}
	var targets []stampTarget
	previous := ""
	for _, line := range journal.Lines {
		if line.Subledger == nil {
			continue
		}
		txn, err := tx.GetSubledgerTxn(ctx, line.Subledger.TxnID)
		if err != nil {
			if errors.Is(err, ErrSubledgerTxnNotFound) {
				return Voucher{}, fmt.Errorf("%w: %s", ErrSubledgerTxnNotFound, line.Subledger.TxnID)
			}
			return Voucher{}, err
		}
		if previous == "" && txn.CurrentVoucherNo != "" {
			previous = txn.CurrentVoucherNo
		}
		if previous == "" && txn.PreviousTxnID != "" {
			prior, err := tx.GetSubledgerTxn(ctx, txn.PreviousTxnID)
			if err == nil && prior.CurrentVoucherNo != "" {
				previous = prior.CurrentVoucherNo
			}
		}
		targets = append(targets, stampTarget{txn: txn})
	}

	voucher := Voucher{
		ID:                uuid.NewString(),
		VoucherNo:         voucherNo,
		PreviousVoucherNo: previous,
		RelatedVoucherNo:  meta.RelatedVoucherNo,
		PostingEventType:  meta.EventType,
		SourceType:        meta.SourceType,
		SourceID:          meta.SourceID,
		InvoiceRef:        meta.InvoiceRef,
		JournalID:         journal.ID,
		Lines:             lines,
		CreatedAt:         s.now().UTC(),
	}
	if err := tx.InsertVoucher(ctx, voucher); err != nil {
		return Voucher{}, fmt.Errorf("ledger: insert voucher: %w", err)
	}

	for _, target := range targets {
		if err := tx.StampCurrentVoucher(ctx, target.txn.ID, voucherNo); err != nil {
			return Voucher{}, err
		}
		if target.txn.PreviousTxnID != "" {
			if err := tx.StampNextVoucher(ctx, target.txn.PreviousTxnID, voucherNo); err != nil {
				return Voucher{}, err
			}
		}
	}

	committed = true
	s.log.Info("voucher built",
		slog.String("voucher_no", voucherNo),
		slog.String("journal_id", journal.ID),
		slog.Int("lines", len(lines)))
	return voucher, nil
}

// TrialBalance returns the point-in-time per-account aggregation of
// posted journals. It is a plain scan, not a consistent snapshot
// against concurrent posting.
func (s *Service) TrialBalance(ctx context.Context) ([]TrialBalanceRow, error) {
	return s.repo.TrialBalance(ctx)
}

// GetJournal loads a journal with its lines.
func (s *Service) GetJournal(ctx context.Context, id string) (GLJournal, error) {
	return s.repo.GetJournal(ctx, id)
}

// GetVoucher loads a voucher by number.
func (s *Service) GetVoucher(ctx context.Context, voucherNo string) (Voucher, error) {
	return s.repo.GetVoucher(ctx, voucherNo)
}
