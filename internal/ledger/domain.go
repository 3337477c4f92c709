// Package ledger implements the double-entry posting engine: journal
// validation, sub-ledger account resolution, DRAFT journal persistence
// and the immutable, balanced vouchers produced when a journal posts.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// JournalStatus enumerates the journal lifecycle.
type JournalStatus string

const (
	StatusDraft     JournalStatus = "DRAFT"
	StatusPosted    JournalStatus = "POSTED"
	StatusCancelled JournalStatus = "CANCELLED"
	// StatusAdminMode and StatusAnyMode are administrative override
	// states, enterable from and exitable to any state.
	StatusAdminMode JournalStatus = "ADMINMODE"
	StatusAnyMode   JournalStatus = "ANYMODE"
)

// Valid reports whether s is a known journal status.
func (s JournalStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPosted, StatusCancelled, StatusAdminMode, StatusAnyMode:
		return true
	}
	return false
}

var journalTransitions = map[JournalStatus][]JournalStatus{
	StatusDraft:     {StatusPosted, StatusCancelled},
	StatusPosted:    {StatusCancelled},
	StatusCancelled: {},
}

// CanTransition reports whether a journal may move from one status to
// another. The admin override states are universal.
func CanTransition(from, to JournalStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == StatusAdminMode || from == StatusAnyMode || to == StatusAdminMode || to == StatusAnyMode {
		return true
	}
	for _, next := range journalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubledgerType is the closed set of sub-ledgers rolling up into the
// general ledger.
type SubledgerType string

const (
	SubledgerAR        SubledgerType = "AR"
	SubledgerAP        SubledgerType = "AP"
	SubledgerBank      SubledgerType = "BANK"
	SubledgerInventory SubledgerType = "INVENTORY"
)

// ParseSubledgerType rejects unknown tags at construction.
func ParseSubledgerType(s string) (SubledgerType, error) {
	switch SubledgerType(s) {
	case SubledgerAR, SubledgerAP, SubledgerBank, SubledgerInventory:
		return SubledgerType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSubledger, s)
}

// PartyKind maps the sub-ledger to the master record holding its
// linked ledger account.
func (t SubledgerType) PartyKind() masterdata.PartyKind {
	switch t {
	case SubledgerAR:
		return masterdata.PartyCustomer
	case SubledgerAP:
		return masterdata.PartyVendor
	case SubledgerBank:
		return masterdata.PartyBankAccount
	default:
		return masterdata.PartyItem
	}
}

// SubledgerRef points at the originating sub-ledger transaction of a
// journal line.
type SubledgerRef struct {
	Type    SubledgerType `json:"sourceType"`
	TxnID   string        `json:"txnId"`
	LineNum int           `json:"lineNum"`
}

// JournalLine is the raw posting input for a single line. Exactly one
// of AccountID and Subledger must be set.
type JournalLine struct {
	Qty             float64
	UnitPrice       float64
	AssessableValue *float64
	DiscountPercent float64
	ChargePercent   float64
	GSTPercent      float64
	TDSPercent      float64
	Regime          valuation.TaxRegime
	Debit           float64
	Credit          float64
	Currency        string
	ExchangeRate    float64
	LocalAmount     *float64

	AccountID string
	Subledger *SubledgerRef

	CustomerID    string
	VendorID      string
	ItemID        string
	BankAccountID string

	Dimensions map[string]string
	Extras     map[string]any
}

// Line is a processed, persisted journal line: the input enriched with
// the resolved account and the computed valuation amounts.
type Line struct {
	Num             int               `json:"num"`
	AccountID       string            `json:"accountId"`
	AccountCode     string            `json:"accountCode"`
	SubledgerCode   string            `json:"subledgerCode"`
	Subledger       *SubledgerRef     `json:"subledger,omitempty"`
	CustomerID      string            `json:"customerId,omitempty"`
	VendorID        string            `json:"vendorId,omitempty"`
	ItemID          string            `json:"itemId,omitempty"`
	BankAccountID   string            `json:"bankAccountId,omitempty"`
	Qty             float64           `json:"qty"`
	UnitPrice       float64           `json:"unitPrice"`
	AssessableValue float64           `json:"assessableValue"`
	DiscountAmount  float64           `json:"discountAmount"`
	ChargesAmount   float64           `json:"chargesAmount"`
	TaxableValue    float64           `json:"taxableValue"`
	CGST            float64           `json:"cgst"`
	SGST            float64           `json:"sgst"`
	IGST            float64           `json:"igst"`
	TDSAmount       float64           `json:"tdsAmount"`
	Debit           float64           `json:"debit"`
	Credit          float64           `json:"credit"`
	Currency        string            `json:"currency"`
	ExchangeRate    float64           `json:"exchangeRate"`
	LocalAmount     float64           `json:"localAmount"`
	Dimensions      map[string]string `json:"dimensions,omitempty"`
	Extras          map[string]any    `json:"extras,omitempty"`
}

// GLJournal is the mutable journal document. Lines are ordered.
type GLJournal struct {
	ID          string        `json:"id"`
	JournalDate time.Time     `json:"journalDate"`
	Reference   string        `json:"reference"`
	CreatedBy   string        `json:"createdBy"`
	Status      JournalStatus `json:"status"`
	Lines       []Line        `json:"lines"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// VoucherLine is one resolved leg of a posted voucher.
type VoucherLine struct {
	Num           int               `json:"num"`
	AccountCode   string            `json:"accountCode"`
	SubledgerCode string            `json:"subledgerCode"`
	Debit         float64           `json:"debit"`
	Credit        float64           `json:"credit"`
	Currency      string            `json:"currency"`
	ExchangeRate  float64           `json:"exchangeRate"`
	LocalAmount   float64           `json:"localAmount"`
	Dimensions    map[string]string `json:"dimensions,omitempty"`
	Subledger     *SubledgerRef     `json:"subledger,omitempty"`
}

// Voucher is the immutable, balanced record of a posting. Once written
// it is never mutated; lineage links chain successive vouchers of the
// same sub-ledger entity.
type Voucher struct {
	ID                string        `json:"id"`
	VoucherNo         string        `json:"voucherNo"`
	PreviousVoucherNo string        `json:"previousVoucherNo,omitempty"`
	NextVoucherNo     string        `json:"nextVoucherNo,omitempty"`
	RelatedVoucherNo  string        `json:"relatedVoucherNo,omitempty"`
	PostingEventType  string        `json:"postingEventType"`
	SourceType        string        `json:"sourceType"`
	SourceID          string        `json:"sourceId"`
	InvoiceRef        string        `json:"invoiceRef,omitempty"`
	JournalID         string        `json:"journalId"`
	Lines             []VoucherLine `json:"lines"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// SubledgerTxn is the sub-ledger transaction record stamped with
// voucher lineage as postings reference it.
type SubledgerTxn struct {
	ID               string        `json:"id"`
	Type             SubledgerType `json:"type"`
	EntityID         string        `json:"entityId"`
	PreviousTxnID    string        `json:"previousTxnId,omitempty"`
	CurrentVoucherNo string        `json:"currentVoucherNo,omitempty"`
	RelatedVoucherNo string        `json:"relatedVoucherNo,omitempty"`
	NextVoucherNo    string        `json:"nextVoucherNo,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// TrialBalanceRow aggregates posted debits and credits per account.
type TrialBalanceRow struct {
	AccountCode string  `json:"accountCode"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

// Sentinel errors.
var (
	ErrEmptyJournal         = errors.New("ledger: journal requires at least one line")
	ErrJournalNotFound      = errors.New("ledger: journal not found")
	ErrVoucherNotFound      = errors.New("ledger: voucher not found")
	ErrUnbalanced           = errors.New("ledger: journal debits and credits must balance")
	ErrNotPosted            = errors.New("ledger: journal must be posted")
	ErrAccountRefMissing    = errors.New("ledger: line needs an account or a sub-ledger pointer")
	ErrAccountRefConflict   = errors.New("ledger: line cannot carry both an account and a sub-ledger pointer")
	ErrAccountNotPostable   = errors.New("ledger: account must be a leaf that allows manual posting")
	ErrSubledgerEntity      = errors.New("ledger: sub-ledger pointer without a matching entity reference")
	ErrUnknownSubledger     = errors.New("ledger: unknown sub-ledger type")
	ErrCurrencyRequired     = errors.New("ledger: currency is required")
	ErrCurrencyInvalid      = errors.New("ledger: currency is not a valid ISO 4217 code")
	ErrBadExchangeRate      = errors.New("ledger: exchange rate must be >= 0")
	ErrDebitCreditExclusive = errors.New("ledger: exactly one of debit and credit must be positive")
	ErrSubledgerTxnNotFound = errors.New("ledger: sub-ledger transaction not found")
)

// StatusError describes an illegal status change.
type StatusError struct {
	From JournalStatus
	To   JournalStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger: illegal status transition %s to %s", e.From, e.To)
}

// TransitionError wraps an illegal status change.
func TransitionError(from, to JournalStatus) error {
	return &StatusError{From: from, To: to}
}

func lineError(idx int, err error) error {
	return fmt.Errorf("ledger: line %d: %w", idx, err)
}
