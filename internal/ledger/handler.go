package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// Handler exposes the posting engine over HTTP.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the ledger HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

type journalLineDTO struct {
	Qty             float64             `json:"qty"`
	UnitPrice       float64             `json:"unitPrice"`
	AssessableValue *float64            `json:"assessableValue"`
	DiscountPercent float64             `json:"discountPercent" validate:"gte=0,lte=100"`
	ChargePercent   float64             `json:"chargePercent" validate:"gte=0"`
	GSTPercent      float64             `json:"gstPercent" validate:"gte=0"`
	TDSPercent      float64             `json:"tdsPercent" validate:"gte=0"`
	Regime          valuation.TaxRegime `json:"regime"`
	Debit           float64             `json:"debit" validate:"gte=0"`
	Credit          float64             `json:"credit" validate:"gte=0"`
	Currency        string              `json:"currency" validate:"required"`
	ExchangeRate    float64             `json:"exchangeRate" validate:"gte=0"`
	LocalAmount     *float64            `json:"localAmount"`
	AccountID       string              `json:"accountId"`
	Subledger       *SubledgerRef       `json:"subledger"`
	CustomerID      string              `json:"customerId"`
	VendorID        string              `json:"vendorId"`
	ItemID          string              `json:"itemId"`
	BankAccountID   string              `json:"bankAccountId"`
	Dimensions      map[string]string   `json:"dimensions"`
	Extras          map[string]any      `json:"extras"`
}

type createJournalDTO struct {
	JournalDate time.Time        `json:"journalDate"`
	Reference   string           `json:"reference"`
	CreatedBy   string           `json:"createdBy"`
	Lines       []journalLineDTO `json:"lines" validate:"required,min=1,dive"`
}

type buildVoucherDTO struct {
	EventType        string `json:"eventType" validate:"required"`
	SourceType       string `json:"sourceType"`
	SourceID         string `json:"sourceId"`
	InvoiceRef       string `json:"invoiceRef"`
	RelatedVoucherNo string `json:"relatedVoucherNo"`
}

type setStatusDTO struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) CreateJournal(w http.ResponseWriter, r *http.Request) {
	var dto createJournalDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateJournalInput{
		JournalDate: dto.JournalDate,
		Reference:   dto.Reference,
		CreatedBy:   dto.CreatedBy,
	}
	for _, line := range dto.Lines {
		in.Lines = append(in.Lines, JournalLine{
			Qty:             line.Qty,
			UnitPrice:       line.UnitPrice,
			AssessableValue: line.AssessableValue,
			DiscountPercent: line.DiscountPercent,
			ChargePercent:   line.ChargePercent,
			GSTPercent:      line.GSTPercent,
			TDSPercent:      line.TDSPercent,
			Regime:          line.Regime,
			Debit:           line.Debit,
			Credit:          line.Credit,
			Currency:        line.Currency,
			ExchangeRate:    line.ExchangeRate,
			LocalAmount:     line.LocalAmount,
			AccountID:       line.AccountID,
			Subledger:       line.Subledger,
			CustomerID:      line.CustomerID,
			VendorID:        line.VendorID,
			ItemID:          line.ItemID,
			BankAccountID:   line.BankAccountID,
			Dimensions:      line.Dimensions,
			Extras:          line.Extras,
		})
	}
	journal, err := h.service.CreateJournal(r.Context(), in)
	if err != nil {
		h.respondError(w, "create journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, journal)
}

func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	journal, err := h.service.GetJournal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) ListJournals(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := JournalStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	journals, err := h.service.repo.ListJournals(r.Context(), status, limit)
	if err != nil {
		h.respondError(w, "list journals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, journals)
}

func (h *Handler) PostJournal(w http.ResponseWriter, r *http.Request) {
	journal, err := h.service.PostJournal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "post journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var dto setStatusDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	to := JournalStatus(dto.Status)
	if !to.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	journal, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		h.respondError(w, "set journal status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) BuildVoucher(w http.ResponseWriter, r *http.Request) {
	var dto buildVoucherDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	voucher, err := h.service.BuildVoucher(r.Context(), chi.URLParam(r, "id"), VoucherMeta{
		EventType:        dto.EventType,
		SourceType:       dto.SourceType,
		SourceID:         dto.SourceID,
		InvoiceRef:       dto.InvoiceRef,
		RelatedVoucherNo: dto.RelatedVoucherNo,
	})
	if err != nil {
		h.respondError(w, "build voucher", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, voucher)
}

func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.service.GetVoucher(r.Context(), chi.URLParam(r, "voucherNo"))
	if err != nil {
		h.respondError(w, "get voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.TrialBalance(r.Context())
	if err != nil {
		h.respondError(w, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrJournalNotFound),
		errors.Is(err, ErrVoucherNotFound),
		errors.Is(err, ErrSubledgerTxnNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrEmptyJournal),
		errors.Is(err, ErrAccountRefMissing),
		errors.Is(err, ErrAccountRefConflict),
		errors.Is(err, ErrAccountNotPostable),
		errors.Is(err, ErrSubledgerEntity),
		errors.Is(err, ErrUnknownSubledger),
		errors.Is(err, ErrCurrencyRequired),
		errors.Is(err, ErrCurrencyInvalid),
		errors.Is(err, ErrBadExchangeRate),
		errors.Is(err, ErrDebitCreditExclusive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnbalanced),
		errors.Is(err, ErrNotPosted),
		errors.As(err, new(*StatusError)):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
