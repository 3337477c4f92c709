package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// Handler exposes orders over HTTP.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the orders HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

type lineDTO struct {
	Key             stock.DimensionKey  `json:"key"`
	Qty             float64             `json:"qty" validate:"gt=0"`
	UnitPrice       float64             `json:"unitPrice" validate:"gte=0"`
	DiscountPercent float64             `json:"discountPercent" validate:"gte=0,lte=100"`
	ChargePercent   float64             `json:"chargePercent" validate:"gte=0"`
	GSTPercent      float64             `json:"gstPercent" validate:"gte=0"`
	TDSPercent      float64             `json:"tdsPercent" validate:"gte=0"`
	Regime          valuation.TaxRegime `json:"regime"`
}

type createOrderDTO struct {
	Kind         Kind      `json:"kind" validate:"required"`
	PartyID      string    `json:"partyId" validate:"required"`
	Currency     string    `json:"currency" validate:"required"`
	ExchangeRate float64   `json:"exchangeRate" validate:"gte=0"`
	Lines        []lineDTO `json:"lines" validate:"required,min=1,dive"`
}

type movementDTO struct {
	Type        MovementType `json:"type" validate:"required"`
	Qty         float64      `json:"qty" validate:"gt=0"`
	Mode        string       `json:"mode"`
	ExternalRef string       `json:"externalRef"`
	Date        time.Time    `json:"date"`
}

type statusDTO struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var dto createOrderDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateInput{
		Kind:         dto.Kind,
		PartyID:      dto.PartyID,
		Currency:     dto.Currency,
		ExchangeRate: dto.ExchangeRate,
	}
	for _, line := range dto.Lines {
		in.Lines = append(in.Lines, LineInput{
			Key:             line.Key,
			Qty:             line.Qty,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			ChargePercent:   line.ChargePercent,
			GSTPercent:      line.GSTPercent,
			TDSPercent:      line.TDSPercent,
			Regime:          line.Regime,
		})
	}
	order, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	orders, err := h.service.List(r.Context(), status, limit)
	if err != nil {
		h.respondError(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var dto statusDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	to := Status(dto.Status)
	if !to.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	order, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		h.respondError(w, "set order status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) AddMovement(w http.ResponseWriter, r *http.Request) {
	var dto movementDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	order, err := h.service.AddMovement(r.Context(), chi.URLParam(r, "id"), MovementInput{
		Type:        dto.Type,
		Qty:         dto.Qty,
		Mode:        dto.Mode,
		ExternalRef: dto.ExternalRef,
		Date:        dto.Date,
	})
	if err != nil {
		h.respondError(w, "add movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) PostMovement(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.PostMovement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "movementId"))
	if err != nil {
		h.respondError(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) CancelMovement(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelMovement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "movementId"))
	if err != nil {
		h.respondError(w, "cancel movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrMovementNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrLineRequired),
		errors.Is(err, ErrBadKind),
		errors.Is(err, ErrBadMovementType),
		errors.Is(err, ErrBadQty):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrQtyOutOfRange),
		errors.Is(err, ErrNotConfirmed),
		errors.Is(err, stock.ErrBalanceMissing),
		errors.Is(err, ledger.ErrUnbalanced),
		errors.As(err, new(*StatusError)):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
