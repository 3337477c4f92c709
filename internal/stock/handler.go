package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes read-only balance lookups. Mutation happens through
// order flows, never directly over HTTP.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler constructs the stock HTTP handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

func keyFromQuery(values url.Values) (DimensionKey, error) {
	key := DimensionKey{
		ItemID:    values.Get("itemId"),
		Site:      values.Get("site"),
		Warehouse: values.Get("warehouse"),
		Zone:      values.Get("zone"),
		Location:  values.Get("location"),
		Aisle:     values.Get("aisle"),
		Rack:      values.Get("rack"),
		Shelf:     values.Get("shelf"),
		Bin:       values.Get("bin"),
		Config:    values.Get("config"),
		Color:     values.Get("color"),
		Size:      values.Get("size"),
		Style:     values.Get("style"),
		Version:   values.Get("version"),
		Batch:     values.Get("batch"),
		Serial:    values.Get("serial"),
	}
	if key.ItemID == "" {
		return DimensionKey{}, errors.New("itemId is required")
	}
	return key, nil
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, err := h.ledger.Balance(r.Context(), key)
	if err != nil {
		h.respondError(w, "get stock balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) GetProvisional(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, err := h.ledger.Provisional(r.Context(), key)
	if err != nil {
		h.respondError(w, "get provisional balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
