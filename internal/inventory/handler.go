package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Post("/receive", h.handleReceive)
		r.Post("/consume", h.handleConsume)
		r.Post("/return", h.handleReturn)
		r.Get("/batches", h.handleList)
		r.Get("/batches/{id}", h.handleShow)
		r.Get("/batches/{id}/barcode", h.handleBatchBarcode)
		r.Post("/batches/{id}/archive", h.handleArchive)
		r.Get("/barcode/{code}", h.handleBarcodeLookup)
	})
}

type keyRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	LocationID    int64           `json:"location_id" validate:"required,gt=0"`
	BatchNumber   string          `json:"batch_number" validate:"max=64"`
	ExpiryDate    string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	SerialNumber  *string         `json:"serial_number" validate:"omitempty,max=64"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

func (k keyRequest) toKey() Key {
	key := Key{
		ProductID:     k.ProductID,
		LocationID:    k.LocationID,
		BatchNumber:   k.BatchNumber,
		SerialNumber:  k.SerialNumber,
		PurchasePrice: k.PurchasePrice,
	}
	if k.ExpiryDate != "" {
		if t, err := time.Parse(time.DateOnly, k.ExpiryDate); err == nil {
			key.ExpiryDate = &t
		}
	}
	return key
}

type receiveRequest struct {
	keyRequest
	Quantity     decimal.Decimal `json:"quantity"`
	TotalUnits   decimal.Decimal `json:"total_units"`
	UnitLabel    string          `json:"unit_label" validate:"max=32"`
	LocationHint string          `json:"location_hint" validate:"max=128"`
	Reference    string          `json:"reference" validate:"max=128"`
	Notes        string          `json:"notes"`
}

type consumeRequest struct {
	BatchID   int64           `json:"batch_id" validate:"required_without=Key"`
	Key       *keyRequest     `json:"key" validate:"required_without=BatchID"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reference string          `json:"reference" validate:"max=128"`
	Notes     string          `json:"notes"`
}

type returnRequest struct {
	BatchID      int64           `json:"batch_id" validate:"required_without=Key"`
	Key          *keyRequest     `json:"key" validate:"required_without=BatchID"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitLabel    string          `json:"unit_label" validate:"max=32"`
	LocationHint string          `json:"location_hint" validate:"max=128"`
	Reference    string          `json:"reference" validate:"max=128"`
	Notes        string          `json:"notes"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.Receive(r.Context(), ReceiveInput{
		Key:          req.toKey(),
		Quantity:     req.Quantity,
		TotalUnits:   req.TotalUnits,
		UnitLabel:    req.UnitLabel,
		LocationHint: req.LocationHint,
		ActorID:      shared.ActorFromContext(r.Context()),
		Reference:    req.Reference,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, "receive batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ConsumeInput{
		BatchID:   req.BatchID,
		Quantity:  req.Quantity,
		ActorID:   shared.ActorFromContext(r.Context()),
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	if req.Key != nil {
		key := req.Key.toKey()
		input.Key = &key
	}
	batch, err := h.service.Consume(r.Context(), input)
	if err != nil {
		h.fail(w, "consume batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReturnInput{
		BatchID:      req.BatchID,
		Quantity:     req.Quantity,
		UnitLabel:    req.UnitLabel,
		LocationHint: req.LocationHint,
		ActorID:      shared.ActorFromContext(r.Context()),
		Reference:    req.Reference,
		Notes:        req.Notes,
	}
	if req.Key != nil {
		key := req.Key.toKey()
		input.Key = &key
	}
	batch, err := h.service.ReturnToStock(r.Context(), input)
	if err != nil {
		h.fail(w, "return to stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		BatchNumber:  q.Get("batch_number"),
		IncludeEmpty: q.Get("include_empty") == "true",
	}
	var err error
	if filter.ProductID, err = optionalInt(q.Get("product_id")); err != nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "query", "product_id", "invalid id"))
		return
	}
	if filter.LocationID, err = optionalInt(q.Get("location_id")); err != nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "query", "location_id", "invalid id"))
		return
	}
	if limit, err := optionalInt(q.Get("limit")); err == nil {
		filter.Limit = int(limit)
	}
	batches, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleBatchBarcode(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	code, err := h.service.BarcodeFor(r.Context(), id)
	if err != nil {
		h.fail(w, "render barcode", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"barcode": code})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	if err := h.service.Archive(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "archive batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBarcodeLookup(w http.ResponseWriter, r *http.Request) {
	data, batches, err := h.service.LookupBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, "lookup barcode", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"barcode": data, "batches": batches})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "inventory_batch", raw, "invalid batch id"))
		return 0, false
	}
	return id, true
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
