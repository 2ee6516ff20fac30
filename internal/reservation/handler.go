package reservation

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for reservations.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs reservation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.handleReserve)
		r.Get("/available", h.handleAvailable)
		r.Get("/{id}", h.handleShow)
		r.Delete("/{id}", h.handleRelease)
		r.Post("/{id}/fulfill", h.handleFulfill)
	})
}

type reserveRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	LocationID int64           `json:"location_id" validate:"gte=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExpiresAt  *time.Time      `json:"expires_at"`
	Reference  string          `json:"reference" validate:"max=128"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Reserve(r.Context(), ReserveInput{
		ProductID:   req.ProductID,
		LocationID:  req.LocationID,
		Quantity:    req.Quantity,
		RequestedBy: shared.ActorFromContext(r.Context()),
		ExpiresAt:   req.ExpiresAt,
		Reference:   req.Reference,
	})
	if err != nil {
		h.fail(w, "reserve stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Release(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "release reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	consumption, err := h.service.Fulfill(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "fulfill reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, consumption)
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "query", "product_id", "invalid id"))
		return
	}
	var locationID int64
	if raw := q.Get("location_id"); raw != "" {
		if locationID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			httpx.RespondError(w, shared.NewError(shared.ErrValidation, "query", "location_id", "invalid id"))
			return
		}
	}
	available, err := h.service.Available(r.Context(), productID, locationID)
	if err != nil {
		h.fail(w, "available stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "location_id": locationID, "available": available})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "reservation", raw, "invalid reservation id"))
		return uuid.Nil, false
	}
	return id, true
}
