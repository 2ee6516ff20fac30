package transfer

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes transfer workflow endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Post("/{id}/items", h.addItem)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/items/{itemId}/decision", h.decideItem)
		r.Post("/{id}/initiate", h.initiate)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes" validate:"max=512"`
}

func (i itemRequest) toInput() ItemInput {
	return ItemInput{ProductID: i.ProductID, Quantity: i.Quantity, UnitPrice: i.UnitPrice, Notes: i.Notes}
}

type createRequest struct {
	RequestingLocationID int64         `json:"requesting_location_id" validate:"required,gt=0"`
	ProvidingLocationID  int64         `json:"providing_location_id" validate:"required,gt=0,nefield=RequestingLocationID"`
	Note                 string        `json:"note" validate:"max=1024"`
	Items                []itemRequest `json:"items" validate:"dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		RequestingLocationID: req.RequestingLocationID,
		ProvidingLocationID:  req.ProvidingLocationID,
		Note:                 req.Note,
		CreatedBy:            shared.ActorFromContext(r.Context()),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, item.toInput())
	}
	t, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.AddItem(r.Context(), id, shared.ActorFromContext(r.Context()), req.toInput())
	if err != nil {
		h.fail(w, "add transfer item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	t, err := h.service.Submit(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "submit transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

type decisionRequest struct {
	ApprovedQuantity *decimal.Decimal `json:"approved_quantity" validate:"required"`
	Notes            string           `json:"notes" validate:"max=1024"`
}

func (h *Handler) decideItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	itemID, ok := pathInt(w, r, "itemId", "transfer_item")
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	// A decision is final, so zero must be sent explicitly to reject an item.
	if req.ApprovedQuantity == nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "transfer_item", strconv.FormatInt(itemID, 10), "approved_quantity is required"))
		return
	}
	t, err := h.service.DecideItem(r.Context(), DecideItemInput{
		TransferID:       id,
		ItemID:           itemID,
		ActorID:          shared.ActorFromContext(r.Context()),
		ApprovedQuantity: *req.ApprovedQuantity,
		Notes:            req.Notes,
	})
	if err != nil {
		h.fail(w, "decide transfer item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	t, err := h.service.InitiateTransfer(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "initiate transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

type completeRequest struct {
	Side string `json:"side" validate:"omitempty,oneof=providing requesting"`
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	t, err := h.service.Complete(r.Context(), CompleteInput{
		TransferID: id,
		ActorID:    shared.ActorFromContext(r.Context()),
		Side:       Side(req.Side),
	})
	if err != nil {
		h.fail(w, "complete transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id", "transfer")
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	t, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, "cancel transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathInt(w http.ResponseWriter, r *http.Request, param, entity string) (int64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, entity, raw, "invalid id"))
		return 0, false
	}
	return id, true
}
