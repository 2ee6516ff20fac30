package approval

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes approval endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs approval handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/approvals", func(r chi.Router) {
		r.Get("/persons", h.listPersons)
		r.Post("/persons", h.createPerson)
		r.Put("/persons/{id}", h.updatePerson)
		r.Get("/candidates", h.candidates)
		r.Post("/requests", h.createRequest)
		r.Get("/requests/{id}", h.showRequest)
		r.Post("/requests/{id}/decision", h.decide)
	})
}

type personRequest struct {
	UserID    int64           `json:"user_id" validate:"required,gt=0"`
	Label     string          `json:"label" validate:"max=128"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Priority  int             `json:"priority" validate:"gte=0"`
	Active    *bool           `json:"active"`
}

func (p personRequest) toInput(actorID int64) PersonInput {
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return PersonInput{UserID: p.UserID, Label: p.Label, MaxAmount: p.MaxAmount, Priority: p.Priority, Active: active, ActorID: actorID}
}

func (h *Handler) listPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.service.ListPersons(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.fail(w, "list approval persons", err)
		return
	}
	httpx.JSON(w, http.StatusOK, persons)
}

func (h *Handler) createPerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	person, err := h.service.CreatePerson(r.Context(), req.toInput(shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, "create approval person", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, person)
}

func (h *Handler) updatePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "approval_person")
	if !ok {
		return
	}
	var req personRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	person, err := h.service.UpdatePerson(r.Context(), id, req.toInput(shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, "update approval person", err)
		return
	}
	httpx.JSON(w, http.StatusOK, person)
}

func (h *Handler) candidates(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "query", "amount", "invalid amount"))
		return
	}
	persons, err := h.service.CandidatesFor(r.Context(), amount)
	if err != nil {
		h.fail(w, "approval candidates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, persons)
}

type createRequestRequest struct {
	Context        string          `json:"context" validate:"required,oneof=purchase_order bank_transfer vault_to_bank"`
	TransactionRef string          `json:"transaction_ref" validate:"required,max=128"`
	Amount         decimal.Decimal `json:"amount"`
	Mode           string          `json:"mode" validate:"omitempty,oneof=any_of sequential"`
	Notes          string          `json:"notes" validate:"max=1024"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Open(r.Context(), CreateRequestInput{
		Context:        Context(req.Context),
		TransactionRef: req.TransactionRef,
		Amount:         req.Amount,
		RequestedBy:    shared.ActorFromContext(r.Context()),
		Mode:           Mode(req.Mode),
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(w, "create approval request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) showRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "approval_request")
	if !ok {
		return
	}
	out, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, "get approval request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject send_back escalate"`
	Notes    string `json:"notes" validate:"max=1024"`
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "approval_request")
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Decide(r.Context(), DecideInput{
		RequestID: id,
		ActorID:   shared.ActorFromContext(r.Context()),
		Decision:  Decision(req.Decision),
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(w, "decide approval request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, entity string) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, entity, raw, "invalid id"))
		return 0, false
	}
	return id, true
}
