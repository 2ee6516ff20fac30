package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const maxHistory = 1000

// Handler serves the audit read side.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit/{kind}/{id}", h.handleHistory)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ref := Ref{Kind: chi.URLParam(r, "kind"), ID: chi.URLParam(r, "id")}
	limit := maxHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.RespondError(w, shared.NewError(shared.ErrValidation, "query", "limit", "must be a positive integer"))
			return
		}
		limit = min(parsed, maxHistory)
	}
	entries, err := h.service.Collect(r.Context(), ref, limit)
	if err != nil {
		h.logger.Error("load audit history", slog.String("ref", ref.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entity": ref, "entries": entries})
}
