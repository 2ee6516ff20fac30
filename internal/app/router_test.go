package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/transfer"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestActorMiddleware(t *testing.T) {
	var seen int64
	handler := ActorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		method string
		header string
		status int
		actor  int64
	}{
		{name: "anonymous read", method: http.MethodGet, status: http.StatusNoContent},
		{name: "write without actor", method: http.MethodPost, status: http.StatusUnauthorized},
		{name: "malformed actor", method: http.MethodPost, header: "abc", status: http.StatusBadRequest},
		{name: "non positive actor", method: http.MethodPost, header: "0", status: http.StatusBadRequest},
		{name: "write with actor", method: http.MethodPost, header: "42", status: http.StatusNoContent, actor: 42},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(tc.method, "/api/v1/transfers", nil)
			if tc.header != "" {
				req.Header.Set(ActorHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.actor, seen)
		})
	}
}

func TestRouterHealthAndReadiness(t *testing.T) {
	down := errors.New("connection refused")
	var pingErr error
	router := NewRouter(RouterParams{
		Config:  &Config{},
		Metrics: observability.NewMetrics(),
		DB:      pingFunc(func(context.Context) error { return pingErr }),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	pingErr = down
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterRequiresActorOnModuleWrites(t *testing.T) {
	router := NewRouter(RouterParams{
		Config:          &Config{},
		Metrics:         observability.NewMetrics(),
		TransferHandler: transfer.NewHandler(nil, nil),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/transfers/7/items/3/decision", strings.NewReader(`{"approved_quantity":"1"}`)))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers/7/cancel", nil)
	req.Header.Set(ActorHeader, "nurse")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// reads pass through anonymously and reach the handler
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transfers/abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"entity":"transfer"`)
}
