package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newTestRouter(svc *Service) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 7)))
		})
	})
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func problemKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem.Kind
}

func TestReceiveHandlerDecodesQuantityAndExpiry(t *testing.T) {
	repo := newMemoryRepo()
	auditLog := &recordingAudit{}
	r := newTestRouter(NewService(repo, auditLog, nil, nil))

	rec := serve(r, http.MethodPost, "/inventory/receive",
		`{"product_id":1,"location_id":10,"batch_number":"B1","expiry_date":"2025-12-01","purchase_price":"5.00","quantity":"2.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Quantity.Equal(dec("2.5")))
	require.NotNil(t, got.ExpiryDate)
	require.True(t, got.ExpiryDate.Equal(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, repo.batches[got.ID].PurchasePrice.Equal(dec("5")))
	require.Len(t, auditLog.entries, 1)
	require.EqualValues(t, 7, auditLog.entries[0].ActorID)

	// numeric quantities merge into the same batch
	rec = serve(r, http.MethodPost, "/inventory/receive",
		`{"product_id":1,"location_id":10,"batch_number":"B1","expiry_date":"2025-12-01","purchase_price":5,"quantity":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, repo.batches, 1)
	require.True(t, repo.batches[got.ID].Quantity.Equal(dec("3")))
}

func TestReceiveHandlerRejectsMalformedInput(t *testing.T) {
	repo := newMemoryRepo()
	r := newTestRouter(NewService(repo, nil, nil, nil))

	for name, body := range map[string]string{
		"bad expiry":      `{"product_id":1,"location_id":10,"batch_number":"B1","expiry_date":"01/12/2025","quantity":"1"}`,
		"bad quantity":    `{"product_id":1,"location_id":10,"batch_number":"B1","quantity":"lots"}`,
		"missing product": `{"location_id":10,"batch_number":"B1","quantity":"1"}`,
		"unknown field":   `{"product_id":1,"location_id":10,"batch_number":"B1","quantity":"1","colour":"red"}`,
		"zero quantity":   `{"product_id":1,"location_id":10,"batch_number":"B1","quantity":"0"}`,
	} {
		rec := serve(r, http.MethodPost, "/inventory/receive", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.Equal(t, "validation", problemKind(t, rec), name)
	}
	require.Empty(t, repo.batches)
}

func TestConsumeHandlerStatusMapping(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	r := newTestRouter(svc)
	batch, err := svc.Receive(context.Background(), ReceiveInput{Key: scenarioKey(), Quantity: dec("15")})
	require.NoError(t, err)

	rec := serve(r, http.MethodPost, "/inventory/consume", `{"batch_id":1,"quantity":"20"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "insufficient_stock", problemKind(t, rec))
	require.True(t, repo.batches[batch.ID].Quantity.Equal(dec("15")))

	rec = serve(r, http.MethodPost, "/inventory/consume", `{"batch_id":99,"quantity":"1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, http.MethodPost, "/inventory/consume", `{"quantity":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodPost, "/inventory/consume",
		`{"key":{"product_id":1,"location_id":10,"batch_number":"B1","expiry_date":"2025-12-01","purchase_price":"5.00"},"quantity":"4.25"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, repo.batches[batch.ID].Quantity.Equal(dec("10.75")))
}

func TestBatchReadHandlers(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	r := newTestRouter(svc)
	batch, err := svc.Receive(context.Background(), ReceiveInput{Key: scenarioKey(), Quantity: dec("2")})
	require.NoError(t, err)

	rec := serve(r, http.MethodGet, "/inventory/batches/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"batch_number":"B1"`)

	rec = serve(r, http.MethodGet, "/inventory/batches/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(r, http.MethodGet, "/inventory/batches/42", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, http.MethodGet, "/inventory/batches?product_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, batch.ID, list[0].ID)

	rec = serve(r, http.MethodGet, "/inventory/batches?product_id=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodGet, "/inventory/batches/1/barcode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "(01)1(10)B1(17)251201")

	rec = serve(r, http.MethodPost, "/inventory/batches/1/archive", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}
