package transfer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func serveAs(r http.Handler, actorID int64, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithActor(req.Context(), actorID))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeTransfer(t *testing.T, rec *httptest.ResponseRecorder) Transfer {
	t.Helper()
	var tr Transfer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	return tr
}

func problemKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem.Kind
}

func newTestRouter(svc *Service) chi.Router {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func submittedOverHTTP(t *testing.T, r http.Handler, items string) Transfer {
	t.Helper()
	body := fmt.Sprintf(`{"requesting_location_id":%d,"providing_location_id":%d,"items":%s}`, requesting, providing, items)
	rec := serveAs(r, clerk, http.MethodPost, "/transfers/", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decodeTransfer(t, rec)
	require.EqualValues(t, clerk, tr.CreatedBy)

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/submit", tr.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeTransfer(t, rec)
}

func TestTransferHandlersHappyPath(t *testing.T) {
	w := newWorld()
	r := newTestRouter(newTestService(w))
	w.addBatch(1, providing, "30", "2.50", "LOT-A", nil)

	tr := submittedOverHTTP(t, r, `[{"product_id":1,"quantity":"12.5","unit_price":"2.50"}]`)
	require.Equal(t, StatusPending, tr.Status)
	require.True(t, tr.TotalAmount.Equal(qty("31.25")))
	require.True(t, tr.Items[0].RequestedQuantity.Equal(qty("12.5")))

	rec := serveAs(r, approver, http.MethodPost, fmt.Sprintf("/transfers/%d/items/%d/decision", tr.ID, tr.Items[0].ID), `{"approved_quantity":"10.5","notes":"partial"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr = decodeTransfer(t, rec)
	require.Equal(t, StatusPartiallyApproved, tr.Status)
	require.True(t, tr.Items[0].ApprovedQuantity.Equal(qty("10.5")))

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/initiate", tr.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, StatusInTransfer, decodeTransfer(t, rec).Status)

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/complete", tr.ID), `{"side":"providing"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = serveAs(r, 8, http.MethodPost, fmt.Sprintf("/transfers/%d/complete", tr.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, StatusCompleted, decodeTransfer(t, rec).Status)

	rec = serveAs(r, clerk, http.MethodGet, fmt.Sprintf("/transfers/%d", tr.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeTransfer(t, rec).Items[0].Selections, 1)
}

func TestItemDecisionRequiresExplicitQuantity(t *testing.T) {
	w := newWorld()
	r := newTestRouter(newTestService(w))

	tr := submittedOverHTTP(t, r, `[{"product_id":1,"quantity":"100","unit_price":"1"}]`)
	path := fmt.Sprintf("/transfers/%d/items/%d/decision", tr.ID, tr.Items[0].ID)

	for name, body := range map[string]string{
		"missing": `{"notes":"looks fine"}`,
		"null":    `{"approved_quantity":null}`,
		"garbage": `{"approved_quantity":"ten"}`,
	} {
		rec := serveAs(r, approver, http.MethodPost, path, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.Equal(t, "validation", problemKind(t, rec), name)
	}
	got := w.transfers[tr.ID]
	require.Nil(t, got.Items[0].ApprovedQuantity)
	require.Equal(t, StatusPending, got.Status)

	// an explicit zero is a rejection
	rec := serveAs(r, approver, http.MethodPost, path, `{"approved_quantity":"0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, StatusRejected, decodeTransfer(t, rec).Status)
}

func TestTransferHandlersStatusMapping(t *testing.T) {
	w := newWorld()
	r := newTestRouter(newTestService(w))
	w.addBatch(1, providing, "5", "1", "LOT-A", nil)

	tr := submittedOverHTTP(t, r, `[{"product_id":1,"quantity":"10","unit_price":"1"}]`)
	path := fmt.Sprintf("/transfers/%d/items/%d/decision", tr.ID, tr.Items[0].ID)

	rec := serveAs(r, approver, http.MethodPost, path, `{"approved_quantity":"11"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "over_approval", problemKind(t, rec))

	rec = serveAs(r, clerk, http.MethodPost, path, `{"approved_quantity":"1"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serveAs(r, approver, http.MethodPost, path, `{"approved_quantity":"10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serveAs(r, approver, http.MethodPost, path, `{"approved_quantity":"10"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/initiate", tr.ID), "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "insufficient_available_stock", problemKind(t, rec))

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/items", tr.ID), `{"product_id":2,"quantity":"1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serveAs(r, clerk, http.MethodPost, "/transfers/", fmt.Sprintf(`{"requesting_location_id":%d,"providing_location_id":%d}`, requesting, requesting))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAs(r, clerk, http.MethodGet, "/transfers/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/items/abc/decision", tr.ID), `{"approved_quantity":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/complete", tr.ID), `{"side":"both"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelHandler(t *testing.T) {
	w := newWorld()
	r := newTestRouter(newTestService(w))

	tr := submittedOverHTTP(t, r, `[{"product_id":1,"quantity":"3","unit_price":"1"}]`)
	rec := serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/cancel", tr.ID), `{"reason":"ward closed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, StatusCancelled, decodeTransfer(t, rec).Status)
	require.Equal(t, "ward closed", w.requests[*tr.ApprovalRequestID].Notes)

	rec = serveAs(r, clerk, http.MethodPost, fmt.Sprintf("/transfers/%d/cancel", tr.ID), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "invalid_state", problemKind(t, rec))
}
