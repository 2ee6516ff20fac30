package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type memoryRepo struct {
	entries   []Entry
	pageCalls int
	failWith  error
}

func (r *memoryRepo) Insert(_ context.Context, entry Entry) (Entry, error) {
	if r.failWith != nil {
		return Entry{}, r.failWith
	}
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *memoryRepo) Page(_ context.Context, ref Ref, after Cursor, limit int) ([]Entry, error) {
	r.pageCalls++
	matched := []Entry{}
	for _, e := range r.entries {
		if e.Entity != ref && e.Parent != ref {
			continue
		}
		if e.CreatedAt.Before(after.CreatedAt) || (e.CreatedAt.Equal(after.CreatedAt) && e.ID <= after.ID) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo)
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc
}

func TestRecordUsesActorFromContext(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	ctx := shared.ContextWithActor(context.Background(), 77)

	err := svc.Record(ctx, Entry{Entity: NewRef(KindTransfer, 5), Action: "transfer.submitted"})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)
	require.EqualValues(t, 77, repo.entries[0].ActorID)
	require.False(t, repo.entries[0].CreatedAt.IsZero())
}

func TestRecordFailureIsStorageUnavailable(t *testing.T) {
	repo := &memoryRepo{failWith: errors.New("connection reset")}
	svc := newTestService(repo)

	err := svc.Record(context.Background(), Entry{Entity: NewRef(KindBatch, 1), Action: "batch.received"})
	require.ErrorIs(t, err, shared.ErrStorageUnavailable)

	err = svc.Record(context.Background(), Entry{Entity: NewRef(KindBatch, 1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHistoryIncludesChildrenAndPagesLazily(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	svc.pageSize = 2
	ctx := context.Background()
	transfer := NewRef(KindTransfer, 9)

	require.NoError(t, svc.Record(ctx, Entry{Entity: transfer, Action: "transfer.created"}))
	require.NoError(t, svc.Record(ctx, Entry{Entity: NewRef(KindTransferItem, 1), Parent: transfer, Action: "item.decided"}))
	require.NoError(t, svc.Record(ctx, Entry{Entity: NewRef(KindTransfer, 10), Action: "transfer.created"}))
	require.NoError(t, svc.Record(ctx, Entry{Entity: transfer, Action: "transfer.approved"}))
	require.NoError(t, svc.Record(ctx, Entry{Entity: transfer, Action: "transfer.initiated"}))

	var actions []string
	for entry, err := range svc.History(ctx, transfer) {
		require.NoError(t, err)
		actions = append(actions, entry.Action)
	}
	require.Equal(t, []string{"transfer.created", "item.decided", "transfer.approved", "transfer.initiated"}, actions)
	require.Equal(t, 3, repo.pageCalls)

	// restartable: ranging again starts from the beginning
	first, err := svc.Collect(ctx, transfer, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "transfer.created", first[0].Action)
}

func TestHistoryHandler(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	require.NoError(t, svc.Record(context.Background(), Entry{Entity: NewRef(KindReservation, 3), Action: "reservation.created", After: Snapshot(map[string]string{"status": "active"})}))

	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/reservation/3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "reservation.created")
	require.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/reservation/3?limit=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
