package audit

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const defaultPageSize = 100

// RepositoryPort abstracts audit persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, entry Entry) (Entry, error)
	Page(ctx context.Context, ref Ref, after Cursor, limit int) ([]Entry, error)
}

// Service appends to and reads the audit stream.
type Service struct {
	repo     RepositoryPort
	pageSize int
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, pageSize: defaultPageSize, now: time.Now}
}

// Record appends entry inside the caller's transaction. Any storage failure is
// reported as ErrStorageUnavailable (or ErrConflict) so the caller rolls back.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.Entity.Kind == "" || entry.Entity.ID == "" || entry.Action == "" {
		return shared.NewError(shared.ErrValidation, "audit_entry", entry.Entity.String(), "entity and action required")
	}
	if entry.ActorID == 0 {
		entry.ActorID = shared.ActorFromContext(ctx)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if _, err := s.repo.Insert(ctx, entry); err != nil {
		if errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrStorageUnavailable) {
			return err
		}
		return shared.Wrap(shared.ErrStorageUnavailable, err)
	}
	return nil
}

// History yields entries for ref, and entries whose parent is ref, in ascending
// (created_at, id) order. Pages are fetched lazily by keyset; ranging again
// re-queries from the start.
func (s *Service) History(ctx context.Context, ref Ref) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var after Cursor
		for {
			page, err := s.repo.Page(ctx, ref, after, s.pageSize)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			after = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Collect drains History up to limit entries.
func (s *Service) Collect(ctx context.Context, ref Ref, limit int) ([]Entry, error) {
	entries := []Entry{}
	for entry, err := range s.History(ctx, ref) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}
