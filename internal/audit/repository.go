package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists audit entries in PostgreSQL. Inserts join the caller's
// transaction when the context carries one.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends an entry and returns it with its assigned id.
func (r *Repository) Insert(ctx context.Context, entry Entry) (Entry, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO audit_log (entity_kind, entity_id, parent_kind, parent_id, actor_id, action, before, after, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.Entity.Kind, entry.Entity.ID, nullText(entry.Parent.Kind), nullText(entry.Parent.ID),
		entry.ActorID, entry.Action, nullJSON(entry.Before), nullJSON(entry.After), entry.Notes, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return Entry{}, db.MapError(err)
	}
	return entry, nil
}

// Page returns up to limit entries for ref (or whose parent is ref) after the cursor.
func (r *Repository) Page(ctx context.Context, ref Ref, after Cursor, limit int) ([]Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, entity_kind, entity_id, COALESCE(parent_kind, ''), COALESCE(parent_id, ''), actor_id, action, before, after, notes, created_at
FROM audit_log
WHERE ((entity_kind = $1 AND entity_id = $2) OR (parent_kind = $1 AND parent_id = $2))
  AND (created_at, id) > ($3, $4)
ORDER BY created_at ASC, id ASC
LIMIT $5`, ref.Kind, ref.ID, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var before, afterSnap []byte
		if err := rows.Scan(&e.ID, &e.Entity.Kind, &e.Entity.ID, &e.Parent.Kind, &e.Parent.ID, &e.ActorID, &e.Action, &before, &afterSnap, &e.Notes, &e.CreatedAt); err != nil {
			return nil, db.MapError(err)
		}
		e.Before = before
		e.After = afterSnap
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError(err)
	}
	return entries, nil
}

func nullText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
