package approval

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists approval persons and requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertPerson(ctx context.Context, p Person) (Person, error)
	GetPersonForUpdate(ctx context.Context, id int64) (Person, error)
	UpdatePerson(ctx context.Context, p Person) (Person, error)
	Candidates(ctx context.Context, amount decimal.Decimal) ([]Person, error)
	InsertRequest(ctx context.Context, r Request) (Request, error)
	GetRequestForUpdate(ctx context.Context, id int64) (Request, error)
	UpdateRequest(ctx context.Context, r Request) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction, joining the caller's when
// the context already carries one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("approval repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const personColumns = `id, user_id, label, max_amount, priority, is_active, created_at, updated_at`

const requestColumns = `id, context, transaction_ref, amount, requested_by, candidate_user_ids, mode, current_step, status,
approved_by, decided_by, decided_at, notes, created_at, updated_at`

// ListPersons returns approval persons ordered like the candidate list.
func (r *Repository) ListPersons(ctx context.Context, activeOnly bool) ([]Person, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+personColumns+` FROM approval_persons
WHERE ($1 = FALSE OR is_active)
ORDER BY priority, max_amount, user_id`, activeOnly)
	if err != nil {
		return nil, db.MapError(err)
	}
	return collectPersons(rows)
}

// Candidates returns active persons covering amount outside a transaction.
func (r *Repository) Candidates(ctx context.Context, amount decimal.Decimal) ([]Person, error) {
	return candidates(ctx, db.Conn(ctx, r.pool), amount)
}

// GetRequest loads an approval request.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, notFound(err, "approval_request", id)
	}
	return req, nil
}

func (r *txRepository) InsertPerson(ctx context.Context, p Person) (Person, error) {
	out, err := scanPerson(r.tx.QueryRow(ctx, `INSERT INTO approval_persons (user_id, label, max_amount, priority, is_active)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+personColumns, p.UserID, p.Label, p.MaxAmount, p.Priority, p.Active))
	return out, db.MapError(err)
}

func (r *txRepository) GetPersonForUpdate(ctx context.Context, id int64) (Person, error) {
	p, err := scanPerson(r.tx.QueryRow(ctx, `SELECT `+personColumns+` FROM approval_persons WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Person{}, notFound(err, "approval_person", id)
	}
	return p, nil
}

func (r *txRepository) UpdatePerson(ctx context.Context, p Person) (Person, error) {
	out, err := scanPerson(r.tx.QueryRow(ctx, `UPDATE approval_persons
SET label = $2, max_amount = $3, priority = $4, is_active = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+personColumns, p.ID, p.Label, p.MaxAmount, p.Priority, p.Active))
	if err != nil {
		return Person{}, notFound(err, "approval_person", p.ID)
	}
	return out, nil
}

func (r *txRepository) Candidates(ctx context.Context, amount decimal.Decimal) ([]Person, error) {
	return candidates(ctx, r.tx, amount)
}

func (r *txRepository) InsertRequest(ctx context.Context, req Request) (Request, error) {
	out, err := scanRequest(r.tx.QueryRow(ctx, `INSERT INTO approval_requests
(context, transaction_ref, amount, requested_by, candidate_user_ids, mode, current_step, status, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+requestColumns,
		string(req.Context), req.TransactionRef, req.Amount, req.RequestedBy, req.CandidateUserIDs,
		string(req.Mode), req.CurrentStep, string(req.Status), req.Notes))
	return out, db.MapError(err)
}

func (r *txRepository) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, notFound(err, "approval_request", id)
	}
	return req, nil
}

// UpdateRequest writes decision fields only; the candidate snapshot is never rewritten.
func (r *txRepository) UpdateRequest(ctx context.Context, req Request) error {
	_, err := r.tx.Exec(ctx, `UPDATE approval_requests
SET status = $2, current_step = $3, approved_by = $4, decided_by = $5, decided_at = $6, notes = $7, updated_at = NOW()
WHERE id = $1`, req.ID, string(req.Status), req.CurrentStep, req.ApprovedBy, req.DecidedBy, req.DecidedAt, req.Notes)
	return db.MapError(err)
}

func candidates(ctx context.Context, conn db.DBTX, amount decimal.Decimal) ([]Person, error) {
	rows, err := conn.Query(ctx, `SELECT `+personColumns+` FROM approval_persons
WHERE is_active AND max_amount >= $1
ORDER BY priority, max_amount, user_id`, amount)
	if err != nil {
		return nil, db.MapError(err)
	}
	return collectPersons(rows)
}

func collectPersons(rows pgx.Rows) ([]Person, error) {
	defer rows.Close()
	out := []Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, p)
	}
	return out, db.MapError(rows.Err())
}

func scanPerson(row pgx.Row) (Person, error) {
	var p Person
	err := row.Scan(&p.ID, &p.UserID, &p.Label, &p.MaxAmount, &p.Priority, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req                  Request
		reqContext, mode, st string
	)
	err := row.Scan(&req.ID, &reqContext, &req.TransactionRef, &req.Amount, &req.RequestedBy, &req.CandidateUserIDs,
		&mode, &req.CurrentStep, &st, &req.ApprovedBy, &req.DecidedBy, &req.DecidedAt, &req.Notes, &req.CreatedAt, &req.UpdatedAt)
	req.Context = Context(reqContext)
	req.Mode = Mode(mode)
	req.Status = Status(st)
	return req, err
}

func notFound(err error, entity string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewError(shared.ErrNotFound, entity, strconv.FormatInt(id, 10), "")
	}
	return db.MapError(err)
}
