package catalog

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository reads catalog tables.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductByCode(ctx context.Context, code string) (Product, error)
	ListProducts(ctx context.Context, filters ListFilters) ([]Product, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context, filters ListFilters) ([]Location, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const productColumns = `id, code, name, unit, is_active, updated_at`

func (r *repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		return Product{}, notFound(err, "product", strconv.FormatInt(id, 10))
	}
	return p, nil
}

func (r *repository) GetProductByCode(ctx context.Context, code string) (Product, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE code = $1`, code)
	p, err := scanProduct(row)
	if err != nil {
		return Product{}, notFound(err, "product", code)
	}
	return p, nil
}

func (r *repository) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR code ILIKE $` + strconv.Itoa(len(args)) + `)`
	}
	if filters.ActiveOnly {
		query += ` AND is_active`
	}
	args = append(args, limitOrDefault(filters.Limit))
	query += ` ORDER BY code ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, db.MapError(err)
		}
		products = append(products, p)
	}
	return products, db.MapError(rows.Err())
}

func (r *repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT id, code, name, kind, is_active, updated_at FROM storage_locations WHERE id = $1`, id).
		Scan(&l.ID, &l.Code, &l.Name, &l.Kind, &l.IsActive, &l.UpdatedAt)
	if err != nil {
		return Location{}, notFound(err, "storage_location", strconv.FormatInt(id, 10))
	}
	return l, nil
}

func (r *repository) ListLocations(ctx context.Context, filters ListFilters) ([]Location, error) {
	query := `SELECT id, code, name, kind, is_active, updated_at FROM storage_locations WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		query += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}
	if filters.ActiveOnly {
		query += ` AND is_active`
	}
	args = append(args, limitOrDefault(filters.Limit))
	query += ` ORDER BY code ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	locations := []Location{}
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.Kind, &l.IsActive, &l.UpdatedAt); err != nil {
			return nil, db.MapError(err)
		}
		locations = append(locations, l)
	}
	return locations, db.MapError(rows.Err())
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.IsActive, &p.UpdatedAt)
	return p, err
}

func notFound(err error, entity, ref string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewError(shared.ErrNotFound, entity, ref, "")
	}
	return db.MapError(err)
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
