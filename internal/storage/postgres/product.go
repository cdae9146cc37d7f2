package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
)

const (
	productColumns = `id, name, category_id, brand, price`

	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	upsertProductSQL = `INSERT INTO products (id, name, category_id, brand, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category_id = EXCLUDED.category_id,
			brand = EXCLUDED.brand, price = EXCLUDED.price`
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns the products matching any of the given IDs. Unknown ids
// are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts the products or overwrites the stored ones, in one batch.
func (r *ProductRepository) Upsert(ctx context.Context, products []catalog.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.ID, p.Name, p.CategoryID, p.Brand, p.Price)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Brand, &p.Price)
	return p, err
}
