package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-pricing/internal/domain/sale"
)

const insertSaleSQL = `INSERT INTO sales
	(id, customer_tier, lines, applications, subtotal, discount, total, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Create stores the sale and consumes one use of every usage limited rule it
// applied. Either everything commits or nothing does.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	lines, err := json.Marshal(s.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal lines")
	}
	apps, err := json.Marshal(s.Applications)
	if err != nil {
		return errors.Wrap(err, "marshal applications")
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Row locks taken by the conditional increments serialize
		// concurrent sales competing for the last uses of a rule.
		for _, id := range s.UsageRuleIDs() {
			if _, err := incrementUsage(ctx, tx, id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, insertSaleSQL,
			s.ID, s.CustomerTier, lines, apps,
			s.Subtotal, s.Discount, s.Total, s.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "insert sale")
		}
		return nil
	})
}
