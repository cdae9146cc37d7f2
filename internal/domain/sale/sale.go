// Package sale completes a sale: the cart is priced, the sale is stored and
// the usage counters of the rules it used are committed together.
package sale

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

// Sale is a completed, priced cart.
type Sale struct {
	ID           string
	CustomerTier string
	Lines        []pricing.LineResult
	Applications []pricing.Application
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	CreatedAt    time.Time
}

// UsageRuleIDs returns the rules whose usage counters this sale consumes.
func (s *Sale) UsageRuleIDs() []string {
	return pricing.UsageRuleIDs(s.Applications)
}

// Repository persists sales. Create stores the sale and increments the usage
// counter of every rule in UsageRuleIDs as one atomic step; it returns
// pricing.ErrUsageLimitReached, storing nothing, when a counter is already at
// its cap.
type Repository interface {
	Create(ctx context.Context, s *Sale) error
}
