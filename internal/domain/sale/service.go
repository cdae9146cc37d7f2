package sale

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

// Pricer resolves a cart without side effects.
type Pricer interface {
	Preview(ctx context.Context, cart pricing.Cart) (*pricing.Resolution, error)
}

// Invalidator drops cached rule state after usage counters change.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CompleteResult holds the stored sale and the resolution it was built from.
type CompleteResult struct {
	Sale       *Sale
	Resolution *pricing.Resolution
}

// Service encapsulates sale completion.
type Service struct {
	pricer      Pricer
	sales       Repository
	invalidator Invalidator
	now         func() time.Time
}

// NewService creates a sale Service. invalidator may be nil.
func NewService(pricer Pricer, sales Repository, invalidator Invalidator) *Service {
	return &Service{
		pricer:      pricer,
		sales:       sales,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// Complete prices the cart, then stores the sale and commits the usage of
// every usage limited rule it applied.
func (s *Service) Complete(ctx context.Context, cart pricing.Cart) (*CompleteResult, error) {
	res, err := s.pricer.Preview(ctx, cart)
	if err != nil {
		return nil, err
	}

	sale := &Sale{
		ID:           uuid.New().String(),
		CustomerTier: cart.CustomerTier,
		Lines:        res.Lines,
		Applications: res.Applications,
		Subtotal:     res.Subtotal,
		Discount:     res.TotalDiscount,
		Total:        res.FinalTotal,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.sales.Create(ctx, sale); err != nil {
		if errors.Is(err, pricing.ErrUsageLimitReached) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create sale")
	}

	lg := zctx.From(ctx)
	if used := sale.UsageRuleIDs(); len(used) > 0 && s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			lg.Warn("Invalidate rule cache", zap.Error(err), zap.Strings("rules", used))
		}
	}
	lg.Info("Sale completed",
		zap.String("sale_id", sale.ID),
		zap.Stringer("total", sale.Total),
		zap.Stringer("discount", sale.Discount),
	)

	return &CompleteResult{Sale: sale, Resolution: res}, nil
}
