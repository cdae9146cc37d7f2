package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// discountFor returns the raw discount rule r earns on allocation a.
// requested is the total qualifying quantity, consulted by volume tiers.
func discountFor(r *Rule, a allocation, requested int) (decimal.Decimal, error) {
	base := a.base()
	switch r.Kind {
	case KindPromotion:
		return percentOrAmount(r.Promotion.DiscountType, r.Promotion.Value, base)
	case KindPriceRule:
		dt := r.PriceRule.DiscountType
		if dt == DiscountFixed {
			dt = DiscountFixedAmount
		}
		return percentOrAmount(dt, r.PriceRule.Value, base)
	case KindMixMatch:
		m := r.MixMatch
		switch m.DiscountType {
		case DiscountPercentage:
			return percentOf(base, m.Value), nil
		case DiscountFixedPerItem:
			return m.Value.Mul(decimal.NewFromInt(int64(a.units()))), nil
		case DiscountFixedTotal:
			return m.Value.Mul(decimal.NewFromInt(int64(a.times))), nil
		}
		return decimal.Zero, errors.Wrapf(errUnknownDiscount, "mix and match %q", m.DiscountType)
	case KindVolumeTier:
		tier, ok := selectTier(r.VolumeTier.Tiers, requested)
		if !ok {
			return decimal.Zero, nil
		}
		return percentOf(base, tier.DiscountPercent), nil
	case KindBundle:
		return base.Sub(r.Bundle.BundlePrice.Mul(decimal.NewFromInt(int64(a.times)))), nil
	}
	return decimal.Zero, errors.Errorf("kind %q has no allocation discount", r.Kind)
}

func percentOrAmount(dt DiscountType, value, base decimal.Decimal) (decimal.Decimal, error) {
	switch dt {
	case DiscountPercentage:
		return percentOf(base, value), nil
	case DiscountFixedAmount:
		return decimal.Min(value, base), nil
	}
	return decimal.Zero, errors.Wrapf(errUnknownDiscount, "%q", dt)
}

// happyHourUnitDiscount is the discount a happy hour gives one unit whose
// current price is net.
func happyHourUnitDiscount(h *HappyHour, net decimal.Decimal) decimal.Decimal {
	switch h.DiscountType {
	case DiscountPercentage:
		return percentOf(net, h.Value)
	case DiscountFixedPerItem, DiscountFixed:
		return decimal.Min(h.Value, net)
	case DiscountPrice:
		return floorAtZero(net.Sub(h.Value))
	}
	return decimal.Zero
}

// selectTier picks the tier with the largest MinQty not above qty.
func selectTier(tiers []Tier, qty int) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, t := range tiers {
		if t.MinQty <= qty && (!found || t.MinQty > best.MinQty) {
			best, found = t, true
		}
	}
	return best, found
}

// lowestTier is the smallest quantity that earns any tier.
func lowestTier(tiers []Tier) int {
	low := 0
	for i, t := range tiers {
		if i == 0 || t.MinQty < low {
			low = t.MinQty
		}
	}
	return low
}

func percentOf(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(percent).Div(hundred)
}

// clampDiscount rounds a raw discount to cents and bounds it by the value of
// the units it covers.
func clampDiscount(raw, base decimal.Decimal) decimal.Decimal {
	d := floorAtZero(raw).Round(2)
	return decimal.Min(d, floorAtZero(base).RoundFloor(2))
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
