package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
)

// friday5pm is a Friday, inside the usual after-work happy hour.
var friday5pm = time.Date(2026, 3, 13, 17, 0, 0, 0, time.UTC)

var created = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

var testCatalog = catalog.NewIndex(
	catalog.Product{ID: "wine-red", Name: "Shiraz", CategoryID: "wine", Brand: "Penfolds", Price: d("15")},
	catalog.Product{ID: "wine-white", Name: "Sauvignon Blanc", CategoryID: "wine", Brand: "Oyster Bay", Price: d("12")},
	catalog.Product{ID: "beer-ipa", Name: "IPA", CategoryID: "beer", Brand: "Stone", Price: d("3")},
	catalog.Product{ID: "beer-lager", Name: "Lager", CategoryID: "beer", Brand: "Heineken", Price: d("2.50")},
	catalog.Product{ID: "cheese", Name: "Cheddar", CategoryID: "deli", Price: d("8")},
	catalog.Product{ID: "crackers", Name: "Crackers", CategoryID: "deli", Price: d("4")},
)

// line builds a cart line priced at the catalog price.
func line(productID string, qty int) Line {
	price := d("1")
	if p, ok := testCatalog.Lookup(productID); ok {
		price = p.Price
	}
	return Line{ProductID: productID, Quantity: qty, UnitPrice: price}
}

func cartOf(lines ...Line) Cart {
	return Cart{Lines: lines}
}

func base(id string, kind Kind, priority int) Rule {
	return Rule{
		ID:        id,
		Name:      id,
		Kind:      kind,
		Active:    true,
		Priority:  priority,
		CreatedAt: created,
	}
}

func promotion(id string, priority int, dt DiscountType, value string) Rule {
	r := base(id, KindPromotion, priority)
	r.Promotion = &Promotion{AppliesTo: TargetAll, DiscountType: dt, Value: d(value)}
	return r
}

func mixMatch(id string, priority int, category string, qty int, dt DiscountType, value string) Rule {
	r := base(id, KindMixMatch, priority)
	r.Scope.CategoryIDs = []string{category}
	r.MixMatch = &MixMatch{QuantityRequired: qty, DiscountType: dt, Value: d(value)}
	return r
}

func happyHour(id string, category string, dt DiscountType, value string) Rule {
	r := base(id, KindHappyHour, 0)
	r.Scope.CategoryIDs = []string{category}
	r.HappyHour = &HappyHour{
		Days:         DaysOf(time.Friday),
		Window:       TimeWindow{Start: Clock(16, 0), End: Clock(19, 0)},
		AppliesTo:    TargetCategory,
		DiscountType: dt,
		Value:        d(value),
	}
	return r
}

func volumeTier(id string, priority int, category string, tiers ...Tier) Rule {
	r := base(id, KindVolumeTier, priority)
	r.Scope.CategoryIDs = []string{category}
	r.VolumeTier = &VolumeTier{Tiers: tiers}
	return r
}

func bundle(id string, priority int, price string, products ...string) Rule {
	r := base(id, KindBundle, priority)
	r.Bundle = &Bundle{ProductIDs: products, BundlePrice: d(price)}
	return r
}

func priceRule(id string, priority int, dt DiscountType, value string) Rule {
	r := base(id, KindPriceRule, priority)
	r.PriceRule = &PriceRule{DiscountType: dt, Value: d(value)}
	return r
}

func snapshotOf(t *testing.T, rules ...Rule) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(rules...)
	require.NoError(t, err)
	return s
}

func resolve(t *testing.T, cart Cart, at time.Time, rules ...Rule) *Resolution {
	t.Helper()
	res, err := Resolve(cart, testCatalog, snapshotOf(t, rules...), at)
	require.NoError(t, err)
	return res
}
