package pricing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_WineMixAndMatch(t *testing.T) {
	rule := mixMatch("wine6", 10, "wine", 6, DiscountPercentage, "10")

	res := resolve(t, cartOf(line("wine-red", 6)), friday5pm, rule)

	assertMoney(t, "90", res.Subtotal)
	assertMoney(t, "9", res.TotalDiscount)
	assertMoney(t, "81", res.FinalTotal)
	require.Len(t, res.Applications, 1)
	app := res.Applications[0]
	assert.Equal(t, "wine6", app.RuleID)
	assert.Equal(t, 1, app.TimesApplied)
	assert.Equal(t, map[int]int{0: 6}, app.ConsumedByLine)
}

func TestResolve_MixAndMatchBoundary(t *testing.T) {
	tests := []struct {
		name      string
		lines     []Line
		consumed  map[int]int
		times     int
		discount  string
		noMatches bool
	}{
		{name: "one short", lines: []Line{line("wine-red", 5)}, noMatches: true},
		{name: "exact", lines: []Line{line("wine-red", 6)}, consumed: map[int]int{0: 6}, times: 1, discount: "5"},
		{name: "across lines", lines: []Line{line("wine-red", 4), line("wine-white", 3)}, consumed: map[int]int{0: 4, 1: 2}, times: 1, discount: "5"},
		{name: "two groups", lines: []Line{line("wine-white", 13)}, consumed: map[int]int{0: 12}, times: 2, discount: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := mixMatch("mm", 1, "wine", 6, DiscountFixedTotal, "5")
			res := resolve(t, cartOf(tt.lines...), friday5pm, rule)
			if tt.noMatches {
				assert.Empty(t, res.Applications)
				assertMoney(t, "0", res.TotalDiscount)
				return
			}
			require.Len(t, res.Applications, 1)
			assert.Equal(t, tt.consumed, res.Applications[0].ConsumedByLine)
			assert.Equal(t, tt.times, res.Applications[0].TimesApplied)
			assertMoney(t, tt.discount, res.TotalDiscount)
		})
	}
}

func TestResolve_MixAndMatchDiscountTypes(t *testing.T) {
	cart := cartOf(line("beer-ipa", 7))
	tests := []struct {
		dt    DiscountType
		value string
		want  string
	}{
		{DiscountPercentage, "50", "9"},
		{DiscountFixedPerItem, "0.5", "3"},
		{DiscountFixedTotal, "2", "2"},
		// Capped at the value of the six consumed units.
		{DiscountFixedPerItem, "10", "18"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dt)+"/"+tt.value, func(t *testing.T) {
			res := resolve(t, cart, friday5pm, mixMatch("mm", 1, "beer", 6, tt.dt, tt.value))
			assertMoney(t, tt.want, res.TotalDiscount)
		})
	}
}

func TestResolve_VolumeTierSelection(t *testing.T) {
	rule := volumeTier("bulk", 1, "beer", Tier{MinQty: 6, DiscountPercent: d("10")}, Tier{MinQty: 12, DiscountPercent: d("15")})

	tests := []struct {
		qty      int
		discount string
	}{
		{qty: 5, discount: "0"},
		{qty: 6, discount: "1.80"},
		{qty: 11, discount: "3.30"},
		{qty: 12, discount: "5.40"},
		{qty: 30, discount: "13.50"},
	}
	for _, tt := range tests {
		res := resolve(t, cartOf(line("beer-ipa", tt.qty)), friday5pm, rule)
		assertMoney(t, tt.discount, res.TotalDiscount)
		if tt.discount != "0" {
			require.Len(t, res.Applications, 1)
			assert.Equal(t, tt.qty, res.Applications[0].Units(), "tier covers every qualifying unit")
		}
	}
}

func TestResolve_NonStackableConsumesUnits(t *testing.T) {
	promo := promotion("promo", 10, DiscountPercentage, "10")
	mm := mixMatch("mm", 5, "wine", 2, DiscountPercentage, "50")

	res := resolve(t, cartOf(line("wine-red", 6)), friday5pm, promo, mm)

	require.Len(t, res.Applications, 1)
	assert.Equal(t, "promo", res.Applications[0].RuleID)
	assertMoney(t, "9", res.TotalDiscount)
}

func TestResolve_StackableCompounds(t *testing.T) {
	promo := promotion("promo", 10, DiscountPercentage, "10")
	promo.Stackable = true
	mm := mixMatch("mm", 5, "wine", 6, DiscountPercentage, "10")

	res := resolve(t, cartOf(line("wine-red", 6)), friday5pm, promo, mm)

	require.Len(t, res.Applications, 2)
	assertMoney(t, "9", res.Applications[0].Discount)
	// Ten percent of what is left after the promotion.
	assertMoney(t, "8.10", res.Applications[1].Discount)
	assertMoney(t, "17.10", res.TotalDiscount)
	assertMoney(t, "72.90", res.FinalTotal)
	assertMoney(t, "17.10", res.Lines[0].Discount)
}

func TestResolve_PrecedenceTieBreaksOnCreation(t *testing.T) {
	first := promotion("first", 5, DiscountFixedAmount, "5")
	second := promotion("second", 5, DiscountPercentage, "50")
	second.CreatedAt = created.Add(time.Hour)

	// Order of the input must not matter.
	res := resolve(t, cartOf(line("cheese", 2)), friday5pm, second, first)

	require.Len(t, res.Applications, 1)
	assert.Equal(t, "first", res.Applications[0].RuleID)
	assertMoney(t, "5", res.TotalDiscount)
}

func TestResolve_FixedAmountNeverExceedsSubtotal(t *testing.T) {
	res := resolve(t, cartOf(line("cheese", 1), line("crackers", 3)), friday5pm,
		promotion("big", 1, DiscountFixedAmount, "100"))

	assertMoney(t, "20", res.Subtotal)
	assertMoney(t, "20", res.TotalDiscount)
	assertMoney(t, "0", res.FinalTotal)
}

func TestResolve_PromotionGates(t *testing.T) {
	t.Run("min purchase not met", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		r.Promotion.MinPurchase = d("50")
		res := resolve(t, cartOf(line("wine-red", 3)), friday5pm, r)
		assert.Empty(t, res.Applications)
	})
	t.Run("min purchase met", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		r.Promotion.MinPurchase = d("50")
		res := resolve(t, cartOf(line("wine-red", 4)), friday5pm, r)
		assertMoney(t, "6", res.TotalDiscount)
	})
	t.Run("usage cap reached", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		r.Promotion.MaxUses, r.Promotion.CurrentUses = 3, 3
		res := resolve(t, cartOf(line("wine-red", 4)), friday5pm, r)
		assert.Empty(t, res.Applications)
	})
	t.Run("usage cap open", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		r.Promotion.MaxUses, r.Promotion.CurrentUses = 3, 2
		res := resolve(t, cartOf(line("wine-red", 4)), friday5pm, r)
		require.Len(t, res.Applications, 1)
		assert.True(t, res.Applications[0].TracksUsage)
		assert.Equal(t, []string{"p"}, res.UsageRuleIDs())
	})
	t.Run("category scope", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		r.Promotion.AppliesTo = TargetCategory
		r.Scope.CategoryIDs = []string{"deli"}
		res := resolve(t, cartOf(line("wine-red", 2), line("cheese", 1)), friday5pm, r)
		require.Len(t, res.Applications, 1)
		assert.Equal(t, map[int]int{1: 1}, res.Applications[0].ConsumedByLine)
		assertMoney(t, "0.80", res.TotalDiscount)
	})
	t.Run("outside validity dates", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		starts := friday5pm.Add(24 * time.Hour)
		r.StartDate = &starts
		res := resolve(t, cartOf(line("wine-red", 2)), friday5pm, r)
		assert.Empty(t, res.Applications)
	})
	t.Run("inactive", func(t *testing.T) {
		r := promotion("p", 1, DiscountPercentage, "10")
		r.Active = false
		res := resolve(t, cartOf(line("wine-red", 2)), friday5pm, r)
		assert.Empty(t, res.Applications)
	})
}

func TestResolve_PriceRule(t *testing.T) {
	gold := priceRule("gold", 1, DiscountPercentage, "5")
	gold.PriceRule.CustomerTier = "gold"

	t.Run("tier mismatch", func(t *testing.T) {
		res := resolve(t, cartOf(line("wine-red", 2)), friday5pm, gold)
		assert.Empty(t, res.Applications)
	})
	t.Run("tier match ignores case", func(t *testing.T) {
		cart := cartOf(line("wine-red", 2))
		cart.CustomerTier = "GOLD"
		res := resolve(t, cart, friday5pm, gold)
		assertMoney(t, "1.50", res.TotalDiscount)
	})
	t.Run("min quantity", func(t *testing.T) {
		r := priceRule("case", 1, DiscountFixedAmount, "3")
		r.PriceRule.MinQuantity = 3
		res := resolve(t, cartOf(line("wine-red", 2)), friday5pm, r)
		assert.Empty(t, res.Applications)

		res = resolve(t, cartOf(line("wine-red", 3)), friday5pm, r)
		assertMoney(t, "3", res.TotalDiscount)
	})
	t.Run("outside window", func(t *testing.T) {
		r := priceRule("morning", 1, DiscountPercentage, "5")
		r.PriceRule.Window = &TimeWindow{Start: Clock(9, 0), End: Clock(12, 0)}
		res := resolve(t, cartOf(line("wine-red", 2)), friday5pm, r)
		assert.Empty(t, res.Applications)
	})
	t.Run("stackable price rules compound", func(t *testing.T) {
		a := priceRule("a", 2, DiscountPercentage, "10")
		a.Stackable = true
		b := priceRule("b", 1, DiscountPercentage, "10")
		res := resolve(t, cartOf(line("cheese", 5)), friday5pm, a, b)
		require.Len(t, res.Applications, 2)
		assertMoney(t, "4", res.Applications[0].Discount)
		assertMoney(t, "3.60", res.Applications[1].Discount)
	})
}

func TestResolve_HappyHourBestDiscountWins(t *testing.T) {
	pct := happyHour("pct", "wine", DiscountPercentage, "10")
	fixed := happyHour("fixed", "wine", DiscountFixedPerItem, "2")

	res := resolve(t, cartOf(line("wine-red", 2)), friday5pm, pct, fixed)

	require.Len(t, res.Applications, 1)
	assert.Equal(t, "fixed", res.Applications[0].RuleID)
	assertMoney(t, "4", res.TotalDiscount)
}

func TestResolve_HappyHourPerLine(t *testing.T) {
	// A price override beats ten percent on the expensive wine only.
	pct := happyHour("pct", "wine", DiscountPercentage, "10")
	price := happyHour("price", "wine", DiscountPrice, "12.50")

	res := resolve(t, cartOf(line("wine-red", 1), line("wine-white", 2), line("wine-red", 1)), friday5pm, pct, price)

	require.Len(t, res.Applications, 2)
	assert.Equal(t, "price", res.Applications[0].RuleID)
	assert.Equal(t, map[int]int{0: 1, 2: 1}, res.Applications[0].ConsumedByLine)
	assertMoney(t, "5", res.Applications[0].Discount)
	assert.Equal(t, "pct", res.Applications[1].RuleID)
	assertMoney(t, "2.40", res.Applications[1].Discount)
}

func TestResolve_HappyHourOutsideWindow(t *testing.T) {
	rule := happyHour("hh", "beer", DiscountPercentage, "20")

	res := resolve(t, cartOf(line("beer-ipa", 4)), friday5pm.Add(3*time.Hour), rule)
	assert.Empty(t, res.Applications)

	saturday := friday5pm.Add(24 * time.Hour)
	res = resolve(t, cartOf(line("beer-ipa", 4)), saturday, rule)
	assert.Empty(t, res.Applications)
}

func TestResolve_HappyHourAcrossMidnight(t *testing.T) {
	rule := happyHour("late", "beer", DiscountPercentage, "50")
	rule.HappyHour.Window = TimeWindow{Start: Clock(22, 0), End: Clock(2, 0)}
	saturday1am := time.Date(2026, 3, 14, 1, 0, 0, 0, time.UTC)

	// Opened Friday night, so it still runs.
	res := resolve(t, cartOf(line("beer-ipa", 2)), saturday1am, rule)
	assertMoney(t, "3", res.TotalDiscount)

	rule.HappyHour.Days = DaysOf(time.Saturday)
	res = resolve(t, cartOf(line("beer-ipa", 2)), saturday1am, rule)
	assert.Empty(t, res.Applications)
}

func TestResolve_HappyHourCapAndPool(t *testing.T) {
	hh := happyHour("hh", "beer", DiscountPercentage, "20")
	hh.MaxApplications = 3
	mm := mixMatch("pair", 1, "beer", 2, DiscountFixedTotal, "1")

	res := resolve(t, cartOf(line("beer-ipa", 5)), friday5pm, hh, mm)

	require.Len(t, res.Applications, 2)
	assert.Equal(t, map[int]int{0: 3}, res.Applications[0].ConsumedByLine)
	assertMoney(t, "1.80", res.Applications[0].Discount)
	assert.Equal(t, map[int]int{0: 2}, res.Applications[1].ConsumedByLine)
	assertMoney(t, "1", res.Applications[1].Discount)
	assertMoney(t, "12.20", res.FinalTotal)
}

func TestResolve_HappyHourExcludesCasePricing(t *testing.T) {
	rule := happyHour("hh", "wine", DiscountPercentage, "10")
	rule.HappyHour.ExcludeCasePricing = true
	caseLine := line("wine-red", 12)
	caseLine.CasePrice = true

	res := resolve(t, cartOf(caseLine, line("wine-white", 1)), friday5pm, rule)

	require.Len(t, res.Applications, 1)
	assert.Equal(t, map[int]int{1: 1}, res.Applications[0].ConsumedByLine)
}

func TestResolve_BundleAllOrNothing(t *testing.T) {
	pairing := bundle("pairing", 10, "20", "cheese", "crackers", "wine-white")
	deli := mixMatch("deli", 1, "deli", 2, DiscountPercentage, "50")

	t.Run("component missing", func(t *testing.T) {
		res := resolve(t, cartOf(line("cheese", 1), line("crackers", 1)), friday5pm, pairing, deli)
		require.Len(t, res.Applications, 1)
		assert.Equal(t, "deli", res.Applications[0].RuleID, "units stay in the pool for later rules")
		assertMoney(t, "6", res.TotalDiscount)
	})
	t.Run("complete", func(t *testing.T) {
		res := resolve(t, cartOf(line("cheese", 1), line("crackers", 1), line("wine-white", 1)), friday5pm, pairing, deli)
		require.Len(t, res.Applications, 1)
		assert.Equal(t, "pairing", res.Applications[0].RuleID)
		assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, res.Applications[0].ConsumedByLine)
		assertMoney(t, "4", res.TotalDiscount)
	})
	t.Run("twice", func(t *testing.T) {
		res := resolve(t, cartOf(line("cheese", 2), line("crackers", 3), line("wine-white", 2)), friday5pm, pairing)
		require.Len(t, res.Applications, 1)
		assert.Equal(t, 2, res.Applications[0].TimesApplied)
		assertMoney(t, "8", res.TotalDiscount)
	})
}

func TestResolve_ScopePredicates(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		lines map[int]int
	}{
		{name: "brand substring", scope: Scope{Brand: "penf"}, lines: map[int]int{0: 1}},
		{name: "brand missing on product", scope: Scope{Brand: "acme"}, lines: nil},
		{name: "price floor", scope: Scope{MinPrice: dp("10")}, lines: map[int]int{0: 1, 1: 1}},
		{name: "price ceiling", scope: Scope{MaxPrice: dp("3")}, lines: map[int]int{2: 1}},
		{name: "product ids", scope: Scope{ProductIDs: []string{"cheese"}}, lines: map[int]int{3: 1}},
		{name: "category and brand", scope: Scope{CategoryIDs: []string{"wine"}, Brand: "oyster"}, lines: map[int]int{1: 1}},
	}
	cart := cartOf(line("wine-red", 1), line("wine-white", 1), line("beer-ipa", 1), line("cheese", 1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := priceRule("r", 1, DiscountPercentage, "10")
			r.Scope = tt.scope
			res := resolve(t, cart, friday5pm, r)
			if tt.lines == nil {
				assert.Empty(t, res.Applications)
				return
			}
			require.Len(t, res.Applications, 1)
			assert.Equal(t, tt.lines, res.Applications[0].ConsumedByLine)
		})
	}
}

func TestResolve_UnresolvedLines(t *testing.T) {
	res := resolve(t, cartOf(line("wine-red", 2), Line{ProductID: "ghost", Quantity: 1, UnitPrice: d("5")}), friday5pm,
		promotion("p", 1, DiscountPercentage, "10"))

	require.Len(t, res.Failures, 1)
	assert.Equal(t, LineFailure{Index: 1, ProductID: "ghost", Reason: "product not found"}, res.Failures[0])
	assert.False(t, res.Lines[1].Resolved)
	assertMoney(t, "35", res.Subtotal)
	assertMoney(t, "3", res.TotalDiscount)
	assertMoney(t, "32", res.FinalTotal)
	assertMoney(t, "5", res.Lines[1].Total)

	_, err := Resolve(cartOf(Line{ProductID: "ghost", Quantity: 1, UnitPrice: d("5")}), testCatalog, snapshotOf(t), friday5pm)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"ghost"}, nf.ProductIDs)
	assert.True(t, errors.Is(err, ErrNoResolvableLines))
}

func TestResolve_InvalidCart(t *testing.T) {
	tests := []struct {
		name  string
		cart  Cart
		line  int
		field string
	}{
		{name: "empty", cart: Cart{}, line: -1, field: "lines"},
		{name: "zero quantity", cart: cartOf(line("cheese", 1), line("crackers", 0)), line: 1, field: "quantity"},
		{name: "negative price", cart: cartOf(Line{ProductID: "cheese", Quantity: 1, UnitPrice: d("-1")}), line: 0, field: "unit_price"},
		{name: "missing product id", cart: cartOf(Line{Quantity: 1, UnitPrice: d("1")}), line: 0, field: "product_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.cart, testCatalog, snapshotOf(t), friday5pm)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.line, ve.Line)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestResolve_BoundsAndIdempotence(t *testing.T) {
	stackPromo := promotion("stack", 20, DiscountPercentage, "15")
	stackPromo.Stackable = true
	rules := []Rule{
		stackPromo,
		promotion("flat", 1, DiscountFixedAmount, "7"),
		mixMatch("wine6", 10, "wine", 6, DiscountFixedPerItem, "1"),
		volumeTier("beer", 5, "beer", Tier{MinQty: 4, DiscountPercent: d("5")}),
		bundle("pairing", 15, "10", "cheese", "crackers"),
		happyHour("hh", "beer", DiscountPrice, "2"),
	}
	carts := []Cart{
		cartOf(line("wine-red", 6), line("beer-ipa", 4)),
		cartOf(line("cheese", 3), line("crackers", 2), line("beer-lager", 9)),
		cartOf(line("wine-white", 1)),
		cartOf(line("wine-red", 7), line("wine-white", 5), line("cheese", 1), line("crackers", 1), line("beer-ipa", 12)),
	}
	snap := snapshotOf(t, rules...)

	for i, cart := range carts {
		first, err := Resolve(cart, testCatalog, snap, friday5pm)
		require.NoError(t, err)
		second, err := Resolve(cart, testCatalog, snap, friday5pm)
		require.NoError(t, err)
		assert.Equal(t, first, second, "cart %d", i)

		assert.False(t, first.TotalDiscount.IsNegative(), "cart %d", i)
		assert.True(t, first.TotalDiscount.LessThanOrEqual(first.Subtotal), "cart %d", i)
		assert.True(t, first.FinalTotal.Equal(first.Subtotal.Sub(first.TotalDiscount)), "cart %d", i)

		exclusive := make(map[int]int)
		for _, a := range first.Applications {
			if a.Stackable {
				continue
			}
			for idx, q := range a.ConsumedByLine {
				exclusive[idx] += q
			}
		}
		for idx, q := range exclusive {
			assert.LessOrEqual(t, q, cart.Lines[idx].Quantity, "cart %d line %d", i, idx)
		}
	}
}

func TestResolve_ShortDiscountTypeNames(t *testing.T) {
	var pr PriceRule
	require.NoError(t, json.Unmarshal([]byte(`{"discount_type":"percent","value":"10"}`), &pr))
	assert.Equal(t, DiscountPercentage, pr.DiscountType)

	t.Run("price rule fixed is an amount", func(t *testing.T) {
		r := priceRule("three-off", 1, DiscountFixed, "3")
		res := resolve(t, cartOf(line("wine-red", 3)), friday5pm, r)
		assertMoney(t, "3", res.TotalDiscount)
	})
	t.Run("happy hour fixed is per item", func(t *testing.T) {
		r := happyHour("dollar-off", "beer", DiscountFixed, "1")
		res := resolve(t, cartOf(line("beer-ipa", 4)), friday5pm, r)
		assertMoney(t, "4", res.TotalDiscount)
	})
	t.Run("promotion rejects fixed", func(t *testing.T) {
		r := promotion("p", 1, DiscountFixed, "3")
		var ce *ConfigurationError
		require.ErrorAs(t, r.Validate(), &ce)
		assert.Equal(t, "promotion.discount_type", ce.Field)
	})
}
