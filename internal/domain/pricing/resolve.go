package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
)

// Application records one rule applied to the cart.
type Application struct {
	RuleID    string `json:"rule_id"`
	RuleName  string `json:"rule_name"`
	Kind      Kind   `json:"kind"`
	Stackable bool   `json:"stackable"`
	// TracksUsage is set when the rule has a usage cap that a completed sale
	// must count against.
	TracksUsage  bool `json:"tracks_usage"`
	TimesApplied int  `json:"times_applied"`
	// ConsumedByLine maps a cart line index to the units the rule covered.
	ConsumedByLine map[int]int     `json:"consumed_by_line"`
	Discount       decimal.Decimal `json:"discount"`
}

// Units returns the number of units the application covered.
func (a Application) Units() int {
	n := 0
	for _, q := range a.ConsumedByLine {
		n += q
	}
	return n
}

// LineResult is the priced outcome of one cart line.
type LineResult struct {
	Index     int             `json:"index"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Resolved  bool            `json:"resolved"`
}

// LineFailure explains why a line took no part in discounting.
type LineFailure struct {
	Index     int
	ProductID string
	Reason    string
}

// Resolution is the complete pricing breakdown of a cart.
type Resolution struct {
	Lines         []LineResult
	Applications  []Application
	Failures      []LineFailure
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	FinalTotal    decimal.Decimal
	ResolvedAt    time.Time
}

// UsageRuleIDs returns the ids of applied rules whose usage counters must be
// incremented when the cart is sold.
func (r *Resolution) UsageRuleIDs() []string {
	return UsageRuleIDs(r.Applications)
}

// UsageRuleIDs returns the rule ids of the applications that track usage,
// one per application.
func UsageRuleIDs(apps []Application) []string {
	var ids []string
	for _, a := range apps {
		if a.TracksUsage {
			ids = append(ids, a.RuleID)
		}
	}
	return ids
}

// Resolve prices cart against the rules of snap at now. It is a pure
// function: the same inputs always produce the same Resolution, and neither
// the snapshot nor any usage counter is modified.
//
// Lines whose product is unknown are charged at their unit price, listed in
// Failures and excluded from every rule. A *NotFoundError is returned only
// when no line resolves.
func Resolve(cart Cart, products catalog.Lookup, snap *Snapshot, now time.Time) (*Resolution, error) {
	if err := cart.Validate(); err != nil {
		return nil, err
	}

	p, failures := newPool(cart, products)
	if len(failures) == len(cart.Lines) {
		ids := make([]string, 0, len(failures))
		for _, f := range failures {
			ids = append(ids, f.ProductID)
		}
		return nil, &NotFoundError{ProductIDs: ids}
	}

	rs := &resolver{
		cart:     cart,
		pool:     p,
		now:      now,
		subtotal: cart.Subtotal(),
	}
	rs.happyHours(snap.Eligible(now, KindHappyHour))
	if err := rs.byPriority(snap.Eligible(now, KindPromotion, KindMixMatch, KindVolumeTier, KindBundle, KindPriceRule)); err != nil {
		return nil, err
	}
	return rs.result(failures), nil
}

type resolver struct {
	cart     Cart
	pool     *pool
	now      time.Time
	subtotal decimal.Decimal
	apps     []Application
}

func (rs *resolver) qualifying(r *Rule) []*poolLine {
	var out []*poolLine
	for _, l := range rs.pool.lines {
		if l.product == nil || l.remaining() == 0 {
			continue
		}
		if Qualifies(l.line, l.product, r, rs.now) {
			out = append(out, l)
		}
	}
	return out
}

// happyHours gives every line the single happy hour with the largest per
// unit discount. Ties go to the rule that sorts first.
func (rs *resolver) happyHours(rules []Rule) {
	byRule := make(map[string]int, len(rules))
	used := make(map[string]int, len(rules))

	for _, l := range rs.pool.lines {
		if l.product == nil || l.remaining() == 0 {
			continue
		}
		unitNet := l.net[l.next]

		var (
			best     *Rule
			bestUnit decimal.Decimal
		)
		for i := range rules {
			r := &rules[i]
			h := r.HappyHour
			if rs.subtotal.LessThan(h.MinPurchase) {
				continue
			}
			if r.MaxApplications > 0 && used[r.ID] >= r.MaxApplications {
				continue
			}
			if !Qualifies(l.line, l.product, r, rs.now) {
				continue
			}
			d := happyHourUnitDiscount(h, unitNet)
			if d.IsPositive() && (best == nil || d.GreaterThan(bestUnit)) {
				best, bestUnit = r, d
			}
		}
		if best == nil {
			continue
		}

		count := l.remaining()
		if best.MaxApplications > 0 {
			count = min(count, best.MaxApplications-used[best.ID])
		}
		a := allocation{claims: []claim{{line: l, count: count}}, times: count}
		discount := clampDiscount(bestUnit.Mul(decimal.NewFromInt(int64(count))), a.base())
		if !discount.IsPositive() {
			continue
		}
		a.settle(discount, best.Stackable)
		used[best.ID] += count

		if i, ok := byRule[best.ID]; ok {
			app := &rs.apps[i]
			app.TimesApplied += count
			app.ConsumedByLine[l.index] += count
			app.Discount = app.Discount.Add(discount)
			continue
		}
		byRule[best.ID] = len(rs.apps)
		rs.apps = append(rs.apps, newApplication(best, a, discount))
	}
}

// byPriority applies rules in precedence order, each one claiming units from
// what earlier non-stackable rules left behind.
func (rs *resolver) byPriority(rules []Rule) error {
	for i := range rules {
		r := &rules[i]
		lines := rs.qualifying(r)
		if len(lines) == 0 {
			continue
		}
		requested := 0
		for _, l := range lines {
			requested += l.remaining()
		}

		var a allocation
		switch r.Kind {
		case KindPromotion:
			if rs.subtotal.LessThan(r.Promotion.MinPurchase) {
				continue
			}
			a = allocate(lines, 1, r.MaxApplications)
		case KindPriceRule:
			pr := r.PriceRule
			if pr.CustomerTier != "" && !strings.EqualFold(pr.CustomerTier, rs.cart.CustomerTier) {
				continue
			}
			if requested < pr.MinQuantity {
				continue
			}
			a = allocate(lines, 1, r.MaxApplications)
		case KindMixMatch:
			a = allocate(lines, r.MixMatch.QuantityRequired, r.MaxApplications)
		case KindVolumeTier:
			if requested < lowestTier(r.VolumeTier.Tiers) {
				continue
			}
			// The reached tier prices every qualifying unit, once.
			a = allocate(lines, 1, 0)
			a.times = 1
		case KindBundle:
			a = allocateBundle(lines, r.Bundle.ProductIDs, r.MaxApplications)
		default:
			continue
		}
		if a.empty() {
			continue
		}

		raw, err := discountFor(r, a, requested)
		if err != nil {
			return err
		}
		discount := clampDiscount(raw, a.base())
		if !discount.IsPositive() {
			continue
		}
		app := newApplication(r, a, discount)
		a.settle(discount, r.Stackable)
		rs.apps = append(rs.apps, app)
	}
	return nil
}

func newApplication(r *Rule, a allocation, discount decimal.Decimal) Application {
	return Application{
		RuleID:         r.ID,
		RuleName:       r.Name,
		Kind:           r.Kind,
		Stackable:      r.Stackable,
		TracksUsage:    r.TracksUsage(),
		TimesApplied:   a.times,
		ConsumedByLine: a.consumedByLine(),
		Discount:       discount,
	}
}

func (rs *resolver) result(failures []LineFailure) *Resolution {
	res := &Resolution{
		Lines:        make([]LineResult, len(rs.cart.Lines)),
		Applications: rs.apps,
		Failures:     failures,
		Subtotal:     rs.subtotal.Round(2),
		ResolvedAt:   rs.now,
	}

	total := decimal.Zero
	for _, a := range rs.apps {
		total = total.Add(a.Discount)
	}
	res.TotalDiscount = decimal.Min(floorAtZero(total), res.Subtotal)
	res.FinalTotal = floorAtZero(res.Subtotal.Sub(res.TotalDiscount))

	for i, l := range rs.cart.Lines {
		pl := rs.pool.lines[i]
		lineSubtotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		lr := LineResult{
			Index:     i,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  lineSubtotal.Round(2),
			Discount:  decimal.Zero,
			Resolved:  pl.product != nil,
		}
		if lr.Resolved {
			lr.Discount = floorAtZero(lineSubtotal.Sub(pl.netTotal())).Round(2)
		}
		lr.Total = floorAtZero(lr.Subtotal.Sub(lr.Discount))
		res.Lines[i] = lr
	}
	return res
}
