package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
)

// pool holds the units of a cart that rules compete for. Each resolved line
// keeps the net price of every unit, so a discount applied on top of an
// earlier one is computed against what is left to pay.
type pool struct {
	lines []*poolLine
}

type poolLine struct {
	index   int
	line    Line
	product *catalog.Product
	// next is the first unit not yet claimed by a non-stackable rule.
	next int
	net  []decimal.Decimal
}

func newPool(cart Cart, products catalog.Lookup) (*pool, []LineFailure) {
	p := &pool{lines: make([]*poolLine, len(cart.Lines))}
	var failures []LineFailure
	for i, l := range cart.Lines {
		pl := &poolLine{index: i, line: l}
		if prod, ok := products.Lookup(l.ProductID); ok {
			pl.product = &prod
			pl.net = make([]decimal.Decimal, l.Quantity)
			for u := range pl.net {
				pl.net[u] = l.UnitPrice
			}
		} else {
			failures = append(failures, LineFailure{Index: i, ProductID: l.ProductID, Reason: "product not found"})
		}
		p.lines[i] = pl
	}
	return p, failures
}

func (pl *poolLine) remaining() int { return len(pl.net) - pl.next }

// netTotal is what is left to pay for the whole line.
func (pl *poolLine) netTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, n := range pl.net {
		sum = sum.Add(n)
	}
	return sum
}

// claim takes count unclaimed units from the front of a line.
type claim struct {
	line  *poolLine
	count int
}

func (c claim) units() []decimal.Decimal {
	return c.line.net[c.line.next : c.line.next+c.count]
}

// allocation is the set of units one rule application covers.
type allocation struct {
	claims []claim
	times  int
}

func (a allocation) empty() bool { return a.times == 0 || len(a.claims) == 0 }

func (a allocation) units() int {
	n := 0
	for _, c := range a.claims {
		n += c.count
	}
	return n
}

// base is the current net value of the claimed units.
func (a allocation) base() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range a.claims {
		for _, n := range c.units() {
			sum = sum.Add(n)
		}
	}
	return sum
}

func (a allocation) consumedByLine() map[int]int {
	m := make(map[int]int, len(a.claims))
	for _, c := range a.claims {
		m[c.line.index] += c.count
	}
	return m
}

// allocate claims required*times units from lines in order, where times is
// how many whole groups of required units the lines hold, capped by maxTimes
// when it is positive.
func allocate(lines []*poolLine, required, maxTimes int) allocation {
	if required <= 0 {
		return allocation{}
	}
	total := 0
	for _, l := range lines {
		total += l.remaining()
	}
	times := total / required
	if maxTimes > 0 && times > maxTimes {
		times = maxTimes
	}
	return allocation{claims: take(lines, times*required), times: times}
}

func take(lines []*poolLine, need int) []claim {
	var claims []claim
	for _, l := range lines {
		if need == 0 {
			break
		}
		n := min(l.remaining(), need)
		if n == 0 {
			continue
		}
		claims = append(claims, claim{line: l, count: n})
		need -= n
	}
	return claims
}

// allocateBundle claims complete sets of the component products. Nothing is
// claimed unless every component is available.
func allocateBundle(lines []*poolLine, components []string, maxTimes int) allocation {
	required := make(map[string]int, len(components))
	for _, id := range components {
		required[id]++
	}
	available := make(map[string]int, len(required))
	for _, l := range lines {
		available[l.product.ID] += l.remaining()
	}

	times := -1
	for id, n := range required {
		if t := available[id] / n; times < 0 || t < times {
			times = t
		}
	}
	if maxTimes > 0 && times > maxTimes {
		times = maxTimes
	}
	if times <= 0 {
		return allocation{}
	}

	need := make(map[string]int, len(required))
	for id, n := range required {
		need[id] = n * times
	}
	var claims []claim
	for _, l := range lines {
		id := l.product.ID
		n := min(l.remaining(), need[id])
		if n == 0 {
			continue
		}
		claims = append(claims, claim{line: l, count: n})
		need[id] -= n
	}
	return allocation{claims: claims, times: times}
}

// settle spreads discount over the claimed units in proportion to their net
// price and, unless the rule is stackable, removes them from the pool.
// discount must not exceed a.base().
func (a allocation) settle(discount decimal.Decimal, stackable bool) {
	base := a.base()
	if base.IsPositive() && discount.IsPositive() {
		left := discount
		var last *decimal.Decimal
		for _, c := range a.claims {
			units := c.units()
			for u := range units {
				if !units[u].IsPositive() {
					continue
				}
				share := discount.Mul(units[u]).Div(base)
				share = decimal.Min(share, units[u], left)
				units[u] = units[u].Sub(share)
				left = left.Sub(share)
				last = &units[u]
			}
		}
		// Division leaves a remainder in the last digits; the last unit takes it.
		if last != nil && left.IsPositive() {
			*last = floorAtZero(last.Sub(left))
		}
	}
	if !stackable {
		for _, c := range a.claims {
			c.line.next += c.count
		}
	}
}
