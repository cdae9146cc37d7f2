package pricing

import (
	"slices"
	"strings"
	"time"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
)

// Qualifies reports whether rule may discount line at now. product is the
// catalog record of the line; a nil product never qualifies.
func Qualifies(line Line, product *catalog.Product, rule *Rule, now time.Time) bool {
	if product == nil {
		return false
	}
	if s, ok := rule.schedule(); ok && !s.ActiveAt(now) {
		return false
	}
	if rule.HappyHour != nil && rule.HappyHour.ExcludeCasePricing && line.CasePrice {
		return false
	}
	if rule.Bundle != nil {
		return slices.Contains(rule.Bundle.ProductIDs, product.ID)
	}
	return rule.Scope.Matches(product)
}

// Matches reports whether the product satisfies every predicate of the scope.
func (s Scope) Matches(p *catalog.Product) bool {
	if len(s.CategoryIDs) > 0 && !slices.Contains(s.CategoryIDs, p.CategoryID) {
		return false
	}
	if len(s.ProductIDs) > 0 && !slices.Contains(s.ProductIDs, p.ID) {
		return false
	}
	if s.Brand != "" {
		if p.Brand == "" || !strings.Contains(strings.ToLower(p.Brand), strings.ToLower(s.Brand)) {
			return false
		}
	}
	if s.MinPrice != nil && p.Price.LessThan(*s.MinPrice) {
		return false
	}
	if s.MaxPrice != nil && p.Price.GreaterThan(*s.MaxPrice) {
		return false
	}
	return true
}
