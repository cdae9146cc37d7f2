// Package pricing resolves the discounts a cart earns from the configured
// pricing rules.
//
// Six rule families share one pool of cart units. Happy hours compete per
// line and the best one wins; every other family is applied in priority
// order and consumes the units it discounts unless the rule is stackable.
package pricing

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a rule family.
type Kind string

// Rule families.
const (
	KindPromotion  Kind = "promotion"
	KindHappyHour  Kind = "happy_hour"
	KindMixMatch   Kind = "mix_match"
	KindVolumeTier Kind = "volume_tier"
	KindBundle     Kind = "bundle"
	KindPriceRule  Kind = "price_rule"
)

// Kinds lists every rule family.
var Kinds = []Kind{KindPromotion, KindHappyHour, KindMixMatch, KindVolumeTier, KindBundle, KindPriceRule}

// DiscountType selects how a rule turns consumed units into a discount.
type DiscountType string

// Discount types. Which ones a family accepts is checked by Validate.
const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixedAmount  DiscountType = "fixed_amount"
	DiscountFixedPerItem DiscountType = "fixed_per_item"
	DiscountFixedTotal   DiscountType = "fixed_total"
	DiscountPrice        DiscountType = "price"

	// DiscountFixed is the short spelling accepted by happy hours, where it
	// means fixed_per_item, and by price rules, where it means fixed_amount.
	DiscountFixed DiscountType = "fixed"
)

// UnmarshalText implements encoding.TextUnmarshaler. "percent" is read as
// percentage.
func (t *DiscountType) UnmarshalText(text []byte) error {
	v := DiscountType(strings.ToLower(strings.TrimSpace(string(text))))
	if v == "percent" {
		v = DiscountPercentage
	}
	*t = v
	return nil
}

// Target is the declared reach of a promotion or happy hour.
type Target string

// Targets.
const (
	TargetAll      Target = "all"
	TargetCategory Target = "category"
	TargetProduct  Target = "product"
)

// Scope narrows the cart lines a rule may touch. Every non-empty field must
// match; an empty Scope matches every resolved line.
type Scope struct {
	CategoryIDs []string         `json:"category_ids,omitempty" yaml:"category_ids,omitempty"`
	ProductIDs  []string         `json:"product_ids,omitempty" yaml:"product_ids,omitempty"`
	Brand       string           `json:"brand,omitempty" yaml:"brand,omitempty"`
	MinPrice    *decimal.Decimal `json:"min_price,omitempty" yaml:"min_price,omitempty"`
	MaxPrice    *decimal.Decimal `json:"max_price,omitempty" yaml:"max_price,omitempty"`
}

// Rule is one configured pricing rule. Kind selects which payload is set;
// exactly one payload pointer is non-nil on a valid rule.
type Rule struct {
	ID              string     `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name" validate:"required,max=200"`
	Kind            Kind       `json:"kind" yaml:"kind" validate:"required,oneof=promotion happy_hour mix_match volume_tier bundle price_rule"`
	Active          bool       `json:"active" yaml:"active"`
	Priority        int        `json:"priority" yaml:"priority"`
	Stackable       bool       `json:"stackable" yaml:"stackable"`
	MaxApplications int        `json:"max_applications,omitempty" yaml:"max_applications,omitempty" validate:"gte=0"`
	StartDate       *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at,omitempty"`
	Scope           Scope      `json:"scope" yaml:"scope,omitempty"`

	Promotion  *Promotion  `json:"promotion,omitempty" yaml:"promotion,omitempty"`
	HappyHour  *HappyHour  `json:"happy_hour,omitempty" yaml:"happy_hour,omitempty"`
	MixMatch   *MixMatch   `json:"mix_match,omitempty" yaml:"mix_match,omitempty"`
	VolumeTier *VolumeTier `json:"volume_tier,omitempty" yaml:"volume_tier,omitempty"`
	Bundle     *Bundle     `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	PriceRule  *PriceRule  `json:"price_rule,omitempty" yaml:"price_rule,omitempty"`
}

// Promotion is a cart-wide or scoped percentage or fixed amount off,
// gated by a minimum purchase and an optional usage cap.
type Promotion struct {
	AppliesTo    Target          `json:"applies_to" yaml:"applies_to" validate:"required,oneof=all category product"`
	DiscountType DiscountType    `json:"discount_type" yaml:"discount_type" validate:"required,oneof=percentage fixed_amount"`
	Value        decimal.Decimal `json:"value" yaml:"value"`
	MinPurchase  decimal.Decimal `json:"min_purchase" yaml:"min_purchase,omitempty"`
	MaxUses      int             `json:"max_uses,omitempty" yaml:"max_uses,omitempty" validate:"gte=0"`
	CurrentUses  int             `json:"current_uses,omitempty" yaml:"current_uses,omitempty" validate:"gte=0"`
}

// HappyHour is a recurring time-window discount.
type HappyHour struct {
	Days               Weekdays        `json:"days" yaml:"days" validate:"required"`
	Window             TimeWindow      `json:"window" yaml:"window"`
	AppliesTo          Target          `json:"applies_to" yaml:"applies_to" validate:"required,oneof=all category product"`
	DiscountType       DiscountType    `json:"discount_type" yaml:"discount_type" validate:"required,oneof=percentage fixed_per_item fixed price"`
	Value              decimal.Decimal `json:"value" yaml:"value"`
	MinPurchase        decimal.Decimal `json:"min_purchase" yaml:"min_purchase,omitempty"`
	ExcludeCasePricing bool            `json:"exclude_case_pricing" yaml:"exclude_case_pricing,omitempty"`
}

// MixMatch discounts every group of QuantityRequired qualifying units.
type MixMatch struct {
	QuantityRequired int             `json:"quantity_required" yaml:"quantity_required" validate:"gte=1"`
	DiscountType     DiscountType    `json:"discount_type" yaml:"discount_type" validate:"required,oneof=percentage fixed_per_item fixed_total"`
	Value            decimal.Decimal `json:"value" yaml:"value"`
}

// Tier is one step of a volume discount.
type Tier struct {
	MinQty          int             `json:"min_qty" yaml:"min_qty" validate:"gte=1"`
	DiscountPercent decimal.Decimal `json:"discount_percent" yaml:"discount_percent"`
}

// VolumeTier discounts all qualifying units by the percent of the highest
// tier reached.
type VolumeTier struct {
	Tiers []Tier `json:"tiers" yaml:"tiers" validate:"required,min=1,dive"`
}

// Bundle sells a fixed set of products, one unit each, at BundlePrice.
// A product id listed twice requires two units.
type Bundle struct {
	ProductIDs  []string        `json:"product_ids" yaml:"product_ids" validate:"required,min=2,dive,required"`
	BundlePrice decimal.Decimal `json:"bundle_price" yaml:"bundle_price"`
	MaxUses     int             `json:"max_uses,omitempty" yaml:"max_uses,omitempty" validate:"gte=0"`
	CurrentUses int             `json:"current_uses,omitempty" yaml:"current_uses,omitempty" validate:"gte=0"`
}

// PriceRule is a quantity, customer tier or schedule conditioned adjustment.
type PriceRule struct {
	MinQuantity  int             `json:"min_quantity,omitempty" yaml:"min_quantity,omitempty" validate:"gte=0"`
	CustomerTier string          `json:"customer_tier,omitempty" yaml:"customer_tier,omitempty"`
	DiscountType DiscountType    `json:"discount_type" yaml:"discount_type" validate:"required,oneof=percentage fixed_amount fixed"`
	Value        decimal.Decimal `json:"value" yaml:"value"`
	Days         Weekdays        `json:"days,omitempty" yaml:"days,omitempty"`
	Window       *TimeWindow     `json:"window,omitempty" yaml:"window,omitempty"`
}

// Usage returns the usage cap and the number of recorded uses. A zero cap
// means the rule is not usage limited. Only promotions and bundles carry
// usage counters.
func (r *Rule) Usage() (maxUses, currentUses int) {
	switch {
	case r.Promotion != nil:
		return r.Promotion.MaxUses, r.Promotion.CurrentUses
	case r.Bundle != nil:
		return r.Bundle.MaxUses, r.Bundle.CurrentUses
	}
	return 0, 0
}

// SetCurrentUses overwrites the recorded use count of a usage limited rule.
func (r *Rule) SetCurrentUses(n int) {
	switch {
	case r.Promotion != nil:
		r.Promotion.CurrentUses = n
	case r.Bundle != nil:
		r.Bundle.CurrentUses = n
	}
}

// TracksUsage reports whether applying the rule must be committed to its
// usage counter.
func (r *Rule) TracksUsage() bool {
	maxUses, _ := r.Usage()
	return maxUses > 0
}

// EligibleAt reports whether the rule may take part in a resolution at now:
// it is active, inside its validity dates, under its usage cap and, for
// scheduled families, inside its schedule.
func (r *Rule) EligibleAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return false
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return false
	}
	if maxUses, used := r.Usage(); maxUses > 0 && used >= maxUses {
		return false
	}
	if s, ok := r.schedule(); ok && !s.ActiveAt(now) {
		return false
	}
	return true
}

func (r *Rule) schedule() (Schedule, bool) {
	switch {
	case r.HappyHour != nil:
		w := r.HappyHour.Window
		return Schedule{Days: r.HappyHour.Days, Window: &w}, true
	case r.PriceRule != nil:
		return Schedule{Days: r.PriceRule.Days, Window: r.PriceRule.Window}, true
	}
	return Schedule{}, false
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	c := r
	c.StartDate = cloneTime(r.StartDate)
	c.EndDate = cloneTime(r.EndDate)
	c.Scope = Scope{
		CategoryIDs: slices.Clone(r.Scope.CategoryIDs),
		ProductIDs:  slices.Clone(r.Scope.ProductIDs),
		Brand:       r.Scope.Brand,
		MinPrice:    cloneDecimal(r.Scope.MinPrice),
		MaxPrice:    cloneDecimal(r.Scope.MaxPrice),
	}
	if r.Promotion != nil {
		p := *r.Promotion
		c.Promotion = &p
	}
	if r.HappyHour != nil {
		h := *r.HappyHour
		c.HappyHour = &h
	}
	if r.MixMatch != nil {
		m := *r.MixMatch
		c.MixMatch = &m
	}
	if r.VolumeTier != nil {
		c.VolumeTier = &VolumeTier{Tiers: slices.Clone(r.VolumeTier.Tiers)}
	}
	if r.Bundle != nil {
		b := *r.Bundle
		b.ProductIDs = slices.Clone(r.Bundle.ProductIDs)
		c.Bundle = &b
	}
	if r.PriceRule != nil {
		p := *r.PriceRule
		if r.PriceRule.Window != nil {
			w := *r.PriceRule.Window
			p.Window = &w
		}
		c.PriceRule = &p
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
