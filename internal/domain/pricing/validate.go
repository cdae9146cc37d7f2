package pricing

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Validate checks that the rule is well formed. Problems are reported as a
// *ConfigurationError naming the offending field.
func (r *Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return r.invalid(fieldPath(fe), validationMessage(fe))
		}
		return r.invalid("", err.Error())
	}
	if err := r.validatePayload(); err != nil {
		return err
	}
	if err := r.validateScope(); err != nil {
		return err
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return r.invalid("end_date", "must not be before start_date")
	}
	return nil
}

func (r *Rule) validatePayload() error {
	set := 0
	for _, present := range []bool{
		r.Promotion != nil, r.HappyHour != nil, r.MixMatch != nil,
		r.VolumeTier != nil, r.Bundle != nil, r.PriceRule != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return r.invalid(string(r.Kind), "exactly one payload matching kind is required")
	}

	switch r.Kind {
	case KindPromotion:
		p := r.Promotion
		if p == nil {
			return r.invalid("promotion", "is required")
		}
		if err := r.checkValue("promotion.value", p.DiscountType, p.Value); err != nil {
			return err
		}
		return r.nonNegative("promotion.min_purchase", p.MinPurchase)
	case KindHappyHour:
		h := r.HappyHour
		if h == nil {
			return r.invalid("happy_hour", "is required")
		}
		if err := r.checkValue("happy_hour.value", h.DiscountType, h.Value); err != nil {
			return err
		}
		return r.nonNegative("happy_hour.min_purchase", h.MinPurchase)
	case KindMixMatch:
		m := r.MixMatch
		if m == nil {
			return r.invalid("mix_match", "is required")
		}
		return r.checkValue("mix_match.value", m.DiscountType, m.Value)
	case KindVolumeTier:
		v := r.VolumeTier
		if v == nil {
			return r.invalid("volume_tier", "is required")
		}
		seen := make(map[int]struct{}, len(v.Tiers))
		for i, t := range v.Tiers {
			field := fmt.Sprintf("volume_tier.tiers[%d]", i)
			if _, dup := seen[t.MinQty]; dup {
				return r.invalid(field+".min_qty", "must be unique across tiers")
			}
			seen[t.MinQty] = struct{}{}
			if err := r.checkValue(field+".discount_percent", DiscountPercentage, t.DiscountPercent); err != nil {
				return err
			}
		}
		return nil
	case KindBundle:
		b := r.Bundle
		if b == nil {
			return r.invalid("bundle", "is required")
		}
		return r.nonNegative("bundle.bundle_price", b.BundlePrice)
	case KindPriceRule:
		p := r.PriceRule
		if p == nil {
			return r.invalid("price_rule", "is required")
		}
		return r.checkValue("price_rule.value", p.DiscountType, p.Value)
	default:
		return r.invalid("kind", fmt.Sprintf("unknown kind %q", r.Kind))
	}
}

func (r *Rule) validateScope() error {
	s := r.Scope
	if s.MinPrice != nil && s.MinPrice.IsNegative() {
		return r.invalid("scope.min_price", "must not be negative")
	}
	if s.MinPrice != nil && s.MaxPrice != nil && s.MaxPrice.LessThan(*s.MinPrice) {
		return r.invalid("scope.max_price", "must not be below min_price")
	}

	var target Target
	switch {
	case r.Promotion != nil:
		target = r.Promotion.AppliesTo
	case r.HappyHour != nil:
		target = r.HappyHour.AppliesTo
	}
	switch target {
	case TargetCategory:
		if len(s.CategoryIDs) == 0 {
			return r.invalid("scope.category_ids", "is required when applies_to is category")
		}
	case TargetProduct:
		if len(s.ProductIDs) == 0 {
			return r.invalid("scope.product_ids", "is required when applies_to is product")
		}
	}
	return nil
}

// checkValue enforces the value range of a discount type.
func (r *Rule) checkValue(field string, dt DiscountType, v decimal.Decimal) error {
	if !v.IsPositive() {
		return r.invalid(field, "must be greater than 0")
	}
	if dt == DiscountPercentage && v.GreaterThan(hundred) {
		return r.invalid(field, "must be at most 100 for a percentage")
	}
	return nil
}

func (r *Rule) nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return r.invalid(field, "must not be negative")
	}
	return nil
}

func (r *Rule) invalid(field, reason string) *ConfigurationError {
	return &ConfigurationError{RuleID: r.ID, Field: field, Reason: reason}
}

// fieldPath turns "Rule.promotion.discount_type" into "promotion.discount_type".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	}
	return "is invalid"
}
