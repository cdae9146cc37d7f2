package handler

import (
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
	"github.com/xenking/pos-pricing/internal/domain/sale"
)

// decodeCart reads a cart request:
//
//	{"customer_tier": "gold", "lines": [{"product_id": "x", "quantity": 2, "unit_price": "9.99", "case_price": false}]}
//
// Prices may be JSON numbers or strings. unit_price is required.
func decodeCart(data []byte) (pricing.Cart, error) {
	var cart pricing.Cart
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer_tier":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "customer_tier")
			}
			cart.CustomerTier = v
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return errors.Wrapf(err, "lines[%d]", len(cart.Lines))
				}
				cart.Lines = append(cart.Lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	return cart, err
}

func decodeLine(d *jx.Decoder) (pricing.Line, error) {
	var (
		l        pricing.Line
		hasPrice bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			l.ProductID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		case "unit_price":
			l.UnitPrice, err = decodeDecimal(d)
			hasPrice = true
		case "case_price":
			l.CasePrice, err = d.Bool()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err == nil && !hasPrice {
		err = errors.New("unit_price is required")
	}
	return l, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", tt)
	}
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

func encodeResolution(e *jx.Encoder, res *pricing.Resolution) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.ArrStart()
			for _, l := range res.Lines {
				encodeLine(e, l)
			}
			e.ArrEnd()
		})
		e.Field("applications", func(e *jx.Encoder) {
			e.ArrStart()
			for _, a := range res.Applications {
				encodeApplication(e, a)
			}
			e.ArrEnd()
		})
		if len(res.Failures) > 0 {
			e.Field("failures", func(e *jx.Encoder) {
				e.ArrStart()
				for _, f := range res.Failures {
					e.Obj(func(e *jx.Encoder) {
						e.Field("line", func(e *jx.Encoder) { e.Int(f.Index) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(f.ProductID) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(f.Reason) })
					})
				}
				e.ArrEnd()
			})
		}
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, res.Subtotal) })
		e.Field("total_discount", func(e *jx.Encoder) { encodeMoney(e, res.TotalDiscount) })
		e.Field("final_total", func(e *jx.Encoder) { encodeMoney(e, res.FinalTotal) })
		e.Field("resolved_at", func(e *jx.Encoder) { e.Str(res.ResolvedAt.Format(time.RFC3339)) })
	})
}

func encodeLine(e *jx.Encoder, l pricing.LineResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("line", func(e *jx.Encoder) { e.Int(l.Index) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, l.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, l.Total) })
		e.Field("resolved", func(e *jx.Encoder) { e.Bool(l.Resolved) })
	})
}

func encodeApplication(e *jx.Encoder, a pricing.Application) {
	lines := make([]int, 0, len(a.ConsumedByLine))
	for idx := range a.ConsumedByLine {
		lines = append(lines, idx)
	}
	slices.Sort(lines)

	e.Obj(func(e *jx.Encoder) {
		e.Field("rule_id", func(e *jx.Encoder) { e.Str(a.RuleID) })
		e.Field("rule_name", func(e *jx.Encoder) { e.Str(a.RuleName) })
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(a.Kind)) })
		e.Field("stackable", func(e *jx.Encoder) { e.Bool(a.Stackable) })
		e.Field("times_applied", func(e *jx.Encoder) { e.Int(a.TimesApplied) })
		e.Field("consumed", func(e *jx.Encoder) {
			e.ArrStart()
			for _, idx := range lines {
				e.Obj(func(e *jx.Encoder) {
					e.Field("line", func(e *jx.Encoder) { e.Int(idx) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(a.ConsumedByLine[idx]) })
				})
			}
			e.ArrEnd()
		})
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, a.Discount) })
	})
}

func encodeSale(e *jx.Encoder, r *sale.CompleteResult) {
	s := r.Sale
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		if s.CustomerTier != "" {
			e.Field("customer_tier", func(e *jx.Encoder) { e.Str(s.CustomerTier) })
		}
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, s.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, s.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, s.Total) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(s.CreatedAt.Format(time.RFC3339)) })
		e.Field("resolution", func(e *jx.Encoder) { encodeResolution(e, r.Resolution) })
	})
}

func encodeError(e *jx.Encoder, code int, msg string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
}
