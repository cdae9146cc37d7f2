package pricing

import (
	"github.com/shopspring/decimal"
)

// Line is one cart line as rung up at the register.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	// CasePrice marks a line sold at the case price rather than per bottle.
	CasePrice bool
}

// Cart is the input of a resolution.
type Cart struct {
	Lines []Line
	// CustomerTier is matched against price rules that target a tier.
	CustomerTier string
}

// Validate reports the first malformed part of the cart as a *ValidationError.
func (c Cart) Validate() error {
	if len(c.Lines) == 0 {
		return &ValidationError{Line: -1, Field: "lines", Reason: "must not be empty"}
	}
	for i, l := range c.Lines {
		switch {
		case l.ProductID == "":
			return &ValidationError{Line: i, Field: "product_id", Reason: "is required"}
		case l.Quantity <= 0:
			return &ValidationError{Line: i, Field: "quantity", Reason: "must be greater than 0"}
		case l.UnitPrice.IsNegative():
			return &ValidationError{Line: i, Field: "unit_price", Reason: "must not be negative"}
		}
	}
	return nil
}

// ProductIDs returns the distinct product ids of the cart in line order.
func (c Cart) ProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Lines))
	ids := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

// Subtotal is the undiscounted value of the cart.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}
