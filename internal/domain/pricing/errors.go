package pricing

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for rule management.
var (
	ErrRuleNotFound       = errors.New("rule not found")
	ErrUsageLimitReached  = errors.New("rule usage limit reached")
	ErrNoResolvableLines  = errors.New("no cart line references a known product")
	errUnknownDiscount    = errors.New("unknown discount type")
)

// ValidationError reports a malformed cart. Line is -1 for cart-level problems.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("invalid cart: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid cart line %d: %s %s", e.Line, e.Field, e.Reason)
}

// NotFoundError reports product ids that the catalog does not know.
// Resolve returns it only when no line of the cart resolves.
type NotFoundError struct {
	ProductIDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("products not found: %s", strings.Join(e.ProductIDs, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNoResolvableLines }

// ConfigurationError reports a rule that cannot be accepted.
type ConfigurationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	id := e.RuleID
	if id == "" {
		id = "<new>"
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid rule %s: %s", id, e.Reason)
	}
	return fmt.Sprintf("invalid rule %s: %s %s", id, e.Field, e.Reason)
}
