package pricing

import (
	"cmp"
	"slices"
	"time"
)

// Snapshot is an immutable view of the rule set taken at one point in time.
// Rules are copied in and copied out, so a snapshot can be shared between
// concurrent resolutions while the rule store keeps changing.
type Snapshot struct {
	rules []Rule
}

// NewSnapshot validates and copies rules. The first invalid rule aborts the
// snapshot with a *ConfigurationError.
func NewSnapshot(rules ...Rule) (*Snapshot, error) {
	s := &Snapshot{rules: make([]Rule, 0, len(rules))}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
		s.rules = append(s.rules, rules[i].Clone())
	}
	slices.SortStableFunc(s.rules, comparePrecedence)
	return s, nil
}

// SkipInvalid splits rules into the ones that pass Validate and the
// validation errors of the rest.
func SkipInvalid(rules []Rule) (valid []Rule, skipped []error) {
	valid = make([]Rule, 0, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			skipped = append(skipped, err)
			continue
		}
		valid = append(valid, rules[i])
	}
	return valid, skipped
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns copies of all rules in precedence order.
func (s *Snapshot) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	for i := range s.rules {
		out[i] = s.rules[i].Clone()
	}
	return out
}

// Eligible returns copies of the rules that may apply at now, optionally
// limited to the given kinds, in precedence order.
func (s *Snapshot) Eligible(now time.Time, kinds ...Kind) []Rule {
	if s == nil {
		return nil
	}
	var out []Rule
	for i := range s.rules {
		r := &s.rules[i]
		if len(kinds) > 0 && !slices.Contains(kinds, r.Kind) {
			continue
		}
		if r.EligibleAt(now) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// comparePrecedence orders rules by priority descending, then by creation
// time ascending, then by id so the order is total.
func comparePrecedence(a, b Rule) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
