package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ListFilter narrows a rule listing. Zero values match everything.
type ListFilter struct {
	Kind       Kind
	ActiveOnly bool
}

// RuleRepository stores rules. Get, Update and SetActive return
// ErrRuleNotFound for unknown ids.
type RuleRepository interface {
	RuleSource
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, filter ListFilter) ([]Rule, error)
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	SetActive(ctx context.Context, id string, active bool) error
}

// UsageCounter atomically increments usage counters. Increment returns
// ErrUsageLimitReached when the counter already reached its cap.
type UsageCounter interface {
	Increment(ctx context.Context, ruleID string) (int, error)
}

// Manager implements the rule lifecycle. Rules are validated here, so a
// Snapshot never sees a rule that was rejected.
type Manager struct {
	repo  RuleRepository
	usage UsageCounter
	now   func() time.Time
}

// NewManager creates a Manager.
func NewManager(repo RuleRepository, usage UsageCounter) *Manager {
	return &Manager{repo: repo, usage: usage, now: time.Now}
}

// Create validates and stores a new rule, assigning its id and creation time
// when they are unset.
func (m *Manager) Create(ctx context.Context, r Rule) (*Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, &r); err != nil {
		return nil, errors.Wrapf(err, "create rule %s", r.ID)
	}
	return &r, nil
}

// Update replaces a rule. The creation time and the recorded usage of the
// stored rule are kept.
func (m *Manager) Update(ctx context.Context, r Rule) (*Rule, error) {
	existing, err := m.repo.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = existing.CreatedAt
	_, used := existing.Usage()
	r.SetCurrentUses(used)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, &r); err != nil {
		return nil, errors.Wrapf(err, "update rule %s", r.ID)
	}
	return &r, nil
}

// Deactivate takes a rule out of future snapshots.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	return m.repo.SetActive(ctx, id, false)
}

// Activate puts a deactivated rule back into future snapshots.
func (m *Manager) Activate(ctx context.Context, id string) error {
	return m.repo.SetActive(ctx, id, true)
}

// Get returns a rule by id.
func (m *Manager) Get(ctx context.Context, id string) (*Rule, error) {
	return m.repo.Get(ctx, id)
}

// List returns the rules matching filter in precedence order.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Rule, error) {
	return m.repo.List(ctx, filter)
}

// RecordUsage counts one use of a usage limited rule and returns the new
// count.
func (m *Manager) RecordUsage(ctx context.Context, id string) (int, error) {
	return m.usage.Increment(ctx, id)
}
