package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

const (
	ruleColumns = `id, name, kind, active, priority, stackable, max_applications,
		start_date, end_date, scope, payload, max_uses, current_uses, created_at`

	ruleOrder = ` ORDER BY priority DESC, created_at, id`

	activeRulesSQL = `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE active` + ruleOrder

	listRulesSQL = `SELECT ` + ruleColumns + ` FROM pricing_rules
		WHERE ($1 = '' OR kind = $1) AND (NOT $2 OR active)` + ruleOrder

	getRuleSQL = `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE id = $1`

	insertRuleSQL = `INSERT INTO pricing_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	// Imports never reset usage counters or creation times.
	upsertRuleSQL = insertRuleSQL + `
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind, active = EXCLUDED.active,
			priority = EXCLUDED.priority, stackable = EXCLUDED.stackable,
			max_applications = EXCLUDED.max_applications,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			scope = EXCLUDED.scope, payload = EXCLUDED.payload,
			max_uses = EXCLUDED.max_uses, updated_at = now()`

	updateRuleSQL = `UPDATE pricing_rules SET
			name = $2, kind = $3, active = $4, priority = $5, stackable = $6,
			max_applications = $7, start_date = $8, end_date = $9,
			scope = $10, payload = $11, max_uses = $12, updated_at = now()
		WHERE id = $1`

	setRuleActiveSQL = `UPDATE pricing_rules SET active = $2, updated_at = now() WHERE id = $1`

	incrementUsageSQL = `UPDATE pricing_rules
		SET current_uses = current_uses + 1, updated_at = now()
		WHERE id = $1 AND (max_uses = 0 OR current_uses < max_uses)
		RETURNING current_uses`

	ruleExistsSQL = `SELECT EXISTS (SELECT 1 FROM pricing_rules WHERE id = $1)`
)

var (
	_ pricing.RuleRepository = (*RuleRepository)(nil)
	_ pricing.UsageCounter   = (*RuleRepository)(nil)
)

// RuleRepository stores pricing rules. Common fields live in columns, the
// kind specific payload and the scope in JSONB. Usage counters are columns
// so they can be incremented atomically.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// ActiveRules returns every active rule in precedence order.
func (r *RuleRepository) ActiveRules(ctx context.Context) ([]pricing.Rule, error) {
	rows, err := r.pool.Query(ctx, activeRulesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query active rules")
	}
	return pgx.CollectRows(rows, scanRule)
}

// List returns the rules matching filter in precedence order.
func (r *RuleRepository) List(ctx context.Context, filter pricing.ListFilter) ([]pricing.Rule, error) {
	rows, err := r.pool.Query(ctx, listRulesSQL, string(filter.Kind), filter.ActiveOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return pgx.CollectRows(rows, scanRule)
}

// Get returns a rule by id.
func (r *RuleRepository) Get(ctx context.Context, id string) (*pricing.Rule, error) {
	rows, err := r.pool.Query(ctx, getRuleSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrRuleNotFound
		}
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	return &rule, nil
}

// Create inserts a new rule.
func (r *RuleRepository) Create(ctx context.Context, rule *pricing.Rule) error {
	args, err := ruleArgs(rule)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, insertRuleSQL, args...); err != nil {
		return errors.Wrapf(err, "insert rule %q", rule.ID)
	}
	return nil
}

// Upsert inserts the rules or updates the stored ones in one transaction,
// keeping their usage counters and creation times.
func (r *RuleRepository) Upsert(ctx context.Context, rules []pricing.Rule) error {
	batch := &pgx.Batch{}
	for i := range rules {
		args, err := ruleArgs(&rules[i])
		if err != nil {
			return err
		}
		batch.Queue(upsertRuleSQL, args...)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "upsert rules")
		}
		return nil
	})
}

// Update overwrites a rule, leaving its usage count and creation time.
func (r *RuleRepository) Update(ctx context.Context, rule *pricing.Rule) error {
	args, err := ruleArgs(rule)
	if err != nil {
		return err
	}
	// Drop current_uses and created_at, which updates never write.
	tag, err := r.pool.Exec(ctx, updateRuleSQL, args[:12]...)
	if err != nil {
		return errors.Wrapf(err, "update rule %q", rule.ID)
	}
	if tag.RowsAffected() == 0 {
		return pricing.ErrRuleNotFound
	}
	return nil
}

// SetActive switches a rule on or off.
func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, setRuleActiveSQL, id, active)
	if err != nil {
		return errors.Wrapf(err, "set rule %q active", id)
	}
	if tag.RowsAffected() == 0 {
		return pricing.ErrRuleNotFound
	}
	return nil
}

// Increment implements pricing.UsageCounter.
func (r *RuleRepository) Increment(ctx context.Context, id string) (int, error) {
	return incrementUsage(ctx, r.pool, id)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func incrementUsage(ctx context.Context, q querier, id string) (int, error) {
	var n int
	err := q.QueryRow(ctx, incrementUsageSQL, id).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(err, "increment usage of rule %q", id)
	}

	var exists bool
	if err := q.QueryRow(ctx, ruleExistsSQL, id).Scan(&exists); err != nil {
		return 0, errors.Wrapf(err, "check rule %q", id)
	}
	if !exists {
		return 0, pricing.ErrRuleNotFound
	}
	return 0, errors.Wrapf(pricing.ErrUsageLimitReached, "rule %q", id)
}

func ruleArgs(rule *pricing.Rule) ([]any, error) {
	scope, err := json.Marshal(rule.Scope)
	if err != nil {
		return nil, errors.Wrap(err, "marshal scope")
	}
	payload, err := encodePayload(rule)
	if err != nil {
		return nil, err
	}
	maxUses, used := rule.Usage()
	return []any{
		rule.ID, rule.Name, string(rule.Kind), rule.Active, rule.Priority,
		rule.Stackable, rule.MaxApplications, rule.StartDate, rule.EndDate,
		scope, payload, maxUses, used, rule.CreatedAt,
	}, nil
}

func encodePayload(rule *pricing.Rule) ([]byte, error) {
	var v any
	switch rule.Kind {
	case pricing.KindPromotion:
		v = rule.Promotion
	case pricing.KindHappyHour:
		v = rule.HappyHour
	case pricing.KindMixMatch:
		v = rule.MixMatch
	case pricing.KindVolumeTier:
		v = rule.VolumeTier
	case pricing.KindBundle:
		v = rule.Bundle
	case pricing.KindPriceRule:
		v = rule.PriceRule
	default:
		return nil, errors.Errorf("unknown rule kind %q", rule.Kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", rule.Kind)
	}
	return data, nil
}

func decodePayload(rule *pricing.Rule, data []byte) error {
	var v any
	switch rule.Kind {
	case pricing.KindPromotion:
		rule.Promotion = &pricing.Promotion{}
		v = rule.Promotion
	case pricing.KindHappyHour:
		rule.HappyHour = &pricing.HappyHour{}
		v = rule.HappyHour
	case pricing.KindMixMatch:
		rule.MixMatch = &pricing.MixMatch{}
		v = rule.MixMatch
	case pricing.KindVolumeTier:
		rule.VolumeTier = &pricing.VolumeTier{}
		v = rule.VolumeTier
	case pricing.KindBundle:
		rule.Bundle = &pricing.Bundle{}
		v = rule.Bundle
	case pricing.KindPriceRule:
		rule.PriceRule = &pricing.PriceRule{}
		v = rule.PriceRule
	default:
		return errors.Errorf("unknown rule kind %q", rule.Kind)
	}
	return json.Unmarshal(data, v)
}

func scanRule(row pgx.CollectableRow) (pricing.Rule, error) {
	var (
		rule             pricing.Rule
		kind             string
		start, end       *time.Time
		scope, payload   []byte
		maxUses, curUses int
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &kind, &rule.Active, &rule.Priority, &rule.Stackable,
		&rule.MaxApplications, &start, &end, &scope, &payload, &maxUses, &curUses,
		&rule.CreatedAt,
	)
	if err != nil {
		return rule, err
	}
	rule.Kind = pricing.Kind(kind)
	rule.StartDate, rule.EndDate = start, end
	if err := json.Unmarshal(scope, &rule.Scope); err != nil {
		return rule, errors.Wrapf(err, "decode scope of rule %q", rule.ID)
	}
	if err := decodePayload(&rule, payload); err != nil {
		return rule, errors.Wrapf(err, "decode payload of rule %q", rule.ID)
	}
	// The columns are authoritative for usage.
	switch {
	case rule.Promotion != nil:
		rule.Promotion.MaxUses = maxUses
	case rule.Bundle != nil:
		rule.Bundle.MaxUses = maxUses
	}
	rule.SetCurrentUses(curUses)
	return rule, nil
}
