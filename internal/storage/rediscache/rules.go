// Package rediscache caches the active rule set in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

// ActiveRulesKey holds the JSON encoded active rule set.
const ActiveRulesKey = "pricing:rules:active"

// Store is the backing rule store the cache wraps.
type Store interface {
	pricing.RuleRepository
	pricing.UsageCounter
}

var (
	_ pricing.RuleRepository = (*Rules)(nil)
	_ pricing.UsageCounter   = (*Rules)(nil)
)

// Rules serves ActiveRules from Redis and forwards everything else to the
// store. Every write drops the cached set, so the next snapshot is loaded
// from the store. Redis failures degrade to reading the store directly.
type Rules struct {
	store  Store
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRules wraps store. A nil client disables caching.
func NewRules(store Store, client redis.UniversalClient, ttl time.Duration) *Rules {
	return &Rules{store: store, client: client, ttl: ttl}
}

// ActiveRules implements pricing.RuleSource.
func (c *Rules) ActiveRules(ctx context.Context) ([]pricing.Rule, error) {
	lg := zctx.From(ctx)

	var rules []pricing.Rule
	ok, err := c.getJSON(ctx, ActiveRulesKey, &rules)
	switch {
	case err != nil:
		lg.Warn("Read cached rules", zap.Error(err))
	case ok:
		return rules, nil
	}

	rules, err = c.store.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.setJSON(ctx, ActiveRulesKey, rules); err != nil {
		lg.Warn("Cache rules", zap.Error(err))
	}
	return rules, nil
}

// Invalidate drops the cached rule set.
func (c *Rules) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, ActiveRulesKey).Err(); err != nil {
		return errors.Wrap(err, "delete cached rules")
	}
	return nil
}

func (c *Rules) Get(ctx context.Context, id string) (*pricing.Rule, error) {
	return c.store.Get(ctx, id)
}

func (c *Rules) List(ctx context.Context, filter pricing.ListFilter) ([]pricing.Rule, error) {
	return c.store.List(ctx, filter)
}

func (c *Rules) Create(ctx context.Context, r *pricing.Rule) error {
	return c.afterWrite(ctx, c.store.Create(ctx, r))
}

func (c *Rules) Update(ctx context.Context, r *pricing.Rule) error {
	return c.afterWrite(ctx, c.store.Update(ctx, r))
}

func (c *Rules) SetActive(ctx context.Context, id string, active bool) error {
	return c.afterWrite(ctx, c.store.SetActive(ctx, id, active))
}

// Increment implements pricing.UsageCounter.
func (c *Rules) Increment(ctx context.Context, id string) (int, error) {
	n, err := c.store.Increment(ctx, id)
	return n, c.afterWrite(ctx, err)
}

// afterWrite invalidates the cache once a write succeeded. Invalidation
// failures are logged, the write already happened.
func (c *Rules) afterWrite(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if err := c.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Invalidate rule cache", zap.Error(err))
	}
	return nil
}

func (c *Rules) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, errors.Wrap(err, "decode cached value")
	}
	return true, nil
}

func (c *Rules) setJSON(ctx context.Context, key string, v any) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}
