package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
)

// RuleSource supplies the rules a snapshot is built from.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// Service prices carts against the current catalog and rule set. It never
// changes either of them.
type Service struct {
	products catalog.Repository
	rules    RuleSource
	now      func() time.Time
	loc      *time.Location
	mp       metric.MeterProvider

	tracer      trace.Tracer
	resolutions metric.Int64Counter
	applied     metric.Int64Counter
	discounts   metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used as the resolution instant.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the store time zone that happy hours and schedules are
// evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("pricing") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.mp = mp }
}

// NewService creates a pricing Service.
func NewService(products catalog.Repository, rules RuleSource, opts ...Option) (*Service, error) {
	s := &Service{
		products: products,
		rules:    rules,
		now:      time.Now,
		loc:      time.UTC,
		mp:       metricnoop.NewMeterProvider(),
		tracer:   tracenoop.NewTracerProvider().Tracer("pricing"),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.instruments(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) instruments() error {
	m := s.mp.Meter("pricing")
	var err error
	if s.resolutions, err = m.Int64Counter("pricing.resolutions",
		metric.WithDescription("Carts resolved"),
	); err != nil {
		return errors.Wrap(err, "resolutions counter")
	}
	if s.applied, err = m.Int64Counter("pricing.rule.applications",
		metric.WithDescription("Rule applications by rule kind"),
	); err != nil {
		return errors.Wrap(err, "applications counter")
	}
	if s.discounts, err = m.Float64Histogram("pricing.discount",
		metric.WithDescription("Total discount per resolved cart"),
	); err != nil {
		return errors.Wrap(err, "discount histogram")
	}
	return nil
}

// Now returns the current instant in the store time zone.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Snapshot loads the active rules and freezes them into a Snapshot.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	// Invalid stored rules are skipped, not fatal.
	valid, skipped := SkipInvalid(rules)
	for _, err := range skipped {
		zctx.From(ctx).Warn("Skipping invalid rule", zap.Error(err))
	}
	snap, err := NewSnapshot(valid...)
	if err != nil {
		return nil, errors.Wrap(err, "build snapshot")
	}
	return snap, nil
}

// Preview resolves cart at the current instant without side effects.
func (s *Service) Preview(ctx context.Context, cart Cart) (*Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.Preview",
		trace.WithAttributes(attribute.Int("cart.lines", len(cart.Lines))),
	)
	defer span.End()

	if err := cart.Validate(); err != nil {
		return nil, err
	}

	var (
		products []catalog.Product
		snap     *Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.products.GetByIDs(gctx, cart.ProductIDs())
		if err != nil {
			return errors.Wrap(err, "get products")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap, err = s.Snapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	res, err := Resolve(cart, catalog.NewIndex(products...), snap, s.Now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, res)

	zctx.From(ctx).Debug("Cart resolved",
		zap.Int("lines", len(res.Lines)),
		zap.Int("applications", len(res.Applications)),
		zap.Int("failures", len(res.Failures)),
		zap.Stringer("discount", res.TotalDiscount),
	)
	return res, nil
}

// ActiveHappyHours returns the happy hours running right now.
func (s *Service) ActiveHappyHours(ctx context.Context) ([]Rule, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Eligible(s.Now(), KindHappyHour), nil
}

func (s *Service) record(ctx context.Context, res *Resolution) {
	s.resolutions.Add(ctx, 1)
	for _, a := range res.Applications {
		s.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(a.Kind))))
	}
	s.discounts.Record(ctx, res.TotalDiscount.InexactFloat64())
}
