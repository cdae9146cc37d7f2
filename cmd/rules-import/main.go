// Command rules-import loads YAML rule packs (optionally gzipped) into the
// pricing database.
//
//	rules-import -database-url postgres://... packs/*.yaml packs/archive.yaml.gz
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
	"github.com/xenking/pos-pricing/internal/rulepack"
	"github.com/xenking/pos-pricing/internal/storage/postgres"
	"github.com/xenking/pos-pricing/internal/storage/rediscache"
)

type options struct {
	databaseURL string
	redisURL    string
	dryRun      bool
	paths       []string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL of the rule cache to invalidate (or REDIS_URL env)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate the packs without writing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] pack.yaml [pack.yaml.gz ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.paths = flag.Args()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if len(opts.paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisURL == "" {
		opts.redisURL = os.Getenv("REDIS_URL")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Rules import failed", zap.Error(err))
	}
	lg.Info("Rules import completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	start := time.Now()
	packs, err := rulepack.LoadAll(ctx, opts.paths)
	if err != nil {
		return errors.Wrap(err, "load packs")
	}
	rules, err := rulepack.Rules(packs)
	if err != nil {
		return err
	}
	products := rulepack.Products(packs)

	for i := range rules {
		if rules[i].CreatedAt.IsZero() {
			rules[i].CreatedAt = start.UTC()
		}
	}
	lg.Info("Packs loaded",
		zap.Int("packs", len(packs)),
		zap.Int("rules", len(rules)),
		zap.Int("products", len(products)),
		zap.Duration("took", time.Since(start)),
	)
	for _, k := range pricing.Kinds {
		if n := countKind(rules, k); n > 0 {
			lg.Info("Rules by kind", zap.String("kind", string(k)), zap.Int("count", n))
		}
	}
	if opts.dryRun {
		lg.Info("Dry run, nothing written")
		return nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	if len(products) > 0 {
		if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
			return errors.Wrap(err, "upsert products")
		}
	}

	repo := postgres.NewRuleRepository(pool)
	if err := repo.Upsert(ctx, rules); err != nil {
		return err
	}
	lg.Info("Rules written", zap.Int("count", len(rules)))

	if opts.redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(opts.redisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(redisOpts)
	defer func() { _ = client.Close() }()

	if err := rediscache.NewRules(repo, client, 0).Invalidate(ctx); err != nil {
		// The cache expires on its own; a stale entry is not fatal.
		lg.Warn("Invalidate rule cache", zap.Error(err))
	}
	return nil
}

func countKind(rules []pricing.Rule, kind pricing.Kind) int {
	n := 0
	for _, r := range rules {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
