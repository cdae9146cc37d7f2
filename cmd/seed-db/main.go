// Command seed-db creates the schema and loads the sample catalog and rules.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/rulepack"
	"github.com/xenking/pos-pricing/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		rulesFile    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.yaml", "path to the products YAML file")
	flag.StringVar(&rulesFile, "rules-file", "db/seed/rules.yaml", "path to the rules YAML file, empty to skip")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, rulesFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile, rulesFile string) error {
	paths := []string{productsFile}
	if rulesFile != "" {
		paths = append(paths, rulesFile)
	}
	packs, err := rulepack.LoadAll(ctx, paths)
	if err != nil {
		return errors.Wrap(err, "load seed files")
	}
	rules, err := rulepack.Rules(packs)
	if err != nil {
		return err
	}
	products := rulepack.Products(packs)

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Products seeded", zap.Int("count", len(products)))

	if len(rules) == 0 {
		return nil
	}
	if err := postgres.NewRuleRepository(pool).Upsert(ctx, rules); err != nil {
		return errors.Wrap(err, "seed rules")
	}
	lg.Info("Rules seeded", zap.Int("count", len(rules)))
	return nil
}
