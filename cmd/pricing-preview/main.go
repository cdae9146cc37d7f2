// Command pricing-preview resolves a cart against rule packs offline, without
// a database, and prints the breakdown.
//
//	pricing-preview -cart cart.yaml -at 2026-03-13T17:00:00+11:00 db/seed/products.yaml db/seed/rules.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
	"github.com/xenking/pos-pricing/internal/domain/pricing"
	"github.com/xenking/pos-pricing/internal/rulepack"
)

func main() {
	var (
		cartFile string
		at       string
		tz       string
	)
	flag.StringVar(&cartFile, "cart", "cart.yaml", "path to the cart YAML file")
	flag.StringVar(&at, "at", "", "resolution instant in RFC 3339, defaults to now")
	flag.StringVar(&tz, "time-zone", "Local", "store time zone")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if flag.NArg() == 0 {
		lg.Fatal("At least one pack is required")
	}
	now, err := resolutionTime(at, tz)
	if err != nil {
		lg.Fatal("Invalid time", zap.Error(err))
	}

	if err := run(context.Background(), os.Stdout, flag.Args(), cartFile, now); err != nil {
		lg.Fatal("Preview failed", zap.Error(err))
	}
}

func resolutionTime(at, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "time zone %q", tz)
	}
	if at == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse -at")
	}
	return t.In(loc), nil
}

func run(ctx context.Context, w io.Writer, packPaths []string, cartFile string, now time.Time) error {
	packs, err := rulepack.LoadAll(ctx, packPaths)
	if err != nil {
		return err
	}
	rules, err := rulepack.Rules(packs)
	if err != nil {
		return err
	}
	products := catalog.NewIndex(rulepack.Products(packs)...)

	cart, err := rulepack.LoadCart(cartFile, products)
	if err != nil {
		return err
	}
	snap, err := pricing.NewSnapshot(rules...)
	if err != nil {
		return err
	}
	res, err := pricing.Resolve(cart, products, snap, now)
	if err != nil {
		return err
	}
	return printResolution(w, res)
}

func printResolution(w io.Writer, res *pricing.Resolution) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "line\tproduct\tqty\tunit\tsubtotal\tdiscount\ttotal\t\n")
	for _, l := range res.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t\n", l.Index, l.ProductID, l.Quantity,
			l.UnitPrice.StringFixed(2), l.Subtotal.StringFixed(2), l.Discount.StringFixed(2), l.Total.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, a := range res.Applications {
		lines := make([]int, 0, len(a.ConsumedByLine))
		for idx := range a.ConsumedByLine {
			lines = append(lines, idx)
		}
		sort.Ints(lines)
		fmt.Fprintf(w, "%-12s %-30s x%d  -%s  lines %v\n",
			a.Kind, a.RuleName, a.TimesApplied, a.Discount.StringFixed(2), lines)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "unresolved line %d (%s): %s\n", f.Index, f.ProductID, f.Reason)
	}

	_, err := fmt.Fprintf(w, "\nsubtotal %s  discount %s  total %s  at %s\n",
		res.Subtotal.StringFixed(2), res.TotalDiscount.StringFixed(2), res.FinalTotal.StringFixed(2),
		res.ResolvedAt.Format(time.RFC1123))
	return err
}
