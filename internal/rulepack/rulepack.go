// Package rulepack reads YAML rule packs, product catalogs and carts from
// disk. Files ending in .gz are decompressed on the fly.
//
// A pack looks like:
//
//	products:
//	  - {id: wine-red, name: Shiraz, category_id: wine, brand: Penfolds, price: "15.00"}
//	rules:
//	  - id: friday-wine
//	    name: Friday wine hour
//	    kind: happy_hour
//	    active: true
//	    scope: {category_ids: [wine]}
//	    happy_hour: {days: fri, window: {start: "16:00", end: "19:00"}, applies_to: category, discount_type: percentage, value: "20"}
package rulepack

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/xenking/pos-pricing/internal/domain/catalog"
	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

// Pack is one rule pack document.
type Pack struct {
	// Source is the file the pack was read from.
	Source   string            `yaml:"-"`
	Products []catalog.Product `yaml:"products"`
	Rules    []pricing.Rule    `yaml:"rules"`
}

// Decode parses a pack. Unknown fields are rejected so typos in rule
// documents do not silently disable a discount.
func Decode(r io.Reader) (*Pack, error) {
	var p Pack
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, errors.Wrap(err, "decode pack")
	}
	return &p, nil
}

// Open opens path for reading, transparently gunzipping .gz files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".gz") {
		return f, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*pgzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

// Load reads the pack at path.
func Load(path string) (*Pack, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	p, err := Decode(rc)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	p.Source = path
	return p, nil
}

// LoadAll reads the packs concurrently, keeping the order of paths.
func LoadAll(ctx context.Context, paths []string) ([]*Pack, error) {
	packs := make([]*Pack, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := Load(path)
			if err != nil {
				return err
			}
			packs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return packs, nil
}

// Rules validates every rule of the packs and returns them in pack order.
// Rule ids must be set and unique across all packs.
func Rules(packs []*Pack) ([]pricing.Rule, error) {
	var out []pricing.Rule
	for _, p := range packs {
		for i := range p.Rules {
			r := p.Rules[i]
			if r.ID == "" {
				return nil, errors.Errorf("%s: rules[%d]: id is required", p.Source, i)
			}
			if err := r.Validate(); err != nil {
				return nil, errors.Wrapf(err, "%s", p.Source)
			}
			out = append(out, r)
		}
	}
	if dup := DuplicateIDs(packs); len(dup) > 0 {
		return nil, errors.Errorf("duplicate rule ids: %s", strings.Join(dup, ", "))
	}
	return out, nil
}

// Products returns the products of every pack. Later packs win on id clash.
func Products(packs []*Pack) []catalog.Product {
	idx := make(map[string]int)
	var out []catalog.Product
	for _, p := range packs {
		for _, prod := range p.Products {
			if i, ok := idx[prod.ID]; ok {
				out[i] = prod
				continue
			}
			idx[prod.ID] = len(out)
			out = append(out, prod)
		}
	}
	return out
}

// cartDoc is the YAML form of a cart.
type cartDoc struct {
	CustomerTier string `yaml:"customer_tier"`
	Lines        []struct {
		ProductID string `yaml:"product_id"`
		Quantity  int    `yaml:"quantity"`
		UnitPrice string `yaml:"unit_price"`
		CasePrice bool   `yaml:"case_price"`
	} `yaml:"lines"`
}

// LoadCart reads a cart from a YAML file. A line without unit_price is
// priced from catalog.
func LoadCart(path string, lookup catalog.Lookup) (pricing.Cart, error) {
	rc, err := Open(path)
	if err != nil {
		return pricing.Cart{}, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return pricing.Cart{}, errors.Wrapf(err, "read %s", path)
	}
	return decodeCart(data, lookup)
}

func decodeCart(data []byte, lookup catalog.Lookup) (pricing.Cart, error) {
	var doc cartDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return pricing.Cart{}, errors.Wrap(err, "decode cart")
	}

	cart := pricing.Cart{CustomerTier: doc.CustomerTier}
	for i, l := range doc.Lines {
		line := pricing.Line{ProductID: l.ProductID, Quantity: l.Quantity, CasePrice: l.CasePrice}
		switch {
		case l.UnitPrice != "":
			if err := line.UnitPrice.UnmarshalText([]byte(l.UnitPrice)); err != nil {
				return pricing.Cart{}, errors.Wrapf(err, "lines[%d].unit_price", i)
			}
		case lookup != nil:
			if p, ok := lookup.Lookup(l.ProductID); ok {
				line.UnitPrice = p.Price
			}
		}
		cart.Lines = append(cart.Lines, line)
	}
	return cart, nil
}
