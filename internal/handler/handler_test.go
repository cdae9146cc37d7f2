package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
	"github.com/xenking/pos-pricing/internal/domain/sale"
)

var testNow = time.Date(2026, 3, 13, 17, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockPricer struct {
	lastCart pricing.Cart
	res      *pricing.Resolution
	happy    []pricing.Rule
	err      error
}

func (m *mockPricer) Preview(_ context.Context, cart pricing.Cart) (*pricing.Resolution, error) {
	m.lastCart = cart
	return m.res, m.err
}

func (m *mockPricer) ActiveHappyHours(context.Context) ([]pricing.Rule, error) {
	return m.happy, m.err
}

func (m *mockPricer) Now() time.Time { return testNow }

type mockSales struct {
	res   *sale.CompleteResult
	err   error
	calls int
}

func (m *mockSales) Complete(context.Context, pricing.Cart) (*sale.CompleteResult, error) {
	m.calls++
	return m.res, m.err
}

type mockRules struct {
	rules map[string]pricing.Rule
	uses  int
	err   error
}

func (m *mockRules) Create(_ context.Context, r pricing.Rule) (*pricing.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.ID = "new-id"
	m.rules[r.ID] = r
	return &r, nil
}

func (m *mockRules) Update(_ context.Context, r pricing.Rule) (*pricing.Rule, error) {
	if _, ok := m.rules[r.ID]; !ok {
		return nil, pricing.ErrRuleNotFound
	}
	m.rules[r.ID] = r
	return &r, nil
}

func (m *mockRules) setActive(id string, active bool) error {
	r, ok := m.rules[id]
	if !ok {
		return pricing.ErrRuleNotFound
	}
	r.Active = active
	m.rules[id] = r
	return nil
}

func (m *mockRules) Deactivate(_ context.Context, id string) error { return m.setActive(id, false) }
func (m *mockRules) Activate(_ context.Context, id string) error   { return m.setActive(id, true) }

func (m *mockRules) Get(_ context.Context, id string) (*pricing.Rule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, pricing.ErrRuleNotFound
	}
	return &r, nil
}

func (m *mockRules) List(_ context.Context, f pricing.ListFilter) ([]pricing.Rule, error) {
	var out []pricing.Rule
	for _, r := range m.rules {
		if (f.Kind == "" || r.Kind == f.Kind) && (!f.ActiveOnly || r.Active) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRules) RecordUsage(_ context.Context, id string) (int, error) {
	if _, ok := m.rules[id]; !ok {
		return 0, pricing.ErrRuleNotFound
	}
	if m.uses >= 1 {
		return 0, errors.Wrapf(pricing.ErrUsageLimitReached, "rule %q", id)
	}
	m.uses++
	return m.uses, nil
}

// --- Helpers ---

func promo() pricing.Rule {
	return pricing.Rule{
		ID:     "promo",
		Name:   "Ten off",
		Kind:   pricing.KindPromotion,
		Active: true,
		Promotion: &pricing.Promotion{
			AppliesTo:    pricing.TargetAll,
			DiscountType: pricing.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MaxUses:      1,
		},
	}
}

func sampleResolution() *pricing.Resolution {
	return &pricing.Resolution{
		Lines: []pricing.LineResult{{
			Index: 0, ProductID: "wine-red", Quantity: 2,
			UnitPrice: decimal.NewFromInt(15), Subtotal: decimal.NewFromInt(30),
			Discount: decimal.NewFromInt(3), Total: decimal.NewFromInt(27), Resolved: true,
		}},
		Applications: []pricing.Application{{
			RuleID: "promo", RuleName: "Ten off", Kind: pricing.KindPromotion,
			TimesApplied: 1, ConsumedByLine: map[int]int{0: 2}, Discount: decimal.NewFromInt(3),
		}},
		Subtotal:      decimal.NewFromInt(30),
		TotalDiscount: decimal.NewFromInt(3),
		FinalTotal:    decimal.NewFromInt(27),
		ResolvedAt:    testNow,
	}
}

type testEnv struct {
	pricer *mockPricer
	sales  *mockSales
	rules  *mockRules
	router chi.Router
}

func newTestEnv() *testEnv {
	env := &testEnv{
		pricer: &mockPricer{res: sampleResolution()},
		sales:  &mockSales{},
		rules:  &mockRules{rules: map[string]pricing.Rule{"promo": promo()}},
	}
	env.router = chi.NewRouter()
	NewHandler(env.pricer, env.sales, env.rules).Mount(env.router)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

// --- Tests ---

func TestResolve(t *testing.T) {
	env := newTestEnv()

	rec, body := env.do(t, http.MethodPost, "/api/pricing/resolve",
		`{"customer_tier":"gold","lines":[{"product_id":"wine-red","quantity":2,"unit_price":15,"case_price":true,"note":"x"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	cart := env.pricer.lastCart
	assert.Equal(t, "gold", cart.CustomerTier)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assert.True(t, cart.Lines[0].UnitPrice.Equal(decimal.NewFromInt(15)))
	assert.True(t, cart.Lines[0].CasePrice)

	assert.Equal(t, "30.00", body["subtotal"])
	assert.Equal(t, "3.00", body["total_discount"])
	assert.Equal(t, "27.00", body["final_total"])
	apps := body["applications"].([]any)
	require.Len(t, apps, 1)
	app := apps[0].(map[string]any)
	assert.Equal(t, "promo", app["rule_id"])
	assert.Equal(t, []any{map[string]any{"line": float64(0), "quantity": float64(2)}}, app["consumed"])
	_, hasFailures := body["failures"]
	assert.False(t, hasFailures)
}

func TestResolve_StringPrice(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodPost, "/api/pricing/resolve",
		`{"lines":[{"product_id":"cheese","quantity":1,"unit_price":"8.25"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8.25", env.pricer.lastCart.Lines[0].UnitPrice.String())
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{name: "malformed body", body: `{"lines":[`, wantCode: http.StatusBadRequest},
		{name: "price not a number", body: `{"lines":[{"unit_price":true}]}`, wantCode: http.StatusBadRequest},
		{
			name:     "validation",
			body:     `{"lines":[]}`,
			err:      &pricing.ValidationError{Line: -1, Field: "lines", Reason: "must not be empty"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "nothing resolvable",
			body:     `{"lines":[{"product_id":"ghost","quantity":1,"unit_price":1}]}`,
			err:      &pricing.NotFoundError{ProductIDs: []string{"ghost"}},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "infrastructure",
			body:     `{"lines":[{"product_id":"x","quantity":1,"unit_price":1}]}`,
			err:      errors.New("connection refused"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.pricer.err = tt.err

			rec, body := env.do(t, http.MethodPost, "/api/pricing/resolve", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, float64(tt.wantCode), body["code"])
			if tt.wantCode == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["message"])
			}
		})
	}
}

func TestMissingUnitPrice(t *testing.T) {
	for _, path := range []string{"/api/pricing/resolve", "/api/sales"} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv()

			rec, body := env.do(t, http.MethodPost, path, `{"lines":[{"product_id":"wine-red","quantity":6}]}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body["message"], "lines[0]: unit_price is required")
			assert.Empty(t, env.pricer.lastCart.Lines)
			assert.Zero(t, env.sales.calls)
		})
	}
}

func TestCompleteSale(t *testing.T) {
	env := newTestEnv()
	env.sales.res = &sale.CompleteResult{
		Sale: &sale.Sale{
			ID:        "sale-1",
			Subtotal:  decimal.NewFromInt(30),
			Discount:  decimal.NewFromInt(3),
			Total:     decimal.NewFromInt(27),
			CreatedAt: testNow,
		},
		Resolution: sampleResolution(),
	}

	rec, body := env.do(t, http.MethodPost, "/api/sales",
		`{"lines":[{"product_id":"wine-red","quantity":2,"unit_price":15}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "sale-1", body["id"])
	assert.Equal(t, "27.00", body["total"])
	assert.Equal(t, "2026-03-13T17:00:00Z", body["created_at"])
	assert.Contains(t, body, "resolution")

	env.sales.err = errors.Wrap(pricing.ErrUsageLimitReached, "rule \"promo\"")
	rec, _ = env.do(t, http.MethodPost, "/api/sales",
		`{"lines":[{"product_id":"wine-red","quantity":2,"unit_price":15}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestActiveHappyHours(t *testing.T) {
	env := newTestEnv()

	rec, body := env.do(t, http.MethodGet, "/api/pricing/happy-hours/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["rules"])
	assert.Equal(t, "2026-03-13T17:00:00Z", body["at"])
}

func TestRules(t *testing.T) {
	env := newTestEnv()

	t.Run("get", func(t *testing.T) {
		rec, body := env.do(t, http.MethodGet, "/api/rules/promo", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Ten off", body["name"])

		rec, _ = env.do(t, http.MethodGet, "/api/rules/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("create", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/rules", `{
			"name": "Six wines",
			"kind": "mix_match",
			"active": true,
			"scope": {"category_ids": ["wine"]},
			"mix_match": {"quantity_required": 6, "discount_type": "percentage", "value": "10"}
		}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "new-id", body["id"])
	})

	t.Run("create invalid", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/rules",
			`{"name":"Broken","kind":"mix_match","mix_match":{"quantity_required":0,"discount_type":"percentage","value":"10"}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, body["message"], "quantity_required")
	})

	t.Run("update uses path id", func(t *testing.T) {
		r := promo()
		r.ID = "ignored"
		r.Name = "Fifteen off"
		data, err := json.Marshal(r)
		require.NoError(t, err)

		rec, body := env.do(t, http.MethodPut, "/api/rules/promo", string(data))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "promo", body["id"])
		assert.Equal(t, "Fifteen off", env.rules.rules["promo"].Name)
	})

	t.Run("deactivate and activate", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodDelete, "/api/rules/promo", "")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, env.rules.rules["promo"].Active)

		rec, _ = env.do(t, http.MethodPost, "/api/rules/promo/activate", "")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, env.rules.rules["promo"].Active)
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rules?kind=promotion&active=true", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var rules []pricing.Rule
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
		require.Len(t, rules, 1)
		assert.Equal(t, "promo", rules[0].ID)

		rec = httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rules?active=maybe", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("usage", func(t *testing.T) {
		rec, body := env.do(t, http.MethodPost, "/api/rules/promo/usage", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), body["current_uses"])

		rec, _ = env.do(t, http.MethodPost, "/api/rules/promo/usage", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
