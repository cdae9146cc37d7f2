// Package handler exposes pricing, sales and rule management over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
	"github.com/xenking/pos-pricing/internal/domain/sale"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Pricer resolves carts and reports running happy hours.
type Pricer interface {
	Preview(ctx context.Context, cart pricing.Cart) (*pricing.Resolution, error)
	ActiveHappyHours(ctx context.Context) ([]pricing.Rule, error)
	Now() time.Time
}

// SaleCompleter completes sales.
type SaleCompleter interface {
	Complete(ctx context.Context, cart pricing.Cart) (*sale.CompleteResult, error)
}

// RuleManager is the rule lifecycle.
type RuleManager interface {
	Create(ctx context.Context, r pricing.Rule) (*pricing.Rule, error)
	Update(ctx context.Context, r pricing.Rule) (*pricing.Rule, error)
	Deactivate(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*pricing.Rule, error)
	List(ctx context.Context, filter pricing.ListFilter) ([]pricing.Rule, error)
	RecordUsage(ctx context.Context, id string) (int, error)
}

// Handler serves the HTTP API.
type Handler struct {
	pricer Pricer
	sales  SaleCompleter
	rules  RuleManager
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(pricer Pricer, sales SaleCompleter, rules RuleManager) *Handler {
	return &Handler{pricer: pricer, sales: sales, rules: rules}
}

// Mount registers the API routes under /api.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/pricing", func(r chi.Router) {
			r.Post("/resolve", h.Resolve)
			r.Get("/happy-hours/active", h.ActiveHappyHours)
		})
		r.Post("/sales", h.CompleteSale)
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRule)
				r.Put("/", h.UpdateRule)
				r.Delete("/", h.DeactivateRule)
				r.Post("/activate", h.ActivateRule)
				r.Post("/usage", h.RecordUsage)
			})
		})
	})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
}

func writeJX(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJX(w, status, func(e *jx.Encoder) { encodeError(e, status, msg) })
}

// handleError maps domain errors to responses. Anything unknown is logged
// and reported as 500 without details.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *pricing.ValidationError
		notFoundErr   *pricing.NotFoundError
		configErr     *pricing.ConfigurationError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusUnprocessableEntity, notFoundErr.Error())
	case errors.As(err, &configErr):
		writeError(w, http.StatusUnprocessableEntity, configErr.Error())
	case errors.Is(err, pricing.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, pricing.ErrUsageLimitReached):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
}
