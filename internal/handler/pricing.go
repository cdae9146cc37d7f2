package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

// Resolve prices a cart without side effects.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.readCart(w, r)
	if !ok {
		return
	}
	res, err := h.pricer.Preview(r.Context(), cart)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJX(w, http.StatusOK, func(e *jx.Encoder) { encodeResolution(e, res) })
}

// CompleteSale prices a cart and records it as a sale.
func (h *Handler) CompleteSale(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.readCart(w, r)
	if !ok {
		return
	}
	res, err := h.sales.Complete(r.Context(), cart)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJX(w, http.StatusCreated, func(e *jx.Encoder) { encodeSale(e, res) })
}

type happyHoursResponse struct {
	At    time.Time      `json:"at"`
	Rules []pricing.Rule `json:"rules"`
}

// ActiveHappyHours lists the happy hours running now.
func (h *Handler) ActiveHappyHours(w http.ResponseWriter, r *http.Request) {
	rules, err := h.pricer.ActiveHappyHours(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if rules == nil {
		rules = []pricing.Rule{}
	}
	writeJSON(w, http.StatusOK, happyHoursResponse{At: h.pricer.Now(), Rules: rules})
}

func (h *Handler) readCart(w http.ResponseWriter, r *http.Request) (pricing.Cart, bool) {
	body, err := readBody(r)
	if err != nil {
		badRequest(w, err)
		return pricing.Cart{}, false
	}
	cart, err := decodeCart(body)
	if err != nil {
		badRequest(w, err)
		return pricing.Cart{}, false
	}
	return cart, true
}
