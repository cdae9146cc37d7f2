package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/pos-pricing/internal/domain/pricing"
)

// ListRules lists rules, optionally filtered by ?kind= and ?active=true.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	filter := pricing.ListFilter{Kind: pricing.Kind(r.URL.Query().Get("kind"))}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}
	rules, err := h.rules.List(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if rules == nil {
		rules = []pricing.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := readRule(w, r)
	if !ok {
		return
	}
	created, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule replaces the rule named in the path; an id in the body is
// ignored.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := readRule(w, r)
	if !ok {
		return
	}
	rule.ID = chi.URLParam(r, "id")
	updated, err := h.rules.Update(r.Context(), rule)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Activate(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageResponse struct {
	RuleID      string `json:"rule_id"`
	CurrentUses int    `json:"current_uses"`
}

// RecordUsage counts one use of a usage limited rule outside a sale.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.rules.RecordUsage(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{RuleID: id, CurrentUses: n})
}

func readRule(w http.ResponseWriter, r *http.Request) (pricing.Rule, bool) {
	var rule pricing.Rule
	body, err := readBody(r)
	if err != nil {
		badRequest(w, err)
		return rule, false
	}
	if err := json.Unmarshal(body, &rule); err != nil {
		badRequest(w, err)
		return rule, false
	}
	return rule, true
}
