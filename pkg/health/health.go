// Package health serves liveness and readiness probes.
//
// Checks run in the background on a fixed interval and flip state only after
// a run of consecutive results, so one slow ping does not take a pod out of
// rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind tells which probe a check contributes to.
type Kind string

const (
	Liveness  Kind = "liveness"
	Readiness Kind = "readiness"
)

// CheckOption tunes a registered check.
type CheckOption func(*check)

// WithThresholds sets how many consecutive failures mark the check unhealthy
// and how many consecutive successes recover it.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

type check struct {
	name             string
	kind             Kind
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Owned by the goroutine that calls run.
	fails, oks int
}

// run executes the check once. Not safe for concurrent use.
func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	if err == nil {
		c.fails = 0
		c.oks++
		c.lastErr.Store(nil)
		if c.oks >= c.successThreshold && !c.healthy.Swap(true) {
			zctx.From(ctx).Info("Health check recovered", zap.String("check", c.name))
		}
		return
	}

	msg := err.Error()
	c.lastErr.Store(&msg)
	c.oks = 0
	c.fails++
	if c.fails >= c.failureThreshold && c.healthy.Swap(false) {
		zctx.From(ctx).Warn("Health check failing",
			zap.String("check", c.name),
			zap.String("kind", string(c.kind)),
			zap.Error(err),
		)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if msg := c.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "unhealthy", true
}

// Health holds the registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check. Checks start healthy.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	c := &check{
		name:             name,
		kind:             kind,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// AddLivenessCheck registers a liveness check with default thresholds.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Liveness, name, timeout, fn)
}

// AddReadinessCheck registers a readiness check with default thresholds.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Readiness, name, timeout, fn)
}

func (h *Health) snapshot(kind Kind) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*check
	for _, c := range h.checks {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Start runs every check immediately and then once per interval, each in
// its own goroutine, until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	checks := append([]*check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		}()
	}
}

// Stop halts the background checks. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch, typically false on shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(Readiness))) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(Liveness)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(Readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, failed)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg, failed := c.failure(); failed {
			out[c.name] = msg
		}
	}
	return out
}

// writeStatus renders {"status":"ok"} or {"status":"unhealthy","checks":{...}}.
func writeStatus(w http.ResponseWriter, failed map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failed) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(names) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
