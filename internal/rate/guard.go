package rate

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked locally.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

type state struct {
	remaining   map[Window]int
	limits      map[Window]int
	budgetFloor map[Window]int
	buckets     map[Window]*bucket
	hasHeaders  map[Window]bool
	cooldown    time.Time
	lastStatus  int
}

// Guard enforces rate limits for one provider.
type Guard struct {
	decl Declaration
	mu   sync.Mutex
	// state is mutated under mu
	state state
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: NewGuard(decl),
	}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	st := state{
		remaining:   make(map[Window]int),
		limits:      make(map[Window]int),
		budgetFloor: make(map[Window]int),
		buckets:     make(map[Window]*bucket),
		hasHeaders:  make(map[Window]bool),
	}
	for window, limit := range decl.Limits() {
		st.limits[window] = limit
		st.remaining[window] = limit
		st.buckets[window] = &bucket{
			capacity: limit,
			tokens:   float64(limit),
			last:     time.Now(),
		}
	}
	for window, floor := range decl.BudgetFloors() {
		st.budgetFloor[window] = floor
	}

	return &Guard{decl: decl, state: st}
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall(time.Now())
	if !decision.Allowed {
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.decl.HasLimits() {
		return Decision{Allowed: true}
	}

	if !g.state.cooldown.IsZero() && now.Before(g.state.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.state.cooldown}
	}

	// Decide every window first, then commit: a rejection by one window
	// must not burn budget in another.
	var headerTracked, bucketTracked []Window
	for window, limit := range g.state.limits {
		if g.state.hasHeaders[window] {
			if g.state.remaining[window] <= g.state.budgetFloor[window] {
				return Decision{Allowed: false, Reason: "budget", RetryAt: g.state.cooldown}
			}
			headerTracked = append(headerTracked, window)
			continue
		}
		if limit <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		b := g.state.buckets[window]
		refillBucket(b, windowDuration(window), now)
		if b.tokens < 1 {
			retryAt := b.last.Add(windowDuration(window) / time.Duration(limit))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
		bucketTracked = append(bucketTracked, window)
	}

	for _, window := range headerTracked {
		g.state.remaining[window]--
	}
	for _, window := range bucketTracked {
		g.state.buckets[window].tokens--
	}

	return Decision{Allowed: true}
}

func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.lastStatus = status
	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))

	cfg := g.decl.Headers()
	now := time.Now()

	if retryAfter := headerInt(headers, cfg.RetryAfter); retryAfter > 0 {
		g.state.cooldown = now.Add(time.Duration(retryAfter) * time.Second)
		retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(retryAfter))
	}

	updateWindow := func(window Window, remaining, limit int) {
		if remaining < 0 {
			return
		}
		g.state.remaining[window] = remaining
		if limit > 0 {
			g.state.limits[window] = limit
		}
		g.state.hasHeaders[window] = true
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(float64(remaining))
	}

	updateWindow(Minute, headerInt(headers, cfg.RemainingMinute), headerInt(headers, cfg.LimitMinute))
	updateWindow(Hour, headerInt(headers, cfg.RemainingHour), headerInt(headers, cfg.LimitHour))
}

func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := h.Get(key)
	if val == "" {
		return -1
	}
	var out int
	if _, err := fmt.Sscanf(val, "%d", &out); err != nil {
		return -1
	}
	return out
}

func windowDuration(window Window) time.Duration {
	switch window {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func refillBucket(b *bucket, window time.Duration, now time.Time) {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
}
