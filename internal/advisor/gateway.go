// gateway.go
package advisor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/breaker"
)

// DefaultTimeout bounds every networked advisor call.
const DefaultTimeout = 10 * time.Second

// Config selects and tunes the active provider for the service.
type Config struct {
	Provider      string // none | ollama | openai | anthropic | delegate
	Model         string
	URL           string
	APIKey        string
	Timeout       time.Duration
	Hours         []int   // scheduled call slots (hours of day)
	MinConfidence float64 // cached advice below this counts as no advice
}

// NewProvider builds the configured provider variant. Unknown names fall
// back to the algorithmic one, which is always safe.
func NewProvider(cfg Config) Provider {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(cfg.URL, cfg.Model)
	case "openai":
		return NewOpenAIProvider(cfg.URL, cfg.APIKey, cfg.Model)
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model)
	case "delegate":
		return NewDelegateProvider(cfg.URL)
	default:
		return NoneProvider{}
	}
}

// Gateway is the single entry point the engine uses for margin advice. All
// calls are timeout-bounded, breaker-guarded, and fall back to a
// zero-adjustment response; nothing here can fail an anticipation cycle.
type Gateway struct {
	provider      Provider
	timeout       time.Duration
	hours         []int
	minConfidence float64
	brk           *breaker.Breaker
	lg            *slog.Logger

	mu    sync.Mutex
	cache map[string]Response

	calls     int64
	fallbacks int64
}

func NewGateway(p Provider, cfg Config, lg *slog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hours := append([]int(nil), cfg.Hours...)
	sort.Ints(hours)
	if len(hours) == 0 {
		hours = []int{9, 16}
	}
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = 0.2
	}
	return &Gateway{
		provider:      p,
		timeout:       timeout,
		hours:         hours,
		minConfidence: minConf,
		brk:           breaker.New("advisor-"+p.Name(), breaker.DefaultConfig(), lg),
		lg:            lg,
		cache:         map[string]Response{},
	}
}

// Adjustment is the tick-path read: the cached margin adjustment for the
// zone, or zero when there is no fresh, confident advice. Never blocks.
func (g *Gateway) Adjustment(zoneID string, now time.Time) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.cache[zoneID]
	if !ok || r.Err != "" || r.Confidence < g.minConfidence || !g.fresh(r.Timestamp, now) {
		return 0
	}
	return r.MarginAdjustment
}

// Cached exposes the last advice for status reporting, fresh or not.
func (g *Gateway) Cached(zoneID string) (Response, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.cache[zoneID]
	return r, ok
}

// Restore seeds the cache from persisted state.
func (g *Gateway) Restore(zoneID string, r Response) {
	g.mu.Lock()
	g.cache[zoneID] = r
	g.mu.Unlock()
}

// Call performs one advisor call for a zone, bypassing the cache, and stores
// the result on success. On timeout, transport error, malformed output, or
// an open breaker it returns a zero-adjustment fallback and records the
// failure; the error never reaches the decision path.
func (g *Gateway) Call(ctx context.Context, snap Snapshot, callContext string) Response {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var resp Response
	err := g.brk.Execute(cctx, func(ctx context.Context) error {
		var err error
		resp, err = g.provider.GetAdjustment(ctx, snap, callContext)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		g.lg.Warn("advisor fallback",
			"zone", snap.ZoneID,
			"provider", g.provider.Name(),
			"context", callContext,
			"error", err)
		g.mu.Lock()
		g.fallbacks++
		g.mu.Unlock()
		return Response{
			Provider:  g.provider.Name(),
			Model:     g.provider.Model(),
			Timestamp: time.Now(),
			Reasoning: "advice unavailable",
			Err:       err.Error(),
		}
	}

	g.lg.Info("advisor response",
		"zone", snap.ZoneID,
		"provider", g.provider.Name(),
		"context", callContext,
		"adjustment", resp.MarginAdjustment,
		"confidence", resp.Confidence,
		"reasoning", resp.Reasoning)
	g.mu.Lock()
	g.cache[snap.ZoneID] = resp
	g.mu.Unlock()
	return resp
}

// RefreshIfDue runs the scheduled call for a zone when the cache predates
// the most recent call slot. Returns the call context used, or "" when the
// cache was still fresh.
func (g *Gateway) RefreshIfDue(ctx context.Context, snap Snapshot, now time.Time) string {
	g.mu.Lock()
	r, ok := g.cache[snap.ZoneID]
	stale := !ok || !g.fresh(r.Timestamp, now)
	g.mu.Unlock()
	if !stale {
		return ""
	}
	slot, ok := g.lastSlot(now)
	if !ok {
		return ""
	}
	callContext := ContextMorning
	if slot.Hour() >= 12 {
		callContext = ContextEvening
	}
	g.Call(ctx, snap, callContext)
	return callContext
}

// Counters reports call/fallback totals for /status and metrics.
func (g *Gateway) Counters() (calls, fallbacks int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.fallbacks
}

// fresh: a response is fresh until the next scheduled slot after it was
// produced.
func (g *Gateway) fresh(ts, now time.Time) bool {
	slot, ok := g.lastSlot(now)
	if !ok {
		return true
	}
	return !ts.Before(slot)
}

// lastSlot finds the most recent slot time at or before now.
func (g *Gateway) lastSlot(now time.Time) (time.Time, bool) {
	if len(g.hours) == 0 {
		return time.Time{}, false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := len(g.hours) - 1; i >= 0; i-- {
		slot := day.Add(time.Duration(g.hours[i]) * time.Hour)
		if !slot.After(now) {
			return slot, true
		}
	}
	// Before the first slot today: yesterday's last slot.
	return day.AddDate(0, 0, -1).Add(time.Duration(g.hours[len(g.hours)-1]) * time.Hour), true
}
