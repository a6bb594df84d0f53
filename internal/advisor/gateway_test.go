// gateway_test.go
package advisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubProvider struct {
	resp  Response
	err   error
	delay time.Duration
	calls int
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func (p *stubProvider) GetAdjustment(ctx context.Context, _ Snapshot, _ string) (Response, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return p.resp, p.err
}

func gatewayWith(p Provider, timeout time.Duration) *Gateway {
	return NewGateway(p, Config{Timeout: timeout, Hours: []int{9, 16}, MinConfidence: 0.2}, discard())
}

func TestCallCachesSuccessfulResponse(t *testing.T) {
	p := &stubProvider{resp: Response{MarginAdjustment: 0.08, Confidence: 0.9, Provider: "stub", Timestamp: time.Now()}}
	g := gatewayWith(p, time.Second)

	resp := g.Call(context.Background(), Snapshot{ZoneID: "zone-A"}, ContextMorning)
	if resp.MarginAdjustment != 0.08 {
		t.Fatalf("adjustment=%.3f want 0.08", resp.MarginAdjustment)
	}
	cached, ok := g.Cached("zone-A")
	if !ok || cached.MarginAdjustment != 0.08 {
		t.Fatalf("cached=%+v ok=%v", cached, ok)
	}
}

func TestCallTimeoutFallsBackToZeroWithinBound(t *testing.T) {
	p := &stubProvider{delay: 5 * time.Second}
	g := gatewayWith(p, 50*time.Millisecond)

	begin := time.Now()
	resp := g.Call(context.Background(), Snapshot{ZoneID: "zone-A"}, ContextMorning)
	elapsed := time.Since(begin)

	if elapsed > time.Second {
		t.Fatalf("fallback took %v, timeout not enforced", elapsed)
	}
	if resp.MarginAdjustment != 0 || resp.Err == "" {
		t.Fatalf("fallback=%+v want zero adjustment with error", resp)
	}
	if _, fallbacks := g.Counters(); fallbacks != 1 {
		t.Fatalf("fallbacks=%d want 1", fallbacks)
	}
	// Failures must not poison the cache.
	if _, ok := g.Cached("zone-A"); ok {
		t.Fatal("fallback response was cached")
	}
}

func TestCallProviderErrorFallsBack(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	g := gatewayWith(p, time.Second)
	resp := g.Call(context.Background(), Snapshot{ZoneID: "zone-A"}, ContextEvening)
	if resp.MarginAdjustment != 0 || resp.Confidence != 0 {
		t.Fatalf("fallback=%+v want zeroes", resp)
	}
}

func TestAdjustmentRequiresFreshConfidentAdvice(t *testing.T) {
	g := gatewayWith(&stubProvider{}, time.Second)
	now := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

	// Fresh and confident: used.
	g.Restore("zone-A", Response{MarginAdjustment: 0.1, Confidence: 0.8, Timestamp: now.Add(-30 * time.Minute)})
	if got := g.Adjustment("zone-A", now); got != 0.1 {
		t.Fatalf("adjustment=%v want 0.1", got)
	}

	// Low confidence: ignored.
	g.Restore("zone-B", Response{MarginAdjustment: 0.1, Confidence: 0.1, Timestamp: now.Add(-30 * time.Minute)})
	if got := g.Adjustment("zone-B", now); got != 0 {
		t.Fatalf("low-confidence adjustment=%v want 0", got)
	}

	// Predates the 09:00 slot: stale.
	g.Restore("zone-C", Response{MarginAdjustment: 0.1, Confidence: 0.8, Timestamp: now.Add(-2 * time.Hour)})
	if got := g.Adjustment("zone-C", now); got != 0 {
		t.Fatalf("stale adjustment=%v want 0", got)
	}

	// Error-carrying advice: ignored.
	g.Restore("zone-D", Response{MarginAdjustment: 0.1, Confidence: 0.8, Timestamp: now.Add(-30 * time.Minute), Err: "timeout"})
	if got := g.Adjustment("zone-D", now); got != 0 {
		t.Fatalf("errored adjustment=%v want 0", got)
	}
}

func TestRefreshIfDueSkipsFreshCache(t *testing.T) {
	p := &stubProvider{resp: Response{Confidence: 0.9}}
	g := gatewayWith(p, time.Second)
	now := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

	g.Restore("zone-A", Response{Confidence: 0.9, Timestamp: now.Add(-30 * time.Minute)})
	if cc := g.RefreshIfDue(context.Background(), Snapshot{ZoneID: "zone-A"}, now); cc != "" {
		t.Fatalf("refresh ran on fresh cache: context=%q", cc)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times for fresh cache", p.calls)
	}
}

func TestRefreshIfDuePicksContextFromSlot(t *testing.T) {
	p := &stubProvider{resp: Response{Confidence: 0.9, Timestamp: time.Now()}}
	g := gatewayWith(p, time.Second)

	morning := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)
	if cc := g.RefreshIfDue(context.Background(), Snapshot{ZoneID: "zone-A"}, morning); cc != ContextMorning {
		t.Fatalf("context=%q want morning after the 09:00 slot", cc)
	}

	evening := time.Date(2026, 1, 12, 17, 0, 0, 0, time.UTC)
	if cc := g.RefreshIfDue(context.Background(), Snapshot{ZoneID: "zone-B"}, evening); cc != ContextEvening {
		t.Fatalf("context=%q want evening after the 16:00 slot", cc)
	}
}

func TestParseResponseClampsAndStripsFences(t *testing.T) {
	raw := "```json\n{\"margin_adjustment\": 0.9, \"confidence\": 1.7, \"reasoning\": \"cold snap\"}\n```"
	resp, err := parseResponse(raw, "stub", "stub-model")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.MarginAdjustment != MaxAdjustment {
		t.Fatalf("adjustment=%.3f want clamped to %.2f", resp.MarginAdjustment, MaxAdjustment)
	}
	if resp.Confidence != 1.0 {
		t.Fatalf("confidence=%.2f want clamped to 1.0", resp.Confidence)
	}
	if resp.Reasoning != "cold snap" {
		t.Fatalf("reasoning=%q", resp.Reasoning)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	if _, err := parseResponse("the margin should probably go up a bit", "stub", "stub-model"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err=%v want ErrMalformed", err)
	}
}

func TestParseResponseClampsNegative(t *testing.T) {
	resp, err := parseResponse(`{"margin_adjustment": -0.5, "confidence": -2, "reasoning": ""}`, "stub", "stub-model")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.MarginAdjustment != MinAdjustment {
		t.Fatalf("adjustment=%.3f want clamped to %.2f", resp.MarginAdjustment, MinAdjustment)
	}
	if resp.Confidence != 0 {
		t.Fatalf("confidence=%.2f want clamped to 0", resp.Confidence)
	}
}

func TestParseResponseTruncatesReasoningOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 250)
	resp, err := parseResponse(`{"margin_adjustment": 0.05, "confidence": 0.8, "reasoning": "`+long+`"}`, "stub", "stub-model")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !utf8.ValidString(resp.Reasoning) {
		t.Fatalf("reasoning is not valid UTF-8: %q", resp.Reasoning)
	}
	if got := utf8.RuneCountInString(resp.Reasoning); got != 200 {
		t.Fatalf("reasoning runes=%d want 200", got)
	}
}
