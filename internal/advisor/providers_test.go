// providers_test.go
package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

func TestNoneProviderHeuristic(t *testing.T) {
	cases := []struct {
		name    string
		outdoor float64
		want    float64
	}{
		{"severe cold", -8, 0.10},
		{"cold", -2, 0.05},
		{"normal", 3, 0},
		{"mild", 9, -0.03},
		{"warm", 15, -0.05},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := tc.outdoor
			resp, err := NoneProvider{}.GetAdjustment(context.Background(), Snapshot{TempOutdoor: &out}, ContextMorning)
			if err != nil {
				t.Fatalf("none provider: %v", err)
			}
			if resp.MarginAdjustment != tc.want {
				t.Fatalf("adjustment=%.3f want %.3f", resp.MarginAdjustment, tc.want)
			}
			if resp.Confidence != 0.6 {
				t.Fatalf("confidence=%.2f want 0.6", resp.Confidence)
			}
		})
	}
}

func TestNoneProviderSnowSupplement(t *testing.T) {
	out := 3.0
	snap := Snapshot{
		TempOutdoor: &out,
		Forecast: []model.ForecastEntry{
			{Time: "2026-01-12T18:00", Condition: "snowy", TempLow: -3, TempHigh: 1},
		},
	}
	resp, err := NoneProvider{}.GetAdjustment(context.Background(), snap, ContextEvening)
	if err != nil {
		t.Fatalf("none provider: %v", err)
	}
	if resp.MarginAdjustment != 0.05 {
		t.Fatalf("adjustment=%.3f want 0.05 (snow supplement on neutral base)", resp.MarginAdjustment)
	}
}

func TestOllamaProviderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path=%s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["stream"] != false {
			t.Errorf("stream=%v want false", req["stream"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"response": `{"margin_adjustment": 0.05, "confidence": 0.7, "reasoning": "cold front"}`,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	resp, err := p.GetAdjustment(context.Background(), Snapshot{ZoneID: "zone-A"}, ContextMorning)
	if err != nil {
		t.Fatalf("get adjustment: %v", err)
	}
	if resp.MarginAdjustment != 0.05 || resp.Confidence != 0.7 {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Provider != "ollama" || resp.Model != "test-model" {
		t.Fatalf("attribution=%s/%s", resp.Provider, resp.Model)
	}
}

func TestOpenAIProviderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization=%q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"content": "```json\n{\"margin_adjustment\": -0.04, \"confidence\": 0.85, \"reasoning\": \"mild week\"}\n```",
				}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "gpt-test")
	resp, err := p.GetAdjustment(context.Background(), Snapshot{ZoneID: "zone-A"}, ContextEvening)
	if err != nil {
		t.Fatalf("get adjustment: %v", err)
	}
	if resp.MarginAdjustment != -0.04 || resp.Confidence != 0.85 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestOpenAIProviderEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "gpt-test")
	if _, err := p.GetAdjustment(context.Background(), Snapshot{}, ContextMorning); err == nil {
		t.Fatal("empty choices must error")
	}
}

func TestDelegateProviderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["zone"] != "zone-A" || req["context"] != ContextEvening {
			t.Errorf("request=%+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"response": `{"margin_adjustment": 0.02, "confidence": 0.5, "reasoning": "host says mild"}`,
		})
	}))
	defer srv.Close()

	p := NewDelegateProvider(srv.URL)
	resp, err := p.GetAdjustment(context.Background(), Snapshot{ZoneID: "zone-A"}, ContextEvening)
	if err != nil {
		t.Fatalf("get adjustment: %v", err)
	}
	if resp.MarginAdjustment != 0.02 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestProviderHTTPErrorSurfacesToGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	if _, err := p.GetAdjustment(context.Background(), Snapshot{}, ContextMorning); err == nil {
		t.Fatal("HTTP 503 must error")
	}
}

func TestNewProviderFactoryFallsBackToNone(t *testing.T) {
	for _, name := range []string{"", "none", "something-new"} {
		p := NewProvider(Config{Provider: name})
		if p.Name() != "none" {
			t.Fatalf("provider %q resolved to %s", name, p.Name())
		}
	}
	if p := NewProvider(Config{Provider: "ollama"}); p.Name() != "ollama" {
		t.Fatalf("ollama resolved to %s", p.Name())
	}
}
