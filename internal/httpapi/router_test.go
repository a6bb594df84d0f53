// router_test.go
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Acidburn1824/smart-heating/internal/advisor"
	"github.com/Acidburn1824/smart-heating/internal/config"
	"github.com/Acidburn1824/smart-heating/internal/engine"
	"github.com/Acidburn1824/smart-heating/internal/feedback"
	"github.com/Acidburn1824/smart-heating/internal/metrics"
	"github.com/Acidburn1824/smart-heating/internal/model"
	"github.com/Acidburn1824/smart-heating/internal/store"
)

type stubSource struct{ obs model.Observation }

func (s stubSource) Latest(context.Context, string) (model.Observation, bool, error) {
	return s.obs, true, nil
}

type stubPublisher struct{ published []model.Command }

func (p *stubPublisher) Publish(_ context.Context, _ string, cmd model.Command) error {
	p.published = append(p.published, cmd)
	return nil
}
func (p *stubPublisher) Close() {}

func testServer(t *testing.T) *Server {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))

	props := filepath.Join(t.TempDir(), "zones.properties")
	body := "zones=zone-A\nmargin=1.2\nschedule.zone-A=06:30=20.5 22:30=17\n"
	if err := os.WriteFile(props, []byte(body), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("PROPERTIES_PATH", props)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	cfg, err := config.LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	st, err := store.New(cfg.DataDir, lg)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	advCfg := advisor.Config{Provider: "none", Hours: []int{9, 16}}
	gw := advisor.NewGateway(advisor.NewProvider(advCfg), advCfg, lg)
	cal := feedback.New(feedback.DefaultParams(), lg)
	met := metrics.New()

	indoor := 18.0
	eng, err := engine.New(cfg, lg, stubSource{obs: model.Observation{ZoneID: "zone-A", TempIndoor: &indoor}},
		&stubPublisher{}, cal, gw, st, met)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return NewServer(cfg, eng, met, lg)
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestStatusEndpointReportsZones(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Zones map[string]engine.ZoneStatus `json:"zones"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	z, ok := body.Zones["zone-A"]
	if !ok {
		t.Fatalf("zone-A missing: %s", rec.Body.String())
	}
	if z.State != engine.StateLearning {
		t.Fatalf("state=%s want learning for a fresh zone", z.State)
	}
	if z.Margin != 1.2 {
		t.Fatalf("margin=%.2f want 1.2", z.Margin)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestResetUnknownZoneIs404(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/zones/nope/sessions/reset")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
}

func TestResetKnownZone(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/zones/zone-A/sessions/reset")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRecalculateReturnsDecision(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/zones/zone-A/recalculate")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var d engine.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.ZoneID != "zone-A" {
		t.Fatalf("decision=%+v", d)
	}
}

func TestForcedAdvisorCall(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/zones/zone-A/advisor/call?context=evening")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp advisor.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != "none" {
		t.Fatalf("provider=%q want none", resp.Provider)
	}
}

func TestAdvisorCallUnknownZoneIs404(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/zones/nope/advisor/call")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
}

func TestConfigReload(t *testing.T) {
	rec := do(t, testServer(t), http.MethodPost, "/config/reload")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowedOnActions(t *testing.T) {
	rec := do(t, testServer(t), http.MethodGet, "/zones/zone-A/sessions/reset")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want 405", rec.Code)
	}
}
