// router.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/Acidburn1824/smart-heating/internal/config"
	"github.com/Acidburn1824/smart-heating/internal/engine"
	"github.com/Acidburn1824/smart-heating/internal/metrics"
	"github.com/Acidburn1824/smart-heating/internal/model"
)

// Server exposes the operator surface: health, status, metrics, and the
// per-zone actions (advisor call, session reset, recalculate).
type Server struct {
	cfg  *config.App
	eng  *engine.Engine
	lg   *slog.Logger
	http *http.Server
}

func NewServer(cfg *config.App, eng *engine.Engine, met *metrics.Metrics, lg *slog.Logger) *Server {
	s := &Server{cfg: cfg, eng: eng, lg: lg}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.getHealth).Methods("GET")
	r.HandleFunc("/status", s.getStatus).Methods("GET")
	r.Handle("/metrics", met.Handler()).Methods("GET")
	r.HandleFunc("/config/reload", s.postReload).Methods("POST")
	r.HandleFunc("/zones/{zone}/advisor/call", s.postAdvisorCall).Methods("POST")
	r.HandleFunc("/zones/{zone}/sessions/reset", s.postReset).Methods("POST")
	r.HandleFunc("/zones/{zone}/recalculate", s.postRecalculate).Methods("POST")

	logged := handlers.LoggingHandler(os.Stdout, r)
	s.http = &http.Server{Addr: cfg.HTTPBind, Handler: logged}
	return s
}

func (s *Server) Start() error {
	s.lg.Info("http start", "bind", s.cfg.HTTPBind)
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.lg.Info("http stop")
	return s.http.Shutdown(ctx)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type statusPayload struct {
	Stats model.Stats                  `json:"stats"`
	Zones map[string]engine.ZoneStatus `json:"zones"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusPayload{
		Stats: s.eng.Stats(),
		Zones: s.eng.Status(),
	})
}

func (s *Server) postReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.ReloadProperties(); err != nil {
		s.lg.Error("config reload", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "reloaded"})
}

func (s *Server) postAdvisorCall(w http.ResponseWriter, r *http.Request) {
	zone := mux.Vars(r)["zone"]
	callContext := r.URL.Query().Get("context")
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	resp, err := s.eng.ForceAdvisorCall(ctx, zone, callContext)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postReset(w http.ResponseWriter, r *http.Request) {
	zone := mux.Vars(r)["zone"]
	if err := s.eng.ResetZone(zone); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "reset", "zone": zone})
}

func (s *Server) postRecalculate(w http.ResponseWriter, r *http.Request) {
	zone := mux.Vars(r)["zone"]
	d, err := s.eng.Recalculate(r.Context(), zone)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrUnknownZone) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
