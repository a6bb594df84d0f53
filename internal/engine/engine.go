// engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/advisor"
	"github.com/Acidburn1824/smart-heating/internal/config"
	"github.com/Acidburn1824/smart-heating/internal/feedback"
	"github.com/Acidburn1824/smart-heating/internal/metrics"
	"github.com/Acidburn1824/smart-heating/internal/model"
	"github.com/Acidburn1824/smart-heating/internal/session"
	"github.com/Acidburn1824/smart-heating/internal/store"
	"github.com/Acidburn1824/smart-heating/internal/thermal"
	"github.com/Acidburn1824/smart-heating/internal/transport"
)

// ErrUnknownZone is returned by operator actions addressing a zone that is
// not configured.
var ErrUnknownZone = errors.New("unknown zone")

// Engine runs the anticipation loop: drain the latest observation per zone,
// feed the session recorder, re-derive the thermal model when a session
// closes, evaluate the state machine, and publish any resulting commands.
type Engine struct {
	cfg *config.App
	lg  *slog.Logger
	src transport.ObservationSource
	pub transport.CommandPublisher
	rec *session.Recorder
	cal *feedback.Calibrator
	gw  *advisor.Gateway
	st  *store.Store
	met *metrics.Metrics

	zones map[string]*Zone

	mu       sync.Mutex
	lastObs  map[string]model.Observation
	lastTick map[string]Decision
	stats    model.Stats

	advisorBusy map[string]*atomic.Bool
}

func New(cfg *config.App, lg *slog.Logger, src transport.ObservationSource, pub transport.CommandPublisher,
	cal *feedback.Calibrator, gw *advisor.Gateway, st *store.Store, met *metrics.Metrics) (*Engine, error) {
	if len(cfg.Zones()) == 0 {
		return nil, errors.New("no zones configured")
	}
	e := &Engine{
		cfg:         cfg,
		lg:          lg,
		src:         src,
		pub:         pub,
		rec:         session.NewRecorder(),
		cal:         cal,
		gw:          gw,
		st:          st,
		met:         met,
		zones:       map[string]*Zone{},
		lastObs:     map[string]model.Observation{},
		lastTick:    map[string]Decision{},
		advisorBusy: map[string]*atomic.Bool{},
	}
	for _, id := range cfg.Zones() {
		zc, _ := cfg.Zone(id)
		z := NewZone(id, zc)
		e.zones[id] = z
		e.advisorBusy[id] = &atomic.Bool{}
		e.rec.Configure(id, zc.WarmupIgnoreMin)
		if err := e.restore(z); err != nil {
			lg.Warn("restore failed, starting clean", "zone", id, "error", err)
		}
	}
	return e, nil
}

// restore loads the persisted document for a zone and rehydrates the session
// log, model, calibrated margin, last-off time, and cached advice.
func (e *Engine) restore(z *Zone) error {
	doc, found, err := e.st.Load(z.ID)
	if err != nil {
		// An unreadable document must not leave the zone on the floor
		// margin; seed the configured base before bailing.
		e.cal.Restore(z.ID, z.Cfg.SafetyMarginBase, nil)
		return err
	}
	e.cal.Restore(z.ID, pickMargin(doc.SafetyMarginBase, z.Cfg.SafetyMarginBase), doc.FeedbackHistory)
	if !found {
		return nil
	}
	z.Lock()
	z.Log.Restore(doc.Sessions)
	m := thermal.Recompute(z.ID, z.Log.Snapshot(), thermal.Options{
		MinSessions:     z.Cfg.MinSessions,
		RecencyWeighted: e.cfg.RecencyWeighted,
	})
	z.SetModel(m)
	z.Unlock()
	if doc.LastOffTime != nil {
		e.rec.RestoreLastOff(z.ID, *doc.LastOffTime)
	}
	if doc.LastAdvice != nil {
		e.gw.Restore(z.ID, *doc.LastAdvice)
	}
	e.lg.Info("zone restored",
		"zone", z.ID,
		"sessions", z.Log.Len(),
		"margin", e.cal.Margin(z.ID),
		"model_state", m.State())
	return nil
}

func pickMargin(persisted, configured float64) float64 {
	if persisted > 0 {
		return persisted
	}
	return configured
}

// Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.lg.Info("engine start", "interval", e.cfg.PollInterval.String(), "zones", e.cfg.Zones())
	for {
		select {
		case <-ctx.Done():
			e.lg.Info("engine stop")
			return
		default:
		}
		for _, id := range e.cfg.Zones() {
			e.tickZone(ctx, id, time.Now())
		}
		e.mu.Lock()
		e.stats.Loops++
		e.mu.Unlock()
		e.met.Tick()

		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

func (e *Engine) tickZone(ctx context.Context, zoneID string, now time.Time) {
	z := e.zones[zoneID]
	if z == nil {
		// Zones added by a properties reload get runtime state on restart.
		return
	}
	// Re-read the zone config every tick so a properties reload takes
	// effect without restarting: loadProperties builds fresh Zone values.
	zc, ok := e.cfg.Zone(zoneID)
	if !ok {
		return
	}
	z.Lock()
	z.Cfg = zc
	z.Unlock()
	e.rec.Configure(zoneID, zc.WarmupIgnoreMin)

	obs, ok, err := e.src.Latest(ctx, zoneID)
	if err != nil {
		e.lg.Error("observation source error", "zone", zoneID, "error", err)
	}
	if ok {
		e.mu.Lock()
		e.lastObs[zoneID] = obs
		e.stats.ObservationsIn++
		e.mu.Unlock()
		e.met.Observation()
		e.ingest(z, obs)
	} else {
		e.mu.Lock()
		obs, ok = e.lastObs[zoneID]
		e.mu.Unlock()
		if !ok {
			return
		}
	}

	snap := e.buildSnapshot(z, zc, obs, now)
	z.Lock()
	d := z.Tick(snap)
	z.Unlock()
	e.rec.SetAnticipating(zoneID, d.State == StateAnticipating)
	e.met.SetState(zoneID, string(d.State))
	if d.PredictedStart != nil {
		e.met.ObservePrediction(d.PredictedDuration)
	}

	for _, cmd := range d.Commands {
		if err := e.pub.Publish(ctx, zoneID, cmd); err != nil {
			e.lg.Error("command publish failed", "zone", zoneID, "action", cmd.Action, "error", err)
			continue
		}
		e.lg.Info("command", "zone", zoneID, "action", cmd.Action, "target", cmd.TargetTemp,
			"anti_cycle", cmd.AntiCycleDelayed, "reason", cmd.Reason)
		e.mu.Lock()
		e.stats.CommandsOut++
		e.mu.Unlock()
		e.met.Command(cmd.Action)
	}

	if d.Closed != nil {
		e.closeCycle(z, *d.Closed)
	}

	e.mu.Lock()
	e.lastTick[zoneID] = d
	e.mu.Unlock()

	e.maybeRefreshAdvisor(ctx, z, obs, now)
}

// ingest feeds one observation through the session recorder. A returned
// session means a heating run just closed and passed the noise filter; the
// model is re-derived and the zone persisted.
func (e *Engine) ingest(z *Zone, obs model.Observation) {
	s, err := e.rec.Observe(z.ID, obs.Timestamp, obs.TempIndoor, obs.HeatingActive, obs.TempOutdoor)
	if err != nil {
		if !errors.Is(err, session.ErrBadObservation) {
			e.lg.Warn("recorder error", "zone", z.ID, "error", err)
		}
		return
	}
	if s == nil {
		return
	}
	z.Lock()
	z.Log.Append(*s)
	m := thermal.Recompute(z.ID, z.Log.Snapshot(), thermal.Options{
		MinSessions:     z.Cfg.MinSessions,
		RecencyWeighted: e.cfg.RecencyWeighted,
	})
	z.SetModel(m)
	n := z.Log.Len()
	z.Unlock()

	e.lg.Info("session recorded",
		"zone", z.ID,
		"delta", s.DeltaTemp,
		"duration_min", s.DurationMin,
		"speed", s.SpeedCPerMin,
		"sessions", n,
		"model_state", m.State())
	e.mu.Lock()
	e.stats.SessionsRecorded++
	e.mu.Unlock()
	e.met.SessionRecorded(z.ID)
	e.met.SetSessions(z.ID, n)
	e.persist(z)
}

func (e *Engine) buildSnapshot(z *Zone, zc *config.Zone, obs model.Observation, now time.Time) Snapshot {
	snap := Snapshot{
		Now:               now,
		Obs:               obs,
		MarginBase:        e.cal.Margin(z.ID),
		AdvisorAdjustment: e.gw.Adjustment(z.ID, now),
	}
	if zc.Schedule != nil && !zc.Schedule.Empty() {
		snap.Next = zc.Schedule.NextRise(now)
	}
	if off, ok := e.rec.LastOff(z.ID); ok {
		snap.LastOff = off
		snap.HasLastOff = true
	}
	return snap
}

// closeCycle routes a finished anticipation cycle into the calibrator and
// persists the adjusted margin.
func (e *Engine) closeCycle(z *Zone, c ClosedCycle) {
	rec, margin := e.cal.RecordCycle(z.ID, c.TargetTemp, c.PredictedArrival, c.ActualArrival, c.Success)
	e.lg.Info("cycle closed",
		"zone", z.ID,
		"target", c.TargetTemp,
		"error_min", rec.ErrorMinutes,
		"success", c.Success,
		"margin", margin)
	e.met.SetMargin(z.ID, margin)
	e.persist(z)
}

// maybeRefreshAdvisor kicks the scheduled advisor call off-loop so a slow
// provider never blocks a tick. At most one in-flight call per zone.
func (e *Engine) maybeRefreshAdvisor(ctx context.Context, z *Zone, obs model.Observation, now time.Time) {
	busy := e.advisorBusy[z.ID]
	if !busy.CompareAndSwap(false, true) {
		return
	}
	snap := e.advisorSnapshot(z, obs)
	go func() {
		defer busy.Store(false)
		callContext := e.gw.RefreshIfDue(ctx, snap, now)
		if callContext == "" {
			return
		}
		e.accountAdvisor()
		e.persist(z)
	}()
}

func (e *Engine) advisorSnapshot(z *Zone, obs model.Observation) advisor.Snapshot {
	z.Lock()
	sessions := z.Log.Snapshot()
	m := z.model
	z.Unlock()
	return advisor.Snapshot{
		ZoneID:         z.ID,
		Model:          m,
		RecentSessions: sessions,
		Forecast:       obs.Forecast,
		TempIndoor:     obs.TempIndoor,
		TempOutdoor:    obs.TempOutdoor,
		Setpoint:       obs.Setpoint,
		MarginBase:     e.cal.Margin(z.ID),
		FeedbackStats:  e.cal.Stats(z.ID),
	}
}

func (e *Engine) accountAdvisor() {
	calls, fallbacks := e.gw.Counters()
	e.mu.Lock()
	prevFallbacks := e.stats.AdvisorFallbacks
	e.stats.AdvisorCalls = calls
	e.stats.AdvisorFallbacks = fallbacks
	e.mu.Unlock()
	outcome := "ok"
	if fallbacks > prevFallbacks {
		outcome = "fallback"
	}
	e.met.AdvisorCall(outcome)
}

// persist writes the zone's full document. Failures are logged and the
// in-memory state stays authoritative.
func (e *Engine) persist(z *Zone) {
	z.Lock()
	doc := store.Document{
		ZoneID:          z.ID,
		Sessions:        z.Log.Snapshot(),
		Model:           z.model,
		FeedbackHistory: e.cal.History(z.ID),
	}
	z.Unlock()
	doc.SafetyMarginBase = e.cal.Margin(z.ID)
	if off, ok := e.rec.LastOff(z.ID); ok {
		doc.LastOffTime = &off
	}
	if adv, ok := e.gw.Cached(z.ID); ok {
		doc.LastAdvice = &adv
	}
	if err := e.st.Save(doc); err != nil {
		e.lg.Error("persist failed", "zone", z.ID, "error", err)
	}
}

// Stats returns a copy of the loop counters.
func (e *Engine) Stats() model.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ZoneStatus is the per-zone slice of the /status payload.
type ZoneStatus struct {
	ZoneID      string            `json:"zoneId"`
	State       State             `json:"state"`
	Sessions    int               `json:"sessions"`
	Model       thermal.Model     `json:"model"`
	Margin      float64           `json:"safetyMargin"`
	Feedback    feedback.Stats    `json:"feedback"`
	LastTick    Decision          `json:"lastTick"`
	LastAdvice  *advisor.Response `json:"lastAdvice,omitempty"`
	LastObsTime *time.Time        `json:"lastObservation,omitempty"`
}

// Status assembles the operator view across all zones.
func (e *Engine) Status() map[string]ZoneStatus {
	out := make(map[string]ZoneStatus, len(e.zones))
	for id, z := range e.zones {
		z.Lock()
		st := ZoneStatus{
			ZoneID:   id,
			State:    z.state,
			Sessions: z.Log.Len(),
			Model:    z.model,
		}
		z.Unlock()
		st.Margin = e.cal.Margin(id)
		st.Feedback = e.cal.Stats(id)
		if adv, ok := e.gw.Cached(id); ok {
			st.LastAdvice = &adv
		}
		e.mu.Lock()
		st.LastTick = e.lastTick[id]
		if obs, ok := e.lastObs[id]; ok {
			ts := obs.Timestamp
			st.LastObsTime = &ts
		}
		e.mu.Unlock()
		out[id] = st
	}
	return out
}

// ResetZone clears the learned sessions and model for one zone and persists
// the emptied document. The calibrated margin survives the reset.
func (e *Engine) ResetZone(zoneID string) error {
	z, ok := e.zones[zoneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}
	z.Reset()
	e.rec.SetAnticipating(zoneID, false)
	e.met.SetSessions(zoneID, 0)
	e.met.SetState(zoneID, string(StateLearning))
	e.persist(z)
	e.lg.Info("zone reset", "zone", zoneID, "margin_kept", e.cal.Margin(zoneID))
	return nil
}

// Recalculate re-runs the decision algorithm for one zone immediately, using
// the most recent observation.
func (e *Engine) Recalculate(ctx context.Context, zoneID string) (Decision, error) {
	if _, ok := e.zones[zoneID]; !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}
	e.tickZone(ctx, zoneID, time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTick[zoneID], nil
}

// ForceAdvisorCall bypasses the cache and schedule for one zone. Used by
// the operator API.
func (e *Engine) ForceAdvisorCall(ctx context.Context, zoneID, callContext string) (advisor.Response, error) {
	z, ok := e.zones[zoneID]
	if !ok {
		return advisor.Response{}, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}
	if callContext != advisor.ContextMorning && callContext != advisor.ContextEvening {
		callContext = advisor.ContextMorning
	}
	e.mu.Lock()
	obs := e.lastObs[zoneID]
	e.mu.Unlock()
	resp := e.gw.Call(ctx, e.advisorSnapshot(z, obs), callContext)
	e.accountAdvisor()
	e.persist(z)
	return resp, nil
}
