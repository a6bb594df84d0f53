// feedback.go
package feedback

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// Retention bounds the feedback history; records older than this are pruned.
const Retention = 7 * 24 * time.Hour

// Params tunes the bang-bang margin calibration. The defaults are
// deliberately small steps so the margin converges without overshoot.
type Params struct {
	ToleranceMin float64 // minutes of error tolerated without adjustment
	Step         float64 // fractional step per out-of-tolerance cycle
	Floor        float64 // lower margin bound
	Cap          float64 // upper margin bound
}

func DefaultParams() Params {
	return Params{ToleranceMin: 5, Step: 0.02, Floor: 1.05, Cap: 1.50}
}

type zoneState struct {
	margin  float64
	history []model.FeedbackRecord
}

// Calibrator compares predicted vs actual arrival per completed anticipation
// cycle and nudges the zone's safety margin multiplicatively.
type Calibrator struct {
	params Params
	lg     *slog.Logger

	mu    sync.Mutex
	zones map[string]*zoneState
}

func New(params Params, lg *slog.Logger) *Calibrator {
	if params.Step <= 0 {
		params = DefaultParams()
	}
	return &Calibrator{params: params, lg: lg, zones: map[string]*zoneState{}}
}

// Restore seeds a zone's margin and history from persisted state.
func (c *Calibrator) Restore(zoneID string, margin float64, history []model.FeedbackRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if margin < c.params.Floor {
		margin = c.params.Floor
	}
	if margin > c.params.Cap {
		margin = c.params.Cap
	}
	c.zones[zoneID] = &zoneState{margin: margin, history: prune(history, time.Now())}
}

// Margin returns the zone's current safety margin base.
func (c *Calibrator) Margin(zoneID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zone(zoneID).margin
}

// History returns a copy of the zone's retained feedback records.
func (c *Calibrator) History(zoneID string) []model.FeedbackRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zone(zoneID)
	return append([]model.FeedbackRecord(nil), z.history...)
}

// RecordCycle closes one anticipation cycle. Positive error means the zone
// arrived late; the margin moves one step toward compensating, bounded by
// the configured floor and cap. Returns the record and the new margin.
func (c *Calibrator) RecordCycle(zoneID string, targetTemp float64, predicted, actual time.Time, success bool) (model.FeedbackRecord, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	z := c.zone(zoneID)
	errMin := actual.Sub(predicted).Minutes()
	before := z.margin

	switch {
	case errMin > c.params.ToleranceMin:
		z.margin = min(z.margin+c.params.Step, c.params.Cap)
	case errMin < -c.params.ToleranceMin:
		z.margin = max(z.margin-c.params.Step, c.params.Floor)
	}

	rec := model.FeedbackRecord{
		CycleID:          newID(),
		ZoneID:           zoneID,
		TargetTemp:       targetTemp,
		PredictedArrival: predicted,
		ActualArrival:    actual,
		ErrorMinutes:     errMin,
		MarginBefore:     before,
		MarginAfter:      z.margin,
		Success:          success,
	}
	z.history = prune(append(z.history, rec), time.Now())

	c.lg.Info("feedback cycle",
		"zone", zoneID,
		"error_min", errMin,
		"margin_before", before,
		"margin_after", z.margin,
		"success", success)
	return rec, z.margin
}

// Stats summarizes recent calibration behavior for /status and the advisor
// prompt.
type Stats struct {
	TotalCycles     int     `json:"totalCycles"`
	RecentCycles    int     `json:"recentCycles"`
	SuccessRate     float64 `json:"successRate"`
	AvgErrorMinutes float64 `json:"avgErrorMinutes"`
}

func (c *Calibrator) Stats(zoneID string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zone(zoneID)
	st := Stats{TotalCycles: len(z.history)}
	recent := z.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	st.RecentCycles = len(recent)
	if len(recent) == 0 {
		return st
	}
	var ok int
	var errSum float64
	for _, r := range recent {
		if r.Success {
			ok++
		}
		errSum += r.ErrorMinutes
	}
	st.SuccessRate = float64(ok) / float64(len(recent))
	st.AvgErrorMinutes = errSum / float64(len(recent))
	return st
}

func (c *Calibrator) zone(zoneID string) *zoneState {
	z, ok := c.zones[zoneID]
	if !ok {
		z = &zoneState{margin: c.params.Floor}
		c.zones[zoneID] = z
	}
	return z
}

func prune(history []model.FeedbackRecord, now time.Time) []model.FeedbackRecord {
	cutoff := now.Add(-Retention)
	out := history[:0]
	for _, r := range history {
		if r.ActualArrival.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "cycle-unknown"
	}
	return hex.EncodeToString(b)
}
