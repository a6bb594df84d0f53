// thermal.go
package thermal

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// ErrInsufficientData means the zone has not collected enough sessions yet.
// This is the expected steady state while learning, not a failure.
var ErrInsufficientData = errors.New("insufficient session data")

const DefaultMinSessions = 3

// Options tunes the recompute. RecencyWeighted selects a linearly weighted
// mean (newest session heaviest) instead of the plain mean.
type Options struct {
	MinSessions     int
	RecencyWeighted bool
}

// Inertia are the aggregate statistics exported for diagnostics and the
// advisor prompt.
type Inertia struct {
	AvgSpeed      float64            `json:"avgSpeed"`
	MedianSpeed   float64            `json:"medianSpeed"`
	MinSpeed      float64            `json:"minSpeed"`
	MaxSpeed      float64            `json:"maxSpeed"`
	ByOutdoorBand map[string]float64 `json:"byOutdoorBand,omitempty"` // 5 degC buckets
}

// Model is the derived per-zone estimate. It is recomputed from the session
// log, never mutated independently.
type Model struct {
	ZoneID       string    `json:"zoneId"`
	SampleCount  int       `json:"sampleCount"`
	SpeedCPerMin float64   `json:"speedCPerMin"`
	MinPerDeg    float64   `json:"minPerDeg"`
	LastUpdated  time.Time `json:"lastUpdated"`
	Inertia      Inertia   `json:"inertia"`

	minSessions int
}

// Recompute derives the model from the current session sequence. Sessions
// with non-positive rise speed are discarded.
func Recompute(zoneID string, sessions []model.HeatingSession, opts Options) Model {
	if opts.MinSessions <= 0 {
		opts.MinSessions = DefaultMinSessions
	}
	m := Model{ZoneID: zoneID, LastUpdated: time.Now(), minSessions: opts.MinSessions}

	speeds := make([]float64, 0, len(sessions))
	valid := make([]model.HeatingSession, 0, len(sessions))
	for _, s := range sessions {
		if s.SpeedCPerMin <= 0 || s.DeltaTemp <= 0 {
			continue
		}
		speeds = append(speeds, s.SpeedCPerMin)
		valid = append(valid, s)
	}
	m.SampleCount = len(valid)
	if len(valid) == 0 {
		return m
	}

	m.SpeedCPerMin = mean(speeds, opts.RecencyWeighted)
	if m.SpeedCPerMin > 0 {
		m.MinPerDeg = 1.0 / m.SpeedCPerMin
	}

	sorted := append([]float64(nil), speeds...)
	sort.Float64s(sorted)
	m.Inertia = Inertia{
		AvgSpeed:      m.SpeedCPerMin,
		MedianSpeed:   median(sorted),
		MinSpeed:      sorted[0],
		MaxSpeed:      sorted[len(sorted)-1],
		ByOutdoorBand: byOutdoorBand(valid),
	}
	return m
}

// Restore rebinds the learning threshold after a model is loaded from disk.
func (m *Model) Restore(minSessions int) {
	if minSessions <= 0 {
		minSessions = DefaultMinSessions
	}
	m.minSessions = minSessions
}

// Ready reports whether the model can produce predictions.
func (m Model) Ready() bool {
	return m.SampleCount >= m.minSessionsRequired() && m.SpeedCPerMin > 0
}

// State is the user-visible model state.
func (m Model) State() string {
	if m.Ready() {
		return "ready"
	}
	return "learning"
}

// PredictDuration estimates the minutes needed to raise the indoor
// temperature by delta degrees, before any safety margin.
func (m Model) PredictDuration(delta float64) (float64, error) {
	if !m.Ready() {
		return 0, fmt.Errorf("zone %s: %w (%d/%d sessions)", m.ZoneID, ErrInsufficientData, m.SampleCount, m.minSessionsRequired())
	}
	if delta <= 0 {
		return 0, fmt.Errorf("zone %s: non-positive delta %.2f", m.ZoneID, delta)
	}
	return delta * m.MinPerDeg, nil
}

func (m Model) minSessionsRequired() int {
	if m.minSessions <= 0 {
		return DefaultMinSessions
	}
	return m.minSessions
}

func mean(speeds []float64, recency bool) float64 {
	if len(speeds) == 0 {
		return 0
	}
	if !recency {
		var sum float64
		for _, v := range speeds {
			sum += v
		}
		return sum / float64(len(speeds))
	}
	// Linear weights: oldest 1, newest n.
	var sum, wsum float64
	for i, v := range speeds {
		w := float64(i + 1)
		sum += v * w
		wsum += w
	}
	return sum / wsum
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func byOutdoorBand(sessions []model.HeatingSession) map[string]float64 {
	buckets := map[string][]float64{}
	for _, s := range sessions {
		band := fmt.Sprintf("%.0f", math.Round(s.OutdoorTemp/5)*5)
		buckets[band] = append(buckets[band], s.SpeedCPerMin)
	}
	out := make(map[string]float64, len(buckets))
	for band, speeds := range buckets {
		out[band] = mean(speeds, false)
	}
	return out
}
