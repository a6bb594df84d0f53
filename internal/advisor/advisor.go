// advisor.go
package advisor

import (
	"context"
	"errors"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/feedback"
	"github.com/Acidburn1824/smart-heating/internal/model"
	"github.com/Acidburn1824/smart-heating/internal/thermal"
)

var (
	// ErrTimeout marks an advisor call that exceeded its deadline.
	ErrTimeout = errors.New("advisor timeout")
	// ErrMalformed marks a response that could not be parsed.
	ErrMalformed = errors.New("advisor response malformed")
)

// Adjustment bounds. Raw provider output outside these is clamped, never
// propagated.
const (
	MinAdjustment = -0.15
	MaxAdjustment = 0.20
)

const (
	ContextMorning = "morning"
	ContextEvening = "evening"
)

// Response is the uniform advisor answer. A zero-valued adjustment with an
// Err set is the fallback shape; it is safe to consume blindly.
type Response struct {
	MarginAdjustment float64   `json:"marginAdjustment"` // fractional, +0.05 = +5%
	Confidence       float64   `json:"confidence"`       // clamped to [0,1]
	Reasoning        string    `json:"reasoning"`
	Raw              string    `json:"raw,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Timestamp        time.Time `json:"timestamp"`
	Err              string    `json:"error,omitempty"`
}

// Snapshot is everything a provider may look at when advising a zone.
type Snapshot struct {
	ZoneID         string
	Model          thermal.Model
	RecentSessions []model.HeatingSession
	Forecast       []model.ForecastEntry
	TempIndoor     *float64
	TempOutdoor    *float64
	Setpoint       *float64
	MarginBase     float64
	FeedbackStats  feedback.Stats
}

// Provider is one advice source. Implementations must honor ctx cancellation;
// the gateway enforces the timeout and the fallback.
type Provider interface {
	Name() string
	Model() string
	GetAdjustment(ctx context.Context, snap Snapshot, callContext string) (Response, error)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
