// recorder.go
package session

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// ErrBadObservation marks malformed sensor input. The observation is dropped;
// nothing downstream fails.
var ErrBadObservation = errors.New("bad observation")

const (
	// Noise filter: sessions shorter or flatter than this never enter the log.
	MinDuration  = 5 * time.Minute
	MinDeltaTemp = 0.3

	// MaxSessions bounds the per-zone log; oldest evicted first.
	MaxSessions = 100
)

type openSession struct {
	startTime    time.Time
	startTemp    float64
	startOutdoor *float64
	anticipated  bool
}

// Recorder turns raw (timestamp, temperature, heating-active) observations
// into closed HeatingSession records, one open accumulator per zone.
type Recorder struct {
	mu              sync.Mutex
	warmupIgnoreMin map[string]float64
	open            map[string]*openSession
	lastOff         map[string]time.Time
	anticipating    map[string]bool
	wasActive       map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{
		warmupIgnoreMin: map[string]float64{},
		open:            map[string]*openSession{},
		lastOff:         map[string]time.Time{},
		anticipating:    map[string]bool{},
		wasActive:       map[string]bool{},
	}
}

// Configure sets the warm-up dead time subtracted from a session's duration
// before its rise speed is computed.
func (r *Recorder) Configure(zoneID string, warmupIgnoreMin float64) {
	r.mu.Lock()
	r.warmupIgnoreMin[zoneID] = warmupIgnoreMin
	r.mu.Unlock()
}

// SetAnticipating marks sessions opened while an anticipation cycle runs.
func (r *Recorder) SetAnticipating(zoneID string, active bool) {
	r.mu.Lock()
	r.anticipating[zoneID] = active
	r.mu.Unlock()
}

// LastOff reports when the zone's heater last switched off.
func (r *Recorder) LastOff(zoneID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastOff[zoneID]
	return t, ok
}

// RestoreLastOff seeds the last-off time from persisted state.
func (r *Recorder) RestoreLastOff(zoneID string, t time.Time) {
	r.mu.Lock()
	r.lastOff[zoneID] = t
	r.wasActive[zoneID] = false
	r.mu.Unlock()
}

// Observe consumes one observation. On the heating rising edge it opens an
// accumulator; on the falling edge it closes it and, if the session passes
// the noise filter, returns the record. A nil session with nil error is the
// normal filtered outcome.
func (r *Recorder) Observe(zoneID string, ts time.Time, indoor *float64, heatingActive bool, outdoor *float64) (*model.HeatingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	was := r.wasActive[zoneID]
	r.wasActive[zoneID] = heatingActive

	switch {
	case heatingActive && !was:
		if indoor == nil || math.IsNaN(*indoor) {
			r.wasActive[zoneID] = false
			return nil, fmt.Errorf("%w: zone %s: missing indoor temperature at heating start", ErrBadObservation, zoneID)
		}
		r.open[zoneID] = &openSession{
			startTime:    ts,
			startTemp:    *indoor,
			startOutdoor: outdoor,
			anticipated:  r.anticipating[zoneID],
		}
		return nil, nil

	case !heatingActive && was:
		acc := r.open[zoneID]
		delete(r.open, zoneID)
		r.lastOff[zoneID] = ts
		if acc == nil {
			return nil, nil
		}
		return r.close(zoneID, acc, ts, indoor, outdoor)

	default:
		return nil, nil
	}
}

func (r *Recorder) close(zoneID string, acc *openSession, ts time.Time, indoor, outdoor *float64) (*model.HeatingSession, error) {
	if indoor == nil || math.IsNaN(*indoor) {
		return nil, fmt.Errorf("%w: zone %s: missing indoor temperature at heating stop", ErrBadObservation, zoneID)
	}
	dur := ts.Sub(acc.startTime)
	if dur < 0 {
		return nil, fmt.Errorf("%w: zone %s: negative session duration %s", ErrBadObservation, zoneID, dur)
	}
	delta := *indoor - acc.startTemp
	if dur < MinDuration || math.Abs(delta) < MinDeltaTemp {
		return nil, nil
	}

	durationMin := dur.Minutes()
	effective := durationMin - r.warmupIgnoreMin[zoneID]
	if effective <= 0 {
		return nil, nil
	}

	var ext []float64
	if acc.startOutdoor != nil {
		ext = append(ext, *acc.startOutdoor)
	}
	if outdoor != nil {
		ext = append(ext, *outdoor)
	}
	var extAvg float64
	for _, v := range ext {
		extAvg += v
	}
	if len(ext) > 0 {
		extAvg /= float64(len(ext))
	}

	return &model.HeatingSession{
		ZoneID:       zoneID,
		StartTime:    acc.startTime,
		EndTime:      ts,
		StartTemp:    acc.startTemp,
		EndTemp:      *indoor,
		OutdoorTemp:  extAvg,
		DeltaTemp:    delta,
		DurationMin:  durationMin,
		SpeedCPerMin: delta / effective,
		Anticipated:  acc.anticipated,
	}, nil
}
