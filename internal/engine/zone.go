// zone.go
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/config"
	"github.com/Acidburn1824/smart-heating/internal/model"
	"github.com/Acidburn1824/smart-heating/internal/schedule"
	"github.com/Acidburn1824/smart-heating/internal/session"
	"github.com/Acidburn1824/smart-heating/internal/thermal"
)

type State string

const (
	StateLearning     State = "learning"
	StateReady        State = "ready"
	StateAnticipating State = "anticipating"
	StateIdle         State = "idle"
)

const (
	// arrivalTolerance: the target counts as reached this close to it.
	arrivalTolerance = 0.2
	// resendInterval: while anticipating, the command is re-sent this often
	// to fight external overrides.
	resendInterval = 10 * time.Minute
	// driftTolerance: a reported setpoint further than this from the target
	// triggers an immediate re-send.
	driftTolerance = 0.3
)

// Snapshot is the external world as seen at one tick. Pulled, not pushed;
// Tick is deterministic given a snapshot.
type Snapshot struct {
	Now               time.Time
	Obs               model.Observation
	Next              *schedule.Transition
	MarginBase        float64
	AdvisorAdjustment float64
	LastOff           time.Time
	HasLastOff        bool
}

// ClosedCycle is handed to the feedback calibrator when an anticipation
// cycle completes.
type ClosedCycle struct {
	TargetTemp       float64
	PredictedArrival time.Time
	ActualArrival    time.Time
	Success          bool
}

// Decision is the outcome of one tick evaluation.
type Decision struct {
	ZoneID            string         `json:"zoneId"`
	State             State          `json:"state"`
	PredictedStart    *time.Time     `json:"predictedStart,omitempty"`
	PredictedDuration float64        `json:"predictedDurationMin,omitempty"`
	EffectiveMargin   float64        `json:"effectiveMargin,omitempty"`
	AntiCycleActive   bool           `json:"antiCycleActive,omitempty"`
	Reasoning         string         `json:"reasoning,omitempty"`
	Commands          []model.Command `json:"-"`
	Closed            *ClosedCycle   `json:"-"`
}

type cycle struct {
	targetTemp       float64
	targetTime       time.Time
	predictedStart   time.Time
	effectiveMargin  float64
	antiCycleDelayed bool
	startedAt        time.Time
	tempAtStart      float64
	reachedAt        *time.Time
	lastSentAt       time.Time
}

// Zone is one zone's runtime: its session log, derived model, and the
// anticipation state machine. All access goes through the mutex; a tick in
// progress for a zone completes before the next begins.
type Zone struct {
	mu sync.Mutex

	ID  string
	Cfg *config.Zone

	Log   *session.Log
	model thermal.Model

	state      State
	cycle      *cycle
	everCycled bool
}

func NewZone(id string, cfg *config.Zone) *Zone {
	return &Zone{ID: id, Cfg: cfg, Log: session.NewLog(), state: StateLearning}
}

// Lock acquires the zone's single-writer lock for a multi-step operation.
func (z *Zone) Lock()   { z.mu.Lock() }
func (z *Zone) Unlock() { z.mu.Unlock() }

// SetModel replaces the derived thermal model. Caller holds the lock.
func (z *Zone) SetModel(m thermal.Model) { z.model = m }

// Model returns the current thermal model.
func (z *Zone) Model() thermal.Model {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.model
}

// State reports the zone state machine's current state.
func (z *Zone) State() State {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state
}

// Anticipating reports whether an early-heat cycle is running.
func (z *Zone) Anticipating() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state == StateAnticipating
}

// Reset clears the session log and reverts the state machine to learning.
// The safety margin is deliberately untouched.
func (z *Zone) Reset() {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.Log.Reset()
	z.model = thermal.Model{ZoneID: z.ID}
	z.model.Restore(z.Cfg.MinSessions)
	z.state = StateLearning
	z.cycle = nil
	z.everCycled = false
}

// Tick runs one evaluation of the decision algorithm. The caller must hold
// the zone lock.
func (z *Zone) Tick(snap Snapshot) Decision {
	d := Decision{ZoneID: z.ID}

	if z.state == StateAnticipating {
		z.maintainCycle(snap, &d)
	}
	if z.state != StateAnticipating {
		z.evaluateStart(snap, &d)
	}
	d.State = z.state
	return d
}

// maintainCycle drives an active cycle: arrival detection, command re-send,
// supersede handling, and close-out.
func (z *Zone) maintainCycle(snap Snapshot, d *Decision) {
	c := z.cycle
	now := snap.Now

	// Arrival: indoor temperature within tolerance of the target.
	if c.reachedAt == nil && snap.Obs.TempIndoor != nil && *snap.Obs.TempIndoor >= c.targetTemp-arrivalTolerance {
		t := now
		c.reachedAt = &t
	}

	// Superseded: the schedule no longer shows this rise.
	superseded := snap.Next == nil || snap.Next.TargetTemp < c.targetTemp-driftTolerance || !snap.Next.At.Equal(c.targetTime)
	if superseded && now.Before(c.targetTime) && c.reachedAt == nil {
		d.Commands = append(d.Commands, model.Command{
			ZoneID:   z.ID,
			Action:   model.ActionCancelEarly,
			Reason:   "schedule transition superseded",
			IssuedAt: now.UnixMilli(),
		})
		z.closeCycle(d, now, false)
		return
	}

	// Close: target reached, or the scheduled time passed and we are still
	// watching for the late arrival.
	if c.reachedAt != nil {
		if now.Before(c.targetTime) {
			// Arrived early: release the override, the programmed
			// transition takes over at its own time.
			d.Commands = append(d.Commands, model.Command{
				ZoneID:     z.ID,
				Action:     model.ActionCancelEarly,
				TargetTemp: c.targetTemp,
				Reason:     "target reached early",
				IssuedAt:   now.UnixMilli(),
			})
		}
		z.closeCycle(d, *c.reachedAt, true)
		return
	}
	if now.Sub(c.targetTime) > 4*time.Hour {
		// Never arrived; stop waiting and record the cycle as failed.
		z.closeCycle(d, now, false)
		return
	}

	// Still heating: periodic re-send, immediate on setpoint drift.
	resend := now.Sub(c.lastSentAt) > resendInterval
	if snap.Obs.Setpoint != nil && absf(*snap.Obs.Setpoint-c.targetTemp) > driftTolerance {
		resend = true
	}
	if resend {
		c.lastSentAt = now
		d.Commands = append(d.Commands, model.Command{
			ZoneID:           z.ID,
			Action:           model.ActionStartEarly,
			TargetTemp:       c.targetTemp,
			Reason:           "re-send while anticipating",
			AntiCycleDelayed: c.antiCycleDelayed,
			IssuedAt:         now.UnixMilli(),
		})
	}
}

func (z *Zone) closeCycle(d *Decision, actual time.Time, success bool) {
	c := z.cycle
	d.Closed = &ClosedCycle{
		TargetTemp:       c.targetTemp,
		PredictedArrival: c.targetTime,
		ActualArrival:    actual,
		Success:          success,
	}
	z.cycle = nil
	z.everCycled = true
	z.state = StateIdle
}

// evaluateStart runs decision steps 1-8: find the nearest rising transition,
// predict the heat-up duration, apply the margin and warm-up lead, gate on
// anti-short-cycle, and start when the predicted start time has come.
func (z *Zone) evaluateStart(snap Snapshot, d *Decision) {
	if !z.model.Ready() {
		z.state = StateLearning
		d.Reasoning = fmt.Sprintf("learning (%d sessions)", z.Log.Len())
		return
	}
	if z.state == StateLearning {
		z.state = StateReady
	}

	next := snap.Next
	if next == nil {
		d.Reasoning = "no upcoming rising transition"
		z.settle()
		return
	}

	// Only rising transitions anticipate. Compare against the setpoint
	// currently in force; fall back to the schedule's own view of it.
	currentSetpoint := next.FromTemp
	if snap.Obs.Setpoint != nil {
		currentSetpoint = *snap.Obs.Setpoint
	}
	if next.TargetTemp <= currentSetpoint {
		d.Reasoning = "next transition is not a rise"
		z.settle()
		return
	}

	if snap.Obs.TempIndoor == nil {
		d.Reasoning = "indoor temperature unavailable"
		z.settle()
		return
	}
	delta := next.TargetTemp - *snap.Obs.TempIndoor
	if delta <= 0 {
		d.Reasoning = "already at target"
		z.settle()
		return
	}

	raw, err := z.model.PredictDuration(delta)
	if err != nil {
		// Expected while under-sampled; surfaced only as the learning state.
		z.state = StateLearning
		d.Reasoning = "model not ready"
		return
	}

	margin := snap.MarginBase * (1 + snap.AdvisorAdjustment)
	if margin < 1.0 {
		// The margin absorbs model error; it must never shorten the
		// predicted duration.
		margin = 1.0
	}

	adjusted := raw*margin - z.Cfg.WarmupIgnoreMin
	if adjusted < 0 {
		adjusted = 0
	}
	// Float minute arithmetic leaves nanosecond dust; second precision is
	// plenty for a heating start time.
	predictedStart := next.At.Add(-time.Duration(adjusted * float64(time.Minute))).Round(time.Second)

	antiCycle := false
	if z.Cfg.AntiShortCycle && snap.HasLastOff {
		earliest := snap.LastOff.Add(z.Cfg.MinOffTime)
		if predictedStart.Before(earliest) {
			predictedStart = earliest
			antiCycle = true
		}
	}

	ps := predictedStart
	d.PredictedStart = &ps
	d.PredictedDuration = raw
	d.EffectiveMargin = margin
	d.AntiCycleActive = antiCycle
	d.Reasoning = fmt.Sprintf("delta %.1fC, raw %.1fmin, margin %.2f, start %s",
		delta, raw, margin, predictedStart.Format("15:04:05"))

	if snap.Now.Before(predictedStart) {
		z.settle()
		return
	}

	z.state = StateAnticipating
	z.cycle = &cycle{
		targetTemp:       next.TargetTemp,
		targetTime:       next.At,
		predictedStart:   predictedStart,
		effectiveMargin:  margin,
		antiCycleDelayed: antiCycle,
		startedAt:        snap.Now,
		tempAtStart:      *snap.Obs.TempIndoor,
		lastSentAt:       snap.Now,
	}
	d.Commands = append(d.Commands, model.Command{
		ZoneID:           z.ID,
		Action:           model.ActionStartEarly,
		TargetTemp:       next.TargetTemp,
		Reason:           d.Reasoning,
		AntiCycleDelayed: antiCycle,
		IssuedAt:         snap.Now.UnixMilli(),
	})
}

// settle picks ready or idle for a zone that is not anticipating.
func (z *Zone) settle() {
	if z.everCycled {
		z.state = StateIdle
	} else {
		z.state = StateReady
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
