// models.go
package model

import "time"

// Zone observation message schema (sensor bridge -> anticipation service).
// One message per zone per scan interval; the engine only ever acts on the
// most recent one.
type Observation struct {
	ZoneID        string          `json:"zoneId"`
	Timestamp     time.Time       `json:"ts"`
	TempIndoor    *float64        `json:"tempIndoor"`
	TempOutdoor   *float64        `json:"tempOutdoor"`
	HeatingActive bool            `json:"heatingActive"`
	Setpoint      *float64        `json:"setpoint"`
	Forecast      []ForecastEntry `json:"forecast,omitempty"`
}

// ForecastEntry is one slot of the weather forecast carried opaquely to the
// advisor prompt.
type ForecastEntry struct {
	Time      string  `json:"datetime"`
	Condition string  `json:"condition"`
	TempLow   float64 `json:"templow"`
	TempHigh  float64 `json:"temperature"`
}

// HeatingSession is a closed, filtered heating run. Immutable once recorded.
type HeatingSession struct {
	ZoneID       string    `json:"zoneId"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	StartTemp    float64   `json:"startTemp"`
	EndTemp      float64   `json:"endTemp"`
	OutdoorTemp  float64   `json:"outdoorTemp"` // mean of start/end outdoor readings
	DeltaTemp    float64   `json:"deltaTemp"`
	DurationMin  float64   `json:"durationMin"`
	SpeedCPerMin float64   `json:"speedCPerMin"` // computed over duration minus warm-up
	Anticipated  bool      `json:"anticipated"`
}

const (
	ActionStartEarly  = "START_EARLY"
	ActionCancelEarly = "CANCEL_EARLY"
)

// Command is published to the climate actuator topic. Fire-and-forget.
type Command struct {
	ZoneID           string  `json:"zoneId"`
	Action           string  `json:"action"` // START_EARLY / CANCEL_EARLY
	TargetTemp       float64 `json:"targetTemp"`
	Reason           string  `json:"reason"`
	AntiCycleDelayed bool    `json:"antiCycleDelayed"`
	IssuedAt         int64   `json:"issuedAt"`
}

// FeedbackRecord captures one completed anticipation cycle for diagnostics
// and margin trend. Pruned after seven days.
type FeedbackRecord struct {
	CycleID          string    `json:"cycleId"`
	ZoneID           string    `json:"zoneId"`
	TargetTemp       float64   `json:"targetTemp"`
	PredictedArrival time.Time `json:"predictedArrival"`
	ActualArrival    time.Time `json:"actualArrival"`
	ErrorMinutes     float64   `json:"errorMinutes"` // positive = late
	MarginBefore     float64   `json:"marginBefore"`
	MarginAfter      float64   `json:"marginAfter"`
	Success          bool      `json:"success"`
}

// Stats mirrors the service counters exposed on /status.
type Stats struct {
	Loops            int64 `json:"loops"`
	ObservationsIn   int64 `json:"observationsIn"`
	CommandsOut      int64 `json:"commandsOut"`
	SessionsRecorded int64 `json:"sessionsRecorded"`
	AdvisorCalls     int64 `json:"advisorCalls"`
	AdvisorFallbacks int64 `json:"advisorFallbacks"`
}
