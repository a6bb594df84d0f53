// schedule.go
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// riseThreshold is the minimum setpoint increase that counts as a heating
// transition. Smaller steps are treated as noise.
const riseThreshold = 0.3

// Point is one setpoint change within a day, at a minute-of-day offset.
type Point struct {
	Minute int     `json:"minute"`
	Temp   float64 `json:"temp"`
}

// Week holds a zone's weekly setpoint program. A day with no points inherits
// the setpoint in force from the previous programmed day.
type Week struct {
	days [7][]Point
}

// Transition is an upcoming setpoint change found by NextRise.
type Transition struct {
	At         time.Time
	TargetTemp float64
	FromTemp   float64 // setpoint in force just before At
}

// Delta is the temperature step of the transition.
func (t *Transition) Delta() float64 { return t.TargetTemp - t.FromTemp }

// ParseDay parses a day program like "06:30=19.5 08:30=16 17:00=19.5".
// Entries may also be comma-separated. Points are returned sorted by time.
func ParseDay(s string) ([]Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	pts := make([]Point, 0, len(fields))
	for _, f := range fields {
		hm, temp, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("schedule entry %q: want HH:MM=temp", f)
		}
		hs, ms, ok := strings.Cut(hm, ":")
		if !ok {
			return nil, fmt.Errorf("schedule time %q: want HH:MM", hm)
		}
		h, err := strconv.Atoi(hs)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("schedule hour %q out of range", hs)
		}
		m, err := strconv.Atoi(ms)
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("schedule minute %q out of range", ms)
		}
		v, err := strconv.ParseFloat(temp, 64)
		if err != nil {
			return nil, fmt.Errorf("schedule temp %q: %w", temp, err)
		}
		pts = append(pts, Point{Minute: h*60 + m, Temp: v})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Minute < pts[j].Minute })
	return pts, nil
}

// SetAll assigns the same program to every weekday.
func (w *Week) SetAll(pts []Point) {
	for i := range w.days {
		w.days[i] = pts
	}
}

// SetDay overrides the program for a single weekday.
func (w *Week) SetDay(d time.Weekday, pts []Point) { w.days[d] = pts }

// Empty reports whether no day has any program.
func (w *Week) Empty() bool {
	for _, d := range w.days {
		if len(d) > 0 {
			return false
		}
	}
	return true
}

// SetpointAt returns the setpoint in force at t: the last point at or before
// t, looking back up to a week for the most recent programmed change.
func (w *Week) SetpointAt(t time.Time) (float64, bool) {
	minute := t.Hour()*60 + t.Minute()
	day := t
	for back := 0; back < 8; back++ {
		pts := w.days[day.Weekday()]
		for i := len(pts) - 1; i >= 0; i-- {
			if back > 0 || pts[i].Minute <= minute {
				return pts[i].Temp, true
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return 0, false
}

// NextRise finds the nearest future transition whose target exceeds the
// setpoint then in force by more than the rise threshold. It scans up to a
// week ahead; nil means no rising transition is programmed.
func (w *Week) NextRise(now time.Time) *Transition {
	current, ok := w.SetpointAt(now)
	if !ok {
		return nil
	}
	minute := now.Hour()*60 + now.Minute()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for ahead := 0; ahead < 8; ahead++ {
		pts := w.days[day.Weekday()]
		for _, p := range pts {
			if ahead == 0 && p.Minute <= minute {
				continue
			}
			if p.Temp > current+riseThreshold {
				return &Transition{
					At:         day.Add(time.Duration(p.Minute) * time.Minute),
					TargetTemp: p.Temp,
					FromTemp:   current,
				}
			}
			current = p.Temp
		}
		day = day.AddDate(0, 0, 1)
	}
	return nil
}
