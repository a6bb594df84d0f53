// prompt.go
package advisor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const systemPrompt = "You are an expert in smart heating and thermal inertia. Answer only in JSON."

// buildPrompt renders the shared advisor prompt from a zone snapshot. All
// providers send the same text so their answers stay comparable.
func buildPrompt(snap Snapshot, callContext string) string {
	var sessions strings.Builder
	recent := snap.RecentSessions
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, s := range recent {
		fmt.Fprintf(&sessions, "  %s : %.1f->%.1fC (%+.1fC in %.0fmin) outdoor:%.1fC\n",
			s.EndTime.Format("2006-01-02 15:04"), s.StartTemp, s.EndTemp, s.DeltaTemp, s.DurationMin, s.OutdoorTemp)
	}

	var weather strings.Builder
	for i, f := range snap.Forecast {
		if i >= 6 {
			break
		}
		fmt.Fprintf(&weather, "  %s : %s, %.0f-%.0fC\n", trunc(f.Time, 16), f.Condition, f.TempLow, f.TempHigh)
	}

	contextText := "CONTEXT: Morning analysis.\n" +
		"Plan the whole day. Be conservative, conditions may still change. " +
		"If the forecast resembles past sessions: little or no adjustment. " +
		"If unusually cold: raise the margin (+5 to +15%)."
	if callContext == ContextEvening {
		contextText = "CONTEXT: Evening adjustment.\n" +
			"Fine-tune for TONIGHT only. Current weather is known with certainty; " +
			"adjust the margin accordingly."
	}

	return fmt.Sprintf(`%s

ZONE '%s' DATA:
- Average rise speed: %s C/min
- Minutes per degree: %s min
- Sessions collected: %d
- Indoor temp: %s C
- Outdoor temp: %s C
- Current setpoint: %s C
- Base safety margin: %.0f%%
- Recent cycles: %d (success rate %.0f%%, avg error %.1f min)

RECENT SESSIONS:
%s
WEATHER FORECAST:
%s
Answer ONLY with a JSON object (no markdown, no text before/after):
{
    "margin_adjustment": <float between -0.15 and +0.20>,
    "confidence": <float 0.0-1.0>,
    "reasoning": "<short explanation, max 100 characters>"
}
`,
		contextText,
		snap.ZoneID,
		num(snap.Model.SpeedCPerMin, "%.5f"),
		num(snap.Model.MinPerDeg, "%.1f"),
		snap.Model.SampleCount,
		ptr(snap.TempIndoor),
		ptr(snap.TempOutdoor),
		ptr(snap.Setpoint),
		snap.MarginBase*100,
		snap.FeedbackStats.RecentCycles,
		snap.FeedbackStats.SuccessRate*100,
		snap.FeedbackStats.AvgErrorMinutes,
		orDefault(sessions.String(), "  none\n"),
		orDefault(weather.String(), "  unavailable\n"))
}

type wireResponse struct {
	MarginAdjustment float64 `json:"margin_adjustment"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
}

// parseResponse extracts the JSON answer from raw model output, tolerating
// markdown fences. Out-of-band values are clamped, never surfaced raw.
func parseResponse(raw, provider, modelName string) (Response, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var w wireResponse
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return Response{Provider: provider, Model: modelName, Raw: raw, Timestamp: time.Now()},
			fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	reasoning := trunc(w.Reasoning, 200)
	return Response{
		MarginAdjustment: clamp(w.MarginAdjustment, MinAdjustment, MaxAdjustment),
		Confidence:       clamp(w.Confidence, 0, 1),
		Reasoning:        reasoning,
		Raw:              raw,
		Provider:         provider,
		Model:            modelName,
		Timestamp:        time.Now(),
	}, nil
}

func num(v float64, format string) string {
	if v == 0 {
		return "N/A"
	}
	return fmt.Sprintf(format, v)
}

func ptr(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%.1f", *v)
}

// trunc caps s at n runes. Provider output is arbitrary text, so the cut
// must land on a rune boundary, not a byte offset.
func trunc(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
