// none.go
package advisor

import (
	"context"
	"fmt"
	"time"
)

// NoneProvider is the purely algorithmic variant: a fixed heuristic on the
// outdoor temperature and forecast, no network, answers immediately.
type NoneProvider struct{}

func (NoneProvider) Name() string  { return "none" }
func (NoneProvider) Model() string { return "algorithm" }

func (p NoneProvider) GetAdjustment(_ context.Context, snap Snapshot, _ string) (Response, error) {
	outdoor := 10.0
	if snap.TempOutdoor != nil {
		outdoor = *snap.TempOutdoor
	}

	var adj float64
	var reason string
	switch {
	case outdoor < -5:
		adj, reason = 0.10, fmt.Sprintf("severe cold (%.0fC), margin raised", outdoor)
	case outdoor < 0:
		adj, reason = 0.05, fmt.Sprintf("cold (%.0fC), small extra margin", outdoor)
	case outdoor < 5:
		adj, reason = 0.0, "normal winter conditions"
	case outdoor < 12:
		adj, reason = -0.03, fmt.Sprintf("mild (%.0fC), margin reduced", outdoor)
	default:
		adj, reason = -0.05, fmt.Sprintf("warm (%.0fC), minimal margin", outdoor)
	}

	for i, f := range snap.Forecast {
		if i >= 4 {
			break
		}
		switch f.Condition {
		case "snowy", "snowy-rainy":
			adj += 0.05
			reason += " + snow expected"
		case "windy", "windy-variant":
			adj += 0.03
			reason += " + wind expected"
		default:
			continue
		}
		break
	}

	return Response{
		MarginAdjustment: clamp(adj, MinAdjustment, MaxAdjustment),
		Confidence:       0.6,
		Reasoning:        reason,
		Raw:              "algorithmic",
		Provider:         p.Name(),
		Model:            p.Model(),
		Timestamp:        time.Now(),
	}, nil
}
