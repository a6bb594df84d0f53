// transport.go
package transport

import (
	"context"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// ObservationSource delivers the latest sensor snapshot per zone. Pulled by
// the engine on each tick; stale intermediate messages are dropped.
type ObservationSource interface {
	Latest(ctx context.Context, zone string) (model.Observation, bool, error)
}

// CommandPublisher carries climate commands out of the service.
// Fire-and-forget: there is no acknowledgement contract beyond "accepted".
type CommandPublisher interface {
	Publish(ctx context.Context, zone string, cmd model.Command) error
	Close()
}
