package sprinkler

import (
	"context"
	"time"
)

// DeviceClient performs the network calls against an irrigation controller.
// Station ids passed to On and Off are 0-based.
type DeviceClient interface {
	// Verify checks that the controller is reachable and accepts the credentials.
	Verify(ctx context.Context) error

	// Stations returns the ordered list of stations configured on the controller.
	Stations(ctx context.Context) ([]StationInfo, error)

	// StatusList fetches the current status of every station, ordered by number.
	StatusList(ctx context.Context) ([]StationStatus, error)

	// On starts a station. A zero duration uses the controller's default runtime.
	On(ctx context.Context, sid int, duration time.Duration) error

	// Off stops a station.
	Off(ctx context.Context, sid int) error
}
