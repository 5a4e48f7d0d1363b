package sprinkler

import "errors"

var (
	// ErrConnectivity is returned by Setup when the controller cannot be reached.
	// No stations are created in that case.
	ErrConnectivity = errors.New("could not connect to OpenSprinkler")

	// ErrRefresh is returned when fetching the station status list fails.
	// The cache keeps its last good snapshot.
	ErrRefresh = errors.New("station status refresh failed")

	// ErrStationIndex is returned when a station number is not present in the
	// current snapshot, e.g. after the controller was reconfigured.
	ErrStationIndex = errors.New("station not in snapshot")

	// ErrCommand is returned when an on/off command fails.
	ErrCommand = errors.New("station command failed")
)
