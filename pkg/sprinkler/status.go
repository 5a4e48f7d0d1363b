package sprinkler

import (
	"fmt"
	"strings"
	"time"
)

// State is the on/off state of a single station.
type State int

const (
	StateOff State = iota
	StateOn
)

func (s State) String() string {
	if s == StateOn {
		return "ON"
	}
	return "OFF"
}

// ParseState converts "ON"/"OFF" command payloads to a State.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return StateOn, nil
	case "OFF":
		return StateOff, nil
	default:
		return StateOff, fmt.Errorf("invalid station state: %q", s)
	}
}

// StationInfo describes a station discovered on the controller.
type StationInfo struct {
	Number int // 1-based
	Name   string
}

// StationStatus is one row of a status list.
type StationStatus struct {
	Number int // 1-based
	Name   string
	State  State
}

// Snapshot is a point-in-time capture of every station on a controller.
// A snapshot is never modified after it has been built; rows are only
// reachable through Station.
type Snapshot struct {
	stations  []StationStatus
	FetchedAt time.Time
}

func newSnapshot(stations []StationStatus, fetchedAt time.Time) Snapshot {
	rows := make([]StationStatus, len(stations))
	copy(rows, stations)
	return Snapshot{stations: rows, FetchedAt: fetchedAt}
}

// Len returns the number of stations in the snapshot.
func (s Snapshot) Len() int {
	return len(s.stations)
}

// Station returns the row of the 1-based station number.
func (s Snapshot) Station(number int) (StationStatus, error) {
	if number < 1 || number > len(s.stations) {
		return StationStatus{}, fmt.Errorf("%w: station %d, snapshot has %d stations",
			ErrStationIndex, number, len(s.stations))
	}
	return s.stations[number-1], nil
}
