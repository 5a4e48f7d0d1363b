package sprinkler

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// SetupConfig holds what Setup needs to build the stations of a controller.
type SetupConfig struct {
	// ControllerName prefixes every station name.
	ControllerName string

	// Client talks to the controller.
	Client DeviceClient

	// RefreshInterval is the minimum time between two status list fetches.
	RefreshInterval time.Duration

	Logger  log.FieldLogger
	Metrics *Metrics // optional
}

// Setup verifies the controller, discovers its stations and returns one
// Station per physical station, each with an initial state. If the controller
// cannot be reached an error wrapping ErrConnectivity is returned and no
// stations are created.
func Setup(ctx context.Context, cfg SetupConfig) ([]*Station, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger = logger.WithField("controller", cfg.ControllerName)

	if err := cfg.Client.Verify(ctx); err != nil {
		logger.Errorf("Could not connect to OpenSprinkler: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	infos, err := cfg.Client.Stations(ctx)
	if err != nil {
		logger.Errorf("Could not list stations: %v", err)
		return nil, fmt.Errorf("%w: list stations: %v", ErrConnectivity, err)
	}

	cache := NewCache(cfg.Client, cfg.RefreshInterval, logger, cfg.Metrics)

	// One fetch for all stations. If it fails the stations start unavailable
	// and pick up their state on the first poll.
	snap, refreshErr := cache.Refresh(ctx)
	if refreshErr != nil {
		logger.Warnf("Initial status fetch failed, stations start unavailable: %v", refreshErr)
	}

	stations := make([]*Station, 0, len(infos))
	for _, info := range infos {
		st := NewStation(cfg.ControllerName, info.Number, cache, logger, cfg.Metrics)
		if refreshErr == nil {
			if err := st.apply(snap); err != nil {
				logger.Warnf("Initial update of station %d failed: %v", info.Number, err)
			}
		}
		stations = append(stations, st)
	}

	logger.Infof("Found %d stations", len(stations))
	return stations, nil
}
