package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"opensprinkler/pkg/sprinkler"

	log "github.com/sirupsen/logrus"
)

// Controller simulates an OpenSprinkler controller in memory. Stations run
// for the requested duration and then turn themselves off.
type Controller struct {
	logger         log.FieldLogger
	defaultRuntime time.Duration
	now            func() time.Time

	mu    sync.Mutex
	names []string
	until []time.Time // zero when the station is off
}

var _ sprinkler.DeviceClient = (*Controller)(nil)

// NewController creates a simulated controller with the given station names.
func NewController(names []string, defaultRuntime time.Duration, logger log.FieldLogger) *Controller {
	return &Controller{
		logger:         logger,
		defaultRuntime: defaultRuntime,
		now:            time.Now,
		names:          append([]string(nil), names...),
		until:          make([]time.Time, len(names)),
	}
}

// StationNames returns default names "S01", "S02", ... for n stations.
func StationNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("S%02d", i+1)
	}
	return names
}

func (c *Controller) Verify(ctx context.Context) error {
	c.logger.Debug("Simulated controller verified")
	return nil
}

func (c *Controller) Stations(ctx context.Context) ([]sprinkler.StationInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]sprinkler.StationInfo, len(c.names))
	for i, name := range c.names {
		infos[i] = sprinkler.StationInfo{Number: i + 1, Name: name}
	}
	return infos, nil
}

func (c *Controller) StatusList(ctx context.Context) ([]sprinkler.StationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	list := make([]sprinkler.StationStatus, len(c.names))
	for i, name := range c.names {
		state := sprinkler.StateOff
		if now.Before(c.until[i]) {
			state = sprinkler.StateOn
		}
		list[i] = sprinkler.StationStatus{Number: i + 1, Name: name, State: state}
	}
	return list, nil
}

func (c *Controller) On(ctx context.Context, sid int, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkStation(sid); err != nil {
		return err
	}
	if duration <= 0 {
		duration = c.defaultRuntime
	}
	c.until[sid] = c.now().Add(duration)
	c.logger.Infof("Station %s running for %v", c.names[sid], duration)
	return nil
}

func (c *Controller) Off(ctx context.Context, sid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkStation(sid); err != nil {
		return err
	}
	c.until[sid] = time.Time{}
	c.logger.Infof("Station %s stopped", c.names[sid])
	return nil
}

func (c *Controller) checkStation(sid int) error {
	if sid < 0 || sid >= len(c.names) {
		return fmt.Errorf("station id %d out of range", sid)
	}
	return nil
}
