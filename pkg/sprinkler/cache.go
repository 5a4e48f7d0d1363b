package sprinkler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// MinTimeBetweenPolls is the cadence at which the hub polls station entities.
const MinTimeBetweenPolls = 5 * time.Second

// failureBackoff is how long a failed fetch is reported to later callers
// before the controller is asked again.
const failureBackoff = time.Second

// Cache holds the last status snapshot of a controller and shares it between
// all stations of that controller. Refresh hits the network at most once per
// interval, no matter how many stations ask for it.
type Cache struct {
	client   DeviceClient
	interval time.Duration
	logger   log.FieldLogger
	metrics  *Metrics
	now      func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	snapshot    Snapshot
	lastRefresh time.Time
	failedAt    time.Time
	failErr     error
}

// NewCache wraps client in a cache that refreshes at most once per interval.
// metrics may be nil.
func NewCache(client DeviceClient, interval time.Duration, logger log.FieldLogger, metrics *Metrics) *Cache {
	return &Cache{
		client:   client,
		interval: interval,
		logger:   logger.WithField("component", "cache"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Snapshot returns the current snapshot without refreshing.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// fresh reports the cached snapshot and whether it is younger than the interval.
func (c *Cache) fresh() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRefresh.IsZero() {
		return c.snapshot, false
	}
	return c.snapshot, c.now().Sub(c.lastRefresh) < c.interval
}

// recentFailure returns the error of a fetch that failed less than the
// backoff ago, or nil.
func (c *Cache) recentFailure() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.failErr == nil {
		return nil
	}
	backoff := min(failureBackoff, c.interval)
	if c.now().Sub(c.failedAt) < backoff {
		return c.failErr
	}
	return nil
}

// Refresh returns the cached snapshot if it is younger than the interval.
// Otherwise it fetches a new status list from the controller. Concurrent
// callers share a single in-flight fetch and all receive its result.
//
// On failure the previous snapshot is returned together with an error
// wrapping ErrRefresh; the snapshot is left untouched. Callers arriving shortly
// after a failed fetch get the same error without another request.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	if snap, ok := c.fresh(); ok {
		return snap, nil
	}
	if err := c.recentFailure(); err != nil {
		return c.Snapshot(), err
	}

	v, err, _ := c.group.Do("statuslist", func() (any, error) {
		// A flight that completed just before we got here already did the work.
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
		if err := c.recentFailure(); err != nil {
			return nil, err
		}
		return c.fetch(ctx)
	})
	if err != nil {
		return c.Snapshot(), err
	}
	return v.(Snapshot), nil
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	stations, err := c.client.StatusList(ctx)
	c.metrics.observeRefresh(err)
	if err != nil {
		c.logger.Errorf("Failed to refresh station status: %v", err)
		err = fmt.Errorf("%w: %v", ErrRefresh, err)

		c.mu.Lock()
		c.failedAt = c.now()
		c.failErr = err
		c.mu.Unlock()
		return Snapshot{}, err
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.lastRefresh) {
		now = c.lastRefresh
	}
	c.snapshot = newSnapshot(stations, now)
	c.lastRefresh = now
	c.failErr = nil

	c.logger.Debugf("Refreshed status of %d stations", len(stations))
	return c.snapshot, nil
}

// TurnOn starts the 0-based station sid. The snapshot is not updated; the new
// state becomes visible after the next refresh.
func (c *Cache) TurnOn(ctx context.Context, sid int, duration time.Duration) error {
	err := c.client.On(ctx, sid, duration)
	c.metrics.observeCommand("on", err)
	if err != nil {
		return fmt.Errorf("%w: turn on station %d: %v", ErrCommand, sid+1, err)
	}
	c.logger.Infof("Turned on station %d", sid+1)
	return nil
}

// TurnOff stops the 0-based station sid.
func (c *Cache) TurnOff(ctx context.Context, sid int) error {
	err := c.client.Off(ctx, sid)
	c.metrics.observeCommand("off", err)
	if err != nil {
		return fmt.Errorf("%w: turn off station %d: %v", ErrCommand, sid+1, err)
	}
	c.logger.Infof("Turned off station %d", sid+1)
	return nil
}
