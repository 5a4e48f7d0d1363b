package sprinkler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Station is the switch entity of one physical station. Its name and state
// are derived from the shared cache on every Update.
type Station struct {
	cache      *Cache
	controller string
	number     int // 1-based
	logger     log.FieldLogger
	metrics    *Metrics

	mu        sync.RWMutex
	name      string
	on        bool
	available bool
}

// NewStation creates the entity for the 1-based station number.
func NewStation(controller string, number int, cache *Cache, logger log.FieldLogger, metrics *Metrics) *Station {
	return &Station{
		cache:      cache,
		controller: controller,
		number:     number,
		logger:     logger.WithField("station", number),
		metrics:    metrics,
		name:       fmt.Sprintf("%s_%d", controller, number),
	}
}

// UniqueID returns a stable identifier made of the controller name and the
// station number.
func (s *Station) UniqueID() string {
	id := strings.ToLower(strings.ReplaceAll(s.controller, " ", "_"))
	return fmt.Sprintf("%s_station_%d", id, s.number)
}

// Name returns the display name of the station.
func (s *Station) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// IsOn returns true if the station was running at the last update.
func (s *Station) IsOn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on
}

// Available returns false when the last update failed.
func (s *Station) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// ShouldPoll is always true: the controller does not push state changes.
func (s *Station) ShouldPoll() bool {
	return true
}

// Update refreshes the shared cache and reads this station's row from it.
// On failure the last known name and state are kept and the station is
// marked unavailable.
func (s *Station) Update(ctx context.Context) error {
	snap, err := s.cache.Refresh(ctx)
	if err != nil {
		s.setAvailable(false)
		return err
	}
	return s.apply(snap)
}

// apply takes this station's name and state from snap.
func (s *Station) apply(snap Snapshot) error {
	row, err := snap.Station(s.number)
	if err != nil {
		s.setAvailable(false)
		return err
	}

	on := row.State == StateOn
	name := s.controller + "_" + row.Name

	s.mu.Lock()
	s.name = name
	s.on = on
	s.available = true
	s.mu.Unlock()

	s.metrics.setStationState(s.controller, s.number, on)
	return nil
}

func (s *Station) setAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
}

// TurnOn starts the station. A zero duration uses the controller's default
// runtime. Local state is not changed until the next Update.
func (s *Station) TurnOn(ctx context.Context, duration time.Duration) error {
	return s.cache.TurnOn(ctx, s.number-1, duration)
}

// TurnOff stops the station.
func (s *Station) TurnOff(ctx context.Context) error {
	return s.cache.TurnOff(ctx, s.number-1)
}
