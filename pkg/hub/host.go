package hub

import (
	"context"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Entity is a switch exposed by the hub.
type Entity interface {
	UniqueID() string
	Name() string
	IsOn() bool
	Available() bool
	ShouldPoll() bool

	Update(ctx context.Context) error
	TurnOn(ctx context.Context, duration time.Duration) error
	TurnOff(ctx context.Context) error
}

// maxParallelUpdates bounds the number of concurrent Update calls per cycle.
const maxParallelUpdates = 8

// Host keeps the registered entities and polls them on a fixed interval.
type Host struct {
	interval time.Duration
	logger   log.FieldLogger

	mu        sync.RWMutex
	entities  []Entity
	byID      map[string]Entity
	listeners []func([]Entity)

	errMu   sync.Mutex
	lastErr map[string]string // last logged error per entity
}

func NewHost(interval time.Duration, logger log.FieldLogger) *Host {
	return &Host{
		interval: interval,
		logger:   logger.WithField("component", "host"),
		byID:     map[string]Entity{},
		lastErr:  map[string]string{},
	}
}

// AddEntities registers entities with the host. Entities with an id that is
// already registered are ignored.
func (h *Host) AddEntities(entities ...Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range entities {
		id := e.UniqueID()
		if _, ok := h.byID[id]; ok {
			h.logger.Warnf("Entity %s already registered", id)
			continue
		}
		h.entities = append(h.entities, e)
		h.byID[id] = e
		h.logger.Infof("Registered entity %s (%s)", id, e.Name())
	}
}

// Entities returns the registered entities in registration order.
func (h *Host) Entities() []Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.entities)
}

// Entity returns the entity with the given unique id.
func (h *Host) Entity(id string) (Entity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.byID[id]
	return e, ok
}

// OnPoll registers fn to be called with all entities after each poll cycle.
func (h *Host) OnPoll(fn func([]Entity)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// PollOnce updates every polled entity concurrently. Update errors are
// logged, never returned: a failing entity must not stop the others.
func (h *Host) PollOnce(ctx context.Context) {
	entities := h.Entities()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUpdates)
	for _, e := range entities {
		if !e.ShouldPoll() {
			continue
		}
		g.Go(func() error {
			h.report(e, e.Update(gctx))
			return nil
		})
	}
	g.Wait()

	h.mu.RLock()
	listeners := slices.Clone(h.listeners)
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn(entities)
	}
}

// report logs an update error once per occurrence: repeats of the same error
// are not logged again, and recovery is logged.
func (h *Host) report(e Entity, err error) {
	id := e.UniqueID()

	h.errMu.Lock()
	defer h.errMu.Unlock()

	last, failing := h.lastErr[id]
	if err == nil {
		if failing {
			delete(h.lastErr, id)
			h.logger.Infof("Entity %s recovered", id)
		}
		return
	}

	if msg := err.Error(); msg != last {
		h.lastErr[id] = msg
		h.logger.Errorf("Update of entity %s failed: %v", id, err)
	}
}

// Run polls all entities every interval until ctx is cancelled.
func (h *Host) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debugf("Polling %d entities every %v", len(h.Entities()), h.interval)
	h.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PollOnce(ctx)
		}
	}
}
