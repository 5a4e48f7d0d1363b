package sprinkler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var errDeviceDown = errors.New("connection refused")

// fakeClient is an in-memory DeviceClient that counts calls and can inject
// failures.
type fakeClient struct {
	mu       sync.Mutex
	stations []StationStatus

	verifyErr   error
	stationsErr error
	statusErr   error
	cmdErr      error

	// entered is signalled and release is waited on by StatusList when set.
	entered chan struct{}
	release chan struct{}

	verifyCalls int
	statusCalls int
	onCalls     []int
	offCalls    []int
	durations   []time.Duration
}

func newFakeClient(names ...string) *fakeClient {
	c := &fakeClient{}
	for i, name := range names {
		c.stations = append(c.stations, StationStatus{Number: i + 1, Name: name, State: StateOff})
	}
	return c
}

func (c *fakeClient) Verify(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyCalls++
	return c.verifyErr
}

func (c *fakeClient) Stations(ctx context.Context) ([]StationInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stationsErr != nil {
		return nil, c.stationsErr
	}
	infos := make([]StationInfo, 0, len(c.stations))
	for _, st := range c.stations {
		infos = append(infos, StationInfo{Number: st.Number, Name: st.Name})
	}
	return infos, nil
}

func (c *fakeClient) StatusList(ctx context.Context) ([]StationStatus, error) {
	c.mu.Lock()
	c.statusCalls++
	entered, release := c.entered, c.release
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	rows := make([]StationStatus, len(c.stations))
	copy(rows, c.stations)
	return rows, nil
}

func (c *fakeClient) On(ctx context.Context, sid int, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCalls = append(c.onCalls, sid)
	c.durations = append(c.durations, duration)
	if c.cmdErr != nil {
		return c.cmdErr
	}
	c.stations[sid].State = StateOn
	return nil
}

func (c *fakeClient) Off(ctx context.Context, sid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offCalls = append(c.offCalls, sid)
	if c.cmdErr != nil {
		return c.cmdErr
	}
	c.stations[sid].State = StateOff
	return nil
}

func (c *fakeClient) setStatusErr(err error) {
	c.mu.Lock()
	c.statusErr = err
	c.mu.Unlock()
}

func (c *fakeClient) setState(number int, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stations[number-1].State = state
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCache(client DeviceClient, interval time.Duration, clock *fakeClock) *Cache {
	c := NewCache(client, interval, testLogger(), nil)
	c.now = clock.Now
	return c
}
