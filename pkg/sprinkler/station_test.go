package sprinkler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupNamesStations(t *testing.T) {
	client := newFakeClient("A", "B", "C")
	client.setState(2, StateOn)

	stations, err := Setup(context.Background(), SetupConfig{
		ControllerName:  "Yard",
		Client:          client,
		RefreshInterval: time.Minute,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	require.Len(t, stations, 3)

	assert.Equal(t, "Yard_A", stations[0].Name())
	assert.Equal(t, "Yard_B", stations[1].Name())
	assert.Equal(t, "Yard_C", stations[2].Name())

	assert.False(t, stations[0].IsOn())
	assert.True(t, stations[1].IsOn())
	assert.False(t, stations[2].IsOn())

	for _, st := range stations {
		assert.True(t, st.Available())
		assert.True(t, st.ShouldPoll())
	}
	assert.Equal(t, "yard_station_2", stations[1].UniqueID())

	// All initial updates share one fetch.
	assert.Equal(t, 1, client.calls())
}

func TestSetupVerifyFailure(t *testing.T) {
	client := newFakeClient("A", "B")
	client.verifyErr = errDeviceDown

	stations, err := Setup(context.Background(), SetupConfig{
		ControllerName:  "Yard",
		Client:          client,
		RefreshInterval: time.Minute,
		Logger:          testLogger(),
	})
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Empty(t, stations)
	assert.Equal(t, 0, client.calls())
}

func TestSetupStationsFailure(t *testing.T) {
	client := newFakeClient("A", "B")
	client.stationsErr = errDeviceDown

	stations, err := Setup(context.Background(), SetupConfig{
		ControllerName:  "Yard",
		Client:          client,
		RefreshInterval: time.Minute,
		Logger:          testLogger(),
	})
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Empty(t, stations)
	assert.Equal(t, 0, client.calls())
}

func TestSetupStatusFailureFetchesOnce(t *testing.T) {
	client := newFakeClient("A", "B", "C", "D", "E", "F")
	client.statusErr = errDeviceDown

	stations, err := Setup(context.Background(), SetupConfig{
		ControllerName:  "Yard",
		Client:          client,
		RefreshInterval: time.Minute,
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	require.Len(t, stations, 6)
	assert.Equal(t, 1, client.calls())

	for i, st := range stations {
		assert.False(t, st.Available())
		assert.False(t, st.IsOn())
		assert.Equal(t, fmt.Sprintf("Yard_%d", i+1), st.Name())
	}
}

func TestStationsShareFailedFetch(t *testing.T) {
	names := make([]string, 24)
	for i := range names {
		names[i] = fmt.Sprintf("S%02d", i+1)
	}
	client := newFakeClient(names...)
	clock := newFakeClock()
	cache := newTestCache(client, time.Minute, clock)
	ctx := context.Background()

	var stations []*Station
	for i := range names {
		stations = append(stations, NewStation("Yard", i+1, cache, testLogger(), nil))
	}

	client.setStatusErr(errDeviceDown)
	var wg sync.WaitGroup
	for _, batch := range [][]*Station{stations[:8], stations[8:16], stations[16:]} {
		for _, st := range batch {
			wg.Add(1)
			go func(st *Station) {
				defer wg.Done()
				assert.ErrorIs(t, st.Update(ctx), ErrRefresh)
			}(st)
		}
		wg.Wait()
	}
	assert.Equal(t, 1, client.calls())
}

func TestStationIndexBoundaries(t *testing.T) {
	client := newFakeClient("A", "B", "C")
	cache := newTestCache(client, time.Minute, newFakeClock())
	ctx := context.Background()

	first := NewStation("Yard", 1, cache, testLogger(), nil)
	require.NoError(t, first.Update(ctx))
	assert.Equal(t, "Yard_A", first.Name())

	last := NewStation("Yard", 3, cache, testLogger(), nil)
	require.NoError(t, last.Update(ctx))
	assert.Equal(t, "Yard_C", last.Name())

	beyond := NewStation("Yard", 4, cache, testLogger(), nil)
	err := beyond.Update(ctx)
	assert.ErrorIs(t, err, ErrStationIndex)
	assert.False(t, beyond.Available())
	assert.False(t, beyond.IsOn())
}

func TestStationRemovedFromController(t *testing.T) {
	client := newFakeClient("A", "B")
	client.setState(2, StateOn)
	clock := newFakeClock()
	cache := newTestCache(client, time.Minute, clock)
	ctx := context.Background()

	st := NewStation("Yard", 2, cache, testLogger(), nil)
	require.NoError(t, st.Update(ctx))
	require.True(t, st.IsOn())

	client.mu.Lock()
	client.stations = client.stations[:1]
	client.mu.Unlock()
	clock.Advance(time.Minute)

	assert.ErrorIs(t, st.Update(ctx), ErrStationIndex)
	assert.False(t, st.Available())
}

func TestStationRoundTrip(t *testing.T) {
	client := newFakeClient("A", "B")
	clock := newFakeClock()
	cache := newTestCache(client, time.Minute, clock)
	ctx := context.Background()

	st := NewStation("Yard", 2, cache, testLogger(), nil)
	require.NoError(t, st.Update(ctx))
	require.False(t, st.IsOn())

	require.NoError(t, st.TurnOn(ctx, 0))
	assert.Equal(t, []int{1}, client.onCalls)
	assert.False(t, st.IsOn(), "state only changes on update")

	clock.Advance(time.Minute)
	require.NoError(t, st.Update(ctx))
	assert.True(t, st.IsOn())

	require.NoError(t, st.TurnOff(ctx))
	assert.Equal(t, []int{1}, client.offCalls)

	clock.Advance(time.Minute)
	require.NoError(t, st.Update(ctx))
	assert.False(t, st.IsOn())
}

func TestStationKeepsStateOnRefreshFailure(t *testing.T) {
	client := newFakeClient("A", "B", "C")
	client.setState(1, StateOn)
	clock := newFakeClock()
	cache := newTestCache(client, time.Minute, clock)
	ctx := context.Background()

	stations := []*Station{
		NewStation("Yard", 1, cache, testLogger(), nil),
		NewStation("Yard", 2, cache, testLogger(), nil),
		NewStation("Yard", 3, cache, testLogger(), nil),
	}
	for _, st := range stations {
		require.NoError(t, st.Update(ctx))
	}

	clock.Advance(time.Minute)
	client.setStatusErr(errDeviceDown)
	for _, st := range stations {
		err := st.Update(ctx)
		assert.ErrorIs(t, err, ErrRefresh)
		assert.False(t, st.Available())
	}
	// The failed fetch is shared by every station of the cycle.
	assert.Equal(t, 2, client.calls())

	assert.True(t, stations[0].IsOn())
	assert.Equal(t, "Yard_A", stations[0].Name())
	assert.False(t, stations[1].IsOn())
	assert.Equal(t, "Yard_C", stations[2].Name())

	// The next successful refresh restores availability.
	client.setStatusErr(nil)
	clock.Advance(failureBackoff)
	for _, st := range stations {
		require.NoError(t, st.Update(ctx))
		assert.True(t, st.Available())
	}
}

func TestStationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	client := newFakeClient("A")
	client.setState(1, StateOn)
	cache := newTestCache(client, time.Minute, newFakeClock())

	st := NewStation("Yard", 1, cache, testLogger(), metrics)
	require.NoError(t, st.Update(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.stationState.WithLabelValues("Yard", "1")))
}
