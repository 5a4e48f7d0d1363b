package simulator

import (
	"context"
	"io"
	"testing"
	"time"

	"opensprinkler/pkg/sprinkler"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(names []string) (*Controller, *time.Time) {
	logger := log.New()
	logger.SetOutput(io.Discard)

	now := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	c := NewController(names, 10*time.Minute, logger)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestStationNames(t *testing.T) {
	assert.Equal(t, []string{"S01", "S02", "S03"}, StationNames(3))
}

func TestControllerRunsForDuration(t *testing.T) {
	c, now := newTestController([]string{"Lawn", "Beds"})
	ctx := context.Background()

	require.NoError(t, c.On(ctx, 1, 0))
	list, err := c.StatusList(ctx)
	require.NoError(t, err)
	assert.Equal(t, sprinkler.StateOff, list[0].State)
	assert.Equal(t, sprinkler.StateOn, list[1].State)
	assert.Equal(t, "Beds", list[1].Name)

	*now = now.Add(10 * time.Minute)
	list, err = c.StatusList(ctx)
	require.NoError(t, err)
	assert.Equal(t, sprinkler.StateOff, list[1].State)
}

func TestControllerOff(t *testing.T) {
	c, _ := newTestController([]string{"Lawn"})
	ctx := context.Background()

	require.NoError(t, c.On(ctx, 0, time.Hour))
	require.NoError(t, c.Off(ctx, 0))

	list, err := c.StatusList(ctx)
	require.NoError(t, err)
	assert.Equal(t, sprinkler.StateOff, list[0].State)
}

func TestControllerInvalidStation(t *testing.T) {
	c, _ := newTestController([]string{"Lawn"})
	assert.Error(t, c.On(context.Background(), 1, 0))
	assert.Error(t, c.Off(context.Background(), -1))
}

func TestControllerStations(t *testing.T) {
	c, _ := newTestController(StationNames(2))
	infos, err := c.Stations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []sprinkler.StationInfo{{Number: 1, Name: "S01"}, {Number: 2, Name: "S02"}}, infos)
}
