package sprinkler

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the cache and stations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	refreshes    *prometheus.CounterVec
	commands     *prometheus.CounterVec
	stationState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opensprinkler_refresh_total",
				Help: "Status list fetches against the controller.",
			},
			[]string{"result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opensprinkler_command_total",
				Help: "Station on/off commands sent to the controller.",
			},
			[]string{"command", "result"},
		),
		stationState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opensprinkler_station_on",
				Help: "Current state of station, 1 when running.",
			},
			[]string{"controller", "station"},
		),
	}
	reg.MustRegister(m.refreshes)
	reg.MustRegister(m.commands)
	reg.MustRegister(m.stationState)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeRefresh(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) observeCommand(command string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result(err)).Inc()
}

func (m *Metrics) setStationState(controller string, number int, on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	m.stationState.WithLabelValues(controller, strconv.Itoa(number)).Set(v)
}
