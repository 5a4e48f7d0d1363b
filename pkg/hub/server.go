package hub

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"opensprinkler/pkg/sprinkler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type ServerDescription struct {
	Name                string `json:"ServerName"`
	Manufacturer        string `json:"Manufacturer"`
	ManufacturerVersion string `json:"ManufacturerVersion"`
	Location            string `json:"Location"`
}

// EntityInfo is the JSON view of an entity.
type EntityInfo struct {
	ID        string `json:"UniqueID"`
	Name      string `json:"Name"`
	IsOn      bool   `json:"IsOn"`
	Available bool   `json:"Available"`
}

func entityInfo(e Entity) EntityInfo {
	return EntityInfo{
		ID:        e.UniqueID(),
		Name:      e.Name(),
		IsOn:      e.IsOn(),
		Available: e.Available(),
	}
}

// Server exposes the hub entities over HTTP.
type Server struct {
	description ServerDescription
	host        *Host
	setup       http.HandlerFunc
	gatherer    prometheus.Gatherer
	logger      log.FieldLogger
}

// NewServer creates a new Server. setup serves the configuration page and
// gatherer the metrics endpoint; both may be nil.
func NewServer(description ServerDescription, host *Host, setup http.HandlerFunc, gatherer prometheus.Gatherer, logger log.FieldLogger) *Server {
	return &Server{
		description: description,
		host:        host,
		setup:       setup,
		gatherer:    gatherer,
		logger:      logger.WithField("component", "server"),
	}
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	r.HandleFunc("GET /management/v1/description", s.handleDescription)
	r.HandleFunc("GET /management/v1/configuredentities", s.handleConfiguredEntities)

	r.HandleFunc("GET /api/v1/switch/{id}/name", s.withEntity(s.handleName))
	r.HandleFunc("GET /api/v1/switch/{id}/ison", s.withEntity(s.handleIsOn))
	r.HandleFunc("GET /api/v1/switch/{id}/available", s.withEntity(s.handleAvailable))
	r.HandleFunc("GET /api/v1/switch/{id}/state", s.withEntity(s.handleState))
	r.HandleFunc("PUT /api/v1/switch/{id}/turnon", s.withEntity(s.handleTurnOn))
	r.HandleFunc("PUT /api/v1/switch/{id}/turnoff", s.withEntity(s.handleTurnOff))

	if s.setup != nil {
		r.HandleFunc("/setup", s.setup)
	}
	if s.gatherer != nil {
		r.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

type entityHandler func(w http.ResponseWriter, r *http.Request, e Entity)

func (s *Server) withEntity(next entityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		e, ok := s.host.Entity(id)
		if !ok {
			handleError(w, r, errNotFound, "unknown entity: "+id)
			return
		}
		next(w, r, e)
	}
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	handleResponse(w, r, s.description)
}

func (s *Server) handleConfiguredEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.host.Entities()
	infos := make([]EntityInfo, 0, len(entities))
	for _, e := range entities {
		infos = append(infos, entityInfo(e))
	}
	handleResponse(w, r, infos)
}

func (s *Server) handleName(w http.ResponseWriter, r *http.Request, e Entity) {
	handleResponse(w, r, e.Name())
}

func (s *Server) handleIsOn(w http.ResponseWriter, r *http.Request, e Entity) {
	if !e.Available() {
		handleError(w, r, errUnavailable, "entity unavailable")
		return
	}
	handleResponse(w, r, e.IsOn())
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request, e Entity) {
	handleResponse(w, r, e.Available())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, e Entity) {
	handleResponse(w, r, entityInfo(e))
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request, e Entity) {
	var duration time.Duration
	if value, ok := getParam(requestParams(r), "Duration"); ok {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			handleError(w, r, errInvalidValue, "Duration must be a non-negative number of seconds")
			return
		}
		duration = time.Duration(seconds) * time.Second
	}

	if err := e.TurnOn(r.Context(), duration); err != nil {
		s.commandError(w, r, e, err)
		return
	}
	handleResponse(w, r, nil)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request, e Entity) {
	if err := e.TurnOff(r.Context()); err != nil {
		s.commandError(w, r, e, err)
		return
	}
	handleResponse(w, r, nil)
}

func (s *Server) commandError(w http.ResponseWriter, r *http.Request, e Entity, err error) {
	s.logger.Errorf("Command on %s failed: %v", e.UniqueID(), err)
	code := errCommandFailed
	if errors.Is(err, sprinkler.ErrStationIndex) {
		code = errNotFound
	}
	handleError(w, r, code, err.Error())
}
