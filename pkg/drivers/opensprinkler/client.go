package opensprinkler

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"opensprinkler/pkg/sprinkler"

	log "github.com/sirupsen/logrus"
)

const (
	pathController = "/jc" // controller variables, used to verify the connection
	pathNames      = "/jn" // station names
	pathStatus     = "/js" // station status bits
	pathManual     = "/cm" // manual station run
)

// resultMsg is returned by every endpoint on error, and by command endpoints
// on success (result 1).
type resultMsg struct {
	Result *int `json:"result"`
}

type namesMsg struct {
	Names []string `json:"snames"`
}

type statusMsg struct {
	Status    []int `json:"sn"`
	NStations int   `json:"nstations"`
}

// Client talks to an OpenSprinkler controller over its HTTP/JSON API.
// Station names change rarely, so they are cached for the full refresh
// interval; status is fetched on every call.
type Client struct {
	baseURL        string
	password       string // md5 hex digest
	defaultRuntime time.Duration
	retries        int
	retryDelay     time.Duration
	namesTTL       time.Duration
	http           *http.Client
	logger         log.FieldLogger
	now            func() time.Time

	mu           sync.Mutex
	names        []string
	namesFetched time.Time
}

var _ sprinkler.DeviceClient = (*Client)(nil)

// NewClient creates a client for the controller described by cfg.
// The host may carry a port ("10.0.0.5:8080"); https is not supported.
func NewClient(cfg Config, logger log.FieldLogger) *Client {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}

	sum := md5.Sum([]byte(cfg.Password))

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	return &Client{
		baseURL:        host,
		password:       hex.EncodeToString(sum[:]),
		defaultRuntime: cfg.defaultRuntime(),
		retries:        retries,
		retryDelay:     time.Second,
		namesTTL:       cfg.RefreshInterval(),
		http:           &http.Client{Timeout: cfg.timeout()},
		logger:         logger.WithField("component", "client"),
		now:            time.Now,
	}
}

// Verify checks that the controller answers and accepts the password.
func (c *Client) Verify(ctx context.Context) error {
	var msg map[string]any
	return c.get(ctx, pathController, nil, &msg)
}

// Stations lists the stations configured on the controller. It always
// fetches the names from the device.
func (c *Client) Stations(ctx context.Context) ([]sprinkler.StationInfo, error) {
	names, err := c.stationNames(ctx, true)
	if err != nil {
		return nil, err
	}

	infos := make([]sprinkler.StationInfo, len(names))
	for i, name := range names {
		infos[i] = sprinkler.StationInfo{Number: i + 1, Name: name}
	}
	return infos, nil
}

// StatusList returns the state of every station.
func (c *Client) StatusList(ctx context.Context) ([]sprinkler.StationStatus, error) {
	var status statusMsg
	if err := c.get(ctx, pathStatus, nil, &status); err != nil {
		return nil, err
	}

	n := status.NStations
	if n == 0 || n > len(status.Status) {
		n = len(status.Status)
	}

	names, err := c.stationNames(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(names) < n {
		// Stations were added on the device since the names were cached.
		if names, err = c.stationNames(ctx, true); err != nil {
			return nil, err
		}
		if len(names) < n {
			return nil, fmt.Errorf("%w: %d station names for %d stations", ErrBadResponse, len(names), n)
		}
	}

	list := make([]sprinkler.StationStatus, n)
	for i := 0; i < n; i++ {
		state := sprinkler.StateOff
		if status.Status[i] != 0 {
			state = sprinkler.StateOn
		}
		list[i] = sprinkler.StationStatus{Number: i + 1, Name: names[i], State: state}
	}
	return list, nil
}

// On starts station sid (0-based) for the given duration, or for the
// configured default runtime when duration is zero.
func (c *Client) On(ctx context.Context, sid int, duration time.Duration) error {
	if duration <= 0 {
		duration = c.defaultRuntime
	}
	seconds := int(duration / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if seconds > MaxStationRuntime {
		seconds = MaxStationRuntime
	}

	params := url.Values{}
	params.Set("sid", strconv.Itoa(sid))
	params.Set("en", "1")
	params.Set("t", strconv.Itoa(seconds))

	c.logger.Debugf("Starting station %d for %ds", sid, seconds)
	var msg resultMsg
	return c.get(ctx, pathManual, params, &msg)
}

// Off stops station sid (0-based).
func (c *Client) Off(ctx context.Context, sid int) error {
	params := url.Values{}
	params.Set("sid", strconv.Itoa(sid))
	params.Set("en", "0")

	c.logger.Debugf("Stopping station %d", sid)
	var msg resultMsg
	return c.get(ctx, pathManual, params, &msg)
}

func (c *Client) stationNames(ctx context.Context, force bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.names != nil && c.now().Sub(c.namesFetched) < c.namesTTL {
		return c.names, nil
	}

	var msg namesMsg
	if err := c.get(ctx, pathNames, nil, &msg); err != nil {
		return nil, err
	}
	c.names = msg.Names
	c.namesFetched = c.now()
	return c.names, nil
}

// get calls the endpoint, retrying transport errors and server errors, and
// decodes the JSON body into out. A firmware error result is never retried.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		body, err := c.do(ctx, path, params)
		if err == nil {
			return decode(body, out)
		}
		lastErr = err

		var re retryableError
		if !errors.As(err, &re) {
			return err
		}
		c.logger.Debugf("Request %s failed (attempt %d/%d): %v", path, attempt, c.retries, err)

		if attempt < c.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	return lastErr
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("pw", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retryableError{err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryableError{err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, retryableError{fmt.Errorf("http status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", ErrBadResponse, resp.StatusCode)
	}
	return body, nil
}

// decode checks the firmware result code and unmarshals the body into out.
func decode(body []byte, out any) error {
	var res resultMsg
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if res.Result != nil && *res.Result != 1 {
		code := *res.Result
		if code == 2 {
			return ErrUnauthorized
		}
		msg, ok := resultMessages[code]
		if !ok {
			msg = "unknown error"
		}
		return fmt.Errorf("%w: %s (result %d)", ErrResult, msg, code)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
