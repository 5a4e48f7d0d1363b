package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultDiscoveryPort = 32227
	discoveryProbe       = "opensprinklerhub"
)

// DiscoveryResponder answers UDP discovery probes with the HTTP port of the hub.
type DiscoveryResponder struct {
	addr     string
	port     int
	response []byte
	logger   log.FieldLogger
}

// NewDiscoveryResponder creates a responder listening on addr:port that
// advertises hubPort.
func NewDiscoveryResponder(addr string, port, hubPort int, logger log.FieldLogger) *DiscoveryResponder {
	return &DiscoveryResponder{
		addr:     addr,
		port:     port,
		response: []byte(fmt.Sprintf(`{"HubPort": %d}`, hubPort)),
		logger:   logger,
	}
}

// Run binds the discovery socket and serves probes until ctx is cancelled.
func (d *DiscoveryResponder) Run(ctx context.Context) error {
	address, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.addr, strconv.Itoa(d.port)))
	if err != nil {
		return fmt.Errorf("cannot resolve discovery address: %v", err)
	}

	conn, err := net.ListenUDP("udp", address)
	if err != nil {
		return fmt.Errorf("cannot bind discovery socket: %v", err)
	}
	defer conn.Close()

	d.logger.Debugf("Discovery responder started on %s", conn.LocalAddr())
	return d.Serve(ctx, conn)
}

// Serve answers probes received on conn until ctx is cancelled.
func (d *DiscoveryResponder) Serve(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Set a read deadline to periodically check for context cancellation
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Debugf("Error reading from socket: %v", err)
			continue
		}

		data := string(buf[:n])
		d.logger.Debugf("Received %s from %s", data, addr)

		if strings.Contains(strings.ToLower(data), discoveryProbe) {
			if _, err := conn.WriteToUDP(d.response, addr); err != nil {
				d.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}
