package controllink

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/edirooss/groundstation/internal/domain/link"
	"go.uber.org/zap"
)

// errNoData is returned by a poll when nothing is pending.
var errNoData = errors.New("no datagram pending")

// transport is one live socket pair. All methods are called from the tick
// loop only and must not block beyond pollWait.
type transport interface {
	readControl(buf []byte) (int, error)
	readTelemetry(buf []byte) (int, error)
	writeControl(p []byte) error
	close() error
}

// opener creates a transport for cfg. Failures leave nothing open.
type opener func(cfg link.Config) (transport, error)

// pollWait bounds a single non-blocking read attempt. A deadline already in
// the past fails before the socket is inspected, so a short future deadline
// is used instead.
const pollWait = time.Millisecond

// udpTransport pairs the unicast control socket with the multicast
// telemetry subscription.
type udpTransport struct {
	control   *net.UDPConn
	telemetry *net.UDPConn // nil when telemetry is disabled or the join failed
	server    *net.UDPAddr
}

// openUDP binds the control socket and joins the telemetry group. A control
// bind failure is fatal for the attempt; a telemetry join failure is logged
// and the pair runs control-only.
func openUDP(log *zap.Logger) opener {
	return func(cfg link.Config) (transport, error) {
		server, err := net.ResolveUDPAddr("udp4", cfg.ServerEndpoint())
		if err != nil {
			return nil, fmt.Errorf("resolve server %s: %w", cfg.ServerEndpoint(), err)
		}

		local := &net.UDPAddr{IP: net.ParseIP(cfg.ClientAddress), Port: cfg.ClientPort}
		control, err := net.ListenUDP("udp4", local)
		if err != nil {
			return nil, fmt.Errorf("bind control %s: %w", cfg.ClientEndpoint(), err)
		}

		t := &udpTransport{control: control, server: server}

		if cfg.HasTelemetry() {
			group := &net.UDPAddr{IP: net.ParseIP(cfg.TelemetryMulticastAddress), Port: cfg.TelemetryMulticastPort}
			mc, err := net.ListenMulticastUDP("udp4", nil, group)
			if err != nil {
				log.Warn("telemetry join failed; running control-only",
					zap.String("group", cfg.TelemetryEndpoint()), zap.Error(err))
			} else {
				_ = mc.SetReadBuffer(1 << 20)
				t.telemetry = mc
			}
		}

		return t, nil
	}
}

func (t *udpTransport) readControl(buf []byte) (int, error) {
	return poll(t.control, buf)
}

func (t *udpTransport) readTelemetry(buf []byte) (int, error) {
	if t.telemetry == nil {
		return 0, errNoData
	}
	return poll(t.telemetry, buf)
}

func (t *udpTransport) writeControl(p []byte) error {
	_ = t.control.SetWriteDeadline(time.Now().Add(10 * pollWait))
	_, err := t.control.WriteToUDP(p, t.server)
	return err
}

// close shuts both sockets; closing the multicast socket leaves the group.
func (t *udpTransport) close() error {
	var errs []error
	if t.telemetry != nil {
		errs = append(errs, t.telemetry.Close())
	}
	errs = append(errs, t.control.Close())
	return errors.Join(errs...)
}

func poll(conn *net.UDPConn, buf []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, err
	}
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, errNoData
		}
		return 0, err
	}
	return n, nil
}
