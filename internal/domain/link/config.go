package link

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config describes the rover link endpoints. It is replaced wholesale on
// settings changes and never mutated field by field while in use.
type Config struct {
	ServerAddress             string `json:"server_address"`              // rover control endpoint (unicast)
	ServerPort                int    `json:"server_port"`                 //
	ClientAddress             string `json:"client_address"`              // local bind for the control socket
	ClientPort                int    `json:"client_port"`                 //
	TelemetryMulticastAddress string `json:"telemetry_multicast_address"` // group joined for telemetry
	TelemetryMulticastPort    int    `json:"telemetry_multicast_port"`    //
	TimeoutSeconds            int    `json:"timeout_seconds"`             // silence timeout; <= 0 disables
}

// Default returns the bench setup: rover on localhost:5000, client on
// localhost:37500, telemetry on 239.255.43.21:45454.
func Default() Config {
	return Config{
		ServerAddress:             "127.0.0.1",
		ServerPort:                5000,
		ClientAddress:             "127.0.0.1",
		ClientPort:                37500,
		TelemetryMulticastAddress: "239.255.43.21",
		TelemetryMulticastPort:    45454,
		TimeoutSeconds:            5,
	}
}

// Timeout returns the silence timeout as a duration (0 when disabled).
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ServerEndpoint is "host:port" of the rover control socket.
func (c Config) ServerEndpoint() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

// ClientEndpoint is "host:port" the control socket binds to.
func (c Config) ClientEndpoint() string {
	return net.JoinHostPort(c.ClientAddress, strconv.Itoa(c.ClientPort))
}

// TelemetryEndpoint is "group:port" of the telemetry broadcast.
func (c Config) TelemetryEndpoint() string {
	return net.JoinHostPort(c.TelemetryMulticastAddress, strconv.Itoa(c.TelemetryMulticastPort))
}

// HasTelemetry reports whether a telemetry group is configured.
func (c Config) HasTelemetry() bool {
	return c.TelemetryMulticastAddress != "" && c.TelemetryMulticastPort > 0
}

// Validate checks addresses and port ranges. An empty telemetry address
// disables the telemetry subscription.
func (c Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("server_address is required")
	}
	if err := validPort("server_port", c.ServerPort, false); err != nil {
		return err
	}
	if c.ClientAddress != "" && net.ParseIP(c.ClientAddress) == nil {
		return fmt.Errorf("client_address must be an IP literal: '%s'", c.ClientAddress)
	}
	if err := validPort("client_port", c.ClientPort, true); err != nil {
		return err
	}
	if c.TelemetryMulticastAddress != "" {
		ip := net.ParseIP(c.TelemetryMulticastAddress)
		if ip == nil || !ip.IsMulticast() {
			return fmt.Errorf("telemetry_multicast_address must be a multicast group: '%s'", c.TelemetryMulticastAddress)
		}
		if err := validPort("telemetry_multicast_port", c.TelemetryMulticastPort, false); err != nil {
			return err
		}
	}
	return nil
}

func validPort(name string, port int, allowZero bool) error {
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}
