// Package settings loads the ground station YAML settings file and keeps it
// in sync with disk. Observers registered with a Watcher receive every
// successfully reloaded snapshot.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edirooss/groundstation/internal/domain/link"
	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/pkg/avurl"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSettings wraps every validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Capture modes.
const (
	ModePerStream    = "per_stream"
	ModeSynchronized = "synchronized"
)

// Settings is the on-disk contract. A loaded value is never mutated; changes
// produce a new Settings.
type Settings struct {
	HTTP     HTTP     `yaml:"http"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
	MQTT     MQTT     `yaml:"mqtt"`
	Link     Link     `yaml:"link"`
	Capture  Capture  `yaml:"capture"`
	Streams  []Stream `yaml:"streams"`
}

type HTTP struct {
	Address string `yaml:"address" default:"0.0.0.0"`
	Port    int    `yaml:"port"    default:"8080"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"  default:"false"`
	Address  string `yaml:"address"  default:"127.0.0.1:6379"`
	Password string `yaml:"password" default:""`
	DB       int    `yaml:"db"       default:"0"`
}

type Postgres struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	DSN     string `yaml:"dsn"     default:"postgres://groundstation@127.0.0.1:5432/groundstation?sslmode=disable"`
}

type MQTT struct {
	Enabled     bool   `yaml:"enabled"      default:"false"`
	Broker      string `yaml:"broker"       default:"tcp://127.0.0.1:1883"`
	ClientID    string `yaml:"client_id"    default:"groundstation"`
	TopicPrefix string `yaml:"topic_prefix" default:"rover/telemetry"`
}

// Link mirrors link.Config with file defaults.
type Link struct {
	ServerAddress             string `yaml:"server_address"              default:"127.0.0.1"`
	ServerPort                int    `yaml:"server_port"                 default:"5000"`
	ClientAddress             string `yaml:"client_address"              default:"127.0.0.1"`
	ClientPort                int    `yaml:"client_port"                 default:"37500"`
	TelemetryMulticastAddress string `yaml:"telemetry_multicast_address" default:"239.255.43.21"`
	TelemetryMulticastPort    int    `yaml:"telemetry_multicast_port"    default:"45454"`
	TimeoutSeconds            int    `yaml:"timeout_seconds"             default:"5"`
}

type Capture struct {
	Mode               string        `yaml:"mode"                 default:"per_stream"`
	FFmpegPath         string        `yaml:"ffmpeg_path"          default:"ffmpeg"`
	IdleInterval       time.Duration `yaml:"idle_interval"        default:"1s"`
	MaxConcurrentOpens int           `yaml:"max_concurrent_opens" default:"4"`
	RecordingsDir      string        `yaml:"recordings_dir"       default:"videos"`
	RecordFPS          int           `yaml:"record_fps"           default:"30"`
}

// Stream is one entry of the streams list.
type Stream struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Port    int    `yaml:"port"`
	Color   string `yaml:"color"`   // "color" | "gray"
	Scaling string `yaml:"scaling"` // "source" | "WxH"
	Enable  *bool  `yaml:"enable"`  // absent means enabled
	Window  struct {
		X int `yaml:"x"`
		Y int `yaml:"y"`
		W int `yaml:"w"`
		H int `yaml:"h"`
	} `yaml:"window"`
}

// Default returns settings with every default applied and no streams.
func Default() *Settings {
	var s Settings
	defaults.SetDefaults(&s)
	return &s
}

// Load reads and validates the file at path.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(raw []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks every section. Errors wrap ErrInvalidSettings.
func (s *Settings) Validate() error {
	if s.HTTP.Port <= 0 || s.HTTP.Port > 65535 {
		return fmt.Errorf("%w: http.port out of range: %d", ErrInvalidSettings, s.HTTP.Port)
	}
	if err := s.LinkConfig().Validate(); err != nil {
		return fmt.Errorf("%w: link: %s", ErrInvalidSettings, err)
	}
	switch s.Capture.Mode {
	case ModePerStream, ModeSynchronized:
	default:
		return fmt.Errorf("%w: capture.mode must be '%s' or '%s', got '%s'",
			ErrInvalidSettings, ModePerStream, ModeSynchronized, s.Capture.Mode)
	}
	if s.Capture.MaxConcurrentOpens < 1 {
		return fmt.Errorf("%w: capture.max_concurrent_opens must be at least 1", ErrInvalidSettings)
	}
	if s.Capture.RecordFPS < 1 {
		return fmt.Errorf("%w: capture.record_fps must be at least 1", ErrInvalidSettings)
	}
	if _, err := s.StreamConfigs(); err != nil {
		return err
	}
	return nil
}

// LinkConfig derives the link configuration.
func (s *Settings) LinkConfig() link.Config {
	return link.Config{
		ServerAddress:             s.Link.ServerAddress,
		ServerPort:                s.Link.ServerPort,
		ClientAddress:             s.Link.ClientAddress,
		ClientPort:                s.Link.ClientPort,
		TelemetryMulticastAddress: s.Link.TelemetryMulticastAddress,
		TelemetryMulticastPort:    s.Link.TelemetryMulticastPort,
		TimeoutSeconds:            s.Link.TimeoutSeconds,
	}
}

// StreamConfigs derives one stream.Config per entry, in file order. Names
// must be unique.
func (s *Settings) StreamConfigs() ([]stream.Config, error) {
	out := make([]stream.Config, 0, len(s.Streams))
	seen := make(map[string]struct{}, len(s.Streams))
	for i, e := range s.Streams {
		cfg, err := e.Config()
		if err != nil {
			return nil, fmt.Errorf("%w: streams[%d]: %s", ErrInvalidSettings, i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: streams[%d]: duplicate name '%s'", ErrInvalidSettings, i, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		out = append(out, cfg)
	}
	return out, nil
}

// Config converts a file entry. The port is folded into the URL when the URL
// names a host without one.
func (e Stream) Config() (stream.Config, error) {
	cfg := stream.Config{
		ID:        strings.TrimSpace(e.Name),
		SourceURI: avurl.WithDefaultPort(strings.TrimSpace(e.URL), e.Port),
		Enabled:   e.Enable == nil || *e.Enable,
		Window:    stream.WindowBounds{X: e.Window.X, Y: e.Window.Y, W: e.Window.W, H: e.Window.H},
	}

	var err error
	if e.Color != "" {
		if cfg.Color, err = stream.ParseColorMode(e.Color); err != nil {
			return cfg, err
		}
	}
	if cfg.Scaling, err = stream.ParseScaling(e.Scaling); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
