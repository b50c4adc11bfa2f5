package controllink

import (
	"github.com/edirooss/groundstation/internal/settings"
	"go.uber.org/zap"
)

// OnConfigChanged re-derives the link configuration and reconnects when any
// field differs from the configuration in effect.
func (l *ControlLink) OnConfigChanged(s *settings.Settings) {
	next := s.LinkConfig()
	if next == l.Config() {
		return
	}
	l.log.Info("link settings changed; reconnecting",
		zap.String("client", next.ClientEndpoint()),
		zap.String("server", next.ServerEndpoint()),
		zap.String("telemetry", next.TelemetryEndpoint()))
	l.Reconnect(next)
}
