package capture

import (
	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/internal/settings"
	"go.uber.org/zap"
)

// OnConfigChanged re-derives strategy and file streams from s.
//
// Streams listed in the file are added or replaced wholesale (the runtime
// recording flag is kept). Streams that were loaded from the file and are no
// longer listed are removed. Streams created at runtime are left alone.
func (s *Scheduler) OnConfigChanged(st *settings.Settings) {
	if next, err := ParseStrategy(st.Capture.Mode); err == nil {
		s.SetStrategy(next)
	}
	s.SetIdleInterval(st.Capture.IdleInterval)

	cfgs, err := st.StreamConfigs()
	if err != nil {
		s.log.Warn("ignoring stream settings", zap.Error(err))
		return
	}
	s.ApplyFileStreams(cfgs)
}

// ApplyFileStreams reconciles the registry with the streams listed in the
// settings file.
func (s *Scheduler) ApplyFileStreams(cfgs []stream.Config) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	listed := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		listed[cfg.ID] = struct{}{}
		s.fileIDs[cfg.ID] = struct{}{}

		cur, exists := s.reg.Get(cfg.ID)
		if !exists {
			s.reg.Add(cfg)
			continue
		}
		cfg.Recording = cur.Recording
		if cur == cfg {
			continue
		}
		next := cfg
		s.reg.Update(cfg.ID, func(c *stream.Config) { *c = next })
	}

	for id := range s.fileIDs {
		if _, ok := listed[id]; ok {
			continue
		}
		delete(s.fileIDs, id)
		s.reg.Remove(id)
	}
}
