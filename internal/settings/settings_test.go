package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"go.uber.org/zap"
)

const sample = `
link:
  server_port: 6000
  timeout_seconds: 2
capture:
  mode: synchronized
streams:
  - name: left
    url: rtsp://10.0.0.5/main
    port: 8554
    color: gray
    scaling: 640x480
  - name: right
    url: /dev/video2
    enable: false
    window: {x: 640, y: 0, w: 640, h: 480}
`

func TestParseAppliesDefaults(t *testing.T) {
	s, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	lc := s.LinkConfig()
	if lc.ServerPort != 6000 || lc.TimeoutSeconds != 2 {
		t.Fatalf("overrides lost: %+v", lc)
	}
	if lc.ServerAddress != "127.0.0.1" || lc.ClientPort != 37500 || lc.TelemetryMulticastPort != 45454 {
		t.Fatalf("defaults missing: %+v", lc)
	}
	if s.Capture.Mode != ModeSynchronized {
		t.Fatalf("mode = %q", s.Capture.Mode)
	}
	if s.Capture.IdleInterval != time.Second || s.Capture.MaxConcurrentOpens != 4 || s.Capture.RecordFPS != 30 {
		t.Fatalf("capture defaults = %+v", s.Capture)
	}
	if s.HTTP.Port != 8080 || s.Redis.Enabled || s.Postgres.Enabled || s.MQTT.Enabled {
		t.Fatalf("service defaults = %+v %+v %+v %+v", s.HTTP, s.Redis, s.Postgres, s.MQTT)
	}
}

func TestStreamConfigs(t *testing.T) {
	s, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfgs, err := s.StreamConfigs()
	if err != nil {
		t.Fatalf("StreamConfigs: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("got %d streams", len(cfgs))
	}

	left, right := cfgs[0], cfgs[1]
	if left.ID != "left" || left.SourceURI != "rtsp://10.0.0.5:8554/main" {
		t.Errorf("left = %+v", left)
	}
	if left.Color != stream.Gray || left.Scaling != stream.Fixed(640, 480) || !left.Enabled {
		t.Errorf("left = %+v", left)
	}
	if right.SourceURI != "/dev/video2" || right.Enabled || !right.Scaling.IsSource() {
		t.Errorf("right = %+v", right)
	}
	if right.Window != (stream.WindowBounds{X: 640, Y: 0, W: 640, H: 480}) {
		t.Errorf("right window = %+v", right.Window)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"mode":      "capture: {mode: round_robin}",
		"duplicate": "streams: [{name: a}, {name: a}]",
		"color":     "streams: [{name: a, color: sepia}]",
		"scaling":   "streams: [{name: a, scaling: wide}]",
		"group":     "link: {telemetry_multicast_address: 10.0.0.1}",
		"opens":     "capture: {max_concurrent_opens: 0}",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("Parse(%q) = %v, want ErrInvalidSettings", in, err)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadNotifiesObservers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundstation.yaml")
	writeFile(t, path, "link: {timeout_seconds: 3}")

	w, err := NewWatcher(zap.NewNop(), path, 0)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var order []string
	unregA := w.Register(ObserverFunc(func(*Settings) { order = append(order, "a") }))
	w.Register(ObserverFunc(func(*Settings) { order = append(order, "b") }))

	writeFile(t, path, "link: {timeout_seconds: 9}")
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if w.Current().Link.TimeoutSeconds != 9 {
		t.Fatalf("current not replaced")
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}

	unregA()
	unregA()
	order = nil
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("order after unregister = %v", order)
	}
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundstation.yaml")
	writeFile(t, path, "capture: {mode: per_stream}")

	w, err := NewWatcher(zap.NewNop(), path, 0)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	called := false
	w.Register(ObserverFunc(func(*Settings) { called = true }))

	writeFile(t, path, "capture: {mode: nope}")
	if err := w.Reload(); err == nil {
		t.Fatal("Reload accepted invalid settings")
	}
	if called || w.Current().Capture.Mode != ModePerStream {
		t.Fatal("invalid settings leaked to observers")
	}
}

func TestWatcherRunReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundstation.yaml")
	writeFile(t, path, "link: {timeout_seconds: 1}")

	w, err := NewWatcher(zap.NewNop(), path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var mu sync.Mutex
	var seen []int
	w.Register(ObserverFunc(func(s *Settings) {
		mu.Lock()
		seen = append(seen, s.Link.TimeoutSeconds)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher time to subscribe
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "link: {timeout_seconds: 7}")

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		got := append([]int(nil), seen...)
		mu.Unlock()
		if len(got) > 0 && got[len(got)-1] == 7 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reload observed, seen = %v", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "b.yaml")
	writeFile(t, present, "")
	if got := DefaultPath(filepath.Join(dir, "a.yaml"), present); got != present {
		t.Fatalf("DefaultPath = %q", got)
	}
	if got := DefaultPath(filepath.Join(dir, "missing.yaml")); got != "" {
		t.Fatalf("DefaultPath = %q", got)
	}
}
