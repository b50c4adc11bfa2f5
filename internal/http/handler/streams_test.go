package handler

import (
	"net/http"
	"slices"
	"testing"

	"github.com/edirooss/groundstation/internal/capture"
	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/edirooss/groundstation/internal/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const mergePatch = "application/merge-patch+json"

type streamsRig struct {
	r    *gin.Engine
	reg  *capture.Registry
	logs *fakeLogs
}

func newStreamsRig(t *testing.T) *streamsRig {
	t.Helper()
	reg := capture.NewRegistry(zap.NewNop(), nil)
	logs := &fakeLogs{lines: map[string][]string{
		"left":          {"a", "b", "c"},
		"left:recorder": {"rec"},
	}}
	status := fakeStatus{"left": {Open: true, Frames: 7, Worker: "left"}}
	h := NewStreamsHandler(zap.NewNop(), reg, status, logs, nil)

	r := gin.New()
	g := r.Group("/api/streams")
	g.GET("", h.GetStreamList)
	g.POST("", h.CreateStream)
	g.GET("/:id", h.GetStream)
	g.PUT("/:id", h.ReplaceStream)
	g.PATCH("/:id", h.ModifyStream)
	g.DELETE("/:id", h.DeleteStream)
	g.PUT("/:id/recording", h.SetRecording)
	g.POST("/:id/refresh", h.RefreshStream)
	g.GET("/:id/logs", h.GetStreamLogs)
	return &streamsRig{r: r, reg: reg, logs: logs}
}

func (rig *streamsRig) seed(t *testing.T, cfg stream.Config) {
	t.Helper()
	if !rig.reg.Add(cfg) {
		t.Fatalf("seed %s", cfg.ID)
	}
}

func TestCreateStream(t *testing.T) {
	rig := newStreamsRig(t)

	w := do(rig.r, http.MethodPost, "/api/streams", `{"id":"Front Cam","source_uri":"rtsp://10.0.0.2/live","scaling":"640x480"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	if loc := w.Header().Get("Location"); loc != "/api/streams/Front%20Cam" {
		t.Fatalf("location = %q", loc)
	}
	got := decode[dto.StreamView](t, w)
	if !got.Enabled || got.Scaling != stream.Fixed(640, 480) || got.Status != nil {
		t.Fatalf("view = %+v", got)
	}
	if cfg, ok := rig.reg.Get("Front Cam"); !ok || cfg != got.Config {
		t.Fatalf("registry = %+v, %v", cfg, ok)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate", `{"id":"Front Cam"}`, http.StatusConflict},
		{"unknown field", `{"id":"x","colour":"gray"}`, http.StatusBadRequest},
		{"empty", ``, http.StatusBadRequest},
		{"bad id", `{"id":"a/b"}`, http.StatusUnprocessableEntity},
		{"bad scaling", `{"id":"x","scaling":"huge"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if w := do(rig.r, http.MethodPost, "/api/streams", tt.body); w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, w.Code, tt.want, w.Body)
		}
	}
	if rig.reg.Len() != 1 {
		t.Fatalf("registry len = %d", rig.reg.Len())
	}
}

func TestGetStreamList(t *testing.T) {
	rig := newStreamsRig(t)
	rig.seed(t, stream.Config{ID: "left", Enabled: true})
	rig.seed(t, stream.Config{ID: "right"})

	w := do(rig.r, http.MethodGet, "/api/streams", "")
	if w.Header().Get("X-Total-Count") != "2" {
		t.Fatalf("X-Total-Count = %q", w.Header().Get("X-Total-Count"))
	}
	list := decode[[]dto.StreamView](t, w)
	if len(list) != 2 || list[0].ID != "left" || list[1].ID != "right" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Status == nil || list[0].Status.Frames != 7 || list[1].Status != nil {
		t.Fatalf("status not merged: %+v", list)
	}

	if w := do(rig.r, http.MethodGet, "/api/streams/left", ""); w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	if w := do(rig.r, http.MethodGet, "/api/streams/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get missing = %d", w.Code)
	}
}

func TestReplaceStream(t *testing.T) {
	rig := newStreamsRig(t)
	rig.seed(t, stream.Config{ID: "left", Enabled: true, Recording: true, SourceURI: "/dev/video0"})

	w := do(rig.r, http.MethodPut, "/api/streams/left", `{"source_uri":"/dev/video1","color":"gray","scaling":"source","enabled":false,"window":{"x":1,"y":2,"w":3,"h":4},"recording":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	want := stream.Config{ID: "left", SourceURI: "/dev/video1", Color: stream.Gray, Window: stream.WindowBounds{X: 1, Y: 2, W: 3, H: 4}}
	if cfg, _ := rig.reg.Get("left"); cfg != want {
		t.Fatalf("registry = %+v", cfg)
	}

	for name, tc := range map[string]struct {
		path, body string
		want       int
	}{
		"id change": {"/api/streams/left", `{"id":"right"}`, http.StatusUnprocessableEntity},
		"invalid":   {"/api/streams/left", `{"recording":true}`, http.StatusUnprocessableEntity},
		"missing":   {"/api/streams/ghost", `{}`, http.StatusNotFound},
		"schema":    {"/api/streams/left", `{"color":"sepia"}`, http.StatusBadRequest},
	} {
		if w := do(rig.r, http.MethodPut, tc.path, tc.body); w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", name, w.Code, tc.want)
		}
	}
}

func TestModifyStream(t *testing.T) {
	rig := newStreamsRig(t)
	rig.seed(t, stream.Config{ID: "left", SourceURI: "/dev/video0", Enabled: true})

	if w := do(rig.r, http.MethodPatch, "/api/streams/left", `{"enabled":false}`); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("plain json = %d", w.Code)
	}

	w := do(rig.r, http.MethodPatch, "/api/streams/left", `{"enabled":false,"scaling":"320x240"}`, "Content-Type", mergePatch)
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", w.Code, w.Body)
	}
	cfg, _ := rig.reg.Get("left")
	if cfg.Enabled || cfg.Scaling != stream.Fixed(320, 240) || cfg.SourceURI != "/dev/video0" {
		t.Fatalf("registry = %+v", cfg)
	}

	tests := []struct {
		name, path, body string
		want             int
	}{
		{"no-op", "/api/streams/left", `{"enabled":false}`, http.StatusNoContent},
		{"id change", "/api/streams/left", `{"id":"other"}`, http.StatusUnprocessableEntity},
		{"validation", "/api/streams/left", `{"source_uri":"","recording":true}`, http.StatusUnprocessableEntity},
		{"bad value", "/api/streams/left", `{"color":"sepia"}`, http.StatusBadRequest},
		{"unknown field", "/api/streams/left", `{"fps":30}`, http.StatusBadRequest},
		{"malformed", "/api/streams/left", `{"enabled":`, http.StatusBadRequest},
		{"missing", "/api/streams/ghost", `{}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := do(rig.r, http.MethodPatch, tt.path, tt.body, "Content-Type", mergePatch); w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, w.Code, tt.want, w.Body)
		}
	}
	if after, _ := rig.reg.Get("left"); after != cfg {
		t.Fatalf("rejected patches changed the stream: %+v", after)
	}
}

func TestDeleteStream(t *testing.T) {
	rig := newStreamsRig(t)
	rig.seed(t, stream.Config{ID: "left"})

	if w := do(rig.r, http.MethodDelete, "/api/streams/left", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if _, ok := rig.reg.Get("left"); ok {
		t.Fatal("still registered")
	}
	if !slices.Equal(rig.logs.forgot, []string{"left", "left" + capture.RecorderSuffix}) {
		t.Fatalf("forgot = %v", rig.logs.forgot)
	}
	if w := do(rig.r, http.MethodDelete, "/api/streams/left", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", w.Code)
	}
}

func TestSetRecordingAndRefresh(t *testing.T) {
	rig := newStreamsRig(t)
	rig.seed(t, stream.Config{ID: "left", SourceURI: "/dev/video0"})
	rig.seed(t, stream.Config{ID: "blank"})

	w := do(rig.r, http.MethodPut, "/api/streams/left/recording", `{"recording":true}`)
	if w.Code != http.StatusOK || !decode[dto.StreamView](t, w).Recording {
		t.Fatalf("recording = %d %s", w.Code, w.Body)
	}
	if cfg, _ := rig.reg.Get("left"); !cfg.Recording {
		t.Fatal("flag not stored")
	}

	for name, tc := range map[string]struct {
		path, body string
		want       int
	}{
		"missing field": {"/api/streams/left/recording", `{}`, http.StatusBadRequest},
		"no source":     {"/api/streams/blank/recording", `{"recording":true}`, http.StatusUnprocessableEntity},
		"stop no src":   {"/api/streams/blank/recording", `{"recording":false}`, http.StatusOK},
		"unknown":       {"/api/streams/ghost/recording", `{"recording":true}`, http.StatusNotFound},
	} {
		if w := do(rig.r, http.MethodPut, tc.path, tc.body); w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", name, w.Code, tc.want)
		}
	}

	if w := do(rig.r, http.MethodPost, "/api/streams/left/refresh", ""); w.Code != http.StatusAccepted {
		t.Fatalf("refresh = %d", w.Code)
	}
	if w := do(rig.r, http.MethodPost, "/api/streams/ghost/refresh", ""); w.Code != http.StatusNotFound {
		t.Fatalf("refresh missing = %d", w.Code)
	}
}

func TestGetStreamLogs(t *testing.T) {
	rig := newStreamsRig(t)
	rig.seed(t, stream.Config{ID: "left"})
	rig.seed(t, stream.Config{ID: "quiet"})

	type logsBody struct {
		Lines []string `json:"lines"`
	}
	tests := []struct {
		path  string
		code  int
		lines []string
	}{
		{"/api/streams/left/logs", http.StatusOK, []string{"a", "b", "c"}},
		{"/api/streams/left/logs?lines=2", http.StatusOK, []string{"b", "c"}},
		{"/api/streams/left/logs?process=recorder", http.StatusOK, []string{"rec"}},
		{"/api/streams/quiet/logs", http.StatusOK, []string{}},
		{"/api/streams/left/logs?lines=0", http.StatusBadRequest, nil},
		{"/api/streams/left/logs?process=shell", http.StatusBadRequest, nil},
		{"/api/streams/ghost/logs", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		w := do(rig.r, http.MethodGet, tt.path, "")
		if w.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.code)
			continue
		}
		if tt.lines != nil {
			if got := decode[logsBody](t, w).Lines; !slices.Equal(got, tt.lines) {
				t.Errorf("%s: lines = %v, want %v", tt.path, got, tt.lines)
			}
		}
	}
}
