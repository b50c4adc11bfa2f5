package handler

import (
	"net/http"
	"sync"
	"testing"

	"github.com/edirooss/groundstation/internal/controllink"
	"github.com/edirooss/groundstation/internal/domain/link"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeLink struct {
	mu        sync.Mutex
	cfg       link.Config
	sent      []string
	reconnect []link.Config
}

func (f *fakeLink) Status() controllink.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return controllink.Status{State: "connected", Config: f.cfg, Stats: controllink.Stats{Sent: uint64(len(f.sent))}}
}

func (f *fakeLink) Config() link.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeLink) Send(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(p))
}

func (f *fakeLink) Reconnect(cfg link.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.reconnect = append(f.reconnect, cfg)
}

func newLinkRig() (*gin.Engine, *fakeLink) {
	fl := &fakeLink{cfg: link.Default()}
	h := NewLinkHandler(zap.NewNop(), fl)
	r := gin.New()
	r.GET("/api/link", h.GetStatus)
	r.POST("/api/link/commands", h.SendCommand)
	r.POST("/api/link/reconnect", h.Reconnect)
	return r, fl
}

func TestSendCommand(t *testing.T) {
	r, fl := newLinkRig()

	tests := []struct {
		body string
		code int
		sent string
	}{
		{`{"type":"button","button":"A","pressed":true}`, http.StatusAccepted, `{"Buttons":{"0":1}}`},
		{`{"type":"axis","axis":"LEFT_STICK_Y","value":1}`, http.StatusAccepted, `{"Axis":{"1":1}}`},
		{`{"type":"motion","speed":0.5,"turn":0}`, http.StatusAccepted, `{"manip":{"mode":0},"control":{"speed":0.5,"turn":0}}`},
		{`{"type":"button","button":"SELECT"}`, http.StatusUnprocessableEntity, ""},
		{`{"type":"axis","joystick":1}`, http.StatusBadRequest, ""},
		{`not json`, http.StatusBadRequest, ""},
	}
	var want []string
	for _, tt := range tests {
		w := do(r, http.MethodPost, "/api/link/commands", tt.body)
		if w.Code != tt.code {
			t.Errorf("%s: status = %d, want %d (%s)", tt.body, w.Code, tt.code, w.Body)
			continue
		}
		if tt.sent != "" {
			want = append(want, tt.sent)
			if got := decode[map[string]string](t, w)["payload"]; got != tt.sent {
				t.Errorf("%s: payload = %s", tt.body, got)
			}
		}
	}
	if len(fl.sent) != len(want) {
		t.Fatalf("sent = %v", fl.sent)
	}
	for i := range want {
		if fl.sent[i] != want[i] {
			t.Errorf("sent[%d] = %s, want %s", i, fl.sent[i], want[i])
		}
	}
}

func TestReconnect(t *testing.T) {
	r, fl := newLinkRig()

	if w := do(r, http.MethodPost, "/api/link/reconnect", ""); w.Code != http.StatusAccepted {
		t.Fatalf("bare reconnect = %d %s", w.Code, w.Body)
	}
	if len(fl.reconnect) != 1 || fl.reconnect[0] != link.Default() {
		t.Fatalf("reconnect = %+v", fl.reconnect)
	}

	w := do(r, http.MethodPost, "/api/link/reconnect", `{"server_address":"10.0.0.7","server_port":6000}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("reconnect = %d %s", w.Code, w.Body)
	}
	got := decode[link.Config](t, w)
	want := link.Default()
	want.ServerAddress, want.ServerPort = "10.0.0.7", 6000
	if got != want || fl.Config() != want {
		t.Fatalf("config = %+v, want %+v", got, want)
	}

	if w := do(r, http.MethodPost, "/api/link/reconnect", `{"server_port":70000}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid port = %d", w.Code)
	}
	if len(fl.reconnect) != 2 {
		t.Fatalf("rejected config was applied: %+v", fl.reconnect)
	}

	st := decode[controllink.Status](t, do(r, http.MethodGet, "/api/link", ""))
	if st.State != "connected" || st.Config != want {
		t.Fatalf("status = %+v", st)
	}
}
