package controllink

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/edirooss/groundstation/internal/domain/link"
	"github.com/edirooss/groundstation/internal/domain/telemetry"
	"github.com/edirooss/groundstation/internal/settings"
	"go.uber.org/zap"
)

// journal records socket lifecycle events across fake transports.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(ev string) {
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeTransport struct {
	name string
	j    *journal

	mu        sync.Mutex
	control   [][]byte
	telemetry [][]byte
	written   [][]byte
	writeErr  error
	closed    bool
}

func (f *fakeTransport) readControl(buf []byte) (int, error) { return f.pop(&f.control, buf) }
func (f *fakeTransport) readTelemetry(buf []byte) (int, error) {
	return f.pop(&f.telemetry, buf)
}

func (f *fakeTransport) pop(q *[][]byte, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(*q) == 0 {
		return 0, errNoData
	}
	d := (*q)[0]
	*q = (*q)[1:]
	return copy(buf, d), nil
}

func (f *fakeTransport) writeControl(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.j.add("close " + f.name)
	return nil
}

func (f *fakeTransport) pushTelemetry(s string) {
	f.mu.Lock()
	f.telemetry = append(f.telemetry, []byte(s))
	f.mu.Unlock()
}

func (f *fakeTransport) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

// fakeNet hands out fake transports named after the client port.
type fakeNet struct {
	j    journal
	mu   sync.Mutex
	last *fakeTransport
	fail map[int]bool
}

func (n *fakeNet) open(cfg link.Config) (transport, error) {
	name := cfg.ClientEndpoint()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[cfg.ClientPort] {
		n.j.add("fail " + name)
		return nil, errors.New("address already in use")
	}
	n.j.add("open " + name)
	n.last = &fakeTransport{name: name, j: &n.j}
	return n.last, nil
}

func (n *fakeNet) current() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func configOnPort(port int) link.Config {
	cfg := link.Default()
	cfg.ClientPort = port
	cfg.TimeoutSeconds = 1
	return cfg
}

// newManualLink returns a link whose sockets are opened but whose loop is
// not running; tests drive step() directly.
func newManualLink(t *testing.T, fn *fakeNet, cfg link.Config, at time.Time) *ControlLink {
	t.Helper()
	l := New(zap.NewNop(), withOpener(fn.open))
	l.cfg = cfg
	if err := l.connect(cfg, at); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return l
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReconnectClosesBeforeOpen(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	l.Reconnect(configOnPort(37501))
	if got := l.Config().ClientPort; got != 37501 {
		t.Fatalf("pending config port = %d", got)
	}
	l.step(t0.Add(DefaultTick))

	want := []string{"open 127.0.0.1:37500", "close 127.0.0.1:37500", "open 127.0.0.1:37501"}
	if got := fn.j.snapshot(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if l.State() != Connected {
		t.Fatalf("state = %v, want connected", l.State())
	}
}

func TestReconnectLatestWins(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	l.Reconnect(configOnPort(37501))
	l.Reconnect(configOnPort(37502))
	l.step(t0.Add(DefaultTick))

	want := []string{"open 127.0.0.1:37500", "close 127.0.0.1:37500", "open 127.0.0.1:37502"}
	if got := fn.j.snapshot(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestReconnectFailureLeavesLinkClosed(t *testing.T) {
	fn := &fakeNet{fail: map[int]bool{37501: true}}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	l.Send([]byte("x"))
	l.Reconnect(configOnPort(37501))
	l.step(t0.Add(DefaultTick))

	if l.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", l.State())
	}
	// no sockets: the queued message waits, the loop does not spin
	if l.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", l.queue.Len())
	}

	l.Reconnect(configOnPort(37502))
	l.step(t0.Add(2 * DefaultTick))
	if l.State() != Connected {
		t.Fatalf("state = %v, want connected", l.State())
	}
	if fn.current().writtenCount() != 1 {
		t.Fatal("queued message not written after recovery")
	}
}

func TestSilenceTimeoutEdgeTriggered(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	var notes []bool
	l.OnTimeoutChanged(func(degraded bool) { notes = append(notes, degraded) })

	l.step(t0.Add(500 * time.Millisecond))
	if len(notes) != 0 {
		t.Fatalf("premature notification: %v", notes)
	}

	// silence past the timeout: exactly one degraded, however many ticks pass
	for i := 0; i < 40; i++ {
		l.step(t0.Add(1100*time.Millisecond + time.Duration(i)*DefaultTick))
	}
	if len(notes) != 1 || notes[0] != true {
		t.Fatalf("notifications = %v, want [true]", notes)
	}
	if l.State() != Degraded {
		t.Fatalf("state = %v, want degraded", l.State())
	}

	// data arrives: exactly one restored
	fn.current().pushTelemetry(`{"compass":12}`)
	l.step(t0.Add(4 * time.Second))
	for i := 1; i <= 5; i++ {
		l.step(t0.Add(4*time.Second + time.Duration(i)*DefaultTick))
	}
	if len(notes) != 2 || notes[1] != false {
		t.Fatalf("notifications = %v, want [true false]", notes)
	}
	if l.State() != Connected {
		t.Fatalf("state = %v, want connected", l.State())
	}

	// and a second silence period degrades again
	l.step(t0.Add(5200 * time.Millisecond))
	if len(notes) != 3 || notes[2] != true {
		t.Fatalf("notifications = %v, want [true false true]", notes)
	}
}

func TestRestoredOnlyAfterDegraded(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	var notes []bool
	l.OnTimeoutChanged(func(degraded bool) { notes = append(notes, degraded) })

	// data on the very first tick, at exactly the connect timestamp
	fn.current().pushTelemetry(`{"compass":1}`)
	l.step(t0)
	fn.current().pushTelemetry(`{"compass":2}`)
	l.step(t0.Add(DefaultTick))

	if len(notes) != 0 {
		t.Fatalf("notifications = %v, want none", notes)
	}
}

func TestTimeoutDisabled(t *testing.T) {
	fn := &fakeNet{}
	cfg := configOnPort(37500)
	cfg.TimeoutSeconds = 0
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, cfg, t0)

	fired := false
	l.OnTimeoutChanged(func(bool) { fired = true })
	l.step(t0.Add(time.Hour))
	if fired {
		t.Fatal("timeout fired while disabled")
	}
}

func TestTelemetryDispatch(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	var got []telemetry.Event
	l.OnTelemetry(func(ev telemetry.Event) { got = append(got, ev) })

	fn.current().pushTelemetry(`{"battery":{"voltage":11,"capacity":80},"severity":1}`)
	fn.current().pushTelemetry(`not json`)
	fn.current().pushTelemetry(`{"rotation":{"roll":1,"pitch":2,"yaw":3}}`)
	at := t0.Add(900 * time.Millisecond)
	l.step(at)

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Category != "battery" || got[0].Severity != 1 || got[1].Category != "rotation" {
		t.Fatalf("unexpected events: %+v", got)
	}

	st := l.Status()
	if st.Stats.TelemetryReceived != 3 || st.Stats.DecodeErrors != 1 {
		t.Fatalf("stats = %+v", st.Stats)
	}
	// malformed datagrams still count as link activity
	if !st.LastActivity.Equal(at) {
		t.Fatalf("last activity = %v, want %v", st.LastActivity, at)
	}
}

func TestOneOutboundMessagePerTick(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	l.Send([]byte("a"))
	l.Send([]byte("b"))
	l.Send([]byte("c"))

	for i := 1; i <= 3; i++ {
		l.step(t0.Add(time.Duration(i) * DefaultTick))
		if n := fn.current().writtenCount(); n != i {
			t.Fatalf("after tick %d written = %d", i, n)
		}
	}
	tr := fn.current()
	for i, want := range []string{"a", "b", "c"} {
		if string(tr.written[i]) != want {
			t.Fatalf("written[%d] = %q, want %q", i, tr.written[i], want)
		}
	}
}

func TestSendErrorDropsWithoutRetry(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	l := newManualLink(t, fn, configOnPort(37500), t0)

	tr := fn.current()
	tr.writeErr = errors.New("network unreachable")
	l.Send([]byte("stale"))
	l.step(t0.Add(DefaultTick))

	tr.mu.Lock()
	tr.writeErr = nil
	tr.mu.Unlock()
	l.Send([]byte("fresh"))
	l.step(t0.Add(2 * DefaultTick))

	if tr.writtenCount() != 1 || string(tr.written[0]) != "fresh" {
		t.Fatalf("written = %q, want [fresh]", tr.written)
	}
	if l.Status().Stats.SendErrors != 1 {
		t.Fatalf("send errors = %d", l.Status().Stats.SendErrors)
	}
}

func TestStartFailureThenReconnect(t *testing.T) {
	fn := &fakeNet{fail: map[int]bool{37500: true}}
	l := New(zap.NewNop(), withOpener(fn.open), WithTick(5*time.Millisecond))
	defer l.Destroy()

	if err := l.Start(configOnPort(37500)); err == nil {
		t.Fatal("Start: expected bind error")
	}
	if err := l.Start(configOnPort(37500)); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v", err)
	}

	l.Reconnect(configOnPort(37501))
	deadline := time.Now().Add(time.Second)
	for l.State() != Connected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want connected", l.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDestroyIsBoundedAndFinal(t *testing.T) {
	fn := &fakeNet{}
	tick := 20 * time.Millisecond
	l := New(zap.NewNop(), withOpener(fn.open), WithTick(tick))
	if err := l.Start(configOnPort(37500)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Send([]byte("last words"))
	start := time.Now()
	l.Destroy()
	if elapsed := time.Since(start); elapsed > 5*tick {
		t.Fatalf("Destroy took %v", elapsed)
	}

	tr := fn.current()
	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	if !closed {
		t.Fatal("sockets left open after Destroy")
	}
	if l.State() != Disconnected {
		t.Fatalf("state = %v", l.State())
	}

	// delivered or dropped, never both and never after Destroy
	before := tr.writtenCount()
	l.Send([]byte("ignored"))
	l.Destroy()
	if tr.writtenCount() != before || before > 1 {
		t.Fatalf("written = %d after destroy", tr.writtenCount())
	}
	if err := l.Start(configOnPort(37500)); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Start after Destroy = %v", err)
	}
}

func TestUDPSendReachesServer(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000})
	if err != nil {
		t.Skipf("port 5000 unavailable: %v", err)
	}
	defer server.Close()

	cfg := link.Default()
	l := New(zap.NewNop())
	if err := l.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Destroy()

	replies := make(chan []byte, 1)
	l.OnReply(func(p []byte) {
		select {
		case replies <- p:
		default:
		}
	})

	l.Send([]byte{0x01, 0x02, 0x03})

	_ = server.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	n, from, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if n != 3 || buf[0] != 0x01 || buf[1] != 0x02 || buf[2] != 0x03 {
		t.Fatalf("server got %v", buf[:n])
	}
	if from.Port != 37500 {
		t.Fatalf("datagram came from port %d, want 37500", from.Port)
	}

	// and the rover's reply comes back through the control socket
	if _, err := server.WriteToUDP([]byte("ack"), from); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case p := <-replies:
		if string(p) != "ack" {
			t.Fatalf("reply = %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestOnConfigChangedReconnectsOnlyOnDifference(t *testing.T) {
	fn := &fakeNet{}
	t0 := time.Unix(1000, 0)
	s := settings.Default()
	l := newManualLink(t, fn, s.LinkConfig(), t0)

	l.OnConfigChanged(s)
	l.step(t0.Add(DefaultTick))
	if got := fn.j.snapshot(); len(got) != 1 {
		t.Fatalf("unchanged settings reconnected: %v", got)
	}

	next := settings.Default()
	next.Link.ClientPort = 37600
	l.OnConfigChanged(next)
	l.step(t0.Add(2 * DefaultTick))

	want := []string{"open 127.0.0.1:37500", "close 127.0.0.1:37500", "open 127.0.0.1:37600"}
	if got := fn.j.snapshot(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}
