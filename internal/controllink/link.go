// Package controllink maintains the UDP link to the rover: a unicast control
// socket for commands and replies, plus a multicast subscription to the
// rover's telemetry broadcast.
//
// Runtime model
//   - One goroutine (the tick loop) owns the sockets. Nothing else touches them.
//   - Callers interact through Send (enqueue), Reconnect (deferred to the next
//     tick) and Destroy (cancel + join).
//   - Every tick: apply pending reconnect, drain control replies, drain
//     telemetry, write at most one queued command, evaluate the silence timeout.
//
// Notifications (telemetry, replies, degraded/restored) are invoked on the
// tick loop goroutine and must return quickly.
package controllink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/groundstation/internal/domain/link"
	"github.com/edirooss/groundstation/internal/domain/telemetry"
	"go.uber.org/zap"
)

// ErrDestroyed is returned when operating on a destroyed link.
var ErrDestroyed = errors.New("control link destroyed")

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("control link already started")

// DefaultTick is the loop period.
const DefaultTick = 50 * time.Millisecond

// maxReadsPerTick caps how many datagrams one socket may drain per tick.
const maxReadsPerTick = 64

// State of the link as observed by callers.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded // connected but silent beyond the timeout; sending still works
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Stats are monotonically increasing counters.
type Stats struct {
	Sent              uint64 `json:"sent"`
	SendErrors        uint64 `json:"send_errors"`
	QueueDropped      uint64 `json:"queue_dropped"`
	ControlReceived   uint64 `json:"control_received"`
	TelemetryReceived uint64 `json:"telemetry_received"`
	DecodeErrors      uint64 `json:"decode_errors"`
	Reconnects        uint64 `json:"reconnects"`
}

// Status is a point-in-time view of the link.
type Status struct {
	State        string      `json:"state"`
	Config       link.Config `json:"config"`
	LastActivity time.Time   `json:"last_activity"`
	QueueLen     int         `json:"queue_len"`
	Stats        Stats       `json:"stats"`
}

// ControlLink owns the socket pair and the tick loop.
type ControlLink struct {
	log   *zap.Logger
	open  opener
	now   func() time.Time
	tick  time.Duration
	queue *OutboundQueue

	// guards config, pending reconnect and handler registration
	mu          sync.Mutex
	cfg         link.Config
	pending     *link.Config
	onTelemetry func(telemetry.Event)
	onTimeout   func(degraded bool)
	onReply     func([]byte)

	// owned by the tick loop
	tr       transport
	last     time.Time
	degraded bool
	buf      []byte

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos, for Status
	started      atomic.Bool
	destroyed    atomic.Bool

	sent, sendErrs, ctrlRecv, telRecv, decodeErrs, reconnects atomic.Uint64

	cancel      context.CancelFunc
	done        chan struct{}
	destroyOnce sync.Once
}

// Option customizes a ControlLink.
type Option func(*ControlLink)

// WithTick overrides the loop period.
func WithTick(d time.Duration) Option {
	return func(l *ControlLink) {
		if d > 0 {
			l.tick = d
		}
	}
}

// WithQueueCapacity overrides the outbound queue bound.
func WithQueueCapacity(n int) Option {
	return func(l *ControlLink) { l.queue = NewOutboundQueue(n) }
}

func withOpener(o opener) Option { return func(l *ControlLink) { l.open = o } }

// New constructs an idle link. Register handlers, then call Start.
func New(log *zap.Logger, opts ...Option) *ControlLink {
	log = log.Named("control_link")

	l := &ControlLink{
		log:   log,
		now:   time.Now,
		tick:  DefaultTick,
		queue: NewOutboundQueue(DefaultQueueCapacity),
		buf:   make([]byte, 64*1024),
		done:  make(chan struct{}),
	}
	l.open = openUDP(log)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnTelemetry registers the handler receiving each decoded telemetry event.
func (l *ControlLink) OnTelemetry(fn func(telemetry.Event)) {
	l.mu.Lock()
	l.onTelemetry = fn
	l.mu.Unlock()
}

// OnTimeoutChanged registers the degraded (true) / restored (false) handler.
// Each fires once per transition.
func (l *ControlLink) OnTimeoutChanged(fn func(degraded bool)) {
	l.mu.Lock()
	l.onTimeout = fn
	l.mu.Unlock()
}

// OnReply registers the handler for datagrams received on the control socket.
func (l *ControlLink) OnReply(fn func([]byte)) {
	l.mu.Lock()
	l.onReply = fn
	l.mu.Unlock()
}

// Start opens the socket pair for cfg and launches the tick loop. An open
// failure is returned but the loop still runs socket-less; only a later
// Reconnect retries the open.
func (l *ControlLink) Start(cfg link.Config) error {
	if l.destroyed.Load() {
		return ErrDestroyed
	}
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	l.state.Store(int32(Connecting))
	openErr := l.connect(cfg, l.now())

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)

	return openErr
}

// Send enqueues payload for the next tick. Never blocks; silently drops once
// the link is destroyed.
func (l *ControlLink) Send(payload []byte) {
	if l.destroyed.Load() {
		return
	}
	l.queue.Push(payload)
}

// Reconnect schedules a close-then-open with cfg on the next tick. The
// latest call wins when several arrive within one tick.
func (l *ControlLink) Reconnect(cfg link.Config) {
	if l.destroyed.Load() {
		return
	}
	l.mu.Lock()
	l.pending = &cfg
	l.mu.Unlock()
	l.state.Store(int32(Connecting))
}

// Config returns the configuration currently in effect (or pending).
func (l *ControlLink) Config() link.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		return *l.pending
	}
	return l.cfg
}

// Destroy stops the loop and blocks until it has exited and closed its
// sockets. Idempotent. Pending outbound messages are dropped.
func (l *ControlLink) Destroy() {
	l.destroyOnce.Do(func() {
		l.destroyed.Store(true)
		l.queue.Close()
		if l.cancel != nil {
			l.cancel()
			<-l.done
		}
		l.state.Store(int32(Disconnected))
		l.log.Info("control link destroyed")
	})
}

// State returns the current link state.
func (l *ControlLink) State() State { return State(l.state.Load()) }

// Status returns a snapshot for diagnostics.
func (l *ControlLink) Status() Status {
	st := Status{
		State:    l.State().String(),
		Config:   l.Config(),
		QueueLen: l.queue.Len(),
		Stats: Stats{
			Sent:              l.sent.Load(),
			SendErrors:        l.sendErrs.Load(),
			QueueDropped:      l.queue.Dropped(),
			ControlReceived:   l.ctrlRecv.Load(),
			TelemetryReceived: l.telRecv.Load(),
			DecodeErrors:      l.decodeErrs.Load(),
			Reconnects:        l.reconnects.Load(),
		},
	}
	if ns := l.lastActivity.Load(); ns != 0 {
		st.LastActivity = time.Unix(0, ns)
	}
	return st
}

// run is the tick loop. It exits on ctx cancellation and closes the sockets
// before signalling done.
func (l *ControlLink) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	l.log.Info("tick loop started", zap.Duration("tick", l.tick))
	for {
		l.step(l.now())

		select {
		case <-ctx.Done():
			l.disconnect()
			l.log.Info("tick loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// step runs one tick iteration.
func (l *ControlLink) step(now time.Time) {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	onTelemetry, onTimeout, onReply := l.onTelemetry, l.onTimeout, l.onReply
	l.mu.Unlock()

	// 1. pending reconfiguration: close the old pair fully, then open the new one
	if pending != nil {
		l.reconnects.Add(1)
		l.disconnect()
		l.mu.Lock()
		l.cfg = *pending
		l.mu.Unlock()
		if err := l.connect(*pending, now); err != nil {
			l.log.Warn("reconnect failed", zap.Error(err))
		}
	}

	// 2. nothing to do without sockets
	if l.tr == nil {
		return
	}

	// 3. rover replies
	for i := 0; i < maxReadsPerTick; i++ {
		n, err := l.tr.readControl(l.buf)
		if err != nil {
			if !errors.Is(err, errNoData) {
				l.log.Warn("control read failed", zap.Error(err))
			}
			break
		}
		l.ctrlRecv.Add(1)
		l.activity(now, onTimeout)
		if onReply != nil {
			onReply(append([]byte(nil), l.buf[:n]...))
		}
	}

	// 4. telemetry broadcast
	for i := 0; i < maxReadsPerTick; i++ {
		n, err := l.tr.readTelemetry(l.buf)
		if err != nil {
			if !errors.Is(err, errNoData) {
				l.log.Warn("telemetry read failed", zap.Error(err))
			}
			break
		}
		l.telRecv.Add(1)
		l.activity(now, onTimeout)

		events, err := decodeTelemetry(l.buf[:n], now)
		if err != nil {
			l.decodeErrs.Add(1)
			l.log.Debug("telemetry dropped", zap.Int("bytes", n), zap.Error(err))
			continue
		}
		if onTelemetry != nil {
			for _, ev := range events {
				onTelemetry(ev)
			}
		}
	}

	// 5. at most one outbound command per tick
	if msg, ok := l.queue.TryPop(); ok {
		if err := l.tr.writeControl(msg.Payload); err != nil {
			l.sendErrs.Add(1)
			l.log.Warn("send failed; message dropped",
				zap.Int("bytes", len(msg.Payload)),
				zap.Duration("queued_for", now.Sub(msg.EnqueuedAt)),
				zap.Error(err))
		} else {
			l.sent.Add(1)
		}
	}

	// 6. silence timeout (edge-triggered)
	l.mu.Lock()
	timeout := l.cfg.Timeout()
	l.mu.Unlock()
	if timeout > 0 && !l.degraded && now.Sub(l.last) > timeout {
		l.degraded = true
		l.state.Store(int32(Degraded))
		l.log.Warn("link degraded", zap.Duration("silence", now.Sub(l.last)))
		if onTimeout != nil {
			onTimeout(true)
		}
	}
}

// activity records inbound data and fires "restored" when leaving a degraded period.
func (l *ControlLink) activity(now time.Time, onTimeout func(bool)) {
	l.last = now
	l.lastActivity.Store(now.UnixNano())
	if !l.degraded {
		return
	}
	l.degraded = false
	l.state.Store(int32(Connected))
	l.log.Info("link restored")
	if onTimeout != nil {
		onTimeout(false)
	}
}

// connect opens a new pair and resets the silence timer. Loop-owned.
func (l *ControlLink) connect(cfg link.Config, now time.Time) error {
	tr, err := l.open(cfg)
	if err != nil {
		l.state.Store(int32(Disconnected))
		l.log.Error("open sockets failed",
			zap.String("client", cfg.ClientEndpoint()),
			zap.String("server", cfg.ServerEndpoint()),
			zap.Error(err))
		return err
	}
	l.tr = tr
	l.last = now
	if l.degraded {
		l.state.Store(int32(Degraded))
	} else {
		l.state.Store(int32(Connected))
	}
	l.log.Info("sockets open",
		zap.String("client", cfg.ClientEndpoint()),
		zap.String("server", cfg.ServerEndpoint()),
		zap.String("telemetry", cfg.TelemetryEndpoint()))
	return nil
}

// disconnect closes the current pair, if any. Loop-owned.
func (l *ControlLink) disconnect() {
	if l.tr == nil {
		return
	}
	if err := l.tr.close(); err != nil {
		l.log.Warn("close sockets failed", zap.Error(err))
	}
	l.tr = nil
	l.state.Store(int32(Disconnected))
}
