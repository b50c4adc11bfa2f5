//go:build linux

// Package processmgr runs external commands (ffmpeg) on behalf of named
// owners: it keeps each owner's stderr history and bounds how many
// slot-holding processes may run at once.
package processmgr

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Kind decides whether a process counts against the slot limit.
type Kind int

const (
	// Capture processes hold a slot for their whole lifetime.
	Capture Kind = iota
	// Auxiliary processes (recorders) are not limited.
	Auxiliary
)

// Manager spawns processes for owners. It is safe for concurrent use.
type Manager struct {
	log   *zap.Logger
	env   []string
	logs  *LogManager
	slots *slotPool

	mu      sync.Mutex
	running map[*Process]string // process → owner
}

// NewManager returns a manager allowing maxCapture concurrent Capture processes.
func NewManager(log *zap.Logger, maxCapture int) *Manager {
	return &Manager{
		log:     log.Named("process_manager"),
		env:     append(os.Environ(), "AV_LOG_FORCE_NOCOLOR=1"),
		logs:    NewLogManager(),
		slots:   newSlotPool(maxCapture),
		running: make(map[*Process]string),
	}
}

// Spawn starts argv for owner. Capture processes fail with ErrNoSlot when the
// limit is reached; the caller retries later. The slot is released when the
// process is reaped.
func (m *Manager) Spawn(owner string, kind Kind, argv []string) (*Process, error) {
	if kind == Capture {
		if err := m.slots.tryAcquire(owner); err != nil {
			return nil, fmt.Errorf("spawn for '%s': %w", owner, err)
		}
	}

	log := m.log.With(zap.String("owner", owner), zap.String("bin", argv0(argv)))
	p, err := newProcess(log, m.logs.get(owner), m.env, argv)
	if err != nil {
		if kind == Capture {
			m.slots.release(owner)
		}
		return nil, fmt.Errorf("spawn for '%s': %w", owner, err)
	}

	p.onExit = func() {
		if kind == Capture {
			m.slots.release(owner)
		}
		m.mu.Lock()
		delete(m.running, p)
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.running[p] = owner
	m.mu.Unlock()

	if err := p.Start(); err != nil {
		p.onExit()
		return nil, err
	}
	return p, nil
}

// Logs returns the last lines of owner's stderr, newest first.
func (m *Manager) Logs(owner string, lines int) ([]string, bool) {
	return m.logs.Read(owner, lines)
}

// Forget drops owner's log history.
func (m *Manager) Forget(owner string) { m.logs.Drop(owner) }

// SetLimit changes the number of concurrent Capture processes.
func (m *Manager) SetLimit(n int) {
	if n == m.slots.capacity() {
		return
	}
	m.slots.updateLimit(n)
	m.log.Info("capture limit changed", zap.Int("limit", n))
}

// Usage reports (held, limit) for Capture slots.
func (m *Manager) Usage() (held, limit int) {
	return m.slots.current(), m.slots.capacity()
}

// Holders lists owners currently holding a Capture slot.
func (m *Manager) Holders() []string { return m.slots.listAcquired() }

// Running returns the number of live processes.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// CloseAll tears down every live process. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	procs := make([]*Process, 0, len(m.running))
	for p := range m.running {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()
	}
	wg.Wait()
}

func argv0(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}
