package processmgr

import "sync"

// LogManager keeps one stderr ring per owner. Buffers survive process
// restarts so the history of a flapping source stays readable.
type LogManager struct {
	mu   sync.RWMutex
	bufs map[string]*logBuffer
}

func NewLogManager() *LogManager {
	return &LogManager{bufs: make(map[string]*logBuffer)}
}

// get returns owner's buffer, creating it on first use.
func (lm *LogManager) get(owner string) *logBuffer {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if buf, ok := lm.bufs[owner]; ok {
		return buf
	}
	buf := new(logBuffer)
	lm.bufs[owner] = buf
	return buf
}

// Read returns the last lines of owner's log, newest first. ok is false when
// owner never ran a process.
func (lm *LogManager) Read(owner string, lines int) (out []string, ok bool) {
	lm.mu.RLock()
	buf, ok := lm.bufs[owner]
	lm.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return buf.Read(lines), true
}

// Drop forgets owner's log.
func (lm *LogManager) Drop(owner string) {
	lm.mu.Lock()
	delete(lm.bufs, owner)
	lm.mu.Unlock()
}
