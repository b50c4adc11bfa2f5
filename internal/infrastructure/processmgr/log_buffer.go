package processmgr

import "sync"

// logCapacity is the number of stderr lines kept per owner.
const logCapacity = 500

// logBuffer is a fixed ring of the most recent lines. Append is O(1); Read
// copies out.
type logBuffer struct {
	mu      sync.RWMutex
	entries [logCapacity]string
	head    int // next write position
	size    int
}

// Append adds a line, overwriting the oldest once full.
func (b *logBuffer) Append(line string) {
	b.mu.Lock()
	b.entries[b.head] = line
	b.head = (b.head + 1) % logCapacity
	if b.size < logCapacity {
		b.size++
	}
	b.mu.Unlock()
}

// Read returns up to lines entries, newest first. lines <= 0 or above the
// capacity returns everything kept. The slice is a fresh copy.
func (b *logBuffer) Read(lines int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}
	if lines <= 0 || lines > logCapacity {
		lines = logCapacity
	}
	n := min(b.size, lines)

	out := make([]string, n)
	newest := (b.head - 1 + logCapacity) % logCapacity
	for i := 0; i < n; i++ {
		out[i] = b.entries[(newest-i+logCapacity)%logCapacity]
	}
	return out
}

// Len returns the number of lines kept.
func (b *logBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
