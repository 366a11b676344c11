package tracker

import (
	"sync"
	"time"
)

const defaultLatencyWindow = 1000

// collector keeps refresh latency over a fixed rolling window plus
// lifetime update and error counters.
type collector struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  int
	sum     time.Duration
	updates uint64
	errors  uint64
}

func newCollector(window int) *collector {
	if window <= 0 {
		window = defaultLatencyWindow
	}
	return &collector{samples: make([]time.Duration, window)}
}

// record adds one refresh outcome. failed marks a refresh whose ledger
// read did not succeed.
func (c *collector) record(latency time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filled == len(c.samples) {
		c.sum -= c.samples[c.next]
	} else {
		c.filled++
	}
	c.samples[c.next] = latency
	c.sum += latency
	c.next = (c.next + 1) % len(c.samples)

	c.updates++
	if failed {
		c.errors++
	}
}

type collectorStats struct {
	AverageLatency time.Duration
	Samples        int
	Updates        uint64
	Errors         uint64
}

func (c *collector) stats() collectorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := collectorStats{Samples: c.filled, Updates: c.updates, Errors: c.errors}
	if c.filled > 0 {
		s.AverageLatency = c.sum / time.Duration(c.filled)
	}
	return s
}

// SuccessRate is (updates-errors)/updates, or 1 before the first update.
func (s collectorStats) SuccessRate() float64 {
	if s.Updates == 0 {
		return 1.0
	}
	return float64(s.Updates-s.Errors) / float64(s.Updates)
}

func (c *collector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.samples)
	c.next, c.filled, c.sum = 0, 0, 0
	c.updates, c.errors = 0, 0
}
