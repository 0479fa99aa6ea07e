package agent

import "sync/atomic"

// Counters tracks per-node byte totals for USER traffic using atomic
// counters, so stats() can be read concurrently with the reader goroutines
// that drive them. Adapted from the teacher's router packet counters,
// narrowed to the two byte totals the harness's stats() surface needs.
type Counters struct {
	SentBytes     atomic.Uint64
	ReceivedBytes atomic.Uint64
}

// CountersSnapshot is a plain-value, point-in-time copy of Counters.
type CountersSnapshot struct {
	SentBytes     uint64
	ReceivedBytes uint64
}

// Snapshot returns a copy of the current counter values. Each counter is
// loaded atomically on its own; the pair is not read as one atomic unit.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		SentBytes:     c.SentBytes.Load(),
		ReceivedBytes: c.ReceivedBytes.Load(),
	}
}

// Reset zeroes both counters, used by the harness's reset(factor).
func (c *Counters) Reset() {
	c.SentBytes.Store(0)
	c.ReceivedBytes.Store(0)
}
