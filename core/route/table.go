// Package route implements the per-node routing table and the §4.1
// replacement rule. A Table holds at most one route per destination and is
// not safe for concurrent use — the owning agent serializes all access
// under its single per-node lock, matching spec §5's mutation discipline.
package route

import "github.com/aodvmesh/simnet/core"

// Entry is a single routing-table record, keyed by destination in Table.
type Entry struct {
	NextHop  string
	SeqNo    int
	Hop      int
	Distance float64
	Power    float64
	Score    float64
}

// Table maps destination node IDs to the single best route currently
// known, per spec §3 invariant (i).
type Table struct {
	routes map[string]Entry
}

// New creates an empty routing table.
func New() *Table {
	return &Table{routes: make(map[string]Entry)}
}

// Lookup returns the route to dest, if any.
func (t *Table) Lookup(dest string) (Entry, bool) {
	e, ok := t.routes[dest]
	return e, ok
}

// Len returns the number of destinations with an installed route.
func (t *Table) Len() int {
	return len(t.routes)
}

// Reset clears every installed route.
func (t *Table) Reset() {
	t.routes = make(map[string]Entry)
}

// Candidate is a prospective replacement for the route to dest, derived
// by folding an RREQ/RREP's carried metrics with the local node's
// contribution (done inline by the agent's RREQ and RREP handlers).
type Candidate struct {
	NextHop  string
	SeqNo    int
	Metrics  core.Metrics
	Weights  core.Weights
}

// TryInstall applies the spec §4.1 replacement rule for the route to dest:
//  1. no existing route → install
//  2. candidate seq_no strictly greater → install (freshness wins)
//  3. seq_no equal and candidate score strictly greater → install
//  4. otherwise → reject
//
// Returns the entry that ended up installed (old or new) and whether the
// candidate replaced it.
func (t *Table) TryInstall(dest string, c Candidate) (installed Entry, replaced bool) {
	score := core.Score(c.Metrics, c.Weights)
	candidate := Entry{
		NextHop: c.NextHop, SeqNo: c.SeqNo,
		Hop: int(c.Metrics.Hop), Distance: c.Metrics.Distance, Power: c.Metrics.Power,
		Score: score,
	}

	existing, ok := t.routes[dest]
	if !ok {
		t.routes[dest] = candidate
		return candidate, true
	}
	if c.SeqNo > existing.SeqNo {
		t.routes[dest] = candidate
		return candidate, true
	}
	if c.SeqNo == existing.SeqNo && score > existing.Score {
		t.routes[dest] = candidate
		return candidate, true
	}
	return existing, false
}

// ForceInstall unconditionally installs the route to dest, used by RREP
// handling (§4.3), which is the sole authoritative reverse-path installer
// and intentionally bypasses the freshness/score check.
func (t *Table) ForceInstall(dest string, c Candidate) Entry {
	e := Entry{
		NextHop: c.NextHop, SeqNo: c.SeqNo,
		Hop: int(c.Metrics.Hop), Distance: c.Metrics.Distance, Power: c.Metrics.Power,
		Score: core.Score(c.Metrics, c.Weights),
	}
	t.routes[dest] = e
	return e
}
