// Package agent implements the per-node routing state machine: RREQ flood
// discovery, RREP unicast reverse-path installation, USER payload transport,
// and the power-budgeted gate that protects both directions of payload
// traffic. One Agent exists per simulated node; all its mutable state is
// guarded by a single mutex, matching the serialization discipline the
// concurrency model requires (reader goroutines and the aggregation timer
// all call into the same Agent).
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aodvmesh/simnet/core"
	"github.com/aodvmesh/simnet/core/frame"
	"github.com/aodvmesh/simnet/core/pending"
	"github.com/aodvmesh/simnet/core/route"
)

// DefaultWaitTime is the aggregation/poll interval (2s in the source).
const DefaultWaitTime = 2 * time.Second

// DefaultMaxAttempt is the number of WaitTime polls send_user_message waits
// for a route before giving up and queueing the payload.
const DefaultMaxAttempt = 10

// Config configures an Agent.
type Config struct {
	// SelfID is this node's identity (host:port string).
	SelfID string
	// Coord is this node's fixed coordinate.
	Coord core.Coord
	// Weights is the scoring weight vector. Zero-value falls back to
	// core.DefaultWeights; reset(factor) in the harness replaces it wholesale.
	Weights core.Weights
	// InitialPower seeds the power budget. Zero falls back to core.DefaultPower.
	InitialPower float64
	// WaitTime is the aggregation timer / send-poll interval. Zero falls
	// back to DefaultWaitTime.
	WaitTime time.Duration
	// MaxAttempt bounds send_user_message's route-wait polling. Zero falls
	// back to DefaultMaxAttempt.
	MaxAttempt int
	// Logger for agent events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Weights == (core.Weights{}) {
		c.Weights = core.DefaultWeights
	}
	if c.InitialPower == 0 {
		c.InitialPower = core.DefaultPower
	}
	if c.WaitTime == 0 {
		c.WaitTime = DefaultWaitTime
	}
	if c.MaxAttempt == 0 {
		c.MaxAttempt = DefaultMaxAttempt
	}
}

// Agent is the per-node routing state machine described above.
type Agent struct {
	cfg   Config
	log   *slog.Logger
	links Links

	mu       sync.Mutex
	table    *route.Table
	pendingQ *pending.Queue
	inbox    map[string]string
	seqNo    int
	budget   *core.Budget

	sched    *aggregationScheduler
	Counters Counters
}

// New creates an Agent. links may be nil and set later via SetLinks, which
// is useful when the owning node needs to construct itself and the agent
// together before either side is fully wired.
func New(cfg Config, links Links) *Agent {
	cfg.setDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.WithGroup("agent").With("node", cfg.SelfID)

	a := &Agent{
		cfg:      cfg,
		log:      log,
		links:    links,
		table:    route.New(),
		pendingQ: pending.New(),
		inbox:    make(map[string]string),
		budget:   core.NewBudget(),
	}
	a.budget.Set(cfg.InitialPower)
	a.sched = newAggregationScheduler(cfg.WaitTime, a.sendRREP, log)
	return a
}

// SetLinks wires the neighbor-fan-out surface after construction.
func (a *Agent) SetLinks(links Links) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links = links
}

// Start begins the aggregation-timer tick loop. Call in a goroutine.
func (a *Agent) Start(ctx context.Context) {
	a.sched.Start(ctx)
}

// Stop halts the aggregation-timer tick loop.
func (a *Agent) Stop() {
	a.sched.Stop()
}

// Power returns the current residual power budget.
func (a *Agent) Power() float64 {
	return a.budget.Power()
}

// Stats returns a point-in-time snapshot of sent/received byte totals, the
// surface stats(node_id) exposes to the external plotter.
func (a *Agent) Stats() CountersSnapshot {
	return a.Counters.Snapshot()
}

// RouteLen reports how many destinations currently have an installed route,
// used by the telemetry publisher's routing-table-size field.
func (a *Agent) RouteLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.table.Len()
}

// Lookup exposes the routing table entry for dest, mainly for tests and
// telemetry; not used by the protocol logic itself outside this package.
func (a *Agent) Lookup(dest string) (route.Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.table.Lookup(dest)
}

// WaitTime returns the configured aggregation/poll interval.
func (a *Agent) WaitTime() time.Duration {
	return a.cfg.WaitTime
}

// MaxAttempt returns the configured route-wait poll budget.
func (a *Agent) MaxAttempt() int {
	return a.cfg.MaxAttempt
}

// Inbox returns the last delivered payload from origin, if any.
func (a *Agent) Inbox(origin string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.inbox[origin]
	return p, ok
}

// Reset clears the routing table, pending queue, inbox, aggregation
// timers, power budget and byte counters, and (if weights is non-zero)
// replaces the scoring weights — the harness's reset(factor) operation.
func (a *Agent) Reset(weights core.Weights) {
	a.mu.Lock()
	a.table.Reset()
	a.pendingQ = pending.New()
	a.inbox = make(map[string]string)
	a.seqNo = 0
	a.budget.Set(a.cfg.InitialPower)
	if weights != (core.Weights{}) {
		a.cfg.Weights = weights
	}
	a.mu.Unlock()
	a.sched.mu.Lock()
	a.sched.deadline = make(map[string]time.Time)
	a.sched.mu.Unlock()
	a.Counters.Reset()
}

// HandleFrame dispatches an inbound wire record to the appropriate
// RREQ/RREP/USER handler. Malformed records are the transport's concern
// (it drops them before they reach the agent); HandleFrame assumes f was
// already successfully parsed.
func (a *Agent) HandleFrame(f frame.Frame) {
	switch f.Kind {
	case frame.KindRREQ:
		a.handleRREQ(f)
	case frame.KindRREP:
		a.handleRREP(f)
	case frame.KindUser:
		a.handleUser(f)
	}
}

// SendUserMessage implements send_user_message(dest, payload): emits an
// RREQ, polls for a route up to MaxAttempt times at WaitTime intervals,
// sends on first route appearance (also flushing deliverable pendings), or
// enqueues the payload in the pending queue if no route ever appeared.
func (a *Agent) SendUserMessage(dest, payload string) {
	a.mu.Lock()
	a.seqNo++
	seq := a.seqNo
	self := a.cfg.SelfID
	coord := a.cfg.Coord
	a.mu.Unlock()

	a.broadcastRREQ(frame.Frame{
		Kind: frame.KindRREQ, SeqNo: seq, Origin: self, Sender: self, Dest: dest,
		Coord: coord, Hop: 0, Distance: 0, Power: core.Inf,
	})

	for attempt := 0; attempt < a.cfg.MaxAttempt; attempt++ {
		a.mu.Lock()
		entry, ok := a.table.Lookup(dest)
		a.mu.Unlock()
		if ok {
			a.sendUserOut(entry.NextHop, self, dest, payload)
			a.flushPending()
			return
		}
		time.Sleep(a.cfg.WaitTime)
	}

	a.mu.Lock()
	a.pendingQ.Put(dest, pending.Entry{Origin: a.cfg.SelfID, Payload: payload})
	a.mu.Unlock()
	a.log.Debug("no route within attempt budget, queued pending", "dest", dest)
}

// flushPending sends every pending payload whose destination now has an
// installed route. The original's send_pending_msgs is called with no
// destination argument despite taking one; this resolves that ambiguity by
// treating a route-table change as an opportunity to drain every
// now-deliverable pending entry, not just the one for the destination that
// just resolved.
func (a *Agent) flushPending() {
	a.mu.Lock()
	type ready struct {
		dest, nextHop, origin, payload string
	}
	var deliverable []ready
	for _, dest := range a.pendingQ.Destinations() {
		entry, ok := a.table.Lookup(dest)
		if !ok {
			continue
		}
		pe, ok := a.pendingQ.Take(dest)
		if !ok {
			continue
		}
		deliverable = append(deliverable, ready{dest, entry.NextHop, pe.Origin, pe.Payload})
	}
	a.mu.Unlock()

	for _, r := range deliverable {
		a.sendUserOut(r.nextHop, r.origin, r.dest, r.payload)
	}
}

func (a *Agent) handleRREQ(f frame.Frame) {
	if f.Origin == a.cfg.SelfID {
		return
	}

	a.mu.Lock()
	hop := f.Hop + 1
	dist := f.Distance + core.Dist(a.cfg.Coord, f.Coord)
	pwr := math.Min(f.Power, a.budget.Power())
	cand := route.Candidate{
		NextHop: f.Sender, SeqNo: f.SeqNo,
		Metrics: core.Metrics{Distance: dist, Hop: float64(hop), Power: pwr},
		Weights: a.cfg.Weights,
	}
	_, installed := a.table.TryInstall(f.Origin, cand)
	isDest := f.Dest == a.cfg.SelfID
	self := a.cfg.SelfID
	coord := a.cfg.Coord
	a.mu.Unlock()

	if isDest {
		// Every improving or rejected-but-arriving RREQ restarts the
		// aggregation timer — best-of-wave, not first-of-wave.
		a.sched.Arm(f.Origin)
		return
	}
	if !installed {
		return
	}

	a.broadcastRREQ(frame.Frame{
		Kind: frame.KindRREQ, SeqNo: f.SeqNo, Origin: f.Origin, Sender: self, Dest: f.Dest,
		Coord: coord, Hop: hop, Distance: dist, Power: pwr,
	})
}

// sendRREP is the aggregation scheduler's fire callback: it emits the RREP
// for the given RREQ origin using the best route committed so far.
func (a *Agent) sendRREP(origin string) {
	a.mu.Lock()
	a.seqNo++
	seq := a.seqNo
	self := a.cfg.SelfID
	coord := a.cfg.Coord
	entry, ok := a.table.Lookup(origin)
	a.mu.Unlock()
	if !ok {
		return
	}

	f := frame.Frame{
		Kind: frame.KindRREP, SeqNo: seq, Origin: self, Sender: self, Dest: origin,
		Coord: coord, Hop: 0, Distance: 0, Power: core.Inf,
	}
	wire, err := f.Encode()
	if err != nil {
		a.log.Error("encode rrep failed", "error", err)
		return
	}
	if err := a.links.SendToParent(entry.NextHop, wire); err != nil {
		a.log.Warn("send rrep failed", "error", fmt.Errorf("%w: %v", ErrLinkClosed, err))
	}
}

func (a *Agent) handleRREP(f frame.Frame) {
	a.mu.Lock()
	hop := f.Hop + 1
	dist := f.Distance + core.Dist(a.cfg.Coord, f.Coord)
	pwr := math.Min(f.Power, a.budget.Power())
	cand := route.Candidate{
		NextHop: f.Sender, SeqNo: f.SeqNo,
		Metrics: core.Metrics{Distance: dist, Hop: float64(hop), Power: pwr},
		Weights: a.cfg.Weights,
	}
	a.table.ForceInstall(f.Origin, cand)

	isFinal := f.Dest == a.cfg.SelfID
	self := a.cfg.SelfID
	coord := a.cfg.Coord
	var nextEntry route.Entry
	var ok bool
	if !isFinal {
		nextEntry, ok = a.table.Lookup(f.Dest)
	}
	a.mu.Unlock()

	if isFinal || !ok {
		return
	}

	out := frame.Frame{
		Kind: frame.KindRREP, SeqNo: f.SeqNo, Origin: f.Origin, Sender: self, Dest: f.Dest,
		Coord: coord, Hop: hop, Distance: dist, Power: pwr,
	}
	wire, err := out.Encode()
	if err != nil {
		a.log.Error("encode rrep forward failed", "error", err)
		return
	}
	if err := a.links.SendToParent(nextEntry.NextHop, wire); err != nil {
		a.log.Warn("forward rrep failed", "error", fmt.Errorf("%w: %v", ErrLinkClosed, err))
	}
}

func (a *Agent) handleUser(f frame.Frame) {
	wire, err := f.Encode()
	if err != nil {
		a.log.Error("re-encode inbound user frame failed", "error", err)
		return
	}
	n := len(wire)
	a.mu.Lock()
	allowed := a.budget.Allow(n, core.Receive)
	if allowed {
		a.budget.Debit(n, core.Receive)
	}
	a.mu.Unlock()
	if !allowed {
		a.log.Debug("dropping user frame", "error", ErrLowPower, "op", "receive")
		return
	}
	a.Counters.ReceivedBytes.Add(uint64(n))

	if f.Dest == a.cfg.SelfID {
		a.mu.Lock()
		a.inbox[f.Origin] = f.Payload
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	entry, ok := a.table.Lookup(f.Dest)
	a.mu.Unlock()
	if !ok {
		a.log.Debug("dropping user frame", "error", ErrNoRoute, "dest", f.Dest)
		return
	}
	a.sendUserOut(entry.NextHop, f.Origin, f.Dest, f.Payload)
}

// sendUserOut encodes and power-gates a USER frame, then writes it to the
// named child link. Used both for self-originated sends and for forwarding.
func (a *Agent) sendUserOut(nextHop, origin, dest, payload string) {
	f := frame.Frame{Kind: frame.KindUser, Origin: origin, Dest: dest, Payload: payload}
	wire, err := f.Encode()
	if err != nil {
		a.log.Error("encode user frame failed", "error", err)
		return
	}
	n := len(wire)
	a.mu.Lock()
	allowed := a.budget.Allow(n, core.Send)
	if allowed {
		a.budget.Debit(n, core.Send)
	}
	a.mu.Unlock()
	if !allowed {
		a.log.Debug("dropping user frame", "error", ErrLowPower, "op", "send")
		return
	}
	a.Counters.SentBytes.Add(uint64(n))

	if err := a.links.SendToChild(nextHop, wire); err != nil {
		a.log.Warn("send user frame failed", "error", fmt.Errorf("%w: %v", ErrLinkClosed, err))
	}
}

// broadcastRREQ encodes f and writes it to every child link.
func (a *Agent) broadcastRREQ(f frame.Frame) {
	wire, err := f.Encode()
	if err != nil {
		a.log.Error("encode rreq failed", "error", err)
		return
	}
	for _, childID := range a.links.ChildIDs() {
		if err := a.links.SendToChild(childID, wire); err != nil {
			a.log.Warn("broadcast rreq failed", "child", childID, "error", fmt.Errorf("%w: %v", ErrLinkClosed, err))
		}
	}
}
