// Package harness constructs and orchestrates a simulated mesh network: N
// agents bound to successive ports, a neighbor graph rebuilt from a
// reachability predicate, and the season/sweep experiments driven over it.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aodvmesh/simnet/agent"
	"github.com/aodvmesh/simnet/core"
	"github.com/aodvmesh/simnet/node"
	"github.com/aodvmesh/simnet/transport"
	"github.com/aodvmesh/simnet/transport/serial"
	"github.com/aodvmesh/simnet/transport/tcp"
)

// Config configures a Network.
type Config struct {
	// N is the number of nodes to construct.
	N int
	// Host is the bind host shared by every node, e.g. "127.0.0.1".
	Host string
	// BasePort is the first port; node i binds Host:BasePort+i.
	BasePort int
	// Telemetry, if set, receives stats and season lifecycle events.
	// Disabled by default (nil).
	Telemetry Telemetry
	// Logger for harness and per-node events. Falls back to slog.Default().
	Logger *slog.Logger
}

// Telemetry is the optional publisher interface the harness reports to.
// The harness never renders anything itself — it only publishes.
type Telemetry interface {
	PublishStats(nodeID string, stats agent.CountersSnapshot, power float64, routeCount int)
	PublishSeasonEvent(event, dest string)
}

// Network is a live simulated mesh: N nodes, each with its own listener,
// agent, and node glue, wired by the current neighbor graph.
type Network struct {
	cfg   Config
	log   *slog.Logger
	ctx   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	nodes []*node.Node
	coord []core.Coord
}

// New constructs n agents bound to host:basePort..host:basePort+n-1 with
// random integer coordinates in [1,50]^2, starts them, then runs
// InitNeighbor once.
func New(cfg Config) (*Network, error) {
	coords := make([]core.Coord, cfg.N)
	for i := range coords {
		coords[i] = core.Coord{X: float64(rand.IntN(50) + 1), Y: float64(rand.IntN(50) + 1)}
	}
	return newWithCoords(cfg, coords)
}

// newWithCoords builds a Network with caller-supplied coordinates instead
// of random placement, used by tests that need a deterministic topology.
func newWithCoords(cfg Config, coords []core.Coord) (*Network, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	net := &Network{cfg: cfg, log: cfg.Logger.WithGroup("harness"), ctx: ctx, cancel: cancel}

	for i := 0; i < cfg.N; i++ {
		id := fmt.Sprintf("%s:%d", cfg.Host, cfg.BasePort+i)
		c := coords[i]

		a := agent.New(agent.Config{SelfID: id, Coord: c, Logger: cfg.Logger}, nil)
		listener := tcp.New(tcp.Config{ListenAddr: id, Logger: cfg.Logger})
		n := node.New(id, a, listener, dialer{}, cfg.Logger)

		if err := n.Start(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("harness: start node %s: %w", id, err)
		}
		net.nodes = append(net.nodes, n)
		net.coord = append(net.coord, c)
	}

	net.InitNeighbor(ctx)
	return net, nil
}

type dialer struct{}

func (dialer) Dial(ctx context.Context, addr, selfID string) (transport.Link, error) {
	return tcp.Dial(ctx, addr, selfID, nil)
}

// InitNeighbor clears every node's child/parent link map, then for every
// ordered pair (A, B) with A != B, dials B -> A whenever euclid(A, B) <=
// A.power^2 — so A becomes B's parent and B becomes A's child on that
// link. Reachability is evaluated against the *target* node's instantaneous
// power and is directional per invocation: this is the documented
// power-squared-as-area coupling, preserved exactly, not "fixed".
func (net *Network) InitNeighbor(ctx context.Context) {
	net.mu.Lock()
	nodes := append([]*node.Node(nil), net.nodes...)
	net.mu.Unlock()

	for _, n := range nodes {
		n.ResetLinks()
	}

	for _, a := range nodes {
		for _, b := range nodes {
			if a == b {
				continue
			}
			if net.reachable(a, b) {
				if err := b.Connect(ctx, a.ID()); err != nil {
					net.log.Debug("connect failed during init_neighbor", "from", b.ID(), "to", a.ID(), "error", err)
				}
			}
		}
	}
}

// reachable reports whether B can dial A: euclid(A, B) <= A.power^2.
func (net *Network) reachable(a, b *node.Node) bool {
	ca := net.coordOf(a)
	cb := net.coordOf(b)
	power := a.Agent().Power()
	return core.Dist(ca, cb) <= power*power
}

func (net *Network) coordOf(n *node.Node) core.Coord {
	net.mu.Lock()
	defer net.mu.Unlock()
	for i, nn := range net.nodes {
		if nn == n {
			return net.coord[i]
		}
	}
	return core.Coord{}
}

// AttachSerialBridge opens an encrypted serial.Bridge (cfg.SelfID defaults
// to the addressed node's own id, cfg.Logger to the harness logger) and
// joins it to that node's link graph as an additional child or parent,
// alongside its regular TCP links — the hardware-in-the-loop path for the
// node at nodeIndex.
func (net *Network) AttachSerialBridge(nodeIndex int, cfg serial.Config) error {
	net.mu.Lock()
	if nodeIndex < 0 || nodeIndex >= len(net.nodes) {
		net.mu.Unlock()
		return fmt.Errorf("harness: node index %d out of range", nodeIndex)
	}
	n := net.nodes[nodeIndex]
	net.mu.Unlock()

	if cfg.SelfID == "" {
		cfg.SelfID = n.ID()
	}
	if cfg.Logger == nil {
		cfg.Logger = net.cfg.Logger
	}

	bridge, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("harness: open serial bridge for %s: %w", n.ID(), err)
	}
	n.AttachLink(bridge)
	return nil
}

// Shutdown closes every listening socket and every parent-side socket
// across the whole network.
func (net *Network) Shutdown() error {
	net.cancel()
	net.mu.Lock()
	nodes := append([]*node.Node(nil), net.nodes...)
	net.mu.Unlock()

	var firstErr error
	for _, n := range nodes {
		if err := n.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reset clears every node's counters, routing table, pending queue, inbox,
// and timers, restores default power, and rewrites the scoring weights for
// a sweep(factor) experiment.
func (net *Network) Reset(factor float64) {
	net.mu.Lock()
	nodes := append([]*node.Node(nil), net.nodes...)
	net.mu.Unlock()

	weights := core.SweepWeights(factor)
	for _, n := range nodes {
		n.Agent().Reset(weights)
	}
}

// StartSeason runs one round: for every node other than dest, in turn,
// re-runs InitNeighbor, sends "PING" toward dest, then polls dest's inbox
// up to MaxAttempt*WaitTime before moving to the next member. Returns the
// set of origin node ids whose PING arrived.
//
// Members run strictly sequentially, not concurrently: InitNeighbor tears
// down and rebuilds every node's link maps (node.Node.ResetLinks), so two
// members rebuilding at once would race each other's Connect calls against
// a concurrent ResetLinks, orphaning dialed links and leaving the topology
// nondeterministic mid-wave.
func (net *Network) StartSeason(ctx context.Context, dest string) []string {
	net.mu.Lock()
	nodes := append([]*node.Node(nil), net.nodes...)
	net.mu.Unlock()

	var destNode *node.Node
	for _, n := range nodes {
		if n.ID() == dest {
			destNode = n
			break
		}
	}
	if destNode == nil {
		return nil
	}

	if net.cfg.Telemetry != nil {
		net.cfg.Telemetry.PublishSeasonEvent("season_start", dest)
	}

	var arrived []string

	for _, n := range nodes {
		if n.ID() == dest {
			continue
		}
		net.InitNeighbor(ctx)
		n.Agent().SendUserMessage(dest, "PING")

		a := n.Agent()
		deadline := time.Now().Add(time.Duration(a.MaxAttempt()) * a.WaitTime())
		for time.Now().Before(deadline) {
			if payload, ok := destNode.Agent().Inbox(n.ID()); ok && payload == "PING" {
				arrived = append(arrived, n.ID())
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	if net.cfg.Telemetry != nil {
		net.cfg.Telemetry.PublishSeasonEvent("season_end", dest)
		for _, n := range nodes {
			s := n.Agent().Stats()
			net.cfg.Telemetry.PublishStats(n.ID(), s, n.Agent().Power(), n.Agent().RouteLen())
		}
	}

	return arrived
}

// Stats exposes a single node's counters, power, and routing-table size.
func (net *Network) Stats(nodeID string) (agent.CountersSnapshot, float64, int, bool) {
	net.mu.Lock()
	defer net.mu.Unlock()
	for _, n := range net.nodes {
		if n.ID() == nodeID {
			return n.Agent().Stats(), n.Agent().Power(), n.Agent().RouteLen(), true
		}
	}
	return agent.CountersSnapshot{}, 0, 0, false
}
