// Package node wires one agent.Agent to real transport.Link connections:
// it owns the listener (accept loop), the childs/parents link maps keyed by
// peer id, and feeds every inbound frame into the agent under the agent's
// own lock.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aodvmesh/simnet/agent"
	"github.com/aodvmesh/simnet/core/frame"
	"github.com/aodvmesh/simnet/transport"
)

// Node binds an agent.Agent to a concrete Listener/Dialer pair, tracking
// the live child (accepted) and parent (dialed) links reachable by peer id.
type Node struct {
	id       string
	listener transport.Listener
	dialer   transport.Dialer
	agent    *agent.Agent
	log      *slog.Logger

	mu       sync.Mutex
	children map[string]transport.Link
	parents  map[string]transport.Link
}

var _ agent.Links = (*Node)(nil)

// New wires a Node around an already-constructed agent.Agent, a Listener
// bound to this node's own address, and a Dialer used for outbound
// connections. The agent's Links are pointed back at this Node.
func New(id string, a *agent.Agent, listener transport.Listener, dialer transport.Dialer, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		id:       id,
		listener: listener,
		dialer:   dialer,
		agent:    a,
		log:      logger.WithGroup("node").With("node", id),
		children: make(map[string]transport.Link),
		parents:  make(map[string]transport.Link),
	}
	a.SetLinks(n)
	return n
}

// ID returns this node's identity (its listen address).
func (n *Node) ID() string { return n.id }

// Agent returns the underlying routing agent.
func (n *Node) Agent() *agent.Agent { return n.agent }

// Start begins accepting inbound connections and runs the agent's
// aggregation scheduler. Each accepted link is registered as a child and
// its reader loop is started in its own goroutine.
func (n *Node) Start(ctx context.Context) error {
	go n.agent.Start(ctx)
	return n.listener.Start(ctx, n.onAccept)
}

func (n *Node) onAccept(link transport.Link) {
	n.mu.Lock()
	n.children[link.PeerID()] = link
	n.mu.Unlock()
	go n.runLink(link)
}

func (n *Node) runLink(link transport.Link) {
	link.Run(func(wire string) {
		f, err := frame.Parse(wire)
		if err != nil {
			n.log.Debug("dropping unparsable frame", "peer", link.PeerID(), "error", err)
			return
		}
		n.agent.HandleFrame(f)
	})
}

// Connect dials out to addr, installing the resulting link as a parent
// keyed by the remote node's own id (learned implicitly: the harness's
// neighbor graph already knows addr's id, so callers key parents by addr).
func (n *Node) Connect(ctx context.Context, addr string) error {
	link, err := n.dialer.Dial(ctx, addr, n.id)
	if err != nil {
		return fmt.Errorf("node %s: connect to %s: %w", n.id, addr, err)
	}
	n.mu.Lock()
	n.parents[addr] = link
	n.mu.Unlock()
	go n.runLink(link)
	return nil
}

// AttachLink registers an already-established transport.Link — opened by
// some means other than this Node's own listener/dialer, such as a
// serial.Bridge to a hardware radio modem — as a child or parent keyed by
// its Role, and starts its reader loop. This is the seam non-TCP
// transports use to join a Node's routing graph.
func (n *Node) AttachLink(link transport.Link) {
	n.mu.Lock()
	if link.Role() == transport.RoleParent {
		n.parents[link.PeerID()] = link
	} else {
		n.children[link.PeerID()] = link
	}
	n.mu.Unlock()
	go n.runLink(link)
}

// ChildIDs implements agent.Links.
func (n *Node) ChildIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.children))
	for id := range n.children {
		ids = append(ids, id)
	}
	return ids
}

// SendToChild implements agent.Links.
func (n *Node) SendToChild(id, wire string) error {
	n.mu.Lock()
	link, ok := n.children[id]
	n.mu.Unlock()
	if !ok || link.IsClosed() {
		return fmt.Errorf("node %s: no child link to %s: %w", n.id, id, agent.ErrLinkClosed)
	}
	return link.Send(wire)
}

// SendToParent implements agent.Links.
func (n *Node) SendToParent(id, wire string) error {
	n.mu.Lock()
	link, ok := n.parents[id]
	n.mu.Unlock()
	if !ok || link.IsClosed() {
		return fmt.Errorf("node %s: no parent link to %s: %w", n.id, id, agent.ErrLinkClosed)
	}
	return link.Send(wire)
}

// ResetLinks drops every tracked child and parent link without closing the
// underlying connections (the harness's init_neighbor rebuild expects a
// clean map on every invocation; closing is a separate, explicit step —
// see Shutdown).
func (n *Node) ResetLinks() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = make(map[string]transport.Link)
	n.parents = make(map[string]transport.Link)
}

// Shutdown closes the listening socket and every parent-side link. Child
// links are left to the remote peer's own Shutdown (closing a parent-side
// connection propagates a read failure to the peer's reader, which tears
// down that peer's child-side link on its own).
func (n *Node) Shutdown() error {
	var firstErr error
	if err := n.listener.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	n.mu.Lock()
	parents := make([]transport.Link, 0, len(n.parents))
	for _, link := range n.parents {
		parents = append(parents, link)
	}
	n.parents = make(map[string]transport.Link)
	n.mu.Unlock()

	for _, link := range parents {
		if err := link.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
