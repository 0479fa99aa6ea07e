// Package transport defines the directed link abstraction shared by every
// concrete transport (plain TCP, the encrypted serial bridge): a byte
// stream carrying one frame record at a time, established as either a
// child endpoint (this side accepted the connection) or a parent endpoint
// (this side dialed out), per the link-directionality convention.
package transport

import "context"

// Role identifies which end of a directed link a Link value represents,
// from the owning node's point of view.
type Role int

const (
	// RoleChild marks a link this node accepted — the peer dialed in.
	// RREQ floods and USER forwards along the chosen route go out on
	// child links.
	RoleChild Role = iota
	// RoleParent marks a link this node dialed out on. RREPs and the
	// reverse-path route to an RREQ's origin go out on parent links.
	RoleParent
)

func (r Role) String() string {
	if r == RoleParent {
		return "parent"
	}
	return "child"
}

// Link is one directed, ordered, reliable byte-stream endpoint carrying
// newline-framed wire records to or from a single named peer.
type Link interface {
	// PeerID is the remote node's identity, learned at handshake time.
	PeerID() string
	// Role reports whether this link is this node's child or parent side.
	Role() Role
	// Send writes a single wire record (already "\r\n"-terminated) to the
	// peer. Returns an error if the link has been closed.
	Send(wire string) error
	// Close tears down the underlying connection. Idempotent.
	Close() error
	// IsClosed reports whether the link has already been torn down.
	IsClosed() bool
	// Run blocks, reading one frame record at a time and calling onFrame
	// for each, until the link is closed or a read fails. Callers run it
	// in its own goroutine — this is the link's "reader" per the
	// concurrency model's one-reader-per-link rule.
	Run(onFrame func(wire string))
}

// Dialer opens a new outbound (parent-side) link to addr, sending selfID
// as the identity handshake before any framed record.
type Dialer interface {
	Dial(ctx context.Context, addr, selfID string) (Link, error)
}

// Listener accepts inbound (child-side) links on a fixed address, invoking
// onAccept for each newly established link with the peer identity already
// read off the handshake.
type Listener interface {
	Addr() string
	Start(ctx context.Context, onAccept func(Link)) error
	Stop() error
}
