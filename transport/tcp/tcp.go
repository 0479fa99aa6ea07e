// Package tcp implements the primary link transport: a TCP byte stream per
// neighbor pair, framed with core/frame's "\r\n"-terminated ASCII records,
// preceded by a fixed-width identity handshake on dial.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/aodvmesh/simnet/transport"
)

// identityFieldSize is the fixed width of the out-of-band identity
// handshake sent by the dialing side before any framed record. 21 bytes
// matches the harness's default host:port identity length; longer
// identities are sent in full followed by a NUL terminator (see
// writeIdentity).
const identityFieldSize = 21

// ErrLinkClosed is returned by Send once the link has been torn down.
var ErrLinkClosed = errors.New("tcp: link closed")

// Config configures a Listener.
type Config struct {
	// ListenAddr is the address to bind, e.g. "127.0.0.1:9000".
	ListenAddr string
	// Logger for transport events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Conn is a transport.Link backed by a net.Conn.
type Conn struct {
	conn net.Conn
	peer string
	role transport.Role
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ transport.Link = (*Conn)(nil)

func (c *Conn) PeerID() string      { return c.peer }
func (c *Conn) Role() transport.Role { return c.role }

// Send writes a single already-terminated wire record.
func (c *Conn) Send(wire string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrLinkClosed
	}
	c.mu.Unlock()

	if _, err := io.WriteString(c.conn, wire); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkClosed, err)
	}
	return nil
}

// Close tears down the connection. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed reports whether Close has already run.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Run reads "\r\n"-terminated records one at a time and calls onFrame for
// each, until the connection closes or a read fails — the reader
// suspension point described by the concurrency model. No retries: a read
// failure terminates the reader and the link is marked closed.
func (c *Conn) Run(onFrame func(wire string)) {
	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			onFrame(line)
		}
		if err != nil {
			if c.log != nil {
				c.log.Debug("link reader stopped", "peer", c.peer, "role", c.role, "error", err)
			}
			c.Close()
			return
		}
	}
}

// Dial opens an outbound (parent-side) link to addr, sending selfID as the
// identity handshake before any framed record.
func Dial(ctx context.Context, addr, selfID string, logger *slog.Logger) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	if err := writeIdentity(conn, selfID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcp: identity handshake to %s: %w", addr, err)
	}
	return &Conn{conn: conn, peer: addr, role: transport.RoleParent, log: logger}, nil
}

// Listener accepts inbound (child-side) TCP connections.
type Listener struct {
	cfg Config
	log *slog.Logger
	ln  net.Listener
}

var _ transport.Listener = (*Listener)(nil)

// New creates a Listener bound (but not yet started) to cfg.ListenAddr.
func New(cfg Config) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{cfg: cfg, log: logger.WithGroup("link")}
}

// Addr returns the configured listen address.
func (l *Listener) Addr() string { return l.cfg.ListenAddr }

// Start binds the listener and runs the accept loop until ctx is
// cancelled or Stop is called. Each accepted connection is handed to
// onAccept as a child-role Link once its identity handshake is read.
func (l *Listener) Start(ctx context.Context, onAccept func(transport.Link)) error {
	ln, err := net.Listen("tcp", l.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("tcp: listen %s: %w", l.cfg.ListenAddr, err)
	}
	l.ln = ln
	// Resolve ":0"-style ephemeral ports to the address actually bound, so
	// Addr() (used as this node's identity and dial target) is accurate.
	l.cfg.ListenAddr = ln.Addr().String()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				l.log.Debug("acceptor stopped", "error", err)
				return
			}
			go l.handleAccept(conn, onAccept)
		}
	}()
	return nil
}

func (l *Listener) handleAccept(conn net.Conn, onAccept func(transport.Link)) {
	peerID, err := readIdentity(conn)
	if err != nil {
		l.log.Warn("identity handshake failed", "error", err)
		conn.Close()
		return
	}
	c := &Conn{conn: conn, peer: peerID, role: transport.RoleChild, log: l.log}
	onAccept(c)
}

// Stop closes the listening socket, terminating the accept loop.
func (l *Listener) Stop() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// writeIdentity sends id as the dial-time handshake: right-padded with NUL
// to identityFieldSize bytes when shorter. When id is identityFieldSize
// bytes or longer, it is sent verbatim followed by a single NUL
// terminator, so the reader can always find the end of the identity by
// scanning for a NUL byte regardless of length (see readIdentity).
func writeIdentity(w io.Writer, id string) error {
	if len(id) >= identityFieldSize {
		if _, err := io.WriteString(w, id); err != nil {
			return err
		}
		_, err := w.Write([]byte{0})
		return err
	}
	buf := make([]byte, identityFieldSize)
	copy(buf, id)
	_, err := w.Write(buf)
	return err
}

// readIdentity reads the fixed-width identity field. A NUL byte anywhere
// in that field means id fit within identityFieldSize bytes — the common
// case for the harness's default host:port addresses — and trimming the
// padding is enough. If the field was entirely filled (no NUL seen),
// id was identityFieldSize bytes or longer: keep reading one byte at a
// time, appending to the identity, until the NUL terminator
// writeIdentity appends for that case arrives.
func readIdentity(r io.Reader) (string, error) {
	buf := make([]byte, identityFieldSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("tcp: read identity: %w", err)
	}

	if idx := strings.IndexByte(string(buf), 0); idx >= 0 {
		return string(buf[:idx]), nil
	}

	id := string(buf)
	const maxExtra = 256
	for i := 0; i < maxExtra; i++ {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", fmt.Errorf("tcp: read identity: %w", err)
		}
		if b[0] == 0 {
			return id, nil
		}
		id += string(b[0])
	}
	return "", fmt.Errorf("tcp: read identity: exceeded %d extra bytes without a terminator", maxExtra)
}
