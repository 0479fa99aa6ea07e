// Package serial implements the optional encrypted hardware bridge: a
// transport.Link carried over a real serial port instead of TCP, for
// bridging a simulated node to a radio modem in a hardware-in-the-loop
// setup. Every outbound record is wrapped in an X25519 ECDH + AES/HMAC
// "encrypt-then-MAC" envelope before being written to the wire; inbound
// bytes are unwrapped before being handed to the same ASCII frame parser
// the TCP link uses. This is additive and opt-in — it never replaces the
// plain TCP transport's wire format.
package serial

import (
	"bufio"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aodvmesh/simnet/internal/linkkeys"
	"github.com/aodvmesh/simnet/transport"
	"go.bug.st/serial"
)

// DefaultBaudRate is the default baud rate for bridge connections.
const DefaultBaudRate = 115200

// ErrHandshakeMismatch indicates the peer's public key did not match the
// one expected for its claimed node identity.
var ErrHandshakeMismatch = errors.New("serial: peer public key does not match expected identity")

// ErrClosed is returned by Send once the bridge has been torn down.
var ErrClosed = errors.New("serial: bridge closed")

// maxEnvelopeSize bounds the length prefix read off the wire, guarding
// against a corrupted length field driving an unbounded allocation.
const maxEnvelopeSize = 1 << 20

// Config configures a Bridge.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to DefaultBaudRate.
	BaudRate int
	// SelfID is this node's identity; its bridge keypair is derived from it.
	SelfID string
	// PeerID is the remote node's identity, used to verify the handshake
	// public key against the same deterministic derivation.
	PeerID string
	// Role reports whether, from this node's point of view, the peer at
	// the other end of the bridge is a child or a parent.
	Role transport.Role
	// Logger is the logger to use. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Bridge is a transport.Link carried over an encrypted serial connection.
type Bridge struct {
	cfg    Config
	port   serial.Port
	log    *slog.Logger
	secret []byte

	mu     sync.Mutex
	closed bool
}

var _ transport.Link = (*Bridge)(nil)

// Open opens the serial port, performs the ECDH handshake, and returns a
// ready-to-use Bridge link.
func Open(cfg Config) (*Bridge, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial: port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.WithGroup("serial").With("port", cfg.Port)

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("serial: opening port: %w", err)
	}

	b := &Bridge{cfg: cfg, port: port, log: log}
	if err := b.handshake(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: handshake: %w", err)
	}
	return b, nil
}

// handshake exchanges raw 32-byte Ed25519 public keys over the serial
// line, verifies the peer's key against PeerID's deterministic derivation,
// and derives the shared secret used for every subsequent envelope.
func (b *Bridge) handshake() error {
	local := linkkeys.DeriveIdentity(b.cfg.SelfID)
	expectedRemote := linkkeys.DeriveIdentity(b.cfg.PeerID)

	if _, err := b.port.Write(local.PublicKey); err != nil {
		return fmt.Errorf("writing local public key: %w", err)
	}

	remotePub := make([]byte, ed25519.PublicKeySize)
	if _, err := io.ReadFull(b.port, remotePub); err != nil {
		return fmt.Errorf("reading remote public key: %w", err)
	}
	if !equalBytes(remotePub, expectedRemote.PublicKey) {
		return ErrHandshakeMismatch
	}

	secret, err := linkkeys.SharedSecret(local.PrivateKey, remotePub)
	if err != nil {
		return fmt.Errorf("deriving shared secret: %w", err)
	}
	b.secret = secret
	return nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PeerID implements transport.Link.
func (b *Bridge) PeerID() string { return b.cfg.PeerID }

// Role implements transport.Link.
func (b *Bridge) Role() transport.Role { return b.cfg.Role }

// Send envelopes wire (a single "\r\n"-terminated frame record) and writes
// it to the serial port, length-prefixed so the reader can find the
// envelope boundary in the byte stream.
func (b *Bridge) Send(wire string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	sealed, err := linkkeys.Seal(b.secret, []byte(wire))
	if err != nil {
		return fmt.Errorf("serial: seal: %w", err)
	}
	if err := writeFrame(b.port, sealed); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

// Close closes the serial port. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.port.Close()
}

// IsClosed reports whether Close has already run.
func (b *Bridge) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Run reads length-prefixed envelopes one at a time, decrypts each, and
// calls onFrame with the recovered wire record, until the port closes or a
// read fails. No retries, matching the TCP link's termination behavior.
func (b *Bridge) Run(onFrame func(wire string)) {
	r := bufio.NewReader(b.port)
	for {
		sealed, err := readFrame(r)
		if err != nil {
			b.log.Debug("bridge reader stopped", "peer", b.cfg.PeerID, "error", err)
			b.Close()
			return
		}
		plaintext, err := linkkeys.Open(b.secret, sealed)
		if err != nil {
			b.log.Warn("dropping envelope that failed to decrypt", "error", err)
			continue
		}
		onFrame(string(plaintext))
	}
}

// writeFrame writes a 4-byte big-endian length prefix followed by data.
func writeFrame(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readFrame reads one length-prefixed envelope.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxEnvelopeSize {
		return nil, fmt.Errorf("serial: envelope too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
