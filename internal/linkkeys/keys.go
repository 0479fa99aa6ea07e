// Package linkkeys derives per-node identity keys and link shared secrets
// for the optional encrypted serial hardware bridge (see transport/serial).
// The core TCP link never imports this package: its wire format is the
// plain ASCII frame codec in core/frame, unconditionally.
package linkkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidPubKeySize  = errors.New("linkkeys: invalid public key size: expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("linkkeys: invalid private key size: expected 64 bytes")
)

// Identity holds the Ed25519 key pair a node uses to authenticate itself to
// an encrypted serial bridge peer.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateIdentity generates a fresh random Ed25519 identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: generate identity: %w", err)
	}
	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}

// DeriveIdentity deterministically derives an Ed25519 identity from a node's
// address string, so every run of the harness assigns the same bridge
// identity to the same node without a separate key-distribution step.
func DeriveIdentity(nodeID string) *Identity {
	seed := sha256.Sum256([]byte(nodeID))
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{PublicKey: pub, PrivateKey: priv}
}

// pubKeyToX25519 converts an Ed25519 public key to its X25519 (Montgomery)
// equivalent for use in ECDH.
func pubKeyToX25519(edPubKey []byte) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPubKey)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: invalid Ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

// privKeyToX25519 converts an Ed25519 private key to its X25519 equivalent
// per RFC 8032: SHA-512 the seed, then clamp the first 32 bytes.
func privKeyToX25519(edPrivKey ed25519.PrivateKey) ([]byte, error) {
	if len(edPrivKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	seed := edPrivKey.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32], nil
}

// SharedSecret derives a 32-byte shared secret from a local Ed25519 private
// key and a remote Ed25519 public key via X25519 ECDH.
func SharedSecret(localPrivKey ed25519.PrivateKey, remotePubKey []byte) ([]byte, error) {
	if len(remotePubKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}
	xPriv, err := privKeyToX25519(localPrivKey)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: convert private key: %w", err)
	}
	xPub, err := pubKeyToX25519(remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: convert public key: %w", err)
	}
	secret, err := curve25519.X25519(xPriv, xPub)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: ECDH: %w", err)
	}
	return secret, nil
}
