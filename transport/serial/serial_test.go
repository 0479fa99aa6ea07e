package serial

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/aodvmesh/simnet/internal/linkkeys"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello envelope")

	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteReadFrame_MultipleRecordsInStream(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte("first")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if err := writeFrame(&buf, []byte("second")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	r := bufio.NewReader(&buf)
	first, err := readFrame(r)
	if err != nil || string(first) != "first" {
		t.Fatalf("first frame = %q, err=%v", first, err)
	}
	second, err := readFrame(r)
	if err != nil || string(second) != "second" {
		t.Fatalf("second frame = %q, err=%v", second, err)
	}
}

func TestReadFrame_RejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // length prefix far beyond maxEnvelopeSize

	if _, err := readFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected an oversized length prefix to be rejected")
	}
}

func TestSealOpenEnvelope_MatchesDerivedSecret(t *testing.T) {
	alice := linkkeys.DeriveIdentity("A:9000")
	bob := linkkeys.DeriveIdentity("B:9001")

	secretA, err := linkkeys.SharedSecret(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("SharedSecret (A side): %v", err)
	}
	secretB, err := linkkeys.SharedSecret(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("SharedSecret (B side): %v", err)
	}

	sealed, err := linkkeys.Seal(secretA, []byte("USER|A|B|PING|\r\n"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := linkkeys.Open(secretB, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "USER|A|B|PING|\r\n" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}
}

func TestHandshakeMismatch_DistinctPeerIDsDeriveDistinctKeys(t *testing.T) {
	// The handshake compares the wire-delivered public key against the
	// one deterministically derived from the configured PeerID, so it can
	// only reject a different identity's key if distinct ids derive
	// distinct keys; that precondition is what this test checks.
	real := linkkeys.DeriveIdentity("C:9002")
	impostor := linkkeys.DeriveIdentity("D:9003")

	if equalBytes(real.PublicKey, impostor.PublicKey) {
		t.Fatal("expected distinct identities to derive distinct public keys")
	}
}
