package linkkeys

import (
	"bytes"
	"testing"
)

func TestEnvelope_RoundTripBetweenPeers(t *testing.T) {
	alice := DeriveIdentity("alice")
	bob := DeriveIdentity("bob")

	plaintext := []byte("RREQ|1|alice|alice|bob|1,2|0|0|999|\r\n")
	sealed, err := alice.EncryptForPeer(plaintext, bob.PublicKey)
	if err != nil {
		t.Fatalf("EncryptForPeer: %v", err)
	}
	opened, err := bob.DecryptFromPeer(sealed, alice.PublicKey)
	if err != nil {
		t.Fatalf("DecryptFromPeer: %v", err)
	}
	if !bytes.HasPrefix(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want prefix %q", opened, plaintext)
	}
}

func TestEnvelope_WrongPeerFailsMAC(t *testing.T) {
	alice := DeriveIdentity("alice")
	bob := DeriveIdentity("bob")
	mallory := DeriveIdentity("mallory")

	sealed, err := alice.EncryptForPeer([]byte("secret"), bob.PublicKey)
	if err != nil {
		t.Fatalf("EncryptForPeer: %v", err)
	}
	if _, err := mallory.DecryptFromPeer(sealed, alice.PublicKey); err == nil {
		t.Fatal("expected MAC failure when decrypting with the wrong identity")
	}
}
