package linkkeys

import "testing"

func TestDeriveIdentity_Deterministic(t *testing.T) {
	a := DeriveIdentity("127.0.0.1:8000")
	b := DeriveIdentity("127.0.0.1:8000")
	if !a.PublicKey.Equal(b.PublicKey) {
		t.Fatal("expected deriving the same node ID to yield the same public key")
	}
	c := DeriveIdentity("127.0.0.1:8001")
	if a.PublicKey.Equal(c.PublicKey) {
		t.Fatal("expected different node IDs to yield different public keys")
	}
}

func TestSharedSecret_AgreesBothDirections(t *testing.T) {
	alice := DeriveIdentity("alice")
	bob := DeriveIdentity("bob")

	s1, err := SharedSecret(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("SharedSecret(alice, bob): %v", err)
	}
	s2, err := SharedSecret(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("SharedSecret(bob, alice): %v", err)
	}
	if len(s1) != 32 || len(s2) != 32 {
		t.Fatalf("expected 32-byte secrets, got %d and %d", len(s1), len(s2))
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("ECDH secrets disagree at byte %d", i)
		}
	}
}

func TestSharedSecret_RejectsWrongSizedPubKey(t *testing.T) {
	id := DeriveIdentity("alice")
	if _, err := SharedSecret(id.PrivateKey, []byte("too-short")); err == nil {
		t.Fatal("expected error for wrong-sized remote public key")
	}
}
