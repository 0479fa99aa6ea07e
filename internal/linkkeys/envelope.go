package linkkeys

import "fmt"

// EncryptForPeer seals plaintext for the serial bridge peer identified by
// remotePubKey, deriving the shared secret from the local identity.
func (id *Identity) EncryptForPeer(plaintext []byte, remotePubKey []byte) ([]byte, error) {
	secret, err := SharedSecret(id.PrivateKey, remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: encrypt for peer: %w", err)
	}
	return Seal(secret, plaintext)
}

// DecryptFromPeer opens an envelope produced by EncryptForPeer on the other
// end of the link.
func (id *Identity) DecryptFromPeer(data []byte, remotePubKey []byte) ([]byte, error) {
	secret, err := SharedSecret(id.PrivateKey, remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("linkkeys: decrypt from peer: %w", err)
	}
	return Open(secret, data)
}
