package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// KeyPair is the opaque product of the minting primitive.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// mintKeys generates a fresh keypair. Key generation is an opaque
// primitive as far as the kernel is concerned; nothing downstream
// depends on the algorithm.
func mintKeys() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("minting keypair: %w", err)
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}
