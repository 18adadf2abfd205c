package crypto

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"sync"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// KeyRing maps identity ids to the public keys that verify their signatures
type KeyRing struct {
	mu   sync.RWMutex
	keys map[protocol.GxsID]ed25519.PublicKey
}

// NewKeyRing creates an empty key ring
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[protocol.GxsID]ed25519.PublicKey)}
}

// Add stores pub under the id derived from it and returns that id
func (k *KeyRing) Add(pub ed25519.PublicKey) protocol.GxsID {
	id := IDFromPublicKey(pub)
	k.mu.Lock()
	k.keys[id] = pub
	k.mu.Unlock()
	return id
}

// Lookup returns the public key of id, if known
func (k *KeyRing) Lookup(id protocol.GxsID) (ed25519.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[id]
	return pub, ok
}

// LoadPublicKeys adds every PEM public key file in paths
func (k *KeyRing) LoadPublicKeys(paths []string) error {
	for _, path := range paths {
		pemData, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pub, err := ImportPublicKeyPEM(pemData)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		k.Add(pub)
	}
	return nil
}
