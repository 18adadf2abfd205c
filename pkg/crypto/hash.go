package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// Hash generates a BLAKE2b-256 content hash
func Hash(data []byte) protocol.Hash {
	return protocol.Hash(blake2b.Sum256(data))
}

// GenerateNonce generates a random nonce
func GenerateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	_, err := rand.Read(nonce)
	if err != nil {
		return nil, err
	}
	return nonce, nil
}

// VerifyHash verifies a hash matches the data
func VerifyHash(data []byte, expected protocol.Hash) bool {
	actual := Hash(data)
	return subtle.ConstantTimeCompare(actual[:], expected[:]) == 1
}
