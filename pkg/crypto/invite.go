package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

const inviteKeyInfo = "zentalk-distantchat-invite-v1"

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// DeriveInviteKey derives the AES key stored in an invite record from a
// shared secret. The salt is usually the invite's content hash.
func DeriveInviteKey(secret, salt []byte) (protocol.AESKey, error) {
	var key protocol.AESKey

	r := hkdf.New(sha256.New, secret, salt, []byte(inviteKeyInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return protocol.AESKey{}, fmt.Errorf("failed to derive invite key: %w", err)
	}

	return key, nil
}

// GenerateInviteKey generates a random invite key
func GenerateInviteKey() (protocol.AESKey, error) {
	var key protocol.AESKey
	_, err := rand.Read(key[:])
	return key, err
}

// SealInvite encrypts an invite payload with AES-128-GCM and returns it in
// radix-64 (URL-safe base64) so it can travel as a link string.
func SealInvite(plaintext []byte, key protocol.AESKey) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce, err := GenerateNonce(gcm.NonceSize())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenInvite reverses SealInvite
func OpenInvite(link string, key protocol.AESKey) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(link)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

func newGCM(key protocol.AESKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
