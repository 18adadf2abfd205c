package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Identity is a chat identity: an ed25519 key pair and the 16 byte id
// derived from its public half.
type Identity struct {
	ID         protocol.GxsID
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewIdentity generates a fresh identity
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return identityFromKey(priv, pub), nil
}

func identityFromKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Identity {
	return &Identity{
		ID:         IDFromPublicKey(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}
}

// IDFromPublicKey derives an identity id: the first 16 bytes of the
// BLAKE2b-256 hash of the public key.
func IDFromPublicKey(pub ed25519.PublicKey) protocol.GxsID {
	sum := blake2b.Sum256(pub)
	var id protocol.GxsID
	copy(id[:], sum[:len(id)])
	return id
}

// Sign signs data with the identity's private key
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.PrivateKey, data)
}

// VerifySignature checks an ed25519 signature
func VerifySignature(data, signature []byte, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key size %d", ErrInvalidKey, len(pub))
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature size %d", ErrInvalidSignature, len(signature))
	}
	if !ed25519.Verify(pub, data, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ExportPrivateKeyPEM exports the identity key to PKCS#8 PEM
func (id *Identity) ExportPrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	}), nil
}

// ImportIdentityPEM rebuilds an identity from a PKCS#8 PEM private key
func ImportIdentityPEM(pemData []byte) (*Identity, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}

	return identityFromKey(priv, priv.Public().(ed25519.PublicKey)), nil
}

// ExportPublicKeyPEM exports the public half of the identity to PKIX PEM
func (id *Identity) ExportPublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(id.PublicKey)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}), nil
}

// ImportPublicKeyPEM parses a PKIX PEM ed25519 public key
func ImportPublicKeyPEM(pemData []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidKey
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return pub, nil
}

// SaveIdentity writes the identity key to a file readable by the owner only
func SaveIdentity(filename string, id *Identity) error {
	pemData, err := id.ExportPrivateKeyPEM()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, pemData, 0600)
}

// LoadIdentity reads an identity key written by SaveIdentity
func LoadIdentity(filename string) (*Identity, error) {
	pemData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ImportIdentityPEM(pemData)
}

// LoadOrCreateIdentity loads the identity at filename, generating and saving
// a new one when the file does not exist yet.
func LoadOrCreateIdentity(filename string) (*Identity, bool, error) {
	id, err := LoadIdentity(filename)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	id, err = NewIdentity()
	if err != nil {
		return nil, false, err
	}
	if err := SaveIdentity(filename, id); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
