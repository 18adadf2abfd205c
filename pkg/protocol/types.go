package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Protocol constants
const (
	// Header size
	HeaderSize = 8

	// Packet version carried in every header
	PacketVersion = 0x02

	// Chat service family
	ServiceChat uint16 = 0x0012
)

// Allocation limits for anything whose size comes from the wire
const (
	// MaxAllocation is the largest single variable-length field accepted (4MB)
	MaxAllocation = 4 * 1024 * 1024

	// MaxFrameSize is the largest frame accepted from a stream or file
	MaxFrameSize = MaxAllocation + 64*1024

	// MaxCollectionCount caps element counts of lists
	MaxCollectionCount = 100_000
)

// TLV tags
const (
	TLVStringName    uint16 = 0x0051
	TLVStringLink    uint16 = 0x0056
	TLVStringMessage uint16 = 0x0057
	TLVBinaryImage   uint16 = 0x0130
	TLVBinarySign    uint16 = 0x0140
	TLVKeySignature  uint16 = 0x1050
)

// PeerID identifies a peer or a distant-chat tunnel (16 bytes)
type PeerID [16]byte

// GxsID identifies a cryptographic chat identity (16 bytes)
type GxsID [16]byte

// Hash represents a BLAKE2b-256 content hash (32 bytes)
type Hash [32]byte

// AESKey is symmetric key material stored in invite records (16 bytes)
type AESKey [16]byte

// String returns the hex form of the peer id
func (id PeerID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the id is unset
func (id PeerID) IsZero() bool { return id == PeerID{} }

// String returns the hex form of the identity id
func (id GxsID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the id is unset
func (id GxsID) IsZero() bool { return id == GxsID{} }

// String returns the hex form of the hash
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParsePeerID parses a 32 character hex peer id
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if err := parseHex(s, id[:]); err != nil {
		return PeerID{}, fmt.Errorf("invalid peer id: %w", err)
	}
	return id, nil
}

// ParseGxsID parses a 32 character hex identity id
func ParseGxsID(s string) (GxsID, error) {
	var id GxsID
	if err := parseHex(s, id[:]); err != nil {
		return GxsID{}, fmt.Errorf("invalid identity id: %w", err)
	}
	return id, nil
}

func parseHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// ===== HELPER FUNCTIONS =====

// RandomPeerID generates a random peer id
func RandomPeerID() PeerID {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("protocol: crypto/rand failed: %v", err))
	}
	return id
}

// NowUnix returns the current time as wire seconds
func NowUnix() uint32 {
	return uint32(time.Now().Unix())
}
