package chat

import (
	"fmt"
	"time"

	"github.com/ZentaChain/zentalk-distantchat/pkg/crypto"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// ===== PRIVATE CHAT RECORD =====

// Record config flags
const (
	RecordIncoming uint32 = 0x0001
	RecordOutgoing uint32 = 0x0002
)

// PrivateChatRecord is a checkpointed private message, incoming or pending
type PrivateChatRecord struct {
	Base
	ConfigPeerID protocol.PeerID
	ChatFlags    uint32
	ConfigFlags  uint32
	SendTime     uint32
	Message      string
	RecvTime     uint32
}

func (r *PrivateChatRecord) Subtype() uint8 { return SubtypePrivateChatRecord }

func (r *PrivateChatRecord) Fields() []protocol.Field {
	// Format version slot, always written as zero and ignored on read
	var reserved uint32

	return []protocol.Field{
		protocol.Uint32("reserved", &reserved),
		protocol.Fixed("config_peer_id", r.ConfigPeerID[:]),
		protocol.Uint32("chat_flags", &r.ChatFlags),
		protocol.Uint32("config_flags", &r.ConfigFlags),
		protocol.Uint32("send_time", &r.SendTime),
		protocol.String("message", protocol.TLVStringMessage, &r.Message),
		protocol.Uint32("recv_time", &r.RecvTime),
	}
}

// FromChatText fills the record from a message
func (r *PrivateChatRecord) FromChatText(m *ChatText, configFlags uint32) {
	r.ConfigPeerID = m.PeerID()
	r.ChatFlags = m.ChatFlags
	r.ConfigFlags = configFlags
	r.SendTime = m.SendTime
	r.Message = m.Message
	r.RecvTime = m.RecvTime
}

// ToChatText rebuilds the message held by the record
func (r *PrivateChatRecord) ToChatText() *ChatText {
	m := &ChatText{
		ChatFlags: r.ChatFlags,
		SendTime:  r.SendTime,
		Message:   r.Message,
		RecvTime:  r.RecvTime,
	}
	m.SetPeerID(r.ConfigPeerID)
	return m
}

// ===== DISTANT INVITE RECORD =====

// DistantInviteRecord is a persisted invitation to open a distant chat with a
// given identity. Link holds the sealed invite payload in radix-64.
type DistantInviteRecord struct {
	Base
	Hash        protocol.Hash
	Link        string
	Destination protocol.GxsID
	Key         protocol.AESKey
	ValidUntil  uint32
	LastHit     uint32
	Flags       uint32
}

func (r *DistantInviteRecord) Subtype() uint8 { return SubtypeDistantInviteRecord }

func (r *DistantInviteRecord) Fields() []protocol.Field {
	return []protocol.Field{
		protocol.Fixed("hash", r.Hash[:]),
		protocol.String("link", protocol.TLVStringLink, &r.Link),
		protocol.Fixed("destination", r.Destination[:]),
		protocol.Fixed("aes_key", r.Key[:]),
		protocol.Uint32("valid_until", &r.ValidUntil),
		protocol.Uint32("last_hit", &r.LastHit),
		protocol.TrailingUint32("flags", &r.Flags),
	}
}

// NewDistantInviteRecord seals payload for dest. The AES key is derived from
// secret and the payload hash, so both ends holding secret can recompute it.
func NewDistantInviteRecord(dest protocol.GxsID, payload, secret []byte, validity time.Duration) (*DistantInviteRecord, error) {
	hash := crypto.Hash(payload)

	key, err := crypto.DeriveInviteKey(secret, hash[:])
	if err != nil {
		return nil, err
	}

	link, err := crypto.SealInvite(payload, key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal invite: %w", err)
	}

	return &DistantInviteRecord{
		Hash:        hash,
		Link:        link,
		Destination: dest,
		Key:         key,
		ValidUntil:  uint32(time.Now().Add(validity).Unix()),
	}, nil
}

// Open decrypts the invite payload and checks it against the stored hash
func (r *DistantInviteRecord) Open() ([]byte, error) {
	payload, err := crypto.OpenInvite(r.Link, r.Key)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyHash(payload, r.Hash) {
		return nil, fmt.Errorf("%w: invite hash mismatch", crypto.ErrDecryptionFailed)
	}
	return payload, nil
}

// Expired reports whether the invite is past its validity time
func (r *DistantInviteRecord) Expired(now time.Time) bool {
	return now.Unix() > int64(r.ValidUntil)
}

// Touch records a use of the invite
func (r *DistantInviteRecord) Touch(now time.Time) {
	r.LastHit = uint32(now.Unix())
}
