// Package chat defines the chat item kinds carried over distant-chat tunnels
// and persisted in history checkpoints.
package chat

import (
	"fmt"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// Item subtypes of the chat service
const (
	SubtypeChatText            uint8 = 0x01
	SubtypeAvatar              uint8 = 0x03
	SubtypeStatus              uint8 = 0x04
	SubtypePrivateChatRecord   uint8 = 0x05
	SubtypeLobbyChallenge      uint8 = 0x09
	SubtypeLobbyUnsubscribe    uint8 = 0x0A
	SubtypeLobbyListRequest    uint8 = 0x0C
	SubtypeDistantInviteRecord uint8 = 0x0F
	SubtypeLobbyMessage        uint8 = 0x12
	SubtypeLobbyEvent          uint8 = 0x13
	SubtypeLobbyList           uint8 = 0x14
	SubtypeLobbyConfig         uint8 = 0x15
	SubtypeLobbyInvite         uint8 = 0x1A
)

// Chat flags, shared by ChatText and StatusControl
const (
	FlagPrivate                  uint32 = 0x0001
	FlagRequestsAvatar           uint32 = 0x0002
	FlagContainsAvatar           uint32 = 0x0004
	FlagAvatarAvailable          uint32 = 0x0008
	FlagCustomState              uint32 = 0x0010
	FlagPublic                   uint32 = 0x0020
	FlagRequestCustomState       uint32 = 0x0040
	FlagCustomStateAvailable     uint32 = 0x0080
	FlagPartialMessage           uint32 = 0x0100
	FlagLobby                    uint32 = 0x0200
	FlagClosingDistantConnection uint32 = 0x0400
	FlagAckDistantConnection     uint32 = 0x0800
	FlagKeepAlive                uint32 = 0x1000
	FlagConnectionRefused        uint32 = 0x2000
)

// Status strings sent in StatusControl items
const (
	StatusTyping = "is typing..."
)

var subtypeNames = map[uint8]string{
	SubtypeChatText:            "chat-text",
	SubtypeAvatar:              "avatar",
	SubtypeStatus:              "status",
	SubtypePrivateChatRecord:   "private-chat-record",
	SubtypeLobbyChallenge:      "lobby-challenge",
	SubtypeLobbyUnsubscribe:    "lobby-unsubscribe",
	SubtypeLobbyListRequest:    "lobby-list-request",
	SubtypeDistantInviteRecord: "distant-invite-record",
	SubtypeLobbyMessage:        "lobby-message",
	SubtypeLobbyEvent:          "lobby-event",
	SubtypeLobbyList:           "lobby-list",
	SubtypeLobbyConfig:         "lobby-config",
	SubtypeLobbyInvite:         "lobby-invite",
}

// SubtypeName returns a short printable name for a chat subtype
func SubtypeName(subtype uint8) string {
	if name, ok := subtypeNames[subtype]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", subtype)
}

// Item is a chat item together with the peer it came from or goes to.
// The peer id is routing metadata and is not part of the frame.
type Item interface {
	protocol.Item
	PeerID() protocol.PeerID
	SetPeerID(protocol.PeerID)
}

// Base holds what every chat item shares
type Base struct {
	Peer protocol.PeerID
}

func (b *Base) Service() uint16              { return protocol.ServiceChat }
func (b *Base) PeerID() protocol.PeerID      { return b.Peer }
func (b *Base) SetPeerID(id protocol.PeerID) { b.Peer = id }

// ===== CHAT TEXT =====

// ChatText is a plain chat message
type ChatText struct {
	Base
	ChatFlags uint32
	SendTime  uint32
	Message   string

	// RecvTime is stamped locally on arrival and never sent
	RecvTime uint32
}

// NewChatText builds a message stamped with the current time
func NewChatText(message string, flags uint32) *ChatText {
	return &ChatText{
		ChatFlags: flags,
		SendTime:  protocol.NowUnix(),
		Message:   message,
	}
}

func (m *ChatText) Subtype() uint8 { return SubtypeChatText }

func (m *ChatText) chatFields() []protocol.Field {
	return []protocol.Field{
		protocol.Uint32("chat_flags", &m.ChatFlags),
		protocol.Uint32("send_time", &m.SendTime),
		protocol.String("message", protocol.TLVStringMessage, &m.Message),
	}
}

func (m *ChatText) Fields() []protocol.Field { return m.chatFields() }

// HasFlag reports whether all bits of flag are set
func (m *ChatText) HasFlag(flag uint32) bool { return m.ChatFlags&flag == flag }

// ===== STATUS =====

// StatusControl carries control signals: typing notices, keep-alives and
// connection closing.
type StatusControl struct {
	Base
	Flags  uint32
	Status string
}

// NewStatus builds a status item
func NewStatus(flags uint32, status string) *StatusControl {
	return &StatusControl{Flags: flags, Status: status}
}

func (s *StatusControl) Subtype() uint8 { return SubtypeStatus }

func (s *StatusControl) Fields() []protocol.Field {
	return []protocol.Field{
		protocol.Uint32("flags", &s.Flags),
		protocol.String("status", protocol.TLVStringMessage, &s.Status),
	}
}

// HasFlag reports whether all bits of flag are set
func (s *StatusControl) HasFlag(flag uint32) bool { return s.Flags&flag == flag }

// ===== AVATAR =====

// Avatar carries a raw image
type Avatar struct {
	Base
	ImageData []byte
}

func (a *Avatar) Subtype() uint8 { return SubtypeAvatar }

func (a *Avatar) Fields() []protocol.Field {
	return []protocol.Field{
		protocol.Blob("image_data", &a.ImageData),
	}
}
