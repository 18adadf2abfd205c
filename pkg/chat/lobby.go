package chat

import "github.com/ZentaChain/zentalk-distantchat/pkg/protocol"

// Lobby event types
const (
	LobbyEventPeerLeft   uint8 = 0x01
	LobbyEventPeerJoined uint8 = 0x02
	LobbyEventPeerStatus uint8 = 0x03
	LobbyEventChangeNick uint8 = 0x04
	LobbyEventKeepAlive  uint8 = 0x05
)

// Bouncing is the relayed part of lobby messages and events: where the item
// belongs, who wrote it, and a signature over everything else in the item.
type Bouncing struct {
	LobbyID   uint64
	MsgID     uint64
	Nick      string
	Signature protocol.Signature
}

// BouncingObject gives access to the embedded bouncing data
func (b *Bouncing) BouncingObject() *Bouncing { return b }

func (b *Bouncing) bouncingFields(withSignature bool) []protocol.Field {
	fields := []protocol.Field{
		protocol.Uint64("lobby_id", &b.LobbyID),
		protocol.Uint64("msg_id", &b.MsgID),
		protocol.String("nick", protocol.TLVStringName, &b.Nick),
	}
	if withSignature {
		fields = append(fields, protocol.SignatureValue("signature", &b.Signature))
	}
	return fields
}

// ===== LOBBY MESSAGE =====

// LobbyMessage is a chat message posted to a lobby
type LobbyMessage struct {
	ChatText
	ParentMsgID uint64
	Bouncing
}

func (m *LobbyMessage) Subtype() uint8 { return SubtypeLobbyMessage }

func (m *LobbyMessage) describe(withSignature bool) []protocol.Field {
	fields := m.chatFields()
	fields = append(fields, protocol.Uint64("parent_msg_id", &m.ParentMsgID))
	return append(fields, m.bouncingFields(withSignature)...)
}

func (m *LobbyMessage) Fields() []protocol.Field       { return m.describe(true) }
func (m *LobbyMessage) SignedFields() []protocol.Field { return m.describe(false) }

// ===== LOBBY EVENT =====

// LobbyEvent announces membership and status changes inside a lobby
type LobbyEvent struct {
	Base
	EventType uint8
	Param     string
	SendTime  uint32
	Bouncing
}

func (e *LobbyEvent) Subtype() uint8 { return SubtypeLobbyEvent }

func (e *LobbyEvent) describe(withSignature bool) []protocol.Field {
	fields := []protocol.Field{
		protocol.Uint8("event_type", &e.EventType),
		protocol.String("param", protocol.TLVStringName, &e.Param),
		protocol.Uint32("send_time", &e.SendTime),
	}
	return append(fields, e.bouncingFields(withSignature)...)
}

func (e *LobbyEvent) Fields() []protocol.Field       { return e.describe(true) }
func (e *LobbyEvent) SignedFields() []protocol.Field { return e.describe(false) }

// ===== LOBBY CONTROL =====

// LobbyInvite invites a peer into a lobby
type LobbyInvite struct {
	Base
	LobbyID uint64
	Name    string
	Flags   uint32
}

func (i *LobbyInvite) Subtype() uint8 { return SubtypeLobbyInvite }

func (i *LobbyInvite) Fields() []protocol.Field {
	return []protocol.Field{
		protocol.Uint64("lobby_id", &i.LobbyID),
		protocol.String("lobby_name", protocol.TLVStringName, &i.Name),
		protocol.Uint32("lobby_flags", &i.Flags),
	}
}

// LobbyUnsubscribe tells a peer we left a lobby
type LobbyUnsubscribe struct {
	Base
	LobbyID uint64
}

func (u *LobbyUnsubscribe) Subtype() uint8 { return SubtypeLobbyUnsubscribe }

func (u *LobbyUnsubscribe) Fields() []protocol.Field {
	return []protocol.Field{protocol.Uint64("lobby_id", &u.LobbyID)}
}

// LobbyConnectChallenge proves lobby membership to a newly connected peer
type LobbyConnectChallenge struct {
	Base
	ChallengeCode uint64
}

func (c *LobbyConnectChallenge) Subtype() uint8 { return SubtypeLobbyChallenge }

func (c *LobbyConnectChallenge) Fields() []protocol.Field {
	return []protocol.Field{protocol.Uint64("challenge_code", &c.ChallengeCode)}
}

// LobbyListRequest asks a peer for its visible lobbies
type LobbyListRequest struct {
	Base
}

func (r *LobbyListRequest) Subtype() uint8           { return SubtypeLobbyListRequest }
func (r *LobbyListRequest) Fields() []protocol.Field { return nil }

// LobbyInfo describes one visible lobby
type LobbyInfo struct {
	ID    uint64
	Name  string
	Topic string
	Count uint32
	Flags uint32
}

func (l *LobbyInfo) fields() []protocol.Field {
	return []protocol.Field{
		protocol.Uint64("id", &l.ID),
		protocol.String("name", protocol.TLVStringName, &l.Name),
		protocol.String("topic", protocol.TLVStringName, &l.Topic),
		protocol.Uint32("count", &l.Count),
		protocol.Uint32("flags", &l.Flags),
	}
}

// LobbyList answers a LobbyListRequest
type LobbyList struct {
	Base
	Lobbies []LobbyInfo
}

func (l *LobbyList) Subtype() uint8 { return SubtypeLobbyList }

func (l *LobbyList) Fields() []protocol.Field {
	return []protocol.Field{
		protocol.List("lobbies", &l.Lobbies, (*LobbyInfo).fields),
	}
}

// LobbyConfig is the persisted per-lobby configuration
type LobbyConfig struct {
	Base
	LobbyID uint64
	Flags   uint32
}

func (c *LobbyConfig) Subtype() uint8 { return SubtypeLobbyConfig }

func (c *LobbyConfig) Fields() []protocol.Field {
	return []protocol.Field{
		protocol.Uint64("lobby_id", &c.LobbyID),
		protocol.Uint32("flags", &c.Flags),
	}
}
