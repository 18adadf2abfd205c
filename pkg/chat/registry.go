package chat

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-distantchat/pkg/crypto"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

var (
	ErrUnsigned       = errors.New("chat: item carries no signature")
	ErrSignerMismatch = errors.New("chat: signature key does not match verifying key")
)

// NewRegistry returns a registry that decodes every chat item kind
func NewRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	register(r, SubtypeChatText, func() protocol.Item { return &ChatText{} })
	register(r, SubtypeAvatar, func() protocol.Item { return &Avatar{} })
	register(r, SubtypeStatus, func() protocol.Item { return &StatusControl{} })
	register(r, SubtypePrivateChatRecord, func() protocol.Item { return &PrivateChatRecord{} })
	register(r, SubtypeLobbyChallenge, func() protocol.Item { return &LobbyConnectChallenge{} })
	register(r, SubtypeLobbyUnsubscribe, func() protocol.Item { return &LobbyUnsubscribe{} })
	register(r, SubtypeLobbyListRequest, func() protocol.Item { return &LobbyListRequest{} })
	register(r, SubtypeDistantInviteRecord, func() protocol.Item { return &DistantInviteRecord{} })
	register(r, SubtypeLobbyMessage, func() protocol.Item { return &LobbyMessage{} })
	register(r, SubtypeLobbyEvent, func() protocol.Item { return &LobbyEvent{} })
	register(r, SubtypeLobbyList, func() protocol.Item { return &LobbyList{} })
	register(r, SubtypeLobbyConfig, func() protocol.Item { return &LobbyConfig{} })
	register(r, SubtypeLobbyInvite, func() protocol.Item { return &LobbyInvite{} })
	return r
}

func register(r *protocol.Registry, subtype uint8, ctor protocol.Constructor) {
	r.Register(protocol.ServiceChat, subtype, ctor)
}

// ===== SIGNING =====

// Bouncer is a signed lobby item
type Bouncer interface {
	protocol.SignedItem
	BouncingObject() *Bouncing
}

// Sign signs the item's signed subset with id and stores the signature
func Sign(obj Bouncer, id *crypto.Identity) error {
	data, err := protocol.SerializeForSignature(obj)
	if err != nil {
		return fmt.Errorf("failed to serialize for signature: %w", err)
	}

	obj.BouncingObject().Signature = protocol.Signature{
		KeyID: id.ID,
		Data:  id.Sign(data),
	}
	return nil
}

// Verify re-derives the signed bytes and checks them against the stored
// signature and pub.
func Verify(obj Bouncer, pub ed25519.PublicKey) error {
	sig := obj.BouncingObject().Signature
	if sig.IsZero() {
		return ErrUnsigned
	}

	if sig.KeyID != crypto.IDFromPublicKey(pub) {
		return ErrSignerMismatch
	}

	data, err := protocol.SerializeForSignature(obj)
	if err != nil {
		return fmt.Errorf("failed to serialize for signature: %w", err)
	}

	return crypto.VerifySignature(data, sig.Data, pub)
}
