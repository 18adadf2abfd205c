package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-distantchat/pkg/crypto"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

func bouncers() map[string]func() Bouncer {
	return map[string]func() Bouncer{
		"lobby-message": func() Bouncer {
			return &LobbyMessage{
				ChatText:    ChatText{ChatFlags: FlagLobby, SendTime: 1700000000, Message: "signed text"},
				ParentMsgID: 3,
				Bouncing:    Bouncing{LobbyID: 10, MsgID: 20, Nick: "carol"},
			}
		},
		"lobby-event": func() Bouncer {
			return &LobbyEvent{
				EventType: LobbyEventChangeNick,
				Param:     "caroline",
				SendTime:  1700000000,
				Bouncing:  Bouncing{LobbyID: 10, MsgID: 21, Nick: "carol"},
			}
		},
	}
}

func fieldNames(fields []protocol.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name()
	}
	return names
}

func TestSignedFieldsArePrefixOfFields(t *testing.T) {
	for name, build := range bouncers() {
		t.Run(name, func(t *testing.T) {
			obj := build()
			full := fieldNames(obj.Fields())
			signed := fieldNames(obj.SignedFields())

			require.Len(t, full, len(signed)+1)
			assert.Equal(t, full[:len(signed)], signed)
			assert.Equal(t, "signature", full[len(full)-1])
		})
	}
}

func TestSerializeForSignatureIgnoresSignature(t *testing.T) {
	id, err := crypto.NewIdentity()
	require.NoError(t, err)

	for name, build := range bouncers() {
		t.Run(name, func(t *testing.T) {
			obj := build()
			before, err := protocol.SerializeForSignature(obj)
			require.NoError(t, err)
			assert.Equal(t, protocol.SignedSize(obj), len(before))

			require.NoError(t, Sign(obj, id))
			after, err := protocol.SerializeForSignature(obj)
			require.NoError(t, err)
			assert.Equal(t, before, after)

			obj.BouncingObject().Signature.Data[0] ^= 0xFF
			tampered, err := protocol.SerializeForSignature(obj)
			require.NoError(t, err)
			assert.Equal(t, before, tampered)

			full, err := protocol.Serialize(obj)
			require.NoError(t, err)
			assert.Equal(t, full[protocol.HeaderSize:len(before)], before[protocol.HeaderSize:])
		})
	}
}

func TestSignVerifyOverTheWire(t *testing.T) {
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	reg := NewRegistry()

	for name, build := range bouncers() {
		t.Run(name, func(t *testing.T) {
			obj := build()
			require.NoError(t, Sign(obj, id))
			assert.Equal(t, id.ID, obj.BouncingObject().Signature.KeyID)

			frame, err := protocol.Serialize(obj)
			require.NoError(t, err)

			decoded, err := reg.Deserialize(frame)
			require.NoError(t, err)
			assert.NoError(t, Verify(decoded.(Bouncer), id.PublicKey))
		})
	}
}

func TestVerifyFailures(t *testing.T) {
	id, _ := crypto.NewIdentity()
	other, _ := crypto.NewIdentity()

	unsigned := bouncers()["lobby-message"]()
	assert.ErrorIs(t, Verify(unsigned, id.PublicKey), ErrUnsigned)

	signed := bouncers()["lobby-message"]()
	require.NoError(t, Sign(signed, id))
	assert.ErrorIs(t, Verify(signed, other.PublicKey), ErrSignerMismatch)

	edited := signed.(*LobbyMessage)
	edited.Message = "signed text, edited by a relay"
	assert.ErrorIs(t, Verify(edited, id.PublicKey), crypto.ErrInvalidSignature)

	event := bouncers()["lobby-event"]()
	require.NoError(t, Sign(event, id))
	event.BouncingObject().Nick = "mallory"
	assert.ErrorIs(t, Verify(event, id.PublicKey), crypto.ErrInvalidSignature)
}

func TestRegistryIsolation(t *testing.T) {
	a := NewRegistry()
	b := protocol.NewRegistry()

	frame, err := protocol.Serialize(NewStatus(FlagKeepAlive, ""))
	require.NoError(t, err)

	_, err = a.Deserialize(frame)
	assert.NoError(t, err)
	_, err = b.Deserialize(frame)
	assert.ErrorIs(t, err, protocol.ErrUnknownSubtype)
}
