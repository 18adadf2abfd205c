package distantchat

import (
	"errors"
	"fmt"
	"log"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
	"github.com/ZentaChain/zentalk-distantchat/pkg/tunnel"
)

// ===== TRANSPORT CALLBACKS =====

// ReceiveData decodes one frame from a tunnel and dispatches it. Malformed
// frames are logged and dropped; the session stays up.
func (s *Service) ReceiveData(id protocol.PeerID, data []byte) {
	decoded, err := s.registry.Deserialize(data)
	if err != nil {
		s.metrics.framesDropped.WithLabelValues(dropDecode).Inc()
		log.Printf("⚠️  Dropping malformed frame (%d bytes) on %s: %v", len(data), id, err)
		return
	}
	item, ok := decoded.(chat.Item)
	if !ok {
		s.metrics.framesDropped.WithLabelValues(dropDecode).Inc()
		log.Printf("⚠️  Dropping non-chat item %T on %s", decoded, id)
		return
	}
	item.SetPeerID(id)
	s.metrics.framesReceived.WithLabelValues(chat.SubtypeName(item.Subtype())).Inc()

	if b, ok := item.(chat.Bouncer); ok {
		if err := s.verify(b); err != nil {
			s.metrics.framesDropped.WithLabelValues(dropVerify).Inc()
			log.Printf("⚠️  Dropping %s on %s: %v", chat.SubtypeName(item.Subtype()), id, err)
			return
		}
	}

	_, known := s.lookup(id)

	if st, ok := item.(*chat.StatusControl); ok {
		if st.HasFlag(chat.FlagClosingDistantConnection) {
			s.remoteClosed(id, known)
			return
		}
		if st.HasFlag(chat.FlagKeepAlive) {
			if !known {
				log.Printf("⚠️  Keep-alive on unknown session %s, ignoring", id)
				return
			}
			s.received(id)
			return
		}
	}

	if !known {
		s.metrics.framesDropped.WithLabelValues(dropUnknownSession).Inc()
		log.Printf("⚠️  %s for unknown session %s, dropping", chat.SubtypeName(item.Subtype()), id)
		return
	}

	s.received(id)

	if msg, ok := item.(*chat.ChatText); ok {
		msg.RecvTime = protocol.NowUnix()
		s.archive(msg, chat.RecordIncoming)
		log.Printf("📬 Message on %s (%d bytes)", id, len(msg.Message))
	}

	s.publish(Event{Kind: EventItem, SessionID: id, Item: item})
}

// received promotes a Requested contact once its peer has spoken
func (s *Service) received(id protocol.PeerID) {
	if s.promote(id) {
		log.Printf("✅ Distant chat %s established", id)
		s.publish(Event{Kind: EventStatus, SessionID: id, State: StateEstablished, Tunnel: tunnel.StatusEstablished})
	}
}

// verify checks the signature of a signed lobby item against the key of the
// identity that claims it
func (s *Service) verify(b chat.Bouncer) error {
	keyID := b.BouncingObject().Signature.KeyID
	if s.config.Keys == nil {
		return fmt.Errorf("%w: no key resolver", ErrUnknownSigner)
	}
	pub, ok := s.config.Keys(keyID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, keyID)
	}
	return chat.Verify(b, pub)
}

func (s *Service) remoteClosed(id protocol.PeerID, known bool) {
	if !known {
		log.Printf("⚠️  Closing notice for unknown session %s", id)
		return
	}
	if _, ok := s.remove(id); !ok {
		return
	}

	if err := s.transport.CloseTunnel(id); err != nil && !errors.Is(err, tunnel.ErrNoSuchTunnel) {
		log.Printf("⚠️  Failed to close tunnel %s: %v", id, err)
	}

	log.Printf("📬 Remote peer closed distant chat %s", id)
	s.publish(Event{Kind: EventStatus, SessionID: id, State: StateClosed, Tunnel: tunnel.StatusClosed})
}

// NotifyTunnelStatus applies a transport status change to the contact table
func (s *Service) NotifyTunnelStatus(id protocol.PeerID, status tunnel.Status) {
	c, ok := s.lookup(id)
	if !ok {
		log.Printf("⚠️  Tunnel %s reported %s for unknown session", id, status)
		return
	}

	switch status {
	case tunnel.StatusPending:
		if c.state != StateRequested {
			log.Printf("⚠️  Tunnel %s reported %s on a %s session, ignoring", id, status, c.state)
			return
		}
		s.publish(Event{Kind: EventStatus, SessionID: id, State: StateRequested, Tunnel: status})

	case tunnel.StatusEstablished:
		if s.promote(id) {
			log.Printf("✅ Distant chat %s established", id)
			s.publish(Event{Kind: EventStatus, SessionID: id, State: StateEstablished, Tunnel: status})
		}

	case tunnel.StatusFailed, tunnel.StatusClosed:
		if _, ok := s.remove(id); ok {
			log.Printf("⚠️  Distant chat %s ended: tunnel %s", id, status)
			s.publish(Event{Kind: EventStatus, SessionID: id, State: StateClosed, Tunnel: status})
		}

	default:
		log.Printf("⚠️  Tunnel %s reported unexpected status %d", id, int(status))
	}
}

// AddVirtualPeer records a session opened by a remote peer
func (s *Service) AddVirtualPeer(id protocol.PeerID, info tunnel.Info) {
	c := &contact{from: info.Source, to: info.Destination, state: StateEstablished}
	if !s.insert(id, c) {
		log.Printf("⚠️  Session %s already known, ignoring duplicate", id)
		return
	}

	log.Printf("✅ Incoming distant chat %s from %s", id, info.Destination)
	s.publish(Event{Kind: EventStatus, SessionID: id, State: StateEstablished, Tunnel: tunnel.StatusEstablished})
}
