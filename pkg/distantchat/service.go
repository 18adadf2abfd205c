// Package distantchat manages anonymous one-to-one chats carried over
// tunnels. It keeps the table of contacts, turns chat items into frames at
// the tunnel boundary and drives tunnel setup and teardown.
package distantchat

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
	"github.com/ZentaChain/zentalk-distantchat/pkg/tunnel"
)

var (
	// ErrSessionNotFound is matched by every lookup failure
	ErrSessionNotFound = errors.New("distantchat: session not found")
	// ErrNotDistantPeer means the session id was never seen or is closed
	ErrNotDistantPeer = fmt.Errorf("%w: not a distant chat peer", ErrSessionNotFound)
	// ErrTunnelUnknown means the contact exists but the transport lost the tunnel
	ErrTunnelUnknown = fmt.Errorf("%w: tunnel gone", ErrSessionNotFound)
	// ErrSerialization means an item could not be turned into a frame
	ErrSerialization = errors.New("distantchat: serialization failed")
	// ErrSessionIDReused means the transport handed out an id that is
	// already in the contact table
	ErrSessionIDReused = errors.New("distantchat: session id already in use")
	// ErrUnknownSigner means a signed item names a key that cannot be resolved
	ErrUnknownSigner = errors.New("distantchat: unknown signing key")
)

// TunnelError carries the transport's error code back to the caller
type TunnelError struct {
	Op   string
	Code tunnel.ErrorCode
	Err  error
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("distantchat: %s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

func wrapTunnelError(op string, err error) *TunnelError {
	terr := &TunnelError{Op: op, Err: err}
	var te *tunnel.Error
	if errors.As(err, &te) {
		terr.Code = te.Code
	}
	return terr
}

// ContactState is the local view of a session
type ContactState int

const (
	StateRequested ContactState = iota + 1
	StateEstablished
	StateClosed
)

func (s ContactState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Info is the public view of one session
type Info struct {
	SessionID protocol.PeerID
	// From is the local identity, To the remote one
	From   protocol.GxsID
	To     protocol.GxsID
	State  ContactState
	Tunnel tunnel.Status
}

// Archive keeps a copy of chat messages
type Archive interface {
	ArchiveMessage(rec *chat.PrivateChatRecord) error
}

type contact struct {
	from  protocol.GxsID
	to    protocol.GxsID
	state ContactState
}

// KeyResolver finds the public key of a signing identity
type KeyResolver func(id protocol.GxsID) (ed25519.PublicKey, bool)

// Config for the session service
type Config struct {
	EventBuffer       int
	KeepAliveInterval time.Duration
	Metrics           MetricsConfig
	Archive           Archive

	// Keys verifies signed lobby items on receive. Signed items whose key
	// cannot be resolved are dropped.
	Keys KeyResolver
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		EventBuffer:       256,
		KeepAliveInterval: 6 * time.Second,
		Metrics: MetricsConfig{
			Namespace: "zentalk",
			Subsystem: "distantchat",
		},
	}
}

// Service is the distant chat session manager. It registers itself as the
// transport's client for tunnel.ServiceDistantChat.
type Service struct {
	transport tunnel.Service
	registry  *protocol.Registry
	config    *Config
	metrics   *metrics
	events    chan Event

	mu       sync.Mutex
	contacts map[protocol.PeerID]*contact
}

var _ tunnel.Client = (*Service)(nil)

// NewService creates a session manager on top of a transport. A nil config
// uses DefaultConfig.
func NewService(transport tunnel.Service, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}

	s := &Service{
		transport: transport,
		registry:  chat.NewRegistry(),
		config:    config,
		metrics:   newMetrics(config.Metrics),
		events:    make(chan Event, config.EventBuffer),
		contacts:  make(map[protocol.PeerID]*contact),
	}
	transport.RegisterClient(tunnel.ServiceDistantChat, s)
	return s
}

// Registry returns the item registry used to decode incoming frames
func (s *Service) Registry() *protocol.Registry {
	return s.registry
}

// ===== CONTACT TABLE =====

func (s *Service) lookup(id protocol.PeerID) (contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return contact{}, false
	}
	return *c, true
}

func (s *Service) insert(id protocol.PeerID, c *contact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contacts[id]; exists {
		return false
	}
	s.contacts[id] = c
	s.metrics.activeContacts.Set(float64(len(s.contacts)))
	return true
}

func (s *Service) remove(id protocol.PeerID) (contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return contact{}, false
	}
	delete(s.contacts, id)
	s.metrics.activeContacts.Set(float64(len(s.contacts)))
	return *c, true
}

// promote moves a Requested contact to Established. It reports whether the
// state changed.
func (s *Service) promote(id protocol.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.state != StateRequested {
		return false
	}
	c.state = StateEstablished
	return true
}

// ===== APPLICATION CALLS =====

// Initiate asks the transport for a tunnel from a local identity to a remote
// one and records the new contact. On failure no contact is created and the
// error is a *TunnelError.
func (s *Service) Initiate(to, from protocol.GxsID) (protocol.PeerID, error) {
	id, err := s.transport.RequestSecuredTunnel(to, from, tunnel.ServiceDistantChat)
	if err != nil {
		s.metrics.tunnelRequests.WithLabelValues("error").Inc()
		log.Printf("❌ Tunnel request to %s failed: %v", to, err)
		return protocol.PeerID{}, wrapTunnelError("request tunnel", err)
	}
	s.metrics.tunnelRequests.WithLabelValues("ok").Inc()

	if !s.insert(id, &contact{from: from, to: to, state: StateRequested}) {
		log.Printf("❌ Transport reused session id %s, keeping the existing session", id)
		return protocol.PeerID{}, &TunnelError{Op: "request tunnel", Code: tunnel.CodeDuplicateTunnel, Err: ErrSessionIDReused}
	}

	// The transport may have reported on this tunnel before the contact
	// existed, so catch up with its current state.
	info, err := s.transport.TunnelInfo(id)
	if err != nil {
		s.remove(id)
		log.Printf("❌ Tunnel %s vanished right after request: %v", id, err)
		return protocol.PeerID{}, wrapTunnelError("request tunnel", err)
	}
	if info.Status == tunnel.StatusEstablished && s.promote(id) {
		s.publish(Event{Kind: EventStatus, SessionID: id, State: StateEstablished, Tunnel: info.Status})
	}

	log.Printf("✅ Distant chat %s requested: %s -> %s", id, from, to)
	return id, nil
}

// Send serializes item and hands the frame to the tunnel. Unknown sessions
// fail with ErrNotDistantPeer without touching the transport.
func (s *Service) Send(id protocol.PeerID, item chat.Item) error {
	if _, ok := s.lookup(id); !ok {
		return ErrNotDistantPeer
	}

	item.SetPeerID(id)
	frame, err := protocol.Serialize(item)
	if err != nil {
		s.metrics.framesDropped.WithLabelValues(dropSerialize).Inc()
		log.Printf("❌ Cannot serialize %s for %s: %v", chat.SubtypeName(item.Subtype()), id, err)
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	if err := s.transport.SendData(id, tunnel.ServiceDistantChat, frame); err != nil {
		s.metrics.framesDropped.WithLabelValues(dropTransport).Inc()
		return wrapTunnelError("send", err)
	}
	s.metrics.framesSent.WithLabelValues(chat.SubtypeName(item.Subtype())).Inc()

	if msg, ok := item.(*chat.ChatText); ok {
		s.archive(msg, chat.RecordOutgoing)
	}
	return nil
}

// Close ends a session. A closing notice is sent best-effort, then the
// tunnel is torn down. Closing an unknown session is a no-op.
func (s *Service) Close(id protocol.PeerID) error {
	c, ok := s.remove(id)
	if !ok {
		return nil
	}

	if c.state == StateEstablished {
		notice := chat.NewStatus(chat.FlagClosingDistantConnection, "")
		notice.SetPeerID(id)
		if frame, err := protocol.Serialize(notice); err == nil {
			if err := s.transport.SendData(id, tunnel.ServiceDistantChat, frame); err != nil {
				log.Printf("⚠️  Closing notice for %s not sent: %v", id, err)
			}
		}
	}

	if err := s.transport.CloseTunnel(id); err != nil && !errors.Is(err, tunnel.ErrNoSuchTunnel) {
		log.Printf("⚠️  Failed to close tunnel %s: %v", id, err)
	}

	log.Printf("✅ Distant chat %s closed", id)
	s.publish(Event{Kind: EventStatus, SessionID: id, State: StateClosed, Tunnel: tunnel.StatusClosed})
	return nil
}

// Status joins the stored identities with the transport's view of the
// tunnel.
func (s *Service) Status(id protocol.PeerID) (Info, error) {
	c, ok := s.lookup(id)
	if !ok {
		return Info{}, ErrNotDistantPeer
	}

	ti, err := s.transport.TunnelInfo(id)
	if err != nil {
		log.Printf("⚠️  Session %s is known but its tunnel is gone: %v", id, err)
		return Info{}, fmt.Errorf("%w: %v", ErrTunnelUnknown, err)
	}

	return Info{
		SessionID: id,
		From:      c.from,
		To:        c.to,
		State:     c.state,
		Tunnel:    ti.Status,
	}, nil
}

// Sessions returns a snapshot of the contact table. Tunnel status is not
// filled in.
func (s *Service) Sessions() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.contacts))
	for id, c := range s.contacts {
		out = append(out, Info{SessionID: id, From: c.from, To: c.to, State: c.state})
	}
	return out
}

func (s *Service) archive(msg *chat.ChatText, configFlags uint32) {
	if s.config.Archive == nil {
		return
	}
	rec := &chat.PrivateChatRecord{}
	rec.FromChatText(msg, configFlags)
	if err := s.config.Archive.ArchiveMessage(rec); err != nil {
		log.Printf("⚠️  Failed to archive message on %s: %v", msg.PeerID(), err)
	}
}
