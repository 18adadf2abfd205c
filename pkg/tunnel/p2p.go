package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

const (
	// Protocol ID for distant-chat tunnels
	ProtocolID = p2pproto.ID("/zentalk/distantchat/tunnel/1.0.0")

	// tunnel id + source + destination + service
	helloSize = 16 + 16 + 16 + 4

	maxMessageSize = protocol.MaxFrameSize
)

var ErrMessageTooLarge = errors.New("tunnel: message exceeds maximum size")

// ===== DIRECTORY =====

// Directory resolves an identity to the libp2p peer hosting it
type Directory interface {
	Lookup(id protocol.GxsID) (peer.AddrInfo, bool)
}

// StaticDirectory is a fixed identity to peer mapping
type StaticDirectory map[protocol.GxsID]peer.AddrInfo

// Lookup implements Directory
func (d StaticDirectory) Lookup(id protocol.GxsID) (peer.AddrInfo, bool) {
	info, ok := d[id]
	return info, ok
}

// ParseDirectory parses "identity=multiaddr" entries. The multiaddr must end
// in /p2p/<peer id>; a bare /p2p/<peer id> leaves address discovery to the
// transport's peer routing.
func ParseDirectory(entries []string) (StaticDirectory, error) {
	d := make(StaticDirectory)

	for _, entry := range entries {
		idStr, addrStr, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("invalid directory entry %q: want identity=multiaddr", entry)
		}

		id, err := protocol.ParseGxsID(idStr)
		if err != nil {
			return nil, err
		}

		maddr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %s: %w", addrStr, err)
		}

		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse peer info from %s: %w", addrStr, err)
		}

		if prev, exists := d[id]; exists && prev.ID == info.ID {
			info.Addrs = append(prev.Addrs, info.Addrs...)
		}
		d[id] = *info
	}

	return d, nil
}

// ===== TRANSPORT =====

// P2PConfig configures a P2PTransport
type P2PConfig struct {
	// Identities hosted by this node; tunnels can only start or end at them
	Identities []protocol.GxsID
	Directory  Directory
	// Routing finds addresses of peers the directory lists without any.
	// Optional.
	Routing     routing.PeerRouting
	DialTimeout time.Duration
}

// DefaultP2PConfig returns default transport settings
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		Directory:   StaticDirectory{},
		DialTimeout: 30 * time.Second,
	}
}

type p2pTunnel struct {
	info    Info
	service uint32
	stream  network.Stream // nil while pending
	wmu     sync.Mutex
}

// P2PTransport carries tunnels over libp2p streams, one stream per tunnel.
// The opening side sends a fixed hello naming the tunnel id, both identities
// and the service; every message after it is length prefixed.
type P2PTransport struct {
	host   host.Host
	config *P2PConfig
	owned  map[protocol.GxsID]bool
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[uint32]Client
	tunnels map[protocol.PeerID]*p2pTunnel
}

var _ Service = (*P2PTransport)(nil)

// NewP2PTransport registers the tunnel protocol on h
func NewP2PTransport(ctx context.Context, h host.Host, config *P2PConfig) *P2PTransport {
	if config == nil {
		config = DefaultP2PConfig()
	}
	if config.Directory == nil {
		config.Directory = StaticDirectory{}
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &P2PTransport{
		host:    h,
		config:  config,
		owned:   make(map[protocol.GxsID]bool),
		ctx:     tctx,
		cancel:  cancel,
		clients: make(map[uint32]Client),
		tunnels: make(map[protocol.PeerID]*p2pTunnel),
	}
	for _, id := range config.Identities {
		t.owned[id] = true
	}

	h.SetStreamHandler(ProtocolID, t.handleStream)
	return t
}

// RegisterClient registers the callback target for a service id
func (t *P2PTransport) RegisterClient(serviceID uint32, c Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[serviceID] = c
}

func (t *P2PTransport) client(serviceID uint32) Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clients[serviceID]
}

func (t *P2PTransport) notify(serviceID uint32, id protocol.PeerID, status Status) {
	if c := t.client(serviceID); c != nil {
		c.NotifyTunnelStatus(id, status)
	}
}

// RequestSecuredTunnel registers a pending tunnel and dials in the background
func (t *P2PTransport) RequestSecuredTunnel(to, from protocol.GxsID, serviceID uint32) (protocol.PeerID, error) {
	if !t.owned[from] {
		return protocol.PeerID{}, newError(CodeNotLocalIdentity, "identity %s", from)
	}

	addr, ok := t.config.Directory.Lookup(to)
	if !ok {
		return protocol.PeerID{}, newError(CodeUnreachable, "no peer known for identity %s", to)
	}

	if t.ctx.Err() != nil {
		return protocol.PeerID{}, newError(CodeTransportClosed, "transport closed")
	}

	id := NewTunnelID()
	t.mu.Lock()
	t.tunnels[id] = &p2pTunnel{
		info:    Info{Source: from, Destination: to, Status: StatusPending},
		service: serviceID,
	}
	t.mu.Unlock()

	go t.dial(id, addr, hello{id: id, from: from, to: to, service: serviceID})

	return id, nil
}

func (t *P2PTransport) dial(id protocol.PeerID, addr peer.AddrInfo, h hello) {
	ctx, cancel := context.WithTimeout(t.ctx, t.config.DialTimeout)
	defer cancel()

	stream, err := t.openStream(ctx, addr)
	if err == nil {
		_, err = stream.Write(h.encode())
	}
	if err != nil {
		log.Printf("❌ Tunnel %s to %s failed: %v", id, h.to, err)
		if stream != nil {
			_ = stream.Reset()
		}
		if t.removeTunnel(id) != nil {
			t.notify(h.service, id, StatusFailed)
		}
		return
	}

	t.mu.Lock()
	tun := t.tunnels[id]
	if tun != nil {
		tun.stream = stream
		tun.info.Status = StatusEstablished
	}
	t.mu.Unlock()

	if tun == nil {
		// Closed while dialing
		_ = stream.Reset()
		return
	}

	log.Printf("✅ Tunnel %s established to %s via %s", id, h.to, addr.ID)
	t.notify(h.service, id, StatusEstablished)
	t.readLoop(id, h.service, stream)
}

func (t *P2PTransport) openStream(ctx context.Context, addr peer.AddrInfo) (network.Stream, error) {
	if len(addr.Addrs) == 0 && t.config.Routing != nil {
		found, err := t.config.Routing.FindPeer(ctx, addr.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find peer %s: %w", addr.ID, err)
		}
		addr = found
	}

	if err := t.host.Connect(ctx, addr); err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}

	return t.host.NewStream(ctx, addr.ID, ProtocolID)
}

// handleStream accepts a tunnel opened by a remote peer
func (t *P2PTransport) handleStream(stream network.Stream) {
	h, err := readHello(stream)
	if err != nil {
		log.Printf("⚠️  Bad tunnel hello from %s: %v", stream.Conn().RemotePeer(), err)
		_ = stream.Reset()
		return
	}

	if !t.owned[h.to] {
		log.Printf("⚠️  Tunnel request for foreign identity %s from %s", h.to, stream.Conn().RemotePeer())
		_ = stream.Reset()
		return
	}

	info := Info{Source: h.to, Destination: h.from, Status: StatusEstablished}

	t.mu.Lock()
	_, exists := t.tunnels[h.id]
	if !exists {
		t.tunnels[h.id] = &p2pTunnel{info: info, service: h.service, stream: stream}
	}
	t.mu.Unlock()

	if exists {
		log.Printf("⚠️  Duplicate tunnel id %s from %s", h.id, stream.Conn().RemotePeer())
		_ = stream.Reset()
		return
	}

	if c := t.client(h.service); c != nil {
		c.AddVirtualPeer(h.id, info)
	} else {
		log.Printf("⚠️  No client for service 0x%x, accepting tunnel %s anyway", h.service, h.id)
	}

	t.readLoop(h.id, h.service, stream)
}

func (t *P2PTransport) readLoop(id protocol.PeerID, serviceID uint32, stream network.Stream) {
	for {
		data, err := readMessage(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) && t.getTunnel(id) != nil {
				log.Printf("⚠️  Tunnel %s read error: %v", id, err)
			}
			break
		}

		if c := t.client(serviceID); c != nil {
			c.ReceiveData(id, data)
		}
	}

	_ = stream.Close()
	if t.removeTunnel(id) != nil {
		t.notify(serviceID, id, StatusClosed)
	}
}

func (t *P2PTransport) getTunnel(id protocol.PeerID) *p2pTunnel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tunnels[id]
}

func (t *P2PTransport) removeTunnel(id protocol.PeerID) *p2pTunnel {
	t.mu.Lock()
	defer t.mu.Unlock()
	tun := t.tunnels[id]
	delete(t.tunnels, id)
	return tun
}

// CloseTunnel closes the tunnel's stream. The remote side sees the stream end
// and reports StatusClosed to its client.
func (t *P2PTransport) CloseTunnel(id protocol.PeerID) error {
	tun := t.removeTunnel(id)
	if tun == nil {
		return newError(CodeUnknownTunnel, "tunnel %s", id)
	}

	if tun.stream != nil {
		return tun.stream.Close()
	}
	return nil
}

// TunnelInfo returns the tunnel as seen from this node
func (t *P2PTransport) TunnelInfo(id protocol.PeerID) (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tun := t.tunnels[id]
	if tun == nil {
		return Info{}, newError(CodeUnknownTunnel, "tunnel %s", id)
	}
	return tun.info, nil
}

// SendData writes one message to the tunnel's stream
func (t *P2PTransport) SendData(id protocol.PeerID, serviceID uint32, data []byte) error {
	t.mu.Lock()
	tun := t.tunnels[id]
	var stream network.Stream
	if tun != nil {
		stream = tun.stream
	}
	t.mu.Unlock()

	if tun == nil {
		return newError(CodeUnknownTunnel, "tunnel %s", id)
	}
	if stream == nil {
		return newError(CodeNotReady, "tunnel %s", id)
	}
	if serviceID != tun.service {
		return newError(CodeSendFailed, "tunnel %s carries service 0x%x, not 0x%x", id, tun.service, serviceID)
	}

	tun.wmu.Lock()
	defer tun.wmu.Unlock()

	if err := writeMessage(stream, data); err != nil {
		return &Error{Code: CodeSendFailed, Err: err}
	}
	return nil
}

// Close stops accepting tunnels and closes the open ones
func (t *P2PTransport) Close() error {
	t.cancel()
	t.host.RemoveStreamHandler(ProtocolID)

	t.mu.Lock()
	tunnels := t.tunnels
	t.tunnels = make(map[protocol.PeerID]*p2pTunnel)
	t.mu.Unlock()

	for _, tun := range tunnels {
		if tun.stream != nil {
			_ = tun.stream.Reset()
		}
	}
	return nil
}

// ===== WIRE =====

type hello struct {
	id      protocol.PeerID
	from    protocol.GxsID
	to      protocol.GxsID
	service uint32
}

func (h *hello) encode() []byte {
	buf := make([]byte, helloSize)
	offset := 0
	_ = protocol.PutFixed(buf, &offset, h.id[:])
	_ = protocol.PutFixed(buf, &offset, h.from[:])
	_ = protocol.PutFixed(buf, &offset, h.to[:])
	_ = protocol.PutUint32(buf, &offset, h.service)
	return buf
}

func readHello(r io.Reader) (hello, error) {
	buf := make([]byte, helloSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return hello{}, err
	}

	var h hello
	offset := 0
	_ = protocol.GetFixed(buf, &offset, h.id[:])
	_ = protocol.GetFixed(buf, &offset, h.from[:])
	_ = protocol.GetFixed(buf, &offset, h.to[:])
	h.service, _ = protocol.GetUint32(buf, &offset)
	return h, nil
}

func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 4+len(data))
	offset := 0
	if err := protocol.PutBlob(buf, &offset, data); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func readMessage(r io.Reader) ([]byte, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}

	offset := 0
	n, _ := protocol.GetUint32(head, &offset)
	if n > maxMessageSize {
		return nil, ErrMessageTooLarge
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
