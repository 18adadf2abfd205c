package tunnel

import (
	"log"
	"sync"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

const dispatchQueueSize = 1024

// Network is an in-process tunnel network. Every endpoint joined to it can
// open tunnels to identities owned by any other endpoint. Callbacks are
// delivered asynchronously, in order, on one goroutine per endpoint.
type Network struct {
	mu        sync.RWMutex
	endpoints map[protocol.GxsID]*MemoryTransport
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[protocol.GxsID]*MemoryTransport),
	}
}

// Join creates an endpoint owning the given identities
func (n *Network) Join(ids ...protocol.GxsID) *MemoryTransport {
	t := &MemoryTransport{
		network: n,
		owned:   make(map[protocol.GxsID]bool),
		clients: make(map[uint32]Client),
		tunnels: make(map[protocol.PeerID]*memoryTunnel),
		queue:   make(chan func(), dispatchQueueSize),
		done:    make(chan struct{}),
	}

	n.mu.Lock()
	for _, id := range ids {
		t.owned[id] = true
		n.endpoints[id] = t
	}
	n.mu.Unlock()

	go t.dispatch()
	return t
}

func (n *Network) lookup(id protocol.GxsID) *MemoryTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.endpoints[id]
}

func (n *Network) leave(t *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range t.owned {
		if n.endpoints[id] == t {
			delete(n.endpoints, id)
		}
	}
}

type memoryTunnel struct {
	info    Info
	service uint32
	remote  *MemoryTransport
}

// MemoryTransport is one endpoint of a Network
type MemoryTransport struct {
	network *Network
	owned   map[protocol.GxsID]bool

	mu      sync.Mutex
	clients map[uint32]Client
	tunnels map[protocol.PeerID]*memoryTunnel
	closed  bool

	queue chan func()
	done  chan struct{}
	once  sync.Once
}

var _ Service = (*MemoryTransport)(nil)

func (t *MemoryTransport) dispatch() {
	for {
		select {
		case fn := <-t.queue:
			fn()
		case <-t.done:
			return
		}
	}
}

// post schedules a callback on this endpoint's dispatch goroutine
func (t *MemoryTransport) post(fn func()) {
	select {
	case t.queue <- fn:
	case <-t.done:
	}
}

// Sync blocks until every callback queued so far on this endpoint ran
func (t *MemoryTransport) Sync() {
	ran := make(chan struct{})
	t.post(func() { close(ran) })
	select {
	case <-ran:
	case <-t.done:
	}
}

func (t *MemoryTransport) client(serviceID uint32) Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clients[serviceID]
}

// RegisterClient registers the callback target for a service id
func (t *MemoryTransport) RegisterClient(serviceID uint32, c Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[serviceID] = c
}

// RequestSecuredTunnel opens a tunnel to the endpoint owning to. Both ends
// share the tunnel id.
func (t *MemoryTransport) RequestSecuredTunnel(to, from protocol.GxsID, serviceID uint32) (protocol.PeerID, error) {
	if !t.owned[from] {
		return protocol.PeerID{}, newError(CodeNotLocalIdentity, "identity %s", from)
	}

	remote := t.network.lookup(to)
	if remote == nil {
		return protocol.PeerID{}, newError(CodeUnreachable, "identity %s", to)
	}

	id := NewTunnelID()
	local := &memoryTunnel{
		info:    Info{Source: from, Destination: to, Status: StatusEstablished},
		service: serviceID,
		remote:  remote,
	}
	far := &memoryTunnel{
		info:    Info{Source: to, Destination: from, Status: StatusEstablished},
		service: serviceID,
		remote:  t,
	}

	if !t.addTunnel(id, local) {
		return protocol.PeerID{}, newError(CodeTransportClosed, "endpoint closed")
	}
	if !remote.addTunnel(id, far) {
		t.removeTunnel(id)
		return protocol.PeerID{}, newError(CodeUnreachable, "remote endpoint closed")
	}

	remote.post(func() {
		if c := remote.client(serviceID); c != nil {
			c.AddVirtualPeer(id, far.info)
		}
	})
	t.post(func() {
		if c := t.client(serviceID); c != nil {
			c.NotifyTunnelStatus(id, StatusEstablished)
		}
	})

	return id, nil
}

func (t *MemoryTransport) addTunnel(id protocol.PeerID, tun *memoryTunnel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.tunnels[id] = tun
	return true
}

func (t *MemoryTransport) removeTunnel(id protocol.PeerID) *memoryTunnel {
	t.mu.Lock()
	defer t.mu.Unlock()
	tun := t.tunnels[id]
	delete(t.tunnels, id)
	return tun
}

func (t *MemoryTransport) getTunnel(id protocol.PeerID) *memoryTunnel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tunnels[id]
}

// CloseTunnel tears the tunnel down on both ends. The remote end is told
// through NotifyTunnelStatus(StatusClosed).
func (t *MemoryTransport) CloseTunnel(id protocol.PeerID) error {
	tun := t.removeTunnel(id)
	if tun == nil {
		return newError(CodeUnknownTunnel, "tunnel %s", id)
	}

	remote := tun.remote
	if remote.removeTunnel(id) != nil {
		remote.post(func() {
			if c := remote.client(tun.service); c != nil {
				c.NotifyTunnelStatus(id, StatusClosed)
			}
		})
	}
	return nil
}

// TunnelInfo returns the tunnel as seen from this endpoint
func (t *MemoryTransport) TunnelInfo(id protocol.PeerID) (Info, error) {
	tun := t.getTunnel(id)
	if tun == nil {
		return Info{}, newError(CodeUnknownTunnel, "tunnel %s", id)
	}
	return tun.info, nil
}

// SendData queues data for the remote end of the tunnel
func (t *MemoryTransport) SendData(id protocol.PeerID, serviceID uint32, data []byte) error {
	tun := t.getTunnel(id)
	if tun == nil {
		return newError(CodeUnknownTunnel, "tunnel %s", id)
	}

	msg := append([]byte(nil), data...)
	remote := tun.remote
	remote.post(func() {
		c := remote.client(serviceID)
		if c == nil {
			log.Printf("⚠️  No client for service 0x%x, dropping %d bytes on tunnel %s", serviceID, len(msg), id)
			return
		}
		c.ReceiveData(id, msg)
	})
	return nil
}

// Close leaves the network. Open tunnels are closed and their remote ends
// notified.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	ids := make([]protocol.PeerID, 0, len(t.tunnels))
	for id := range t.tunnels {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		_ = t.CloseTunnel(id)
	}

	t.network.leave(t)
	t.once.Do(func() { close(t.done) })
	return nil
}
