package tunnel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

type statusEvent struct {
	id     protocol.PeerID
	status Status
}

type dataEvent struct {
	id   protocol.PeerID
	data []byte
}

// recorder is a Client that keeps every callback
type recorder struct {
	mu       sync.Mutex
	statuses []statusEvent
	data     []dataEvent
	virtual  map[protocol.PeerID]Info
}

func newRecorder() *recorder {
	return &recorder{virtual: make(map[protocol.PeerID]Info)}
}

func (r *recorder) NotifyTunnelStatus(id protocol.PeerID, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusEvent{id, status})
}

func (r *recorder) ReceiveData(id protocol.PeerID, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, dataEvent{id, data})
}

func (r *recorder) AddVirtualPeer(id protocol.PeerID, info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.virtual[id] = info
}

func (r *recorder) lastStatus(id protocol.PeerID) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.statuses) - 1; i >= 0; i-- {
		if r.statuses[i].id == id {
			return r.statuses[i].status
		}
	}
	return StatusUnknown
}

func (r *recorder) received() []dataEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dataEvent(nil), r.data...)
}

func (r *recorder) virtualPeer(id protocol.PeerID) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.virtual[id]
	return info, ok
}

var (
	alice = protocol.GxsID{0xA1}
	bob   = protocol.GxsID{0xB0}
	carol = protocol.GxsID{0xC0}
)

func TestMemoryTunnelLifecycle(t *testing.T) {
	net := NewNetwork()
	a := net.Join(alice)
	b := net.Join(bob)
	defer a.Close()
	defer b.Close()

	ra, rb := newRecorder(), newRecorder()
	a.RegisterClient(ServiceDistantChat, ra)
	b.RegisterClient(ServiceDistantChat, rb)

	id, err := a.RequestSecuredTunnel(bob, alice, ServiceDistantChat)
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	a.Sync()
	b.Sync()

	assert.Equal(t, StatusEstablished, ra.lastStatus(id))
	info, ok := rb.virtualPeer(id)
	require.True(t, ok)
	assert.Equal(t, Info{Source: bob, Destination: alice, Status: StatusEstablished}, info)

	local, err := a.TunnelInfo(id)
	require.NoError(t, err)
	assert.Equal(t, Info{Source: alice, Destination: bob, Status: StatusEstablished}, local)

	require.NoError(t, a.SendData(id, ServiceDistantChat, []byte("ping")))
	require.NoError(t, b.SendData(id, ServiceDistantChat, []byte("pong")))
	a.Sync()
	b.Sync()

	require.Len(t, rb.received(), 1)
	assert.Equal(t, []byte("ping"), rb.received()[0].data)
	require.Len(t, ra.received(), 1)
	assert.Equal(t, []byte("pong"), ra.received()[0].data)

	require.NoError(t, a.CloseTunnel(id))
	b.Sync()
	assert.Equal(t, StatusClosed, rb.lastStatus(id))

	_, err = a.TunnelInfo(id)
	assert.ErrorIs(t, err, ErrNoSuchTunnel)
	_, err = b.TunnelInfo(id)
	assert.ErrorIs(t, err, ErrNoSuchTunnel)
	assert.ErrorIs(t, a.SendData(id, ServiceDistantChat, []byte("late")), ErrNoSuchTunnel)
}

func TestMemoryTunnelRequestErrors(t *testing.T) {
	net := NewNetwork()
	a := net.Join(alice)
	defer a.Close()

	tests := []struct {
		name     string
		to, from protocol.GxsID
		code     ErrorCode
	}{
		{"unreachable destination", carol, alice, CodeUnreachable},
		{"foreign source", alice, bob, CodeNotLocalIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.RequestSecuredTunnel(tt.to, tt.from, ServiceDistantChat)
			var terr *Error
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tt.code, terr.Code)
		})
	}
}

func TestMemoryTransportCopiesData(t *testing.T) {
	net := NewNetwork()
	a := net.Join(alice)
	b := net.Join(bob)
	defer a.Close()
	defer b.Close()

	rb := newRecorder()
	b.RegisterClient(ServiceDistantChat, rb)

	id, err := a.RequestSecuredTunnel(bob, alice, ServiceDistantChat)
	require.NoError(t, err)

	buf := []byte("original")
	require.NoError(t, a.SendData(id, ServiceDistantChat, buf))
	buf[0] = 'X'
	b.Sync()

	require.Len(t, rb.received(), 1)
	assert.Equal(t, []byte("original"), rb.received()[0].data)
}

func TestMemoryEndpointCloseNotifiesRemote(t *testing.T) {
	net := NewNetwork()
	a := net.Join(alice)
	b := net.Join(bob)
	defer b.Close()

	rb := newRecorder()
	b.RegisterClient(ServiceDistantChat, rb)

	id, err := a.RequestSecuredTunnel(bob, alice, ServiceDistantChat)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool { return rb.lastStatus(id) == StatusClosed }, time.Second, 5*time.Millisecond)

	_, err = b.RequestSecuredTunnel(alice, bob, ServiceDistantChat)
	assert.Error(t, err)
}

func TestErrorCodes(t *testing.T) {
	err := newError(CodeUnknownTunnel, "tunnel %s", "x")
	assert.ErrorIs(t, err, ErrNoSuchTunnel)
	assert.Contains(t, err.Error(), "unknown tunnel")

	assert.NotErrorIs(t, newError(CodeSendFailed, "boom"), ErrNoSuchTunnel)
	assert.Equal(t, "established", StatusEstablished.String())
}
