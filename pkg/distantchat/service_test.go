package distantchat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/crypto"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
	"github.com/ZentaChain/zentalk-distantchat/pkg/tunnel"
)

var (
	idA = protocol.GxsID{0xA1, 0x01}
	idB = protocol.GxsID{0xB2, 0x02}
)

type sentFrame struct {
	id      protocol.PeerID
	service uint32
	data    []byte
}

// fakeTransport records every call and never calls back on its own
type fakeTransport struct {
	mu         sync.Mutex
	client     tunnel.Client
	tunnels    map[protocol.PeerID]tunnel.Info
	sent       []sentFrame
	closed     []protocol.PeerID
	requestErr error
	sendErr    error
	infoErr    error
	// nextID, when set, is handed out by every tunnel request
	nextID protocol.PeerID
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{tunnels: make(map[protocol.PeerID]tunnel.Info)}
}

func (f *fakeTransport) RegisterClient(serviceID uint32, c tunnel.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.client = c
}

func (f *fakeTransport) RequestSecuredTunnel(to, from protocol.GxsID, serviceID uint32) (protocol.PeerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return protocol.PeerID{}, f.requestErr
	}
	id := f.nextID
	if id.IsZero() {
		id = tunnel.NewTunnelID()
	}
	if _, exists := f.tunnels[id]; !exists {
		f.tunnels[id] = tunnel.Info{Source: from, Destination: to, Status: tunnel.StatusPending}
	}
	return id, nil
}

func (f *fakeTransport) CloseTunnel(id protocol.PeerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	if _, ok := f.tunnels[id]; !ok {
		return &tunnel.Error{Code: tunnel.CodeUnknownTunnel, Err: errors.New("gone")}
	}
	delete(f.tunnels, id)
	return nil
}

func (f *fakeTransport) TunnelInfo(id protocol.PeerID) (tunnel.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return tunnel.Info{}, f.infoErr
	}
	info, ok := f.tunnels[id]
	if !ok {
		return tunnel.Info{}, &tunnel.Error{Code: tunnel.CodeUnknownTunnel, Err: errors.New("gone")}
	}
	return info, nil
}

func (f *fakeTransport) SendData(id protocol.PeerID, serviceID uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{id, serviceID, append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) setStatus(id protocol.PeerID, status tunnel.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.tunnels[id]
	info.Status = status
	f.tunnels[id] = info
}

func (f *fakeTransport) drop(id protocol.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tunnels, id)
}

func (f *fakeTransport) sentFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTransport) closedTunnels() []protocol.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.PeerID(nil), f.closed...)
}

type memoryArchive struct {
	mu      sync.Mutex
	records []*chat.PrivateChatRecord
}

func (a *memoryArchive) ArchiveMessage(rec *chat.PrivateChatRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	return NewService(ft, nil), ft
}

func encode(t *testing.T, item chat.Item) []byte {
	t.Helper()
	frame, err := protocol.Serialize(item)
	require.NoError(t, err)
	return frame
}

func decodeChat(t *testing.T, frame []byte) chat.Item {
	t.Helper()
	item, err := chat.NewRegistry().Deserialize(frame)
	require.NoError(t, err)
	ci, ok := item.(chat.Item)
	require.True(t, ok)
	return ci
}

// drain returns every event queued so far
func drain(s *Service) []Event {
	var out []Event
	for {
		select {
		case e := <-s.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func establish(t *testing.T, s *Service, ft *fakeTransport) protocol.PeerID {
	t.Helper()
	id, err := s.Initiate(idB, idA)
	require.NoError(t, err)
	ft.setStatus(id, tunnel.StatusEstablished)
	s.NotifyTunnelStatus(id, tunnel.StatusEstablished)
	return id
}

func TestSessionLifecycle(t *testing.T) {
	s, ft := newTestService(t)

	id, err := s.Initiate(idB, idA)
	require.NoError(t, err)

	info, err := s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, idA, info.From)
	assert.Equal(t, idB, info.To)
	assert.Equal(t, StateRequested, info.State)
	assert.Equal(t, tunnel.StatusPending, info.Tunnel)

	ft.setStatus(id, tunnel.StatusEstablished)
	s.NotifyTunnelStatus(id, tunnel.StatusEstablished)
	info, err = s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, info.State)

	require.NoError(t, s.Close(id))
	assert.Equal(t, []protocol.PeerID{id}, ft.closedTunnels())

	// The closing notice is the last frame on the tunnel
	frames := ft.sentFrames()
	require.Len(t, frames, 1)
	notice, ok := decodeChat(t, frames[0].data).(*chat.StatusControl)
	require.True(t, ok)
	assert.True(t, notice.HasFlag(chat.FlagClosingDistantConnection))

	_, err = s.Status(id)
	assert.ErrorIs(t, err, ErrNotDistantPeer)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = s.Send(id, chat.NewChatText("late", chat.FlagPrivate))
	assert.ErrorIs(t, err, ErrNotDistantPeer)
	assert.Len(t, ft.sentFrames(), 1)

	// closing twice or closing a stranger is a no-op
	require.NoError(t, s.Close(id))
	require.NoError(t, s.Close(protocol.RandomPeerID()))
	assert.Len(t, ft.closedTunnels(), 1)
}

func TestInitiateFailureCreatesNoContact(t *testing.T) {
	s, ft := newTestService(t)
	ft.requestErr = &tunnel.Error{Code: tunnel.CodeUnreachable, Err: errors.New("no route")}

	_, err := s.Initiate(idB, idA)
	var terr *TunnelError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, tunnel.CodeUnreachable, terr.Code)
	assert.Empty(t, s.Sessions())
}

func TestInitiateReusedSessionID(t *testing.T) {
	s, ft := newTestService(t)
	ft.nextID = protocol.RandomPeerID()

	first, err := s.Initiate(idB, idA)
	require.NoError(t, err)

	other := protocol.GxsID{0xC3}
	ft.infoErr = &tunnel.Error{Code: tunnel.CodeUnknownTunnel, Err: errors.New("gone")}
	_, err = s.Initiate(other, idA)

	var terr *TunnelError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, tunnel.CodeDuplicateTunnel, terr.Code)
	assert.ErrorIs(t, err, ErrSessionIDReused)

	// The first session is untouched
	ft.infoErr = nil
	info, err := s.Status(first)
	require.NoError(t, err)
	assert.Equal(t, idB, info.To)
	assert.Equal(t, idA, info.From)
	assert.Len(t, s.Sessions(), 1)
	assert.Empty(t, ft.closedTunnels())
}

func TestStatusTunnelGone(t *testing.T) {
	s, ft := newTestService(t)
	id, err := s.Initiate(idB, idA)
	require.NoError(t, err)

	ft.drop(id)

	_, err = s.Status(id)
	assert.ErrorIs(t, err, ErrTunnelUnknown)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotErrorIs(t, err, ErrNotDistantPeer)
}

func TestSendProducesFrame(t *testing.T) {
	s, ft := newTestService(t)
	id := establish(t, s, ft)

	require.NoError(t, s.Send(id, chat.NewChatText("hi", chat.FlagPrivate)))

	frames := ft.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, id, frames[0].id)
	assert.Equal(t, tunnel.ServiceDistantChat, frames[0].service)

	msg, ok := decodeChat(t, frames[0].data).(*chat.ChatText)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Message)
	assert.True(t, msg.HasFlag(chat.FlagPrivate))
}

func TestSendTransportError(t *testing.T) {
	s, ft := newTestService(t)
	id := establish(t, s, ft)
	ft.sendErr = &tunnel.Error{Code: tunnel.CodeSendFailed, Err: errors.New("reset")}

	err := s.Send(id, chat.NewStatus(0, chat.StatusTyping))
	var terr *TunnelError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, tunnel.CodeSendFailed, terr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropTransport)))
}

func TestReceiveData(t *testing.T) {
	s, ft := newTestService(t)
	id := establish(t, s, ft)
	drain(s)

	t.Run("chat text is published", func(t *testing.T) {
		s.ReceiveData(id, encode(t, chat.NewChatText("hello", chat.FlagPrivate)))

		events := drain(s)
		require.Len(t, events, 1)
		assert.Equal(t, EventItem, events[0].Kind)
		assert.Equal(t, id, events[0].SessionID)

		msg, ok := events[0].Item.(*chat.ChatText)
		require.True(t, ok)
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, id, msg.PeerID())
		assert.NotZero(t, msg.RecvTime)
	})

	t.Run("malformed frame is dropped", func(t *testing.T) {
		frame := encode(t, chat.NewChatText("cut", 0))
		s.ReceiveData(id, frame[:len(frame)-2])

		assert.Empty(t, drain(s))
		assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropDecode)))

		_, err := s.Status(id)
		assert.NoError(t, err)
	})

	t.Run("unknown session is dropped", func(t *testing.T) {
		s.ReceiveData(protocol.RandomPeerID(), encode(t, chat.NewChatText("stray", 0)))
		assert.Empty(t, drain(s))
		assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropUnknownSession)))
	})

	t.Run("keep-alive is not surfaced", func(t *testing.T) {
		s.ReceiveData(id, encode(t, chat.NewStatus(chat.FlagKeepAlive, "")))
		assert.Empty(t, drain(s))
	})

	t.Run("keep-alive on requested contact promotes it", func(t *testing.T) {
		pending, err := s.Initiate(idB, idA)
		require.NoError(t, err)
		drain(s)

		s.ReceiveData(pending, encode(t, chat.NewStatus(chat.FlagKeepAlive, "")))

		events := drain(s)
		require.Len(t, events, 1)
		assert.Equal(t, EventStatus, events[0].Kind)
		assert.Equal(t, StateEstablished, events[0].State)

		info, err := s.Status(pending)
		require.NoError(t, err)
		assert.Equal(t, StateEstablished, info.State)
		require.NoError(t, s.Close(pending))
		drain(s)
	})

	t.Run("keep-alive does not create a contact", func(t *testing.T) {
		stranger := protocol.RandomPeerID()
		s.ReceiveData(stranger, encode(t, chat.NewStatus(chat.FlagKeepAlive, "")))
		_, err := s.Status(stranger)
		assert.ErrorIs(t, err, ErrNotDistantPeer)
	})

	t.Run("typing status is published", func(t *testing.T) {
		s.ReceiveData(id, encode(t, chat.NewStatus(0, chat.StatusTyping)))
		events := drain(s)
		require.Len(t, events, 1)
		st, ok := events[0].Item.(*chat.StatusControl)
		require.True(t, ok)
		assert.Equal(t, chat.StatusTyping, st.Status)
	})

	t.Run("closing flag removes the contact", func(t *testing.T) {
		s.ReceiveData(id, encode(t, chat.NewStatus(chat.FlagClosingDistantConnection, "")))

		events := drain(s)
		require.Len(t, events, 1)
		assert.Equal(t, EventStatus, events[0].Kind)
		assert.Equal(t, StateClosed, events[0].State)
		assert.Contains(t, ft.closedTunnels(), id)

		assert.ErrorIs(t, s.Send(id, chat.NewChatText("gone", 0)), ErrNotDistantPeer)
	})
}

func TestReceivePromotesRequestedContact(t *testing.T) {
	s, _ := newTestService(t)
	id, err := s.Initiate(idB, idA)
	require.NoError(t, err)

	s.ReceiveData(id, encode(t, chat.NewChatText("early", 0)))

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventStatus, events[0].Kind)
	assert.Equal(t, StateEstablished, events[0].State)
	assert.Equal(t, EventItem, events[1].Kind)
}

func TestNotifyTunnelStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  tunnel.Status
		state   ContactState
		removed bool
	}{
		{"pending keeps requested", tunnel.StatusPending, StateRequested, false},
		{"established promotes", tunnel.StatusEstablished, StateEstablished, false},
		{"failed removes", tunnel.StatusFailed, StateClosed, true},
		{"closed removes", tunnel.StatusClosed, StateClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestService(t)
			id, err := s.Initiate(idB, idA)
			require.NoError(t, err)

			s.NotifyTunnelStatus(id, tt.status)

			events := drain(s)
			require.Len(t, events, 1)
			assert.Equal(t, EventStatus, events[0].Kind)
			assert.Equal(t, tt.state, events[0].State)
			assert.Equal(t, tt.status, events[0].Tunnel)

			_, err = s.Status(id)
			if tt.removed {
				assert.ErrorIs(t, err, ErrNotDistantPeer)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("pending on established is ignored", func(t *testing.T) {
		s, ft := newTestService(t)
		id := establish(t, s, ft)
		drain(s)

		s.NotifyTunnelStatus(id, tunnel.StatusPending)

		assert.Empty(t, drain(s))
		info, err := s.Status(id)
		require.NoError(t, err)
		assert.Equal(t, StateEstablished, info.State)
	})

	t.Run("unknown session is ignored", func(t *testing.T) {
		s, _ := newTestService(t)
		s.NotifyTunnelStatus(protocol.RandomPeerID(), tunnel.StatusEstablished)
		assert.Empty(t, drain(s))
		assert.Empty(t, s.Sessions())
	})
}

func signedLobbyMessage(t *testing.T, signer *crypto.Identity) *chat.LobbyMessage {
	t.Helper()
	msg := &chat.LobbyMessage{
		ChatText: chat.ChatText{ChatFlags: chat.FlagLobby, SendTime: 1700000000, Message: "lobby hello"},
		Bouncing: chat.Bouncing{LobbyID: 7, MsgID: 1, Nick: "carol"},
	}
	require.NoError(t, chat.Sign(msg, signer))
	return msg
}

func TestReceiveVerifiesSignedItems(t *testing.T) {
	carol, err := crypto.NewIdentity()
	require.NoError(t, err)
	mallory, err := crypto.NewIdentity()
	require.NoError(t, err)

	ring := crypto.NewKeyRing()
	ring.Add(carol.PublicKey)

	forged := signedLobbyMessage(t, carol)
	forged.Signature.Data = []byte("bogus")

	edited := signedLobbyMessage(t, carol)
	edited.Message = "edited after signing"

	tests := []struct {
		name      string
		keys      KeyResolver
		item      chat.Item
		delivered bool
	}{
		{"valid signature", ring.Lookup, signedLobbyMessage(t, carol), true},
		{"forged signature", ring.Lookup, forged, false},
		{"edited content", ring.Lookup, edited, false},
		{"unknown signer", ring.Lookup, signedLobbyMessage(t, mallory), false},
		{"no resolver", nil, signedLobbyMessage(t, carol), false},
		{"unsigned", ring.Lookup, &chat.LobbyMessage{Bouncing: chat.Bouncing{LobbyID: 7}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			config := DefaultConfig()
			config.Keys = tt.keys
			s := NewService(ft, config)
			id := establish(t, s, ft)
			drain(s)

			s.ReceiveData(id, encode(t, tt.item))

			var items []chat.Item
			for _, e := range drain(s) {
				if e.Kind == EventItem {
					items = append(items, e.Item)
				}
			}
			dropped := testutil.ToFloat64(s.metrics.framesDropped.WithLabelValues(dropVerify))

			if tt.delivered {
				require.Len(t, items, 1)
				_, ok := items[0].(*chat.LobbyMessage)
				assert.True(t, ok)
				assert.Zero(t, dropped)
			} else {
				assert.Empty(t, items)
				assert.Equal(t, 1.0, dropped)
			}
		})
	}
}

func TestConcurrentSendCloseReceive(t *testing.T) {
	incoming := encode(t, chat.NewChatText("incoming", 0))

	for i := 0; i < 50; i++ {
		s, ft := newTestService(t)
		id := establish(t, s, ft)

		var wg sync.WaitGroup
		start := make(chan struct{})
		run := func(fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				fn()
			}()
		}

		sendErrs := make(chan error, 20)
		for j := 0; j < 20; j++ {
			run(func() { sendErrs <- s.Send(id, chat.NewChatText("race", 0)) })
		}
		run(func() { _ = s.Close(id) })
		run(func() { s.ReceiveData(id, incoming) })
		run(func() { s.NotifyTunnelStatus(id, tunnel.StatusEstablished) })
		run(func() { _ = s.Sessions() })
		run(func() { drain(s) })

		close(start)
		wg.Wait()
		close(sendErrs)

		// A send that lost the race to close sees not-found, never a half
		// closed tunnel
		for err := range sendErrs {
			if err != nil {
				assert.ErrorIs(t, err, ErrNotDistantPeer)
			}
		}

		assert.ErrorIs(t, s.Send(id, chat.NewChatText("after", 0)), ErrNotDistantPeer)
		_, err := s.Status(id)
		assert.ErrorIs(t, err, ErrNotDistantPeer)
		assert.Empty(t, s.Sessions())
	}
}

func TestAddVirtualPeer(t *testing.T) {
	s, ft := newTestService(t)
	id := protocol.RandomPeerID()
	ft.tunnels[id] = tunnel.Info{Source: idB, Destination: idA, Status: tunnel.StatusEstablished}

	s.AddVirtualPeer(id, ft.tunnels[id])

	info, err := s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, idB, info.From)
	assert.Equal(t, idA, info.To)
	assert.Equal(t, StateEstablished, info.State)

	s.AddVirtualPeer(id, ft.tunnels[id])
	assert.Len(t, s.Sessions(), 1)
	assert.Len(t, drain(s), 1)
}

func TestEventsDropWhenFull(t *testing.T) {
	ft := newFakeTransport()
	config := DefaultConfig()
	config.EventBuffer = 1
	s := NewService(ft, config)

	for i := 0; i < 3; i++ {
		s.AddVirtualPeer(protocol.RandomPeerID(), tunnel.Info{Source: idA, Destination: idB})
	}

	assert.Len(t, drain(s), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.eventsDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.activeContacts))
}

func TestKeepAlive(t *testing.T) {
	s, ft := newTestService(t)
	live := establish(t, s, ft)
	pending, err := s.Initiate(idB, idA)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.KeepAlive(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(ft.sentFrames()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for _, f := range ft.sentFrames() {
		assert.Equal(t, live, f.id)
		assert.NotEqual(t, pending, f.id)
		st, ok := decodeChat(t, f.data).(*chat.StatusControl)
		require.True(t, ok)
		assert.True(t, st.HasFlag(chat.FlagKeepAlive))
	}
}

func TestArchive(t *testing.T) {
	ft := newFakeTransport()
	archive := &memoryArchive{}
	config := DefaultConfig()
	config.Archive = archive
	s := NewService(ft, config)
	id := establish(t, s, ft)

	require.NoError(t, s.Send(id, chat.NewChatText("out", 0)))
	s.ReceiveData(id, encode(t, chat.NewChatText("in", 0)))
	require.NoError(t, s.Send(id, chat.NewStatus(0, chat.StatusTyping)))

	require.Len(t, archive.records, 2)
	assert.Equal(t, "out", archive.records[0].Message)
	assert.Equal(t, chat.RecordOutgoing, archive.records[0].ConfigFlags)
	assert.Equal(t, id, archive.records[0].ConfigPeerID)
	assert.Equal(t, "in", archive.records[1].Message)
	assert.Equal(t, chat.RecordIncoming, archive.records[1].ConfigFlags)
}

func TestDistantChatOverMemoryNetwork(t *testing.T) {
	network := tunnel.NewNetwork()
	ta := network.Join(idA)
	tb := network.Join(idB)
	defer ta.Close()
	defer tb.Close()

	alice := NewService(ta, nil)
	bob := NewService(tb, nil)

	session, err := alice.Initiate(idB, idA)
	require.NoError(t, err)
	ta.Sync()
	tb.Sync()

	info, err := alice.Status(session)
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, info.State)

	remote, err := bob.Status(session)
	require.NoError(t, err)
	assert.Equal(t, idB, remote.From)
	assert.Equal(t, idA, remote.To)

	require.NoError(t, alice.Send(session, chat.NewChatText("hi", chat.FlagPrivate)))
	tb.Sync()

	var got *chat.ChatText
	for _, e := range drain(bob) {
		if msg, ok := e.Item.(*chat.ChatText); ok {
			got = msg
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Message)

	require.NoError(t, bob.Close(session))
	ta.Sync()

	_, err = alice.Status(session)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, alice.Send(session, chat.NewChatText("again", 0)), ErrNotDistantPeer)
}
