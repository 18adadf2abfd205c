package distantchat

import (
	"time"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
	"github.com/ZentaChain/zentalk-distantchat/pkg/tunnel"
)

// EventKind tells what an Event carries
type EventKind int

const (
	// EventItem carries an item received from the remote peer
	EventItem EventKind = iota + 1
	// EventStatus reports a session state transition
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventItem:
		return "item"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is delivered to the application on the Events channel
type Event struct {
	Kind      EventKind
	SessionID protocol.PeerID
	Time      time.Time

	// Set for EventItem
	Item chat.Item

	// Set for EventStatus
	State  ContactState
	Tunnel tunnel.Status
}

// Events returns the channel events are published on. A consumer that
// falls behind loses events; nothing blocks on it.
func (s *Service) Events() <-chan Event {
	return s.events
}

func (s *Service) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case s.events <- e:
	default:
		s.metrics.eventsDropped.Inc()
	}
}
