// Package tunnel is the boundary between chat services and the transport that
// carries their bytes between two identities. A Service opens, closes and
// sends over tunnels; a Client registered for a service id receives the
// transport's callbacks.
package tunnel

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// ServiceDistantChat tags distant-chat traffic inside tunnels
const ServiceDistantChat uint32 = 0xa0001

// Status of a tunnel as reported by the transport
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusEstablished
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusEstablished:
		return "established"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Info describes a tunnel as seen from this end: Source is the local
// identity, Destination the remote one.
type Info struct {
	Source      protocol.GxsID
	Destination protocol.GxsID
	Status      Status
}

// Client receives transport callbacks. Calls arrive on a transport-owned
// goroutine and must not block for long.
type Client interface {
	// NotifyTunnelStatus reports a state change of a tunnel this side opened
	// or accepted.
	NotifyTunnelStatus(id protocol.PeerID, status Status)
	// ReceiveData delivers one message sent by the remote end.
	ReceiveData(id protocol.PeerID, data []byte)
	// AddVirtualPeer announces a tunnel opened by a remote peer.
	AddVirtualPeer(id protocol.PeerID, info Info)
}

// Service is the transport as consumed by chat services
type Service interface {
	RegisterClient(serviceID uint32, c Client)
	// RequestSecuredTunnel starts opening a tunnel from a local identity to a
	// remote one. It returns the tunnel id without waiting for the tunnel;
	// readiness is reported through NotifyTunnelStatus.
	RequestSecuredTunnel(to, from protocol.GxsID, serviceID uint32) (protocol.PeerID, error)
	CloseTunnel(id protocol.PeerID) error
	TunnelInfo(id protocol.PeerID) (Info, error)
	SendData(id protocol.PeerID, serviceID uint32, data []byte) error
}

// ErrorCode classifies transport failures
type ErrorCode int

const (
	CodeUnknownTunnel ErrorCode = iota + 1
	CodeUnreachable
	CodeNotLocalIdentity
	CodeNotReady
	CodeSendFailed
	CodeTransportClosed
	CodeDuplicateTunnel
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnknownTunnel:
		return "unknown tunnel"
	case CodeUnreachable:
		return "destination unreachable"
	case CodeNotLocalIdentity:
		return "source is not a local identity"
	case CodeNotReady:
		return "tunnel not established"
	case CodeSendFailed:
		return "send failed"
	case CodeTransportClosed:
		return "transport closed"
	case CodeDuplicateTunnel:
		return "tunnel id already in use"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// ErrNoSuchTunnel is matched by every *Error with CodeUnknownTunnel
var ErrNoSuchTunnel = errors.New("tunnel: no such tunnel")

// Error is a transport failure carrying its code
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tunnel: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("tunnel: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNoSuchTunnel) match unknown-tunnel errors
func (e *Error) Is(target error) bool {
	return target == ErrNoSuchTunnel && e.Code == CodeUnknownTunnel
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// NewTunnelID allocates a tunnel id
func NewTunnelID() protocol.PeerID {
	return protocol.PeerID(uuid.New())
}
