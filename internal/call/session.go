package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/domain"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOutgoingPending
	PhaseIncomingOffered
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOutgoingPending:
		return "outgoing_pending"
	case PhaseIncomingOffered:
		return "incoming_offered"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// session is the single mutable call entity. At most one exists at a
// time; audio and peer, if non-nil, are exclusively owned by it and
// released exactly once when it dies.
type session struct {
	peerID    domain.UserID
	peerName  string
	direction Direction
	audio     AudioHandle
	peer      Peer
}

// PendingOffer is the transient inbound offer held between receipt of
// a call-offer and the local accept/decline decision. At most one is
// outstanding; a later offer overwrites it (last-offer-wins).
type PendingOffer struct {
	FromID   domain.UserID
	FromName string
	Offer    webrtc.SessionDescription
}
