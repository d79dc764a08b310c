package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// AudioHandle is an opaque capture handle owned by the current
// session. Only the Media adapter knows what is behind it.
type AudioHandle interface {
	Live() bool
}

// PeerCallbacks are wired into a new peer handle before negotiation
// starts. They fire from the adapter's own goroutines.
type PeerCallbacks struct {
	// OnLocalCandidate fires for each locally gathered ICE candidate.
	OnLocalCandidate func(webrtc.ICECandidateInit)
	// OnRemoteTrack fires when remote media starts arriving.
	OnRemoteTrack func(kind string)
}

// Peer is the negotiated point-to-point media transport. The engine is
// its exclusive owner: nothing else may close or feed it.
type Peer interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	AcceptAnswer(webrtc.SessionDescription) error
	AcceptOfferCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error
	Close()
}

// Media is a pure capability provider: capture and peer handles,
// no call semantics. Implementations may cache capture across calls
// while its tracks remain live.
type Media interface {
	AcquireAudio(ctx context.Context) (AudioHandle, error)
	ReleaseAudio(AudioHandle)
	NewPeer(ctx context.Context, audio AudioHandle, cb PeerCallbacks) (Peer, error)
}

// Sender queues one outbound signaling frame. channel.Channel
// satisfies this.
type Sender interface {
	TrySend(data []byte) error
}

// Notifier surfaces user-visible call status lines (system notices).
type Notifier interface {
	Notice(text string)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(text string)

func (f NotifierFunc) Notice(text string) { f(text) }
