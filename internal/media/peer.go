package media

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/call"
)

func newAPI(me *webrtc.MediaEngine) (*webrtc.API, error) {
	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, reg); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(reg),
	), nil
}

// peerConn wraps one *webrtc.PeerConnection as a call.Peer.
// Trickle ICE: descriptions are returned as soon as they are set
// locally, candidates flow through the OnLocalCandidate callback.
type peerConn struct {
	pc *webrtc.PeerConnection
}

func (p *peerConn) wire(cb call.PeerCallbacks) {
	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && cb.OnLocalCandidate != nil {
			cb.OnLocalCandidate(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "media").Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).Msg("remote track")
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(track.Kind().String())
		}
	})

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "media").Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "media").Str("peer_state", s.String()).Msg("peer state")
	})
}

func (p *peerConn) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *peerConn) AcceptAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *peerConn) AcceptOfferCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *peerConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(cand)
}

func (p *peerConn) Close() {
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Msg("close peer connection")
	}
}
