// Package media provides the capture and peer-connection capabilities
// consumed by the call engine. It holds no call semantics.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/call"
)

// audioHandle is the package-internal contract behind call.AudioHandle.
// Platform files provide the concrete capture implementation.
type audioHandle interface {
	call.AudioHandle
	// stop ends capture; the handle is not live afterwards.
	stop()
	// configure registers the codecs this capture produces.
	configure(me *webrtc.MediaEngine) error
	// addTo attaches the captured tracks to pc.
	addTo(pc *webrtc.PeerConnection) error
	// sending reports whether any local track is attached.
	sending() bool
}

// Devices implements call.Media on top of pion. Capture is cached and
// reused across calls while its tracks remain live; an ended track
// (device revoked, hardware change) forces re-acquisition.
type Devices struct {
	cfg webrtc.Configuration

	mu     sync.Mutex
	cached audioHandle
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

func NewDevices(iceServers []string) *Devices {
	cfg := DefaultConfig()
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Devices{cfg: cfg}
}

func (d *Devices) AcquireAudio(ctx context.Context) (call.AudioHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != nil && d.cached.Live() {
		return d.cached, nil
	}
	h, err := acquireMicrophone()
	if err != nil {
		return nil, err
	}
	d.cached = h
	return h, nil
}

func (d *Devices) ReleaseAudio(h call.AudioHandle) {
	ah, ok := h.(audioHandle)
	if !ok {
		return
	}
	ah.stop()
	d.mu.Lock()
	if d.cached == ah {
		d.cached = nil
	}
	d.mu.Unlock()
}

func (d *Devices) NewPeer(ctx context.Context, audio call.AudioHandle, cb call.PeerCallbacks) (call.Peer, error) {
	ah, _ := audio.(audioHandle)

	me := &webrtc.MediaEngine{}
	if ah != nil {
		if err := ah.configure(me); err != nil {
			return nil, err
		}
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	api, err := newAPI(me)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(d.cfg)
	if err != nil {
		return nil, err
	}

	p := &peerConn{pc: pc}
	p.wire(cb)

	if ah != nil && ah.sending() {
		if err := ah.addTo(pc); err != nil {
			p.Close()
			return nil, err
		}
	} else {
		// Receive-only m-line so the SDP still negotiates audio.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			p.Close()
			return nil, err
		}
	}

	return p, nil
}
