//go:build !linux || !cgo

package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Microphone capture via pion/mediadevices needs platform drivers
// (malgo); off Linux the client negotiates receive-only audio.
type nullHandle struct {
	stopped atomic.Bool
}

func acquireMicrophone() (audioHandle, error) {
	log.Warn().Str("module", "media").Msg("no capture driver on this platform, receive-only")
	return &nullHandle{}, nil
}

func (h *nullHandle) Live() bool { return !h.stopped.Load() }

func (h *nullHandle) stop() { h.stopped.Store(true) }

func (h *nullHandle) configure(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (h *nullHandle) addTo(*webrtc.PeerConnection) error { return nil }

func (h *nullHandle) sending() bool { return false }
