//go:build linux && cgo

package media

import (
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// micHandle captures the default microphone via pion/mediadevices
// (malgo backend) encoded as Opus.
type micHandle struct {
	selector *mediadevices.CodecSelector
	tracks   []mediadevices.Track

	ended   atomic.Bool
	stopped atomic.Bool
}

func acquireMicrophone() (audioHandle, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, err
	}

	h := &micHandle{selector: selector, tracks: stream.GetAudioTracks()}
	for _, t := range h.tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("capture track ended")
			}
			h.ended.Store(true)
		})
	}
	log.Info().Str("module", "media").Int("tracks", len(h.tracks)).Msg("microphone captured")
	return h, nil
}

func (h *micHandle) Live() bool {
	return len(h.tracks) > 0 && !h.ended.Load() && !h.stopped.Load()
}

func (h *micHandle) stop() {
	if h.stopped.Swap(true) {
		return
	}
	for _, t := range h.tracks {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("module", "media").Msg("close capture track")
		}
	}
}

func (h *micHandle) configure(me *webrtc.MediaEngine) error {
	h.selector.Populate(me)
	return nil
}

func (h *micHandle) addTo(pc *webrtc.PeerConnection) error {
	for _, t := range h.tracks {
		if _, err := pc.AddTrack(t); err != nil {
			return err
		}
	}
	return nil
}

func (h *micHandle) sending() bool { return len(h.tracks) > 0 }
