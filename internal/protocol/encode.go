package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/domain"
)

// Outbound envelope shapes. Target routing is resolved server-side;
// the sender never sees its own id echoed back in these frames.

type chatOut struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

type getUsersOut struct {
	Type Type `json:"type"`
}

type pingOut struct {
	Type Type  `json:"type"`
	TS   int64 `json:"ts"`
}

type targetOut struct {
	Type   Type          `json:"type"`
	Target domain.UserID `json:"target"`
}

type descriptionOut struct {
	Type   Type                      `json:"type"`
	Target domain.UserID             `json:"target"`
	Data   webrtc.SessionDescription `json:"data"`
}

type candidateOut struct {
	Type   Type                    `json:"type"`
	Target domain.UserID           `json:"target"`
	Data   webrtc.ICECandidateInit `json:"data"`
}

func EncodeChat(text string) ([]byte, error) {
	return json.Marshal(chatOut{Type: TypeChat, Text: text})
}

func EncodeGetUsers() ([]byte, error) {
	return json.Marshal(getUsersOut{Type: TypeGetUsers})
}

func EncodePing(ts int64) ([]byte, error) {
	return json.Marshal(pingOut{Type: TypePing, TS: ts})
}

func EncodeCallOffer(target domain.UserID, sdp webrtc.SessionDescription) ([]byte, error) {
	return json.Marshal(descriptionOut{Type: TypeCallOffer, Target: target, Data: sdp})
}

func EncodeCallAnswer(target domain.UserID, sdp webrtc.SessionDescription) ([]byte, error) {
	return json.Marshal(descriptionOut{Type: TypeCallAnswer, Target: target, Data: sdp})
}

func EncodeICECandidate(target domain.UserID, cand webrtc.ICECandidateInit) ([]byte, error) {
	return json.Marshal(candidateOut{Type: TypeICECandidate, Target: target, Data: cand})
}

func EncodeCallDecline(target domain.UserID) ([]byte, error) {
	return json.Marshal(targetOut{Type: TypeCallDecline, Target: target})
}

func EncodeCallEnd(target domain.UserID) ([]byte, error) {
	return json.Marshal(targetOut{Type: TypeCallEnd, Target: target})
}
