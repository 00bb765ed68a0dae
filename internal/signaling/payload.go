package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Payload содержимое сигнала. Вариант определяется типом сигнала
type Payload interface {
	SignalType() Type
	validate() error
}

// Join объявление о входе в комнату
type Join struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

func (Join) SignalType() Type { return TypeJoin }

func (p Join) validate() error {
	if p.Role != RoleInitiator && p.Role != RoleResponder {
		return fmt.Errorf("join has role=%q", p.Role)
	}
	return nil
}

// SessionDescription SDP в формате RTCSessionDescriptionInit
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ToPion конвертирует описание в тип pion
func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

func (s SessionDescription) check(want string) error {
	if s.Type != want {
		return fmt.Errorf("%s has sdp type=%q", want, s.Type)
	}
	if s.SDP == "" {
		return fmt.Errorf("%s missing sdp", want)
	}
	return nil
}

type Offer struct {
	SessionDescription
}

func (Offer) SignalType() Type { return TypeOffer }

func (p Offer) validate() error { return p.check("offer") }

type Answer struct {
	SessionDescription
}

func (Answer) SignalType() Type { return TypeAnswer }

func (p Answer) validate() error { return p.check("answer") }

// NewOffer собирает payload из локального описания pion
func NewOffer(desc webrtc.SessionDescription) Offer {
	return Offer{SessionDescription{Type: "offer", SDP: desc.SDP}}
}

func NewAnswer(desc webrtc.SessionDescription) Answer {
	return Answer{SessionDescription{Type: "answer", SDP: desc.SDP}}
}

// Candidate ICE кандидат в формате RTCIceCandidateInit.
// Пустая строка кандидата означает конец кандидатов
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (Candidate) SignalType() Type { return TypeCandidate }

func (p Candidate) validate() error {
	if p.Candidate != "" && p.SDPMid == nil && p.SDPMLineIndex == nil {
		return fmt.Errorf("candidate missing sdpMid and sdpMLineIndex")
	}
	return nil
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (p Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}
}

// Leave уведомление о выходе из комнаты
type Leave struct {
	Reason string `json:"reason,omitempty"`
}

func (Leave) SignalType() Type { return TypeLeave }

func (Leave) validate() error { return nil }
