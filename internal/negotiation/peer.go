package negotiation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/thereayou/teleconsult/internal/signaling"
)

var (
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrAlreadyJoined          = errors.New("already joined")
	ErrNotJoined              = errors.New("not joined")
	ErrClosed                 = errors.New("engine closed")
	ErrNegotiationTimeout     = errors.New("negotiation timed out")
)

// Relay канал сигналов одной комнаты
type Relay interface {
	Send(ctx context.Context, env signaling.Envelope) error
	Fetch(ctx context.Context) ([]signaling.Envelope, error)
}

// Peer соединение с одним удаленным участником.
// CreateOffer и CreateAnswer сразу применяют описание как локальное
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// PeerEvents колбэки транспорта, могут вызываться из любых горутин
type PeerEvents struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnState     func(webrtc.PeerConnectionState)
	OnTrack     func(*webrtc.TrackRemote)
}

type PeerFactory interface {
	NewPeer(remote uuid.UUID, media Media, events PeerEvents) (Peer, error)
}

// Media захваченные локальные дорожки
type Media interface {
	Tracks() []webrtc.TrackLocal
	SetEnabled(kind webrtc.RTPCodecType, enabled bool)
	Close() error
}

type MediaSource interface {
	Acquire(ctx context.Context) (Media, error)
}
