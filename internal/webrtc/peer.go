// Package webrtc реализует соединения и локальные медиа поверх pion.
package webrtc

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/negotiation"
)

var defaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ICEServers собирает конфигурацию ICE. Учетные данные применяются только к TURN
func ICEServers(urls []string, username, credential string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return []webrtc.ICEServer{{URLs: defaultSTUN}}
	}

	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		s := webrtc.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers
}

type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    *zap.Logger
}

func NewPeerFactory(iceServers []webrtc.ICEServer, log *zap.Logger) (*PeerFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return &PeerFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: webrtc.Configuration{ICEServers: iceServers},
		log:    log.Named("peer"),
	}, nil
}

// NewPeer создает PeerConnection с локальными дорожками.
// Для отсутствующих видов медиа добавляется recvonly transceiver
func (f *PeerFactory) NewPeer(remote uuid.UUID, media negotiation.Media, events negotiation.PeerEvents) (negotiation.Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	log := f.log.With(zap.String("remote", remote.String()))

	have := map[webrtc.RTPCodecType]bool{}
	if media != nil {
		for _, track := range media.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			have[track.Kind()] = true
			go drainRTCP(sender)
		}
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil: сбор кандидатов завершен
		if c == nil || events.OnCandidate == nil {
			return
		}
		events.OnCandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug("connection state", zap.String("state", s.String()))
		if events.OnState != nil {
			events.OnState(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("remote track", zap.String("kind", track.Kind().String()), zap.String("codec", track.Codec().MimeType))
		if events.OnTrack != nil {
			events.OnTrack(track)
		}
	})

	return &peer{pc: pc}, nil
}

// drainRTCP читает RTCP, иначе interceptors не обрабатывают отчеты
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type peer struct {
	pc *webrtc.PeerConnection
}

func (p *peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *peer) Close() error {
	return p.pc.Close()
}
