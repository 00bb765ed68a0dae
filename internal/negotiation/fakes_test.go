package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/thereayou/teleconsult/internal/signaling"
)

// bus ведет себя как relay сервер: очередь на получателя, порядок отправки
type bus struct {
	mu         sync.Mutex
	members    []uuid.UUID
	queues     map[uuid.UUID][]signaling.Envelope
	sent       []signaling.Envelope
	nextID     uint64
	fetchFails int
}

func newBus(members ...uuid.UUID) *bus {
	return &bus{members: members, queues: make(map[uuid.UUID][]signaling.Envelope)}
}

func (b *bus) relay(self uuid.UUID) *busRelay {
	return &busRelay{bus: b, self: self}
}

// inject кладет сигнал в очередь получателя, минуя проверки
func (b *bus) inject(to uuid.UUID, env signaling.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	env.ID = b.nextID
	b.queues[to] = append(b.queues[to], env)
}

func (b *bus) sentBy(sender uuid.UUID, t signaling.Type) []signaling.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range b.sent {
		if env.SenderID == sender && env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (b *bus) totalSent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type busRelay struct {
	bus  *bus
	self uuid.UUID
}

func (r *busRelay) Send(_ context.Context, env signaling.Envelope) error {
	b := r.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	env.ID = b.nextID
	env.SenderID = r.self
	env.CreatedAt = time.Now()
	b.sent = append(b.sent, env)

	for _, m := range b.members {
		if m == r.self {
			continue
		}
		if env.TargetID == nil || *env.TargetID == m {
			b.queues[m] = append(b.queues[m], env)
		}
	}
	return nil
}

func (r *busRelay) Fetch(context.Context) ([]signaling.Envelope, error) {
	b := r.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fetchFails > 0 {
		b.fetchFails--
		return nil, errors.New("relay unavailable")
	}
	out := b.queues[r.self]
	delete(b.queues, r.self)
	return out, nil
}

type fakePeer struct {
	mu         sync.Mutex
	remote     uuid.UUID
	events     PeerEvents
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	p.localDesc = &d
	return d, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	p.localDesc = &d
	return d, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) hasRemote() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc != nil
}

func (p *fakePeer) receivedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer(remote uuid.UUID, _ Media, events PeerEvents) (Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{remote: remote, events: events}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) peersFor(remote uuid.UUID) []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakePeer
	for _, p := range f.peers {
		if p.remote == remote {
			out = append(out, p)
		}
	}
	return out
}

type fakeMedia struct {
	mu      sync.Mutex
	enabled map[webrtc.RTPCodecType]bool
	closed  bool
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMedia) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[kind] = enabled
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMedia) isEnabled(kind webrtc.RTPCodecType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeSource struct {
	err   error
	media *fakeMedia
}

func (s *fakeSource) Acquire(context.Context) (Media, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.media = &fakeMedia{enabled: map[webrtc.RTPCodecType]bool{
		webrtc.RTPCodecTypeAudio: true,
		webrtc.RTPCodecTypeVideo: true,
	}}
	return s.media, nil
}

type statusLog struct {
	mu           sync.Mutex
	statuses     []Status
	disconnected []uuid.UUID
}

func (l *statusLog) callbacks() Callbacks {
	return Callbacks{
		OnStatus: func(s Status) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.statuses = append(l.statuses, s)
		},
		OnPeerDisconnected: func(id uuid.UUID) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.disconnected = append(l.disconnected, id)
		},
	}
}

func (l *statusLog) has(match func(Status) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.statuses {
		if match(s) {
			return true
		}
	}
	return false
}

func (l *statusLog) disconnects() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.disconnected...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
