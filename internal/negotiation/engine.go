package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/signaling"
)

type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateClosed      State = "closed"
)

// maxPendingCandidates кандидаты от участника, для которого еще нет соединения
const maxPendingCandidates = 64

// Status изменение состояния. Peer == uuid.Nil означает сам участник
type Status struct {
	Peer  uuid.UUID
	State State
	Err   error
}

type Callbacks struct {
	OnRemoteTrack      func(peer uuid.UUID, track *webrtc.TrackRemote)
	OnPeerDisconnected func(peer uuid.UUID)
	OnStatus           func(Status)
}

type Config struct {
	SelfID uuid.UUID
	// signaling.RoleInitiator или signaling.RoleResponder
	Role string
	Name string

	PollInterval       time.Duration
	NegotiationTimeout time.Duration
	// Задержка перед повторным join после таймаута
	Backoff backoff.BackOff
	// Сигнал опросить relay вне очереди, может быть nil
	Nudges <-chan struct{}

	Callbacks Callbacks
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 30 * time.Second
	}
	if c.Backoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.Reset()
		c.Backoff = b
	}
}

type eventKind int

const (
	evSignal eventKind = iota
	evLocalCandidate
	evPeerState
	evTimeout
	evRejoin
	evFetchError
)

type event struct {
	kind      eventKind
	env       signaling.Envelope
	remote    uuid.UUID
	gen       uint64
	candidate webrtc.ICECandidateInit
	pcState   webrtc.PeerConnectionState
	err       error
}

// remote соединение с участником, принадлежит горутине loop
type remote struct {
	id        uuid.UUID
	gen       uint64
	peer      Peer
	state     State
	remoteSet bool
	queued    []webrtc.ICECandidateInit
	timer     *time.Timer
}

// Engine клиентская машина состояний согласования соединений.
// Все сигналы и события транспорта обрабатываются одной горутиной
type Engine struct {
	cfg    Config
	relay  Relay
	peers  PeerFactory
	source MediaSource
	log    *zap.Logger

	mu         sync.Mutex
	state      State
	local      Media
	audio      bool
	video      bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	peerStates map[uuid.UUID]State

	events  chan event
	remotes map[uuid.UUID]*remote
	pending map[uuid.UUID][]webrtc.ICECandidateInit
	gen     uint64
}

func New(cfg Config, relay Relay, peers PeerFactory, source MediaSource, log *zap.Logger) (*Engine, error) {
	if cfg.SelfID == uuid.Nil {
		return nil, errors.New("negotiation: self id is required")
	}
	if cfg.Role != signaling.RoleInitiator && cfg.Role != signaling.RoleResponder {
		return nil, fmt.Errorf("negotiation: unknown role %q", cfg.Role)
	}
	cfg.setDefaults()

	return &Engine{
		cfg:        cfg,
		relay:      relay,
		peers:      peers,
		source:     source,
		log:        log.Named("negotiation").With(zap.String("self", cfg.SelfID.String()), zap.String("role", cfg.Role)),
		state:      StateIdle,
		peerStates: make(map[uuid.UUID]State),
		events:     make(chan event, 256),
		remotes:    make(map[uuid.UUID]*remote),
		pending:    make(map[uuid.UUID][]webrtc.ICECandidateInit),
	}, nil
}

// Join захватывает медиа, объявляет о себе в комнате и начинает опрос
func (e *Engine) Join(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateClosed:
		e.mu.Unlock()
		return ErrClosed
	case StateIdle:
	default:
		e.mu.Unlock()
		return ErrAlreadyJoined
	}
	e.state = StateConnecting
	e.mu.Unlock()

	local, err := e.source.Acquire(ctx)
	if err != nil {
		e.setState(StateIdle)
		if errors.Is(err, ErrMediaAcquisitionFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMediaAcquisitionFailed, err)
	}

	if err := e.relay.Send(ctx, e.joinSignal()); err != nil {
		if cerr := local.Close(); cerr != nil {
			e.log.Warn("release media", zap.Error(cerr))
		}
		e.setState(StateIdle)
		return fmt.Errorf("announce join: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.local = local
	e.audio, e.video = true, true
	e.cancel = cancel
	e.mu.Unlock()

	e.log.Info("joined room")
	e.notify(Status{State: StateConnecting})

	e.wg.Add(2)
	go e.loop(runCtx, local)
	go e.poll(runCtx)
	return nil
}

// Leave объявляет уход, закрывает все соединения и освобождает медиа
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateConnecting || e.cancel == nil {
		e.mu.Unlock()
		return ErrNotJoined
	}
	e.state = StateClosed
	cancel, local := e.cancel, e.local
	e.local = nil
	e.mu.Unlock()

	sendErr := e.relay.Send(ctx, signaling.Broadcast(e.cfg.SelfID, signaling.Leave{Reason: "left"}))
	if sendErr != nil {
		e.log.Warn("announce leave failed", zap.Error(sendErr))
	}

	cancel()
	e.wg.Wait()

	if err := local.Close(); err != nil {
		e.log.Warn("release media", zap.Error(err))
	}

	e.log.Info("left room")
	e.notify(Status{State: StateClosed})

	if sendErr != nil {
		return fmt.Errorf("announce leave: %w", sendErr)
	}
	return nil
}

func (e *Engine) ToggleAudio() (bool, error) {
	return e.toggle(webrtc.RTPCodecTypeAudio)
}

func (e *Engine) ToggleVideo() (bool, error) {
	return e.toggle(webrtc.RTPCodecTypeVideo)
}

// toggle меняет только локальные дорожки, сигнал не отправляется
func (e *Engine) toggle(kind webrtc.RTPCodecType) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateConnecting || e.local == nil {
		return false, ErrNotJoined
	}

	enabled := &e.video
	if kind == webrtc.RTPCodecTypeAudio {
		enabled = &e.audio
	}
	*enabled = !*enabled
	e.local.SetEnabled(kind, *enabled)
	return *enabled, nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ActivePeers состояния соединений, которые еще не закрыты
func (e *Engine) ActivePeers() map[uuid.UUID]State {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[uuid.UUID]State, len(e.peerStates))
	for id, s := range e.peerStates {
		out[id] = s
	}
	return out
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) notify(st Status) {
	if st.Peer != uuid.Nil {
		e.mu.Lock()
		if st.State == StateClosed {
			delete(e.peerStates, st.Peer)
		} else {
			e.peerStates[st.Peer] = st.State
		}
		e.mu.Unlock()
	}

	if cb := e.cfg.Callbacks.OnStatus; cb != nil {
		cb(st)
	}
}

func (e *Engine) joinSignal() signaling.Envelope {
	return signaling.Broadcast(e.cfg.SelfID, signaling.Join{Role: e.cfg.Role, Name: e.cfg.Name})
}

func (e *Engine) emit(ctx context.Context, ev event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// poll забирает сигналы по таймеру или по подсказке из Nudges
func (e *Engine) poll(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	nudges := e.cfg.Nudges
	for {
		envs, err := e.relay.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.emit(ctx, event{kind: evFetchError, err: err})
		}
		for _, env := range envs {
			e.emit(ctx, event{kind: evSignal, env: env})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-nudges:
			if !ok {
				// подписка оборвалась, остается опрос по таймеру
				nudges = nil
			}
		}
	}
}

func (e *Engine) loop(ctx context.Context, local Media) {
	defer e.wg.Done()
	defer e.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ctx, local, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, local Media, ev event) {
	switch ev.kind {
	case evSignal:
		e.handleSignal(ctx, local, ev.env)

	case evFetchError:
		e.log.Debug("fetch signals failed", zap.Error(ev.err))
		e.notify(Status{State: StateConnecting, Err: ev.err})

	case evLocalCandidate:
		r := e.current(ev.remote, ev.gen)
		if r == nil {
			return
		}
		env := signaling.Direct(e.cfg.SelfID, r.id, signaling.CandidateFromPion(ev.candidate))
		go func() {
			if err := e.relay.Send(ctx, env); err != nil && ctx.Err() == nil {
				e.log.Debug("send candidate failed", zap.String("peer", r.id.String()), zap.Error(err))
			}
		}()

	case evPeerState:
		e.onPeerState(ev)

	case evTimeout:
		r := e.current(ev.remote, ev.gen)
		if r == nil || r.state == StateConnected {
			return
		}
		e.log.Warn("negotiation timed out", zap.String("peer", r.id.String()))
		e.drop(r)
		e.notify(Status{Peer: r.id, State: StateClosed, Err: ErrNegotiationTimeout})

		id, delay := r.id, e.cfg.Backoff.NextBackOff()
		time.AfterFunc(delay, func() { e.emit(ctx, event{kind: evRejoin, remote: id}) })

	case evRejoin:
		if _, ok := e.remotes[ev.remote]; ok {
			// участник уже начал согласование заново
			e.log.Debug("rejoin skipped", zap.String("peer", ev.remote.String()))
			return
		}
		if err := e.relay.Send(ctx, e.joinSignal()); err != nil && ctx.Err() == nil {
			e.log.Warn("rejoin failed", zap.Error(err))
			e.notify(Status{State: StateConnecting, Err: err})
		}
	}
}

func (e *Engine) handleSignal(ctx context.Context, local Media, env signaling.Envelope) {
	from := env.SenderID
	if from == e.cfg.SelfID {
		return
	}
	if env.TargetID != nil && *env.TargetID != e.cfg.SelfID {
		return
	}

	switch p := env.Payload.(type) {
	case signaling.Join:
		e.onJoin(ctx, local, from, p, env.TargetID != nil)
	case signaling.Offer:
		e.onOffer(ctx, local, from, p)
	case signaling.Answer:
		e.onAnswer(from, p)
	case signaling.Candidate:
		e.onCandidate(from, p)
	case signaling.Leave:
		e.onLeave(from, p.Reason)
	}
}

// onJoin: инициатор отвечает на join новым offer. Ответчик на join
// инициатора сбрасывает соединение и отвечает адресным join
func (e *Engine) onJoin(ctx context.Context, local Media, from uuid.UUID, p signaling.Join, directed bool) {
	if e.cfg.Role != signaling.RoleInitiator {
		if directed || p.Role != signaling.RoleInitiator {
			return
		}
		if r, ok := e.remotes[from]; ok {
			e.drop(r)
			e.notify(Status{Peer: from, State: StateClosed})
		}
		reply := signaling.Direct(e.cfg.SelfID, from, signaling.Join{Role: e.cfg.Role, Name: e.cfg.Name})
		if err := e.relay.Send(ctx, reply); err != nil && ctx.Err() == nil {
			e.log.Warn("reply join failed", zap.String("peer", from.String()), zap.Error(err))
			e.notify(Status{State: StateConnecting, Err: err})
		}
		return
	}

	if _, ok := e.remotes[from]; ok && directed {
		// ответ на наш join, offer после него уже отправлен
		return
	}

	r, err := e.replace(ctx, local, from)
	if err != nil {
		e.notify(Status{Peer: from, State: StateClosed, Err: err})
		return
	}

	offer, err := r.peer.CreateOffer()
	if err != nil {
		e.fail(r, fmt.Errorf("create offer: %w", err))
		return
	}

	if err := e.relay.Send(ctx, signaling.Direct(e.cfg.SelfID, from, signaling.NewOffer(offer))); err != nil {
		e.fail(r, fmt.Errorf("send offer: %w", err))
		return
	}

	e.negotiating(ctx, r)
}

func (e *Engine) onOffer(ctx context.Context, local Media, from uuid.UUID, p signaling.Offer) {
	desc, err := p.ToPion()
	if err != nil {
		e.log.Warn("bad offer", zap.String("peer", from.String()), zap.Error(err))
		return
	}

	r, ok := e.remotes[from]
	if !ok || r.remoteSet {
		if r, err = e.replace(ctx, local, from); err != nil {
			e.notify(Status{Peer: from, State: StateClosed, Err: err})
			return
		}
	}

	if err := e.applyRemote(r, desc); err != nil {
		e.fail(r, err)
		return
	}

	answer, err := r.peer.CreateAnswer()
	if err != nil {
		e.fail(r, fmt.Errorf("create answer: %w", err))
		return
	}

	if err := e.relay.Send(ctx, signaling.Direct(e.cfg.SelfID, from, signaling.NewAnswer(answer))); err != nil {
		e.fail(r, fmt.Errorf("send answer: %w", err))
		return
	}

	e.negotiating(ctx, r)
}

func (e *Engine) onAnswer(from uuid.UUID, p signaling.Answer) {
	r, ok := e.remotes[from]
	if !ok {
		e.log.Debug("answer without connection", zap.String("peer", from.String()))
		return
	}
	if r.remoteSet {
		e.log.Debug("duplicate answer", zap.String("peer", from.String()))
		return
	}

	desc, err := p.ToPion()
	if err != nil {
		e.log.Warn("bad answer", zap.String("peer", from.String()), zap.Error(err))
		return
	}

	if err := e.applyRemote(r, desc); err != nil {
		e.fail(r, err)
	}
}

func (e *Engine) onCandidate(from uuid.UUID, p signaling.Candidate) {
	c := p.ToPion()
	if c.Candidate == "" {
		return
	}

	r, ok := e.remotes[from]
	if !ok {
		if q := e.pending[from]; len(q) < maxPendingCandidates {
			e.pending[from] = append(q, c)
		}
		return
	}

	if !r.remoteSet {
		r.queued = append(r.queued, c)
		return
	}

	if err := r.peer.AddICECandidate(c); err != nil {
		e.log.Debug("add candidate failed", zap.String("peer", from.String()), zap.Error(err))
	}
}

func (e *Engine) onLeave(from uuid.UUID, reason string) {
	e.log.Info("peer left", zap.String("peer", from.String()), zap.String("reason", reason))

	delete(e.pending, from)

	r, ok := e.remotes[from]
	if !ok {
		return
	}
	e.drop(r)

	e.notify(Status{Peer: from, State: StateClosed})
	if cb := e.cfg.Callbacks.OnPeerDisconnected; cb != nil {
		cb(from)
	}
}

func (e *Engine) onPeerState(ev event) {
	r := e.current(ev.remote, ev.gen)
	if r == nil {
		return
	}

	switch ev.pcState {
	case webrtc.PeerConnectionStateConnected:
		if r.state == StateConnected {
			return
		}
		if r.timer != nil {
			r.timer.Stop()
		}
		r.state = StateConnected
		e.cfg.Backoff.Reset()
		e.notify(Status{Peer: r.id, State: StateConnected})

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		e.onLeave(r.id, "transport "+ev.pcState.String())
	}
}

// replace создает новое соединение с участником, закрывая предыдущее
func (e *Engine) replace(ctx context.Context, local Media, id uuid.UUID) (*remote, error) {
	if old, ok := e.remotes[id]; ok {
		e.drop(old)
	}

	e.gen++
	gen := e.gen

	peer, err := e.peers.NewPeer(id, local, PeerEvents{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			e.emit(ctx, event{kind: evLocalCandidate, remote: id, gen: gen, candidate: c})
		},
		OnState: func(s webrtc.PeerConnectionState) {
			e.emit(ctx, event{kind: evPeerState, remote: id, gen: gen, pcState: s})
		},
		OnTrack: func(t *webrtc.TrackRemote) {
			if cb := e.cfg.Callbacks.OnRemoteTrack; cb != nil {
				cb(id, t)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer: %w", err)
	}

	r := &remote{id: id, gen: gen, peer: peer, state: StateConnecting, queued: e.pending[id]}
	delete(e.pending, id)
	e.remotes[id] = r

	e.notify(Status{Peer: id, State: StateConnecting})
	return r, nil
}

func (e *Engine) applyRemote(r *remote, desc webrtc.SessionDescription) error {
	if err := r.peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	r.remoteSet = true

	for _, c := range r.queued {
		if err := r.peer.AddICECandidate(c); err != nil {
			e.log.Debug("add queued candidate failed", zap.String("peer", r.id.String()), zap.Error(err))
		}
	}
	r.queued = nil
	return nil
}

func (e *Engine) negotiating(ctx context.Context, r *remote) {
	if r.state == StateConnected {
		return
	}
	r.state = StateNegotiating

	if r.timer != nil {
		r.timer.Stop()
	}
	id, gen := r.id, r.gen
	r.timer = time.AfterFunc(e.cfg.NegotiationTimeout, func() {
		e.emit(ctx, event{kind: evTimeout, remote: id, gen: gen})
	})

	e.notify(Status{Peer: r.id, State: StateNegotiating})
}

func (e *Engine) current(id uuid.UUID, gen uint64) *remote {
	r, ok := e.remotes[id]
	if !ok || r.gen != gen {
		return nil
	}
	return r
}

func (e *Engine) fail(r *remote, err error) {
	e.log.Warn("negotiation failed", zap.String("peer", r.id.String()), zap.Error(err))
	e.drop(r)
	e.notify(Status{Peer: r.id, State: StateClosed, Err: err})
}

func (e *Engine) drop(r *remote) {
	if r.timer != nil {
		r.timer.Stop()
	}
	if err := r.peer.Close(); err != nil {
		e.log.Debug("close peer", zap.String("peer", r.id.String()), zap.Error(err))
	}
	r.state = StateClosed
	delete(e.remotes, r.id)
}

func (e *Engine) closeAll() {
	for _, r := range e.remotes {
		e.drop(r)
		e.notify(Status{Peer: r.id, State: StateClosed})
	}
	for id := range e.pending {
		delete(e.pending, id)
	}
}
