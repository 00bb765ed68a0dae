package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/metrics"
	"github.com/thereayou/teleconsult/internal/models"
	"github.com/thereayou/teleconsult/internal/signaling"
)

// RelayService пересылает сигналы согласования через хранилище
type RelayService struct {
	rooms      RoomStore
	signals    SignalStore
	notifier   Notifier
	metrics    *metrics.Collector
	log        *zap.Logger
	maxPayload int
	now        func() time.Time
}

func NewRelayService(rooms RoomStore, signals SignalStore, notifier Notifier, m *metrics.Collector, log *zap.Logger, maxPayload int) *RelayService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &RelayService{
		rooms:      rooms,
		signals:    signals,
		notifier:   notifier,
		metrics:    m,
		log:        log.Named("relay"),
		maxPayload: maxPayload,
		now:        time.Now,
	}
}

// SendSignal сохраняет сигнал отправителя. Адресат, если указан, должен
// быть другим участником комнаты
func (s *RelayService) SendSignal(ctx context.Context, token string, sender uuid.UUID, env signaling.Envelope) (out *signaling.Envelope, err error) {
	ctx, span := tracer.Start(ctx, "RelayService.SendSignal")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(
		attribute.String("room.token", token),
		attribute.String("signal.type", string(env.Type)),
	)

	room, p, err := loadParticipantRoom(ctx, s.rooms, token, sender)
	if err != nil {
		return nil, err
	}

	env.SenderID = sender
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	if room.Status == models.RoomEnded && env.Type != signaling.TypeLeave {
		return nil, ErrRoomEnded
	}

	if env.TargetID != nil {
		if _, ok := room.Participant(*env.TargetID); !ok {
			return nil, fmt.Errorf("%w: target is not a participant", ErrForbidden)
		}
	}

	if join, ok := env.Payload.(signaling.Join); ok && join.Role != p.NegotiationRole {
		return nil, fmt.Errorf("%w: join role %q does not match %q", ErrInvalidSignal, join.Role, p.NegotiationRole)
	}

	payload, err := signaling.EncodePayload(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if s.maxPayload > 0 && len(payload) > s.maxPayload {
		return nil, ErrPayloadTooLarge
	}

	row := &models.Signal{
		RoomID:    room.ID,
		SenderID:  sender,
		TargetID:  env.TargetID,
		Type:      string(env.Type),
		Payload:   string(payload),
		CreatedAt: s.now(),
	}
	if err := s.signals.SaveSignal(ctx, row); err != nil {
		return nil, transient("save signal", err)
	}

	s.metrics.SignalsSent.WithLabelValues(string(env.Type)).Inc()
	s.notifier.NotifyRoom(ctx, room.ID, sender)

	env.ID = row.ID
	env.CreatedAt = row.CreatedAt
	return &env, nil
}

// FetchSignals отдает ожидающие сигналы получателю от старых к новым.
// Каждый сигнал доставляется получателю не более одного раза
func (s *RelayService) FetchSignals(ctx context.Context, token string, receiver uuid.UUID) (out []signaling.Envelope, err error) {
	ctx, span := tracer.Start(ctx, "RelayService.FetchSignals")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("room.token", token))

	room, _, err := loadParticipantRoom(ctx, s.rooms, token, receiver)
	if err != nil {
		return nil, err
	}

	decoded := make(map[uint64]signaling.Payload)
	accept := func(row *models.Signal) bool {
		payload, err := signaling.DecodePayload(signaling.Type(row.Type), []byte(row.Payload))
		if err != nil {
			s.log.Error("stored signal is unreadable, left undelivered", zap.Uint64("signal", row.ID), zap.Error(err))
			s.metrics.SignalsUnreadable.Inc()
			return false
		}
		decoded[row.ID] = payload
		return true
	}

	rows, err := s.signals.ClaimPendingSignals(ctx, room.ID, receiver, len(room.Participants), s.now(), accept)
	if err != nil {
		return nil, transient("claim signals", err)
	}

	out = make([]signaling.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, signaling.Envelope{
			ID:        row.ID,
			Type:      signaling.Type(row.Type),
			SenderID:  row.SenderID,
			TargetID:  row.TargetID,
			Payload:   decoded[row.ID],
			CreatedAt: row.CreatedAt,
		})
	}

	s.metrics.SignalsFetched.Add(float64(len(out)))
	s.metrics.FetchBatchSize.Observe(float64(len(out)))
	span.SetAttributes(attribute.Int("signals.count", len(out)))

	return out, nil
}
