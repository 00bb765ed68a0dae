package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// NudgeEvent событие в Redis: в комнате появились сигналы
type NudgeEvent struct {
	RoomID uuid.UUID `msgpack:"room_id"`
	Except uuid.UUID `msgpack:"except"`
	SentAt time.Time `msgpack:"sent_at"`
}

func EncodeNudge(ev NudgeEvent) ([]byte, error) {
	return msgpack.Marshal(&ev)
}

func DecodeNudge(data []byte) (NudgeEvent, error) {
	var ev NudgeEvent
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return NudgeEvent{}, fmt.Errorf("decode nudge: %w", err)
	}
	return ev, nil
}

// Notifier рассылает уведомления через Redis, чтобы их получили
// подписчики на любом инстансе. Без Redis доставляет локально
type Notifier struct {
	hub     *Hub
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewNotifier(hub *Hub, rdb *redis.Client, channel string, log *zap.Logger) *Notifier {
	return &Notifier{hub: hub, rdb: rdb, channel: channel, log: log.Named("notifier")}
}

// NotifyRoom best effort: ошибки только логируются, клиенты
// все равно опрашивают сигналы по таймеру
func (n *Notifier) NotifyRoom(ctx context.Context, roomID, except uuid.UUID) {
	if n.rdb == nil {
		n.hub.Publish(roomID, except)
		return
	}

	data, err := EncodeNudge(NudgeEvent{RoomID: roomID, Except: except, SentAt: time.Now()})
	if err != nil {
		n.log.Error("encode nudge", zap.Error(err))
		return
	}

	if err := n.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		n.log.Warn("publish nudge failed, delivering locally", zap.Error(err))
		n.hub.Publish(roomID, except)
	}
}

// Listen читает события из Redis и раздает их локальным подписчикам
// до отмены ctx
func (n *Notifier) Listen(ctx context.Context) error {
	if n.rdb == nil {
		<-ctx.Done()
		return nil
	}

	sub := n.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := DecodeNudge([]byte(msg.Payload))
			if err != nil {
				n.log.Warn("skipping malformed nudge", zap.Error(err))
				continue
			}
			n.hub.Publish(ev.RoomID, ev.Except)
		}
	}
}
