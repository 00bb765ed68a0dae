package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/signaling"
	ws "github.com/thereayou/teleconsult/internal/websocket"
)

// RoomRelay сигнальный канал одной комнаты для движка согласования
type RoomRelay struct {
	client *Client
	token  string
}

func (c *Client) Room(token string) *RoomRelay {
	return &RoomRelay{client: c, token: token}
}

func (r *RoomRelay) Send(ctx context.Context, env signaling.Envelope) error {
	_, err := r.client.SendSignal(ctx, r.token, env)
	return err
}

func (r *RoomRelay) Fetch(ctx context.Context) ([]signaling.Envelope, error) {
	return r.client.FetchSignals(ctx, r.token)
}

// Subscribe подписывается на уведомления комнаты. Канал получает значение,
// когда для участника появились сигналы, и закрывается при обрыве соединения
// или отмене ctx. Опрос по таймеру при этом продолжает работать
func (c *Client) Subscribe(ctx context.Context, token string) (<-chan struct{}, error) {
	u, err := url.Parse(c.baseURL + roomPath(token, "ws"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket subscribe rejected"}
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransient, redact(u), err)
	}

	nudges := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	go func() {
		defer close(nudges)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Debug("nudge subscription closed", zap.Error(err))
				}
				return
			}

			var msg ws.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type != ws.TypeSignalsPending {
				continue
			}
			select {
			case nudges <- struct{}{}:
			default:
			}
		}
	}()

	return nudges, nil
}

func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return strings.TrimSuffix(c.String(), "?")
}
