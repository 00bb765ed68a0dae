package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/metrics"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(metrics.NewCollector("test", prometheus.NewRegistry()), zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

// subscribe поднимает сервер, который регистрирует соединение в hub,
// и возвращает клиентскую сторону
func subscribe(t *testing.T, hub *Hub, userID, roomID uuid.UUID) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, userID, roomID)
		if err := hub.Register(client); err != nil {
			conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if msg := readMessage(t, conn); msg.Type != TypeSubscribed {
		t.Fatalf("first message=%q, want subscribed", msg.Type)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message: %s", data)
	}
}

func TestPublishNudgesRoomExceptSender(t *testing.T) {
	hub := newTestHub(t)
	roomID := uuid.New()
	doctor, patient := uuid.New(), uuid.New()

	doctorConn := subscribe(t, hub, doctor, roomID)
	patientConn := subscribe(t, hub, patient, roomID)

	hub.Publish(roomID, doctor)

	msg := readMessage(t, patientConn)
	if msg.Type != TypeSignalsPending || msg.RoomID != roomID {
		t.Fatalf("patient got %+v, want signals_pending for room", msg)
	}
	expectSilence(t, doctorConn)
}

func TestPublishIgnoresOtherRooms(t *testing.T) {
	hub := newTestHub(t)
	conn := subscribe(t, hub, uuid.New(), uuid.New())

	hub.Publish(uuid.New(), uuid.Nil)
	expectSilence(t, conn)
}

func TestRoomSubscribers(t *testing.T) {
	hub := newTestHub(t)
	roomID := uuid.New()
	user := uuid.New()

	subscribe(t, hub, user, roomID)
	subscribe(t, hub, user, roomID)

	got := hub.RoomSubscribers(roomID)
	if len(got) != 1 || got[0] != user {
		t.Fatalf("subscribers=%v, want [%s]", got, user)
	}
}

func TestNotifierWithoutRedisDeliversLocally(t *testing.T) {
	hub := newTestHub(t)
	roomID := uuid.New()
	conn := subscribe(t, hub, uuid.New(), roomID)

	n := NewNotifier(hub, nil, "nudges", zap.NewNop())
	n.NotifyRoom(context.Background(), roomID, uuid.Nil)

	if msg := readMessage(t, conn); msg.Type != TypeSignalsPending {
		t.Fatalf("got %q, want signals_pending", msg.Type)
	}
}

func TestNudgeCodec(t *testing.T) {
	ev := NudgeEvent{RoomID: uuid.New(), Except: uuid.New(), SentAt: time.Now().UTC().Truncate(time.Millisecond)}

	data, err := EncodeNudge(ev)
	if err != nil {
		t.Fatalf("EncodeNudge: %v", err)
	}
	got, err := DecodeNudge(data)
	if err != nil {
		t.Fatalf("DecodeNudge: %v", err)
	}
	if got.RoomID != ev.RoomID || got.Except != ev.Except || !got.SentAt.Equal(ev.SentAt) {
		t.Fatalf("got %+v, want %+v", got, ev)
	}

	if _, err := DecodeNudge([]byte{0xc1}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestRegisterAfterStop(t *testing.T) {
	hub := NewHub(metrics.NewCollector("test", prometheus.NewRegistry()), zap.NewNop())
	hub.Stop()

	if err := hub.Register(&Client{ID: uuid.New()}); err != ErrHubStopped {
		t.Fatalf("err=%v, want ErrHubStopped", err)
	}
}
