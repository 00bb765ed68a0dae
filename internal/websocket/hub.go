package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/metrics"
)

// MessageType определяет типы сообщений
type MessageType string

const (
	// Появились сигналы, их нужно забрать через fetch
	TypeSignalsPending MessageType = "signals_pending"
	// Подписка на комнату принята
	TypeSubscribed MessageType = "subscribed"
)

// Message уведомление клиенту. Тела сигналов по сокету не передаются
type Message struct {
	Type      MessageType `json:"type"`
	RoomID    uuid.UUID   `json:"room_id"`
	Timestamp time.Time   `json:"timestamp"`
}

type nudge struct {
	roomID uuid.UUID
	except uuid.UUID
}

// Hub держит подписки клиентов на комнаты
type Hub struct {
	clients map[uuid.UUID]*Client

	// Клиенты в комнатах
	rooms map[uuid.UUID]map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client
	nudges     chan nudge

	metrics *metrics.Collector
	log     *zap.Logger
	mu      sync.RWMutex

	// Контекст для graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub создает новый Hub
func NewHub(m *metrics.Collector, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		rooms:      make(map[uuid.UUID]map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		nudges:     make(chan nudge, 64),
		metrics:    m,
		log:        log.Named("hub"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run запускает hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case n := <-h.nudges:
			h.deliver(n)
		}
	}
}

// Stop останавливает hub и закрывает соединения
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.Send)
		client.Conn.Close()
		delete(h.clients, id)
	}
	h.rooms = make(map[uuid.UUID]map[uuid.UUID]*Client)
	h.metrics.WSSubscribers.Set(0)
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Publish уведомляет подписчиков комнаты, кроме except, о новых сигналах
func (h *Hub) Publish(roomID, except uuid.UUID) {
	select {
	case h.nudges <- nudge{roomID: roomID, except: except}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	if _, ok := h.rooms[client.RoomID]; !ok {
		h.rooms[client.RoomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[client.RoomID][client.ID] = client
	h.metrics.WSSubscribers.Inc()

	h.log.Debug("client subscribed",
		zap.String("client", client.ID.String()),
		zap.String("user", client.UserID.String()),
		zap.String("room", client.RoomID.String()),
	)

	h.send(client, TypeSubscribed)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	if room, ok := h.rooms[client.RoomID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, client.RoomID)
		}
	}

	delete(h.clients, client.ID)
	close(client.Send)
	h.metrics.WSSubscribers.Dec()

	h.log.Debug("client unsubscribed", zap.String("client", client.ID.String()))
}

func (h *Hub) deliver(n nudge) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[n.roomID] {
		if client.UserID == n.except {
			continue
		}
		h.send(client, TypeSignalsPending)
	}
}

// send вызывается под h.mu
func (h *Hub) send(client *Client, t MessageType) {
	data, err := json.Marshal(Message{Type: t, RoomID: client.RoomID, Timestamp: time.Now()})
	if err != nil {
		return
	}

	select {
	case client.Send <- data:
	default:
		h.metrics.NudgesDropped.Inc()
		h.log.Warn("nudge dropped", zap.String("client", client.ID.String()), zap.Error(ErrClientQueueFull))
	}
}

// RoomSubscribers возвращает пользователей, подписанных на комнату
func (h *Hub) RoomSubscribers(roomID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	users := make([]uuid.UUID, 0)
	for _, client := range h.rooms[roomID] {
		if !seen[client.UserID] {
			seen[client.UserID] = true
			users = append(users, client.UserID)
		}
	}
	return users
}
