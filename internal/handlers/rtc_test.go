package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/handlers/dto"
	"github.com/thereayou/teleconsult/internal/middleware"
	"github.com/thereayou/teleconsult/internal/models"
	"github.com/thereayou/teleconsult/internal/services"
	"github.com/thereayou/teleconsult/internal/signaling"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRooms struct {
	room    *models.Room
	join    *services.JoinResult
	summary *services.Summary
	err     error
}

func (f *fakeRooms) CreateRoom(context.Context, uuid.UUID, uuid.UUID) (*models.Room, error) {
	return f.room, f.err
}

func (f *fakeRooms) JoinRoom(context.Context, string, uuid.UUID) (*services.JoinResult, error) {
	return f.join, f.err
}

func (f *fakeRooms) EndRoom(context.Context, string, uuid.UUID, uuid.UUID) (*services.Summary, error) {
	return f.summary, f.err
}

func (f *fakeRooms) Room(context.Context, string, uuid.UUID) (*models.Room, error) {
	return f.room, f.err
}

type fakeRelay struct {
	sent    []signaling.Envelope
	pending []signaling.Envelope
	err     error
}

func (f *fakeRelay) SendSignal(_ context.Context, _ string, sender uuid.UUID, env signaling.Envelope) (*signaling.Envelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	env.SenderID = sender
	env.ID = uint64(len(f.sent) + 1)
	f.sent = append(f.sent, env)
	return &env, nil
}

func (f *fakeRelay) FetchSignals(context.Context, string, uuid.UUID) ([]signaling.Envelope, error) {
	return f.pending, f.err
}

// asUser подменяет AuthMiddleware в тестах
func asUser(id uuid.UUID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, id)
		c.Set(middleware.RoleKey, role)
		c.Next()
	}
}

type fakePresence []uuid.UUID

func (f fakePresence) RoomSubscribers(uuid.UUID) []uuid.UUID { return f }

func newRTCRouter(user uuid.UUID, rooms RoomManager, relay SignalRelay) *gin.Engine {
	return newRTCRouterWithPresence(user, rooms, relay, nil)
}

func newRTCRouterWithPresence(user uuid.UUID, rooms RoomManager, relay SignalRelay, presence Presence) *gin.Engine {
	h := NewRTCHandler(rooms, relay, presence, time.Second, 1024, zap.NewNop())
	r := gin.New()
	g := r.Group("/rtc/rooms", asUser(user, models.RoleDoctor))
	g.POST("", h.CreateRoom)
	g.GET("/:token", h.GetRoom)
	g.POST("/:token/join", h.JoinRoom)
	g.POST("/:token/signals", h.SendSignal)
	g.GET("/:token/signals", h.FetchSignals)
	g.POST("/:token/end", h.EndRoom)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func testRoom() *models.Room {
	doctor, patient := uuid.New(), uuid.New()
	now := time.Now()
	return &models.Room{
		ID:             uuid.New(),
		Token:          "tok",
		ConsultationID: uuid.New(),
		Status:         models.RoomActive,
		CreatedAt:      now,
		Participants: []models.Participant{
			{UserID: doctor, Position: 0, Role: models.RoleDoctor, NegotiationRole: models.NegotiationInitiator, JoinedAt: &now},
			{UserID: patient, Position: 1, Role: models.RolePatient, NegotiationRole: models.NegotiationResponder},
		},
	}
}

func TestGetRoomReportsSubscribers(t *testing.T) {
	room := testRoom()
	doctor, patient := room.Participants[0].UserID, room.Participants[1].UserID
	r := newRTCRouterWithPresence(doctor, &fakeRooms{room: room}, &fakeRelay{}, fakePresence{patient})

	w := do(r, http.MethodGet, "/rtc/rooms/tok", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}

	var resp dto.RoomResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, p := range resp.Participants {
		if want := p.UserID == patient; p.Subscribed != want {
			t.Fatalf("participant %s subscribed=%v, want %v", p.UserID, p.Subscribed, want)
		}
	}
}

func TestCreateRoomHandler(t *testing.T) {
	room := testRoom()
	r := newRTCRouter(room.Participants[0].UserID, &fakeRooms{room: room}, &fakeRelay{})

	w := do(r, http.MethodPost, "/rtc/rooms", `{"consultation_id":"`+room.ConsultationID.String()+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}

	var resp dto.RoomResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token != "tok" || len(resp.Participants) != 2 {
		t.Fatalf("unexpected room: %+v", resp)
	}
	if resp.Participants[0].NegotiationRole != models.NegotiationInitiator {
		t.Fatalf("doctor role=%q, want initiator", resp.Participants[0].NegotiationRole)
	}

	if w := do(r, http.MethodPost, "/rtc/rooms", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing consultation: status=%d, want 400", w.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: not a participant", services.ErrForbidden), http.StatusForbidden},
		{services.ErrRoomNotFound, http.StatusNotFound},
		{services.ErrConsultationNotFound, http.StatusNotFound},
		{services.ErrRoomEnded, http.StatusConflict},
		{services.ErrConsultationNotBooked, http.StatusBadRequest},
		{services.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{&services.TransientError{Op: "GetRoomByToken", Err: fmt.Errorf("conn reset")}, http.StatusServiceUnavailable},
		{&services.ValidationError{Fields: map[string]string{"scheduled_at": "required"}}, http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := newRTCRouter(uuid.New(), &fakeRooms{err: tt.err}, &fakeRelay{})
			w := do(r, http.MethodPost, "/rtc/rooms/tok/join", "")
			if w.Code != tt.want {
				t.Fatalf("status=%d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
				t.Fatal("transient failure must carry Retry-After")
			}
		})
	}
}

func TestJoinRoomHandler(t *testing.T) {
	room := testRoom()
	patient := room.Participants[1]
	rooms := &fakeRooms{join: &services.JoinResult{
		Room:            room,
		NegotiationRole: patient.NegotiationRole,
		Role:            patient.Role,
		Counterpart:     services.Counterpart{ID: room.Participants[0].UserID, Name: "Dr. Who", Role: models.RoleDoctor},
	}}
	r := newRTCRouter(patient.UserID, rooms, &fakeRelay{})

	w := do(r, http.MethodPost, "/rtc/rooms/tok/join", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}

	var resp dto.JoinRoomResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Role != models.NegotiationResponder || resp.UserRole != models.RolePatient {
		t.Fatalf("roles=%q/%q", resp.Role, resp.UserRole)
	}
	if resp.Counterpart.Name != "Dr. Who" || resp.PollIntervalMS != 1000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSendSignalHandler(t *testing.T) {
	user := uuid.New()
	target := uuid.New()
	relay := &fakeRelay{}
	r := newRTCRouter(user, &fakeRooms{}, relay)

	body := `{"type":"offer","target_id":"` + target.String() + `","payload":{"type":"offer","sdp":"v=0"}}`
	w := do(r, http.MethodPost, "/rtc/rooms/tok/signals", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}

	got, err := signaling.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.SenderID != user || got.ID != 1 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if len(relay.sent) != 1 || relay.sent[0].Type != signaling.TypeOffer {
		t.Fatalf("relay got %+v", relay.sent)
	}
}

func TestSendSignalRejectsBadBodies(t *testing.T) {
	r := newRTCRouter(uuid.New(), &fakeRooms{}, &fakeRelay{})

	if w := do(r, http.MethodPost, "/rtc/rooms/tok/signals", `{"type":"offer","payload":{}}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid envelope: status=%d, want 400", w.Code)
	}

	huge := `{"type":"leave","payload":{"reason":"` + strings.Repeat("x", 8*1024) + `"}}`
	if w := do(r, http.MethodPost, "/rtc/rooms/tok/signals", huge); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: status=%d, want 413", w.Code)
	}
}

func TestFetchSignalsHandler(t *testing.T) {
	sender := uuid.New()
	env := signaling.Broadcast(sender, signaling.Join{Role: signaling.RoleInitiator, Name: "Dr. Who"})
	env.ID = 7

	t.Run("pending", func(t *testing.T) {
		r := newRTCRouter(uuid.New(), &fakeRooms{}, &fakeRelay{pending: []signaling.Envelope{env}})
		w := do(r, http.MethodGet, "/rtc/rooms/tok/signals", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", w.Code, w.Body)
		}

		var resp struct {
			Signals []json.RawMessage `json:"signals"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Signals) != 1 {
			t.Fatalf("got %d signals, want 1", len(resp.Signals))
		}
		got, err := signaling.Decode(resp.Signals[0])
		if err != nil {
			t.Fatalf("decode signal: %v", err)
		}
		if got.ID != 7 || got.Type != signaling.TypeJoin {
			t.Fatalf("unexpected signal: %+v", got)
		}
	})

	t.Run("empty is an array", func(t *testing.T) {
		r := newRTCRouter(uuid.New(), &fakeRooms{}, &fakeRelay{})
		w := do(r, http.MethodGet, "/rtc/rooms/tok/signals", "")
		if !bytes.Contains(w.Body.Bytes(), []byte(`"signals":[]`)) {
			t.Fatalf("body=%s, want empty signals array", w.Body)
		}
	})
}

func TestEndRoomHandler(t *testing.T) {
	summary := &services.Summary{RoomToken: "tok", Placeholder: true, Warnings: []string{"consultation status not updated"}}
	r := newRTCRouter(uuid.New(), &fakeRooms{summary: summary}, &fakeRelay{})

	w := do(r, http.MethodPost, "/rtc/rooms/tok/end", `{"consultation_id":"`+uuid.NewString()+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}

	var got services.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Placeholder || len(got.Warnings) != 1 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}
