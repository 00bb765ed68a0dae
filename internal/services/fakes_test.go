package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/database"
	"github.com/thereayou/teleconsult/internal/metrics"
	"github.com/thereayou/teleconsult/internal/models"
)

var errStoreDown = errors.New("connection refused")

type receiptKey struct {
	signal   uint64
	receiver uuid.UUID
}

// memStore хранилище в памяти с той же семантикой, что и database.Database
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	consultations map[uuid.UUID]*models.Consultation
	rooms         map[string]*models.Room
	signals       []*models.Signal
	receipts      map[receiptKey]time.Time
	nextSignal    uint64

	failStatus bool
	failClaim  bool
	failSave   bool
	joins      int
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[uuid.UUID]*models.User),
		consultations: make(map[uuid.UUID]*models.Consultation),
		rooms:         make(map[string]*models.Room),
		receipts:      make(map[receiptKey]time.Time),
	}
}

func (m *memStore) addUser(name, role string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: uuid.New(), FullName: name, Email: name + "@example.com", Role: role}
	m.users[u.ID] = u
	return u
}

func (m *memStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CreateConsultation(_ context.Context, c *models.Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.consultations[c.ID] = &cp
	return nil
}

func (m *memStore) GetConsultation(_ context.Context, id uuid.UUID) (*models.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) BookConsultation(_ context.Context, id, patientID uuid.UUID) (*models.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if c.PatientID != nil || c.Status != models.ConsultationScheduled {
		return nil, database.ErrConflict
	}
	c.PatientID = &patientID
	cp := *c
	return &cp, nil
}

func (m *memStore) UpdateConsultationNotes(_ context.Context, id uuid.UUID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return database.ErrNotFound
	}
	c.Notes = notes
	return nil
}

func (m *memStore) SetConsultationStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus {
		return errStoreDown
	}
	c, ok := m.consultations[id]
	if !ok {
		return database.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memStore) CreateRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[room.ConsultationID]
	if !ok {
		return database.ErrNotFound
	}
	m.rooms[room.Token] = cloneRoom(room)
	token := room.Token
	c.RoomToken = &token
	c.Status = models.ConsultationInProgress
	return nil
}

func (m *memStore) GetRoomByToken(_ context.Context, token string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[token]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *memStore) MarkParticipantJoined(_ context.Context, roomID, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ID != roomID {
			continue
		}
		for i := range r.Participants {
			if r.Participants[i].UserID == userID {
				t := at
				r.Participants[i].JoinedAt = &t
				m.joins++
				return nil
			}
		}
	}
	return database.ErrNotFound
}

func (m *memStore) EndRoom(_ context.Context, roomID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ID == roomID && r.Status == models.RoomActive {
			t := at
			r.Status = models.RoomEnded
			r.EndedAt = &t
		}
	}
	return nil
}

func (m *memStore) SaveSignal(_ context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errStoreDown
	}
	m.nextSignal++
	s.ID = m.nextSignal
	cp := *s
	m.signals = append(m.signals, &cp)
	return nil
}

func (m *memStore) ClaimPendingSignals(_ context.Context, roomID, receiverID uuid.UUID, participants int, at time.Time, accept func(*models.Signal) bool) ([]models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClaim {
		return nil, errStoreDown
	}

	var out []models.Signal
	for _, s := range m.signals {
		if s.RoomID != roomID || s.Consumed || s.SenderID == receiverID {
			continue
		}
		if s.TargetID != nil && *s.TargetID != receiverID {
			continue
		}
		if _, seen := m.receipts[receiptKey{s.ID, receiverID}]; seen {
			continue
		}
		if accept != nil && !accept(s) {
			continue
		}
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	for _, s := range out {
		m.receipts[receiptKey{s.ID, receiverID}] = at
	}
	for _, s := range m.signals {
		if s.TargetID != nil {
			if _, ok := m.receipts[receiptKey{s.ID, *s.TargetID}]; ok {
				s.Consumed = true
			}
			continue
		}
		n := 0
		for k := range m.receipts {
			if k.signal == s.ID {
				n++
			}
		}
		if n >= participants-1 {
			s.Consumed = true
		}
	}
	return out, nil
}

func cloneRoom(r *models.Room) *models.Room {
	cp := *r
	cp.Participants = make([]models.Participant, len(r.Participants))
	copy(cp.Participants, r.Participants)
	for i := range cp.Participants {
		if at := cp.Participants[i].JoinedAt; at != nil {
			t := *at
			cp.Participants[i].JoinedAt = &t
		}
	}
	return &cp
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (n *recordingNotifier) NotifyRoom(_ context.Context, roomID, _ uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, roomID)
}

// fixture врач, пациент и забронированный прием
type fixture struct {
	store        *memStore
	rooms        *RoomService
	relay        *RelayService
	consults     *ConsultationService
	notifier     *recordingNotifier
	doctor       *models.User
	patient      *models.User
	consultation *models.Consultation
	clock        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	log := zap.NewNop()
	notifier := &recordingNotifier{}

	f := &fixture{
		store:    store,
		rooms:    NewRoomService(store, store, store, m, log),
		relay:    NewRelayService(store, store, notifier, m, log, 4096),
		consults: NewConsultationService(store, log),
		notifier: notifier,
		doctor:   store.addUser("Gregory House", models.RoleDoctor),
		patient:  store.addUser("Pat Smith", models.RolePatient),
		clock:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	tick := func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.rooms.now = tick
	f.relay.now = tick

	patientID := f.patient.ID
	f.consultation = &models.Consultation{
		ID:          uuid.New(),
		DoctorID:    f.doctor.ID,
		PatientID:   &patientID,
		ScheduledAt: f.clock,
		Status:      models.ConsultationScheduled,
	}
	_ = store.CreateConsultation(context.Background(), f.consultation)

	return f
}
