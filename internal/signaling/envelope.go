package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Type тип сигнала
type Type string

const (
	TypeJoin      Type = "join"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "ice-candidate"
	TypeLeave     Type = "leave"
)

// Роли согласования, которые объявляются в join
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
)

var ErrInvalidEnvelope = errors.New("invalid signal envelope")

// Directed сигналы этого типа обязаны иметь адресата
func (t Type) Directed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

func (t Type) Valid() bool {
	switch t {
	case TypeJoin, TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}

// Envelope сигнал на проводе. TargetID == nil означает рассылку всем,
// кроме отправителя. ID и CreatedAt заполняет ретранслятор
type Envelope struct {
	ID        uint64
	Type      Type
	SenderID  uuid.UUID
	TargetID  *uuid.UUID
	Payload   Payload
	CreatedAt time.Time
}

type wireEnvelope struct {
	ID        uint64          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	SenderID  *uuid.UUID      `json:"sender_id,omitempty"`
	TargetID  *uuid.UUID      `json:"target_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// Broadcast создает сигнал для всех участников
func Broadcast(sender uuid.UUID, p Payload) Envelope {
	return Envelope{Type: p.SignalType(), SenderID: sender, Payload: p}
}

// Direct создает сигнал для одного участника
func Direct(sender, target uuid.UUID, p Payload) Envelope {
	return Envelope{Type: p.SignalType(), SenderID: sender, TargetID: &target, Payload: p}
}

// Validate проверяет адресацию и соответствие payload типу
func (e Envelope) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidEnvelope, e.Type)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: %s missing payload", ErrInvalidEnvelope, e.Type)
	}
	if e.Payload.SignalType() != e.Type {
		return fmt.Errorf("%w: %s carries %s payload", ErrInvalidEnvelope, e.Type, e.Payload.SignalType())
	}
	if e.Type.Directed() && e.TargetID == nil {
		return fmt.Errorf("%w: %s requires target_id", ErrInvalidEnvelope, e.Type)
	}
	if e.TargetID != nil && *e.TargetID == uuid.Nil {
		return fmt.Errorf("%w: empty target_id", ErrInvalidEnvelope)
	}
	if e.TargetID != nil && e.SenderID != uuid.Nil && *e.TargetID == e.SenderID {
		return fmt.Errorf("%w: signal addressed to its sender", ErrInvalidEnvelope)
	}
	if err := e.Payload.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	w := wireEnvelope{
		ID:       e.ID,
		Type:     e.Type,
		TargetID: e.TargetID,
		Payload:  payload,
	}
	if e.SenderID != uuid.Nil {
		w.SenderID = &e.SenderID
	}
	if !e.CreatedAt.IsZero() {
		w.CreatedAt = &e.CreatedAt
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	env, err := Decode(data)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// Decode строго разбирает сигнал: неизвестные поля и хвостовые данные
// считаются ошибкой, payload проверяется до возврата
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := strictUnmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		ID:       w.ID,
		Type:     w.Type,
		TargetID: w.TargetID,
		Payload:  payload,
	}
	if w.SenderID != nil {
		env.SenderID = *w.SenderID
	}
	if w.CreatedAt != nil {
		env.CreatedAt = *w.CreatedAt
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload разбирает payload по типу сигнала
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: %s missing payload", ErrInvalidEnvelope, t)
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case TypeJoin:
		var v Join
		err = strictUnmarshal(raw, &v)
		p = v
	case TypeOffer:
		var v Offer
		err = strictUnmarshal(raw, &v)
		p = v
	case TypeAnswer:
		var v Answer
		err = strictUnmarshal(raw, &v)
		p = v
	case TypeCandidate:
		var v Candidate
		err = strictUnmarshal(raw, &v)
		p = v
	case TypeLeave:
		var v Leave
		err = strictUnmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidEnvelope, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidEnvelope, t, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return p, nil
}

// EncodePayload сериализует payload для хранения
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}
