package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrForbidden             = errors.New("forbidden")
	ErrRoomNotFound          = errors.New("room not found")
	ErrConsultationNotFound  = errors.New("consultation not found")
	ErrConsultationNotBooked = errors.New("consultation is not booked")
	ErrConsultationTaken     = errors.New("consultation already booked")
	ErrConsultationClosed    = errors.New("consultation is closed")
	ErrRoomEnded             = errors.New("room has ended")
	ErrInvalidSignal         = errors.New("invalid signal")
	ErrPayloadTooLarge       = errors.New("signal payload too large")
	ErrTransient             = errors.New("temporary store failure")
)

// TransientError сбой хранилища, операцию можно повторить
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// ValidationError ошибки входных данных по полям
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}
