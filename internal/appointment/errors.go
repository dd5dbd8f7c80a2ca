package appointment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")

	ErrInvalidWindow       = errors.New("session end time must be after start time")
	ErrInvalidCapacity     = errors.New("session capacity must be at least 1")
	ErrInvalidBookingType  = errors.New("invalid booking type")
	ErrPatientNameRequired = errors.New("patient name is required")

	ErrOverlappingSession  = errors.New("practitioner or nurse already has a session in that window")
	ErrCapacityExceeded    = errors.New("no slots available")
	ErrCapacityBelowBooked = errors.New("capacity cannot be reduced below booked count")

	ErrSessionNotAccepting = errors.New("session is not accepting appointments")
	ErrSessionInPast       = errors.New("session has already ended")
	ErrSessionClosed       = errors.New("session is ended or cancelled")
	ErrInvalidTransition   = errors.New("appointment cannot be changed to that status from its current state")

	ErrSessionHasBookings    = errors.New("session has appointments and cannot be deleted")
	ErrNoWaitingAppointments = errors.New("no waiting appointments")

	// ErrStaleState is returned by stores when a compare-and-set lost a race.
	ErrStaleState = errors.New("record changed concurrently")
)

// Resource names what a session overlaps on.
type Resource string

const (
	ResourcePractitioner Resource = "practitioner"
	ResourceNurse        Resource = "nurse"
)

type OverlappingSessionError struct {
	Resource    Resource
	ResourceID  uuid.UUID
	Conflicting []uuid.UUID
}

func (e *OverlappingSessionError) Error() string {
	ids := make([]string, len(e.Conflicting))
	for i, id := range e.Conflicting {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%s %s already has a session in that window (conflicts with %s)",
		e.Resource, e.ResourceID, strings.Join(ids, ", "))
}

func (e *OverlappingSessionError) Unwrap() error { return ErrOverlappingSession }

type CapacityExceededError struct {
	SessionID uuid.UUID
	Capacity  int
	Booked    int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("no slots available in session %s (%d of %d booked)", e.SessionID, e.Booked, e.Capacity)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

type CapacityBelowBookedError struct {
	SessionID uuid.UUID
	Requested int
	Booked    int
}

func (e *CapacityBelowBookedError) Error() string {
	return fmt.Sprintf("capacity %d is below the %d appointments already booked in session %s",
		e.Requested, e.Booked, e.SessionID)
}

func (e *CapacityBelowBookedError) Unwrap() error { return ErrCapacityBelowBooked }

type SessionNotAcceptingError struct {
	SessionID uuid.UUID
	Status    SessionStatus
}

func (e *SessionNotAcceptingError) Error() string {
	return fmt.Sprintf("session %s is %s and not accepting appointments", e.SessionID, e.Status)
}

func (e *SessionNotAcceptingError) Unwrap() error { return ErrSessionNotAccepting }

// InvalidTransitionError reports a move the state machine does not allow.
// Machine is "visit", "payment" or "session".
type InvalidTransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %q to %q", e.Machine, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
