package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionPatch carries the fields UpdateSession may change. Nil means keep.
type SessionPatch struct {
	PractitionerID *uuid.UUID
	NurseID        *uuid.UUID
	HospitalID     *uuid.UUID
	Location       *string
	StartTime      *time.Time
	EndTime        *time.Time
	Capacity       *int
}

// Apply returns a copy of s with the patch applied.
func (p SessionPatch) Apply(s Session) Session {
	if p.PractitionerID != nil {
		s.PractitionerID = *p.PractitionerID
	}
	if p.NurseID != nil {
		id := *p.NurseID
		s.NurseID = &id
	}
	if p.HospitalID != nil {
		s.HospitalID = *p.HospitalID
	}
	if p.Location != nil {
		s.Location = *p.Location
	}
	if p.StartTime != nil {
		s.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		s.EndTime = *p.EndTime
	}
	if p.Capacity != nil {
		s.Capacity = *p.Capacity
	}
	return s
}

// ReschedulesOverlap reports whether the patch touches anything the overlap
// invariant depends on.
func (p SessionPatch) ReschedulesOverlap() bool {
	return p.PractitionerID != nil || p.NurseID != nil || p.StartTime != nil || p.EndTime != nil
}

// ResourceQuery selects non-cancelled sessions of a practitioner and/or
// nurse intersecting a window.
type ResourceQuery struct {
	PractitionerID *uuid.UUID
	NurseID        *uuid.UUID
	Window         Window
	ExcludeID      *uuid.UUID
}

// Reservation is the outcome of a committed ReserveSlot.
type Reservation struct {
	Session       *Session
	QueuePosition int
}

// StatusChange is a compare-and-set on an appointment's visit status.
type StatusChange struct {
	AppointmentID uuid.UUID
	From          Status
	To            Status
	// Payment, when set, is written in the same atomic step.
	Payment *PaymentStatus
	Reason  *string
	At      time.Time
	// ReleaseSlot decrements the owning session's booked count in the same
	// atomic step.
	ReleaseSlot bool
}

// SessionStore holds sessions. Every method is one atomic unit against the
// store.
type SessionStore interface {
	// InsertSession returns *OverlappingSessionError when the practitioner or
	// nurse is already booked in the window.
	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]Session, error)
	FindSessionsFor(ctx context.Context, q ResourceQuery) ([]Session, error)

	// UpdateSession writes the patch if the new capacity still covers the
	// booked count and the session is not closed.
	UpdateSession(ctx context.Context, id uuid.UUID, patch SessionPatch) (*Session, error)
	SetSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus) (*Session, error)
	// CancelSessionCascade cancels the session and reschedules its waiting
	// and confirmed appointments in one transaction.
	CancelSessionCascade(ctx context.Context, id uuid.UUID, at time.Time) (*Session, []Appointment, error)
	// DeleteSession removes a session no appointment refers to.
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// AppointmentStore holds appointments and owns the capacity counters.
type AppointmentStore interface {
	// ReserveSlot increments booked count and the queue counter iff the
	// session accepts admissions, has not ended at now, and has room.
	ReserveSlot(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Reservation, error)
	// ReleaseSlot undoes a reservation whose insert failed. Never goes below 0.
	ReleaseSlot(ctx context.Context, sessionID uuid.UUID) error
	InsertAppointment(ctx context.Context, a *Appointment) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByNumber(ctx context.Context, number string) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	CountAhead(ctx context.Context, sessionID uuid.UUID, queuePosition int) (int, error)

	// TransitionAppointment returns ErrStaleState if the current status is
	// no longer c.From.
	TransitionAppointment(ctx context.Context, c StatusChange) (*Appointment, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error)
	// CallNext marks the lowest waiting queue position as called.
	CallNext(ctx context.Context, sessionID uuid.UUID, at time.Time) (*Appointment, error)

	// Expiry sweep queries.
	FindPaymentOverdue(ctx context.Context, bookedBefore time.Time, limit int) ([]Appointment, error)
	FindUnpaidBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]Appointment, error)
}

// Repository is everything the core needs from durable storage.
type Repository interface {
	SessionStore
	AppointmentStore
}
