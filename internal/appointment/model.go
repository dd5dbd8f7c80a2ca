package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionOngoing   SessionStatus = "ongoing"
	SessionPaused    SessionStatus = "paused"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// AcceptsAdmissions reports whether new appointments may be admitted.
func (s SessionStatus) AcceptsAdmissions() bool {
	return s == SessionScheduled || s == SessionOngoing
}

// Closed sessions can no longer be edited.
func (s SessionStatus) Closed() bool {
	return s == SessionEnded || s == SessionCancelled
}

// Status is the visit/queue status of an appointment.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusCalled      Status = "called"
	StatusSkipped     Status = "skipped"
	StatusAbsent      Status = "absent"
	StatusServed      Status = "served"
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
	StatusUnpaid      Status = "unpaid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentUnpaid    PaymentStatus = "unpaid"
)

type BookingType string

const (
	BookingWalkIn BookingType = "walk_in"
	BookingPhone  BookingType = "phone"
	BookingOnline BookingType = "online"
)

// Flow selects which half of the visit status machine an appointment uses.
type Flow int

const (
	FlowQueue Flow = iota + 1
	FlowScheduled
)

func (f Flow) String() string {
	switch f {
	case FlowQueue:
		return "queue"
	case FlowScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

func (b BookingType) Valid() bool {
	switch b {
	case BookingWalkIn, BookingPhone, BookingOnline:
		return true
	}
	return false
}

// Flow is fixed by the booking type for the whole life of the appointment.
func (b BookingType) Flow() Flow {
	if b == BookingWalkIn {
		return FlowQueue
	}
	return FlowScheduled
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Overlaps reports whether [a,b) and [c,d) intersect, i.e. a < d and c < b.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

type Session struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	NurseID        *uuid.UUID
	HospitalID     uuid.UUID
	Location       string
	StartTime      time.Time
	EndTime        time.Time
	Capacity       int
	BookedCount    int
	// LastQueuePosition is the highest ticket number handed out so far.
	LastQueuePosition int
	Status            SessionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *Session) Window() Window {
	return Window{Start: s.StartTime, End: s.EndTime}
}

func (s *Session) AvailableSlots() int {
	return s.Capacity - s.BookedCount
}

// Patient is the intake data captured at booking. Details is an opaque
// payload (demographics, history, insurance) the core never inspects.
type Patient struct {
	Name    string          `json:"name"`
	Email   string          `json:"email,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

type Appointment struct {
	ID                 uuid.UUID
	AppointmentNumber  string
	SessionID          uuid.UUID
	Patient            Patient
	IsNewPatient       bool
	BookingType        BookingType
	Notes              string
	Status             Status
	PaymentStatus      PaymentStatus
	QueuePosition      int
	ConsultationFee    decimal.Decimal
	TotalAmount        decimal.Decimal
	CancellationReason *string
	CancellationDate   *time.Time
	CalledAt           *time.Time
	BookedBy           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AdmitRequest is the booking payload handed to Admit.
type AdmitRequest struct {
	Patient      Patient
	IsNewPatient bool
	BookingType  BookingType
	Notes        string
}

// Admission is the result of a successful Admit.
type Admission struct {
	Appointment   *Appointment
	QueuePosition int
	Session       *Session
}

// QueueStatus is a read-time view of where an appointment stands.
type QueueStatus struct {
	Appointment *Appointment
	// Ahead counts waiting or called appointments with a lower queue position.
	Ahead int
}

type SessionFilter struct {
	PractitionerID *uuid.UUID
	HospitalID     *uuid.UUID
	Statuses       []SessionStatus
	// From and To bound StartTime, [From, To).
	From          *time.Time
	To            *time.Time
	EndsAfter     *time.Time
	OnlyAvailable bool
	Limit         int
	Offset        int
}

type AppointmentFilter struct {
	SessionID    *uuid.UUID
	PatientEmail string
	Status       *Status
	Limit        int
	Offset       int
}

func copySession(s *Session) *Session {
	c := *s
	if s.NurseID != nil {
		id := *s.NurseID
		c.NurseID = &id
	}
	return &c
}

func copyAppointment(a *Appointment) *Appointment {
	c := *a
	if a.Patient.Details != nil {
		c.Patient.Details = append(json.RawMessage(nil), a.Patient.Details...)
	}
	if a.CancellationReason != nil {
		v := *a.CancellationReason
		c.CancellationReason = &v
	}
	if a.CancellationDate != nil {
		v := *a.CancellationDate
		c.CancellationDate = &v
	}
	if a.CalledAt != nil {
		v := *a.CalledAt
		c.CalledAt = &v
	}
	return &c
}
