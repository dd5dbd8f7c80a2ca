package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBooked           EventType = "APPOINTMENT_BOOKED"
	EventCompleted        EventType = "APPOINTMENT_COMPLETED"
	EventCancelled        EventType = "APPOINTMENT_CANCELLED"
	EventSessionCancelled EventType = "SESSION_CANCELLED"
)

// Event is a lifecycle notification for the email/notification service.
type Event struct {
	ID                uuid.UUID      `json:"id"`
	Type              EventType      `json:"type"`
	SessionID         uuid.UUID      `json:"session_id"`
	AppointmentID     *uuid.UUID     `json:"appointment_id,omitempty"`
	AppointmentNumber string         `json:"appointment_number,omitempty"`
	PatientName       string         `json:"patient_name,omitempty"`
	PatientEmail      string         `json:"patient_email,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	OccurredAt        time.Time      `json:"occurred_at"`
}

// Notifier receives lifecycle events. Implementations must not block the
// caller; delivery failures are theirs to retry.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

type EntityType string

const (
	EntitySession     EntityType = "session"
	EntityAppointment EntityType = "appointment"
)

// AuditRecord is a before/after snapshot of a mutation.
type AuditRecord struct {
	EntityType EntityType
	EntityID   uuid.UUID
	ActorID    string
	Action     string
	Before     any
	After      any
	At         time.Time
}

type Auditor interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// RateLookup supplies a practitioner's current consultation fee. The value
// is frozen into the appointment at booking and never read again.
type RateLookup interface {
	ConsultationFee(ctx context.Context, practitionerID uuid.UUID) (decimal.Decimal, error)
}

// StaticRates is a RateLookup backed by a fixed map, with a fallback fee
// for unknown practitioners.
type StaticRates struct {
	Rates   map[uuid.UUID]decimal.Decimal
	Default decimal.Decimal
}

func (r StaticRates) ConsultationFee(_ context.Context, practitionerID uuid.UUID) (decimal.Decimal, error) {
	if fee, ok := r.Rates[practitionerID]; ok {
		return fee, nil
	}
	return r.Default, nil
}

type actorKey struct{}

// WithActor attaches the authenticated caller identity used in audit records.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return "system"
}
