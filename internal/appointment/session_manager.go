package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateSessionInput describes a new session. A nil Capacity takes the
// configured default.
type CreateSessionInput struct {
	PractitionerID uuid.UUID
	NurseID        *uuid.UUID
	HospitalID     uuid.UUID
	Location       string
	Window         Window
	Capacity       *int
}

// AvailabilityQuery narrows ListAvailable. With no Day only sessions that
// have not ended yet are returned.
type AvailabilityQuery struct {
	PractitionerID *uuid.UUID
	HospitalID     *uuid.UUID
	Day            *time.Time
	Limit          int
	Offset         int
}

// SessionManager owns session creation, edits and the session status machine.
type SessionManager struct {
	repo      Repository
	validator *OverlapValidator
	fx        *effects
	capacity  int
}

func (m *SessionManager) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	if !in.Window.Valid() {
		return nil, ErrInvalidWindow
	}
	capacity := m.capacity
	if in.Capacity != nil {
		capacity = *in.Capacity
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	if err := m.validator.Check(ctx, in.PractitionerID, in.NurseID, in.Window, nil); err != nil {
		return nil, err
	}

	now := m.fx.now()
	s := &Session{
		ID:             uuid.New(),
		PractitionerID: in.PractitionerID,
		NurseID:        in.NurseID,
		HospitalID:     in.HospitalID,
		Location:       strings.TrimSpace(in.Location),
		StartTime:      in.Window.Start,
		EndTime:        in.Window.End,
		Capacity:       capacity,
		Status:         SessionScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The store re-checks overlap atomically; a session created between
	// the validator's read and this insert is still caught.
	if err := m.repo.InsertSession(ctx, s); err != nil {
		return nil, err
	}

	m.fx.audit(ctx, EntitySession, s.ID, "create", nil, s)
	return s, nil
}

func (m *SessionManager) UpdateSession(ctx context.Context, id uuid.UUID, patch SessionPatch) (*Session, error) {
	if patch.Capacity != nil && *patch.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	current, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Closed() {
		return nil, ErrSessionClosed
	}

	next := patch.Apply(*current)
	if !next.Window().Valid() {
		return nil, ErrInvalidWindow
	}
	if next.Capacity < current.BookedCount {
		return nil, &CapacityBelowBookedError{SessionID: id, Requested: next.Capacity, Booked: current.BookedCount}
	}
	if patch.ReschedulesOverlap() {
		if err := m.validator.Check(ctx, next.PractitionerID, next.NurseID, next.Window(), &id); err != nil {
			return nil, err
		}
	}

	updated, err := m.repo.UpdateSession(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	m.fx.audit(ctx, EntitySession, id, "update", current, updated)
	return updated, nil
}

// SetStatus moves a session along scheduled -> ongoing <-> paused -> ended.
// Cancellation goes through CancelSession.
func (m *SessionManager) SetStatus(ctx context.Context, id uuid.UUID, to SessionStatus) (*Session, error) {
	current, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransitionSession(current.Status, to) {
		return nil, &InvalidTransitionError{Machine: "session", From: string(current.Status), To: string(to)}
	}

	updated, err := m.repo.SetSessionStatus(ctx, id, current.Status, to)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, fmt.Errorf("session %s status changed concurrently: %w", id, err)
		}
		return nil, err
	}

	m.fx.audit(ctx, EntitySession, id, "status:"+string(to), current, updated)
	return updated, nil
}

// CancelSession cancels the session and reschedules its waiting and
// confirmed appointments in one store transaction. Each affected patient
// gets a SessionCancelled notification.
func (m *SessionManager) CancelSession(ctx context.Context, id uuid.UUID) (*Session, []Appointment, error) {
	before, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	cancelled, moved, err := m.repo.CancelSessionCascade(ctx, id, m.fx.now())
	if err != nil {
		return nil, nil, err
	}

	m.fx.audit(ctx, EntitySession, id, "cancel", before, cancelled)
	for i := range moved {
		a := &moved[i]
		m.fx.audit(ctx, EntityAppointment, a.ID, "reschedule", nil, a)
		m.fx.notify(ctx, appointmentEvent(EventSessionCancelled, a, map[string]any{
			"session_start": cancelled.StartTime,
			"location":      cancelled.Location,
		}))
	}

	m.fx.log.Info().
		Str("session_id", id.String()).
		Int("rescheduled", len(moved)).
		Msg("session cancelled")

	return cancelled, moved, nil
}

// DeleteSession removes a session that never had an appointment.
func (m *SessionManager) DeleteSession(ctx context.Context, id uuid.UUID) error {
	before, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if before.BookedCount > 0 {
		return ErrSessionHasBookings
	}

	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return err
	}

	m.fx.audit(ctx, EntitySession, id, "delete", before, nil)
	return nil
}

func (m *SessionManager) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.repo.GetSession(ctx, id)
}

func (m *SessionManager) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)

	sessions, err := m.repo.ListSessions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListAvailable returns bookable sessions with at least one free slot.
func (m *SessionManager) ListAvailable(ctx context.Context, q AvailabilityQuery) ([]Session, error) {
	f := SessionFilter{
		PractitionerID: q.PractitionerID,
		HospitalID:     q.HospitalID,
		Statuses:       []SessionStatus{SessionScheduled, SessionOngoing},
		OnlyAvailable:  true,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}

	now := m.fx.now()
	f.EndsAfter = &now
	if q.Day != nil {
		y, mo, d := q.Day.Date()
		from := time.Date(y, mo, d, 0, 0, 0, 0, q.Day.Location())
		to := from.AddDate(0, 0, 1)
		f.From, f.To = &from, &to
	}

	return m.ListSessions(ctx, f)
}
