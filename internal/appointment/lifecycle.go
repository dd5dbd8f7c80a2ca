package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxStaleRetries bounds how often a lost compare-and-set is re-evaluated
// against fresh state before giving up.
const maxStaleRetries = 3

// Lifecycle drives the visit and payment state machines of existing
// appointments.
type Lifecycle struct {
	repo Repository
	fx   *effects
}

// SetStatus moves the visit status. Cancelling an already cancelled
// appointment is a no-op and releases nothing.
func (l *Lifecycle) SetStatus(ctx context.Context, id uuid.UUID, to Status, reason *string) (*Appointment, error) {
	if !to.Valid() {
		return nil, &InvalidTransitionError{Machine: "visit", From: "", To: string(to)}
	}
	if reason != nil {
		r := strings.TrimSpace(*reason)
		reason = &r
	}

	return l.transition(ctx, id, func(*Appointment) (Status, error) {
		return to, nil
	}, reason)
}

// CompleteAppointment finishes a visit: confirmed becomes completed and a
// called walk-in becomes served.
func (l *Lifecycle) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.transition(ctx, id, func(a *Appointment) (Status, error) {
		switch a.Status {
		case StatusConfirmed:
			return StatusCompleted, nil
		case StatusCalled:
			return StatusServed, nil
		default:
			return "", &InvalidTransitionError{Machine: "visit", From: string(a.Status), To: string(StatusCompleted)}
		}
	}, nil)
}

// transition re-reads the appointment, picks the target, validates it and
// applies it as a compare-and-set, retrying when another writer got there
// first.
func (l *Lifecycle) transition(ctx context.Context, id uuid.UUID, target func(*Appointment) (Status, error), reason *string) (*Appointment, error) {
	for attempt := 0; ; attempt++ {
		current, err := l.repo.GetAppointment(ctx, id)
		if err != nil {
			return nil, err
		}

		to, err := target(current)
		if err != nil {
			return nil, err
		}
		if to == StatusCancelled && current.Status == StatusCancelled {
			return current, nil
		}
		if !CanTransition(current.BookingType.Flow(), current.Status, to) {
			return nil, &InvalidTransitionError{Machine: "visit", From: string(current.Status), To: string(to)}
		}

		change := StatusChange{
			AppointmentID: id,
			From:          current.Status,
			To:            to,
			At:            l.fx.now(),
			ReleaseSlot:   ReleasesCapacity(to),
		}
		switch to {
		case StatusCancelled:
			change.Reason = reason
			if p, ok := PaymentOnCancel(current.PaymentStatus); ok {
				change.Payment = &p
			}
		case StatusUnpaid:
			if CanTransitionPayment(current.PaymentStatus, PaymentUnpaid) {
				p := PaymentUnpaid
				change.Payment = &p
			}
		}

		updated, err := l.repo.TransitionAppointment(ctx, change)
		if errors.Is(err, ErrStaleState) && attempt < maxStaleRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		l.afterTransition(ctx, current, updated)
		return updated, nil
	}
}

func (l *Lifecycle) afterTransition(ctx context.Context, before, after *Appointment) {
	l.fx.audit(ctx, EntityAppointment, after.ID, "status:"+string(after.Status), before, after)

	switch after.Status {
	case StatusCancelled:
		payload := map[string]any{"payment_status": string(after.PaymentStatus)}
		if after.CancellationReason != nil {
			payload["reason"] = *after.CancellationReason
		}
		l.fx.notify(ctx, appointmentEvent(EventCancelled, after, payload))
	case StatusCompleted, StatusServed:
		l.fx.notify(ctx, appointmentEvent(EventCompleted, after, map[string]any{
			"status": string(after.Status),
		}))
	}
}

// SetPaymentStatus moves the payment status. Repeating the current status
// is a no-op. A completed payment restores a visit that was parked as
// unpaid.
func (l *Lifecycle) SetPaymentStatus(ctx context.Context, id uuid.UUID, to PaymentStatus) (*Appointment, error) {
	if !to.Valid() {
		return nil, &InvalidTransitionError{Machine: "payment", From: "", To: string(to)}
	}

	var updated *Appointment
	for attempt := 0; ; attempt++ {
		current, err := l.repo.GetAppointment(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == to {
			return current, nil
		}
		if !CanTransitionPayment(current.PaymentStatus, to) {
			return nil, &InvalidTransitionError{Machine: "payment", From: string(current.PaymentStatus), To: string(to)}
		}

		updated, err = l.repo.SetPaymentStatus(ctx, id, current.PaymentStatus, to)
		if errors.Is(err, ErrStaleState) && attempt < maxStaleRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		l.fx.audit(ctx, EntityAppointment, id, "payment:"+string(to), current, updated)
		break
	}

	if to == PaymentCompleted && updated.Status == StatusUnpaid {
		restore := InitialStatus(updated.BookingType.Flow())
		restored, err := l.SetStatus(ctx, id, restore, nil)
		if err != nil {
			return nil, fmt.Errorf("restore visit after payment: %w", err)
		}
		return restored, nil
	}
	return updated, nil
}

// CallNext calls the waiting appointment with the lowest queue position.
// Skipped and absent appointments are passed over.
func (l *Lifecycle) CallNext(ctx context.Context, sessionID uuid.UUID) (*Appointment, error) {
	if _, err := l.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	called, err := l.repo.CallNext(ctx, sessionID, l.fx.now())
	if err != nil {
		return nil, err
	}

	l.fx.audit(ctx, EntityAppointment, called.ID, "call", nil, called)
	return called, nil
}

// QueueStatus returns the appointment and how many patients are still
// ahead of it. Ahead is zero once the appointment has left the queue.
func (l *Lifecycle) QueueStatus(ctx context.Context, id uuid.UUID) (*QueueStatus, error) {
	a, err := l.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	qs := &QueueStatus{Appointment: a}
	if a.Status == StatusWaiting || a.Status == StatusCalled {
		ahead, err := l.repo.CountAhead(ctx, a.SessionID, a.QueuePosition)
		if err != nil {
			return nil, fmt.Errorf("count ahead: %w", err)
		}
		qs.Ahead = ahead
	}
	return qs, nil
}

func (l *Lifecycle) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.repo.GetAppointment(ctx, id)
}

func (l *Lifecycle) GetByNumber(ctx context.Context, number string) (*Appointment, error) {
	return l.repo.GetAppointmentByNumber(ctx, strings.TrimSpace(number))
}

func (l *Lifecycle) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)

	list, err := l.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return list, nil
}
