package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdmissionController is the only path that creates appointments.
type AdmissionController struct {
	repo       Repository
	rates      RateLookup
	fx         *effects
	bookingFee decimal.Decimal
	maxRetries int
}

func validateAdmitRequest(req *AdmitRequest) error {
	req.Patient.Name = strings.TrimSpace(req.Patient.Name)
	if req.Patient.Name == "" {
		return ErrPatientNameRequired
	}
	if !req.BookingType.Valid() {
		return ErrInvalidBookingType
	}
	return nil
}

// Admit books one patient into a session. The capacity check, the booked
// count increment and the queue position allocation are a single store
// operation, so concurrent calls can never oversell.
func (c *AdmissionController) Admit(ctx context.Context, sessionID uuid.UUID, req AdmitRequest) (*Admission, error) {
	if err := validateAdmitRequest(&req); err != nil {
		return nil, err
	}

	session, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := reservationBlocker(session, c.fx.now()); err != nil {
		return nil, err
	}

	fee, err := c.rates.ConsultationFee(ctx, session.PractitionerID)
	if err != nil {
		return nil, fmt.Errorf("load consultation fee: %w", err)
	}

	res, err := c.reserve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The slot is committed from here on. A client going away must not
	// strand it, so the rest runs detached from the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	now := c.fx.now()
	flow := req.BookingType.Flow()
	appt := &Appointment{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Patient:         req.Patient,
		IsNewPatient:    req.IsNewPatient,
		BookingType:     req.BookingType,
		Notes:           strings.TrimSpace(req.Notes),
		Status:          InitialStatus(flow),
		PaymentStatus:   InitialPaymentStatus(req.BookingType),
		QueuePosition:   res.QueuePosition,
		ConsultationFee: fee,
		TotalAmount:     fee.Add(c.bookingFee),
		BookedBy:        ActorFromContext(ctx),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.insert(ctx, appt); err != nil {
		if relErr := c.repo.ReleaseSlot(ctx, sessionID); relErr != nil {
			c.fx.log.Error().Err(relErr).
				Str("session_id", sessionID.String()).
				Int("queue_position", res.QueuePosition).
				Msg("failed to release slot after insert failure")
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	c.fx.audit(ctx, EntityAppointment, appt.ID, "admit", nil, appt)
	c.fx.notify(ctx, appointmentEvent(EventBooked, appt, map[string]any{
		"queue_position": appt.QueuePosition,
		"session_start":  res.Session.StartTime,
		"location":       res.Session.Location,
		"total_amount":   appt.TotalAmount.String(),
	}))

	return &Admission{
		Appointment:   appt,
		QueuePosition: res.QueuePosition,
		Session:       res.Session,
	}, nil
}

// reserve claims a slot. Definite refusals (full, closed, ended) return at
// once; ErrStaleState means the store saw contention it could not classify
// and is retried with backoff.
func (c *AdmissionController) reserve(ctx context.Context, sessionID uuid.UUID) (*Reservation, error) {
	op := func() (*Reservation, error) {
		res, err := c.repo.ReserveSlot(ctx, sessionID, c.fx.now())
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrStaleState) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(2*time.Second),
	)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, fmt.Errorf("reserve slot in session %s: %w", sessionID, err)
		}
		return nil, err
	}
	return res, nil
}

func (c *AdmissionController) insert(ctx context.Context, appt *Appointment) error {
	appt.AppointmentNumber = newAppointmentNumber(appt.CreatedAt)
	err := c.repo.InsertAppointment(ctx, appt)
	if errors.Is(err, ErrStaleState) {
		// Number collision; draw again once.
		appt.AppointmentNumber = newAppointmentNumber(appt.CreatedAt)
		err = c.repo.InsertAppointment(ctx, appt)
	}
	return err
}

// newAppointmentNumber builds APT-<unix millis>-<8 random hex chars>.
func newAppointmentNumber(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("APT-%d-%s", at.UnixMilli(), strings.ToUpper(suffix))
}
