package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 3)
	adm := f.admit(t, s.ID, "ann", BookingOnline)
	f.admit(t, s.ID, "bob", BookingOnline)
	require.Equal(t, 2, f.bookedCount(t, s.ID))

	reason := "  feeling better "
	first, err := f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusCancelled, &reason)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)
	assert.Equal(t, PaymentCancelled, first.PaymentStatus)
	require.NotNil(t, first.CancellationReason)
	assert.Equal(t, "feeling better", *first.CancellationReason)
	assert.NotNil(t, first.CancellationDate)
	assert.Equal(t, 1, f.bookedCount(t, s.ID))

	second, err := f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)
	assert.Equal(t, 1, f.bookedCount(t, s.ID), "second cancel must not release again")
}

func TestCancelPaidAppointmentRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 3)
	adm := f.admit(t, s.ID, "ann", BookingOnline)

	_, err := f.svc.Appointments.SetPaymentStatus(ctx, adm.Appointment.ID, PaymentCompleted)
	require.NoError(t, err)

	cancelled, err := f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, cancelled.PaymentStatus)
	assert.Contains(t, f.notifier.Types(), EventCancelled)
}

func TestCompleteAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("scheduled flow", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)
		adm := f.admit(t, s.ID, "ann", BookingPhone)

		done, err := f.svc.Appointments.CompleteAppointment(ctx, adm.Appointment.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
		assert.Equal(t, 1, f.bookedCount(t, s.ID), "completion keeps the slot consumed")
		assert.Contains(t, f.notifier.Types(), EventCompleted)
	})

	t.Run("queue flow needs a call first", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)
		adm := f.admit(t, s.ID, "ann", BookingWalkIn)

		_, err := f.svc.Appointments.CompleteAppointment(ctx, adm.Appointment.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = f.svc.Appointments.CallNext(ctx, s.ID)
		require.NoError(t, err)

		done, err := f.svc.Appointments.CompleteAppointment(ctx, adm.Appointment.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusServed, done.Status)
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)
		adm := f.admit(t, s.ID, "ann", BookingOnline)
		_, err := f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusCancelled, nil)
		require.NoError(t, err)
		before := f.bookedCount(t, s.ID)

		_, err = f.svc.Appointments.CompleteAppointment(ctx, adm.Appointment.ID)

		var invalid *InvalidTransitionError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, string(StatusCancelled), invalid.From)
		assert.Equal(t, before, f.bookedCount(t, s.ID))
	})
}

func TestSetStatusRejectsIllegalMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 3)
	walkIn := f.admit(t, s.ID, "ann", BookingWalkIn)
	online := f.admit(t, s.ID, "bob", BookingOnline)

	_, err := f.svc.Appointments.SetStatus(ctx, walkIn.Appointment.ID, StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Appointments.SetStatus(ctx, online.Appointment.ID, StatusCalled, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Appointments.SetStatus(ctx, online.Appointment.ID, "teleported", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Appointments.SetStatus(ctx, uuid.New(), StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.Equal(t, 2, f.bookedCount(t, s.ID))
}

func TestNoShowKeepsSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 1)
	adm := f.admit(t, s.ID, "ann", BookingOnline)

	_, err := f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusNoShow, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bookedCount(t, s.ID))

	_, err = f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "bob"}, BookingType: BookingOnline})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestCallNextOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 5)
	a := f.admit(t, s.ID, "ann", BookingWalkIn)
	b := f.admit(t, s.ID, "bob", BookingWalkIn)
	c := f.admit(t, s.ID, "cat", BookingWalkIn)

	called, err := f.svc.Appointments.CallNext(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Appointment.ID, called.ID)
	assert.NotNil(t, called.CalledAt)

	_, err = f.svc.Appointments.SetStatus(ctx, a.Appointment.ID, StatusAbsent, nil)
	require.NoError(t, err)

	called, err = f.svc.Appointments.CallNext(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Appointment.ID, called.ID)

	_, err = f.svc.Appointments.SetStatus(ctx, b.Appointment.ID, StatusSkipped, nil)
	require.NoError(t, err)

	called, err = f.svc.Appointments.CallNext(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Appointment.ID, called.ID)

	_, err = f.svc.Appointments.CallNext(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNoWaitingAppointments)

	// Staff put the absent patient back in the queue.
	_, err = f.svc.Appointments.SetStatus(ctx, a.Appointment.ID, StatusWaiting, nil)
	require.NoError(t, err)
	called, err = f.svc.Appointments.CallNext(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Appointment.ID, called.ID)

	_, err = f.svc.Appointments.CallNext(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestQueueStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 5)
	a := f.admit(t, s.ID, "ann", BookingWalkIn)
	b := f.admit(t, s.ID, "bob", BookingWalkIn)
	c := f.admit(t, s.ID, "cat", BookingWalkIn)

	qs, err := f.svc.Appointments.QueueStatus(ctx, c.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, qs.Ahead)
	assert.Equal(t, 3, qs.Appointment.QueuePosition)

	_, err = f.svc.Appointments.SetStatus(ctx, b.Appointment.ID, StatusCancelled, nil)
	require.NoError(t, err)
	_, err = f.svc.Appointments.CallNext(ctx, s.ID)
	require.NoError(t, err)

	qs, err = f.svc.Appointments.QueueStatus(ctx, c.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, qs.Ahead, "ann is called, bob left")
	assert.Equal(t, 3, qs.Appointment.QueuePosition, "ticket number is stable")

	_, err = f.svc.Appointments.SetStatus(ctx, a.Appointment.ID, StatusServed, nil)
	require.NoError(t, err)
	qs, err = f.svc.Appointments.QueueStatus(ctx, a.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, qs.Ahead)
}

func TestSetPaymentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 5)
	adm := f.admit(t, s.ID, "ann", BookingOnline)
	id := adm.Appointment.ID

	failed, err := f.svc.Appointments.SetPaymentStatus(ctx, id, PaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, failed.PaymentStatus)
	assert.Equal(t, StatusConfirmed, failed.Status, "payment does not move the visit status")

	_, err = f.svc.Appointments.SetPaymentStatus(ctx, id, PaymentCompleted)
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "payment", invalid.Machine)

	_, err = f.svc.Appointments.SetPaymentStatus(ctx, id, PaymentPending)
	require.NoError(t, err)

	paid, err := f.svc.Appointments.SetPaymentStatus(ctx, id, PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, paid.PaymentStatus)

	again, err := f.svc.Appointments.SetPaymentStatus(ctx, id, PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, again.PaymentStatus)

	_, err = f.svc.Appointments.SetPaymentStatus(ctx, id, "bitcoin")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPaymentRestoresUnpaidVisit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 5)
	adm := f.admit(t, s.ID, "ann", BookingOnline)
	id := adm.Appointment.ID

	parked, err := f.svc.Appointments.SetStatus(ctx, id, StatusUnpaid, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusUnpaid, parked.Status)
	assert.Equal(t, PaymentUnpaid, parked.PaymentStatus)

	restored, err := f.svc.Appointments.SetPaymentStatus(ctx, id, PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, restored.Status)
	assert.Equal(t, PaymentCompleted, restored.PaymentStatus)
}

func TestAuditCarriesActor(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 5)

	ctx := WithActor(context.Background(), "nurse-17")
	adm, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
	require.NoError(t, err)
	assert.Equal(t, "nurse-17", adm.Appointment.BookedBy)

	_, err = f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusCancelled, nil)
	require.NoError(t, err)

	records := f.repo.AuditRecords()
	last := records[len(records)-1]
	assert.Equal(t, "nurse-17", last.ActorID)
	assert.Equal(t, EntityAppointment, last.EntityType)
	assert.Equal(t, "status:cancelled", last.Action)
	assert.NotNil(t, last.Before)
	assert.NotNil(t, last.After)
}

func TestListAppointmentsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	late, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
		PractitionerID: uuid.New(),
		Window:         window(6*time.Hour, time.Hour),
	})
	require.NoError(t, err)
	early := f.createSession(t, 5)

	l1 := f.admit(t, late.ID, "ann", BookingOnline)
	e1 := f.admit(t, early.ID, "ann", BookingOnline)
	e2 := f.admit(t, early.ID, "bob", BookingWalkIn)

	// Stamp the second ticket before the first.
	f.repo.mu.Lock()
	f.repo.appointments[e2.Appointment.ID].CreatedAt = baseTime.Add(-time.Hour)
	f.repo.mu.Unlock()

	list, err := f.svc.Appointments.ListAppointments(ctx, AppointmentFilter{SessionID: &early.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []int{1, 2}, []int{list[0].QueuePosition, list[1].QueuePosition})

	byPatient, err := f.svc.Appointments.ListAppointments(ctx, AppointmentFilter{PatientEmail: "ann@example.com"})
	require.NoError(t, err)
	require.Len(t, byPatient, 2)
	assert.Equal(t, e1.Appointment.ID, byPatient[0].ID, "earlier session first")
	assert.Equal(t, l1.Appointment.ID, byPatient[1].ID)
}

func TestAuditSnapshotsAreDetached(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 5)

	adm, err := f.svc.Admission.Admit(context.Background(), s.ID, AdmitRequest{
		Patient:     Patient{Name: "ann", Details: []byte(`{"a":1}`)},
		BookingType: BookingWalkIn,
	})
	require.NoError(t, err)

	adm.Appointment.Status = StatusServed
	adm.Appointment.Patient.Details[5] = '2'

	records := f.repo.AuditRecords()
	var admitted *AuditRecord
	for i := range records {
		if records[i].Action == "admit" {
			admitted = &records[i]
		}
	}
	require.NotNil(t, admitted)

	snap, ok := admitted.After.(Appointment)
	require.True(t, ok, "got %T", admitted.After)
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.JSONEq(t, `{"a":1}`, string(snap.Patient.Details))
}
