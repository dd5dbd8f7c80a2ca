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

func TestCreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		f := newFixture(t)

		s, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
			PractitionerID: uuid.New(),
			HospitalID:     uuid.New(),
			Location:       "  Ward B ",
			Window:         window(time.Hour, time.Hour),
		})
		require.NoError(t, err)

		assert.Equal(t, SessionScheduled, s.Status)
		assert.Equal(t, 20, s.Capacity)
		assert.Equal(t, 0, s.BookedCount)
		assert.Equal(t, "Ward B", s.Location)
		assert.Equal(t, 20, s.AvailableSlots())

		records := f.repo.AuditRecords()
		require.Len(t, records, 1)
		assert.Equal(t, "create", records[0].Action)
		assert.Equal(t, "system", records[0].ActorID)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
			PractitionerID: uuid.New(),
			Window:         Window{Start: baseTime, End: baseTime},
		})
		assert.ErrorIs(t, err, ErrInvalidWindow)

		_, err = f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
			PractitionerID: uuid.New(),
			Window:         window(0, time.Hour),
			Capacity:       intPtr(0),
		})
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	})

	t.Run("overlap for same doctor", func(t *testing.T) {
		f := newFixture(t)
		doctor := uuid.New()

		first, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
			PractitionerID: doctor,
			Window:         window(time.Hour, time.Hour), // 09:00-10:00
		})
		require.NoError(t, err)

		_, err = f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
			PractitionerID: doctor,
			Window:         window(90*time.Minute, time.Hour), // 09:30-10:30
		})

		var overlap *OverlappingSessionError
		require.True(t, errors.As(err, &overlap))
		assert.Equal(t, []uuid.UUID{first.ID}, overlap.Conflicting)

		_, err = f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
			PractitionerID: uuid.New(),
			Window:         window(90*time.Minute, time.Hour),
		})
		assert.NoError(t, err, "another doctor may use the same window")
	})
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("capacity below booked", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)
		f.admit(t, s.ID, "ann", BookingWalkIn)
		f.admit(t, s.ID, "bob", BookingWalkIn)

		_, err := f.svc.Sessions.UpdateSession(ctx, s.ID, SessionPatch{Capacity: intPtr(1)})

		var below *CapacityBelowBookedError
		require.True(t, errors.As(err, &below))
		assert.Equal(t, 2, below.Booked)
		assert.Equal(t, 1, below.Requested)

		updated, err := f.svc.Sessions.UpdateSession(ctx, s.ID, SessionPatch{Capacity: intPtr(2)})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Capacity)
	})

	t.Run("reschedule excludes itself", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)

		newEnd := s.EndTime.Add(15 * time.Minute)
		updated, err := f.svc.Sessions.UpdateSession(ctx, s.ID, SessionPatch{EndTime: &newEnd})
		require.NoError(t, err)
		assert.Equal(t, newEnd, updated.EndTime)
	})

	t.Run("reschedule into another session", func(t *testing.T) {
		f := newFixture(t)
		doctor := uuid.New()
		first, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{PractitionerID: doctor, Window: window(0, time.Hour)})
		require.NoError(t, err)
		second, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{PractitionerID: doctor, Window: window(2*time.Hour, time.Hour)})
		require.NoError(t, err)

		start := first.StartTime.Add(30 * time.Minute)
		_, err = f.svc.Sessions.UpdateSession(ctx, second.ID, SessionPatch{StartTime: &start})
		assert.ErrorIs(t, err, ErrOverlappingSession)
	})

	t.Run("invalid window", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)

		end := s.StartTime
		_, err := f.svc.Sessions.UpdateSession(ctx, s.ID, SessionPatch{EndTime: &end})
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})

	t.Run("closed session", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 3)
		_, _, err := f.svc.Sessions.CancelSession(ctx, s.ID)
		require.NoError(t, err)

		_, err = f.svc.Sessions.UpdateSession(ctx, s.ID, SessionPatch{Capacity: intPtr(5)})
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestSessionSetStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 3)

	updated, err := f.svc.Sessions.SetStatus(ctx, s.ID, SessionOngoing)
	require.NoError(t, err)
	assert.Equal(t, SessionOngoing, updated.Status)

	_, err = f.svc.Sessions.SetStatus(ctx, s.ID, SessionPaused)
	require.NoError(t, err)

	_, err = f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "late"}, BookingType: BookingWalkIn})
	assert.ErrorIs(t, err, ErrSessionNotAccepting)

	_, err = f.svc.Sessions.SetStatus(ctx, s.ID, SessionCancelled)
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "session", invalid.Machine)

	_, err = f.svc.Sessions.SetStatus(ctx, s.ID, SessionEnded)
	require.NoError(t, err)

	_, err = f.svc.Sessions.SetStatus(ctx, s.ID, SessionOngoing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelSessionCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 5)

	walkIn := f.admit(t, s.ID, "ann", BookingWalkIn)
	online := f.admit(t, s.ID, "bob", BookingOnline)
	queued := f.admit(t, s.ID, "cat", BookingWalkIn)

	_, err := f.svc.Appointments.CallNext(ctx, s.ID) // ann
	require.NoError(t, err)
	_, err = f.svc.Appointments.SetStatus(ctx, walkIn.Appointment.ID, StatusServed, nil)
	require.NoError(t, err)

	cancelled, moved, err := f.svc.Sessions.CancelSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCancelled, cancelled.Status)
	require.Len(t, moved, 2)
	assert.Equal(t, online.Appointment.ID, moved[0].ID)
	assert.Equal(t, queued.Appointment.ID, moved[1].ID)

	list, err := f.svc.Appointments.ListAppointments(ctx, AppointmentFilter{SessionID: &s.ID})
	require.NoError(t, err)
	for _, a := range list {
		assert.NotEqual(t, StatusWaiting, a.Status)
		assert.NotEqual(t, StatusConfirmed, a.Status)
	}

	sessionEvents := 0
	for _, typ := range f.notifier.Types() {
		if typ == EventSessionCancelled {
			sessionEvents++
		}
	}
	assert.Equal(t, 2, sessionEvents)

	_, _, err = f.svc.Sessions.CancelSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	empty := f.createSession(t, 2)
	require.NoError(t, f.svc.Sessions.DeleteSession(ctx, empty.ID))
	_, err := f.svc.Sessions.GetSession(ctx, empty.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	booked := f.createSession(t, 2)
	adm := f.admit(t, booked.ID, "ann", BookingWalkIn)
	assert.ErrorIs(t, f.svc.Sessions.DeleteSession(ctx, booked.ID), ErrSessionHasBookings)

	// Even after the only booking is cancelled the appointment row still
	// refers to the session.
	_, err = f.svc.Appointments.SetStatus(ctx, adm.Appointment.ID, StatusCancelled, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Sessions.DeleteSession(ctx, booked.ID), ErrSessionHasBookings)
}

func TestListAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	open := f.createSession(t, 2)
	full := f.createSession(t, 1)
	f.admit(t, full.ID, "ann", BookingWalkIn)

	past, err := f.svc.Sessions.CreateSession(ctx, CreateSessionInput{
		PractitionerID: uuid.New(),
		Window:         window(-2*time.Hour, time.Hour),
	})
	require.NoError(t, err)

	got, err := f.svc.Sessions.ListAvailable(ctx, AvailabilityQuery{})
	require.NoError(t, err)

	ids := make([]uuid.UUID, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Contains(t, ids, open.ID)
	assert.NotContains(t, ids, full.ID)
	assert.NotContains(t, ids, past.ID)

	nextDay := baseTime.AddDate(0, 0, 1)
	got, err = f.svc.Sessions.ListAvailable(ctx, AvailabilityQuery{Day: &nextDay})
	require.NoError(t, err)
	assert.Empty(t, got)
}
