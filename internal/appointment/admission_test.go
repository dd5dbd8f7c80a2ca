package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitCapacityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 2)

	a := f.admit(t, s.ID, "A", BookingWalkIn)
	assert.Equal(t, 1, a.QueuePosition)
	assert.Equal(t, 1, f.bookedCount(t, s.ID))

	b := f.admit(t, s.ID, "B", BookingWalkIn)
	assert.Equal(t, 2, b.QueuePosition)
	assert.Equal(t, 2, f.bookedCount(t, s.ID))

	_, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "C"}, BookingType: BookingWalkIn})
	var full *CapacityExceededError
	require.True(t, errors.As(err, &full))
	assert.Equal(t, 2, full.Capacity)
	assert.EqualError(t, ErrCapacityExceeded, "no slots available")
	assert.Equal(t, 2, f.bookedCount(t, s.ID))

	reason := "patient request"
	_, err = f.svc.Appointments.SetStatus(ctx, a.Appointment.ID, StatusCancelled, &reason)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bookedCount(t, s.ID))

	d := f.admit(t, s.ID, "D", BookingWalkIn)
	assert.Equal(t, 3, d.QueuePosition, "queue positions are never reused")
	assert.Equal(t, 2, f.bookedCount(t, s.ID))
}

func TestAdmitInitialState(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 5)
	f.rates.Rates[s.PractitionerID] = decimal.RequireFromString("80.00")

	walkIn := f.admit(t, s.ID, "ann", BookingWalkIn).Appointment
	assert.Equal(t, StatusWaiting, walkIn.Status)
	assert.Equal(t, PaymentUnpaid, walkIn.PaymentStatus)
	assert.True(t, walkIn.ConsultationFee.Equal(decimal.RequireFromString("80.00")))
	assert.True(t, walkIn.TotalAmount.Equal(decimal.RequireFromString("82.50")))
	assert.True(t, strings.HasPrefix(walkIn.AppointmentNumber, "APT-"))
	assert.Equal(t, "system", walkIn.BookedBy)

	online := f.admit(t, s.ID, "bob", BookingOnline).Appointment
	assert.Equal(t, StatusConfirmed, online.Status)
	assert.Equal(t, PaymentPending, online.PaymentStatus)
	assert.NotEqual(t, walkIn.AppointmentNumber, online.AppointmentNumber)

	// Later rate changes do not touch existing bookings.
	f.rates.Rates[s.PractitionerID] = decimal.RequireFromString("120.00")
	stored, err := f.svc.Appointments.GetAppointment(context.Background(), walkIn.ID)
	require.NoError(t, err)
	assert.True(t, stored.ConsultationFee.Equal(decimal.RequireFromString("80.00")))

	byNumber, err := f.svc.Appointments.GetByNumber(context.Background(), online.AppointmentNumber)
	require.NoError(t, err)
	assert.Equal(t, online.ID, byNumber.ID)

	assert.Equal(t, []EventType{EventBooked, EventBooked}, f.notifier.Types())
}

func TestAdmitRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("request validation", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 2)

		_, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "  "}, BookingType: BookingWalkIn})
		assert.ErrorIs(t, err, ErrPatientNameRequired)

		_, err = f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: "fax"})
		assert.ErrorIs(t, err, ErrInvalidBookingType)
		assert.Equal(t, 0, f.bookedCount(t, s.ID))
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Admission.Admit(ctx, uuid.New(), AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("session ended", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 2)
		f.clock.Set(s.EndTime)

		_, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
		assert.ErrorIs(t, err, ErrSessionInPast)
		assert.Equal(t, 0, f.bookedCount(t, s.ID))
	})

	t.Run("ongoing session still admits", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 2)
		_, err := f.svc.Sessions.SetStatus(ctx, s.ID, SessionOngoing)
		require.NoError(t, err)
		f.clock.Set(s.StartTime.Add(10 * time.Minute))

		f.admit(t, s.ID, "ann", BookingWalkIn)
	})

	t.Run("cancelled session", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 2)
		_, _, err := f.svc.Sessions.CancelSession(ctx, s.ID)
		require.NoError(t, err)

		_, err = f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
		var notAccepting *SessionNotAcceptingError
		require.True(t, errors.As(err, &notAccepting))
		assert.Equal(t, SessionCancelled, notAccepting.Status)
	})

	t.Run("rate lookup failure books nothing", func(t *testing.T) {
		f := newFixture(t)
		s := f.createSession(t, 2)
		f.svc.Admission.rates = failingRates{}

		_, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
		assert.ErrorIs(t, err, ErrPractitionerNotFound)
		assert.Equal(t, 0, f.bookedCount(t, s.ID))
	})
}

type failingRates struct{}

func (failingRates) ConsultationFee(context.Context, uuid.UUID) (decimal.Decimal, error) {
	return decimal.Zero, ErrPractitionerNotFound
}

func TestAdmitReleasesSlotWhenInsertFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 2)

	f.repo.failInsert = errors.New("disk full")
	_, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
	require.Error(t, err)
	assert.Equal(t, 0, f.bookedCount(t, s.ID))

	f.repo.failInsert = nil
	adm := f.admit(t, s.ID, "bob", BookingWalkIn)
	assert.Equal(t, 2, adm.QueuePosition, "the failed attempt still consumed a ticket number")
	assert.Equal(t, 1, f.bookedCount(t, s.ID))
}

func TestAdmitConcurrentNeverOversells(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const capacity = 7
	const callers = 50
	s := f.createSession(t, capacity)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int
		full      int
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			adm, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{
				Patient:     Patient{Name: "patient"},
				BookingType: BookingWalkIn,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrCapacityExceeded)
				full++
				return
			}
			positions = append(positions, adm.QueuePosition)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Len(t, positions, capacity)
	assert.Equal(t, callers-capacity, full)
	assert.Equal(t, capacity, f.bookedCount(t, s.ID))

	seen := map[int]bool{}
	for _, p := range positions {
		assert.False(t, seen[p], "duplicate queue position %d", p)
		seen[p] = true
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, capacity)
	}
}

func TestAdmitLastSlotRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 2)
	f.admit(t, s.ID, "first", BookingWalkIn)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "racer"}, BookingType: BookingOnline})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 2, f.bookedCount(t, s.ID))
}

// staleOnceRepo reports contention on the first reservation attempt.
type staleOnceRepo struct {
	*MemoryRepository
	mu    sync.Mutex
	calls int
}

func (r *staleOnceRepo) ReserveSlot(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Reservation, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()

	if first {
		return nil, ErrStaleState
	}
	return r.MemoryRepository.ReserveSlot(ctx, sessionID, now)
}

func TestAdmitRetriesContention(t *testing.T) {
	ctx := context.Background()
	repo := &staleOnceRepo{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, DefaultSettings())

	s, err := svc.Sessions.CreateSession(ctx, CreateSessionInput{
		PractitionerID: uuid.New(),
		Window:         Window{Start: time.Now().Add(time.Hour), End: time.Now().Add(2 * time.Hour)},
	})
	require.NoError(t, err)

	adm, err := svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingPhone})
	require.NoError(t, err)
	assert.Equal(t, 1, adm.QueuePosition)
	assert.Equal(t, 2, repo.calls)
}

func TestAdmitSurvivesCallerCancellationAfterReserve(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	repo := &cancelOnReserveRepo{MemoryRepository: f.repo, cancel: cancel}
	svc := NewService(repo, DefaultSettings(), WithClock(f.clock))

	adm, err := svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
	require.NoError(t, err)
	assert.Equal(t, 1, f.bookedCount(t, s.ID))

	stored, err := f.repo.GetAppointment(context.Background(), adm.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, stored.Status)
}

// cancelOnReserveRepo cancels the caller's context right after the slot
// has been committed.
type cancelOnReserveRepo struct {
	*MemoryRepository
	cancel context.CancelFunc
}

func (r *cancelOnReserveRepo) ReserveSlot(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Reservation, error) {
	res, err := r.MemoryRepository.ReserveSlot(ctx, sessionID, now)
	r.cancel()
	return res, err
}

// cancelBeforeInsertRepo runs hook between the reservation and the insert.
type cancelBeforeInsertRepo struct {
	*MemoryRepository
	hook func()
}

func (r *cancelBeforeInsertRepo) InsertAppointment(ctx context.Context, a *Appointment) error {
	if r.hook != nil {
		r.hook()
	}
	return r.MemoryRepository.InsertAppointment(ctx, a)
}

func TestAdmitRefusedWhenSessionCancelledMidAdmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.createSession(t, 3)

	repo := &cancelBeforeInsertRepo{MemoryRepository: f.repo}
	svc := NewService(repo, DefaultSettings(), WithClock(f.clock))
	repo.hook = func() {
		_, _, err := svc.Sessions.CancelSession(ctx, s.ID)
		require.NoError(t, err)
	}

	_, err := svc.Admission.Admit(ctx, s.ID, AdmitRequest{Patient: Patient{Name: "ann"}, BookingType: BookingWalkIn})
	var closed *SessionNotAcceptingError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, SessionCancelled, closed.Status)

	got, err := f.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCancelled, got.Status)
	assert.Equal(t, 0, got.BookedCount)

	list, err := f.repo.ListAppointments(ctx, AppointmentFilter{SessionID: &s.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
}
