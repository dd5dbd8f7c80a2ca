package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository kept in process memory. One mutex
// serialises every operation, which gives it the same atomic contract as
// the Postgres store for a single instance. Used in dev mode and tests.
type MemoryRepository struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*Session
	appointments map[uuid.UUID]*Appointment
	numbers      map[string]uuid.UUID
	audit        []AuditRecord

	// failInsert, when set, makes InsertAppointment fail. Tests use it to
	// exercise the reservation release path.
	failInsert error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:     make(map[uuid.UUID]*Session),
		appointments: make(map[uuid.UUID]*Appointment),
		numbers:      make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) overlapLocked(s *Session) error {
	all := make([]Session, 0, len(r.sessions))
	for _, existing := range r.sessions {
		all = append(all, *existing)
	}
	if ids := ConflictingSessions(all, ResourcePractitioner, s.PractitionerID, s.Window(), &s.ID); len(ids) > 0 {
		return &OverlappingSessionError{Resource: ResourcePractitioner, ResourceID: s.PractitionerID, Conflicting: ids}
	}
	if s.NurseID != nil {
		if ids := ConflictingSessions(all, ResourceNurse, *s.NurseID, s.Window(), &s.ID); len(ids) > 0 {
			return &OverlappingSessionError{Resource: ResourceNurse, ResourceID: *s.NurseID, Conflicting: ids}
		}
	}
	return nil
}

func (r *MemoryRepository) InsertSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Status != SessionCancelled {
		if err := r.overlapLocked(s); err != nil {
			return err
		}
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *MemoryRepository) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (r *MemoryRepository) ListSessions(_ context.Context, f SessionFilter) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, s := range r.sessions {
		if f.PractitionerID != nil && s.PractitionerID != *f.PractitionerID {
			continue
		}
		if f.HospitalID != nil && s.HospitalID != *f.HospitalID {
			continue
		}
		if len(f.Statuses) > 0 && !containsSessionStatus(f.Statuses, s.Status) {
			continue
		}
		if f.From != nil && s.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !s.StartTime.Before(*f.To) {
			continue
		}
		if f.EndsAfter != nil && !s.EndTime.After(*f.EndsAfter) {
			continue
		}
		if f.OnlyAvailable && s.BookedCount >= s.Capacity {
			continue
		}
		out = append(out, *copySession(s))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func (r *MemoryRepository) FindSessionsFor(_ context.Context, q ResourceQuery) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, s := range r.sessions {
		if s.Status == SessionCancelled {
			continue
		}
		if q.ExcludeID != nil && s.ID == *q.ExcludeID {
			continue
		}
		byPractitioner := q.PractitionerID != nil && s.PractitionerID == *q.PractitionerID
		byNurse := q.NurseID != nil && s.NurseID != nil && *s.NurseID == *q.NurseID
		if !byPractitioner && !byNurse {
			continue
		}
		if s.Window().Overlaps(q.Window) {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateSession(_ context.Context, id uuid.UUID, patch SessionPatch) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Status.Closed() {
		return nil, ErrSessionClosed
	}

	next := patch.Apply(*copySession(s))
	if next.Capacity < s.BookedCount {
		return nil, &CapacityBelowBookedError{SessionID: id, Requested: next.Capacity, Booked: s.BookedCount}
	}
	if patch.ReschedulesOverlap() {
		if err := r.overlapLocked(&next); err != nil {
			return nil, err
		}
	}
	next.UpdatedAt = time.Now().UTC()
	r.sessions[id] = &next
	return copySession(&next), nil
}

func (r *MemoryRepository) SetSessionStatus(_ context.Context, id uuid.UUID, from, to SessionStatus) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Status != from {
		return nil, ErrStaleState
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), nil
}

func (r *MemoryRepository) CancelSessionCascade(_ context.Context, id uuid.UUID, at time.Time) (*Session, []Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if s.Status.Closed() {
		return nil, nil, ErrSessionClosed
	}
	s.Status = SessionCancelled
	s.UpdatedAt = at

	var moved []Appointment
	for _, a := range r.appointments {
		if a.SessionID != id {
			continue
		}
		if a.Status != StatusWaiting && a.Status != StatusConfirmed {
			continue
		}
		a.Status = StatusRescheduled
		a.UpdatedAt = at
		moved = append(moved, *copyAppointment(a))
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i].QueuePosition < moved[j].QueuePosition })
	return copySession(s), moved, nil
}

func (r *MemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.BookedCount > 0 {
		return ErrSessionHasBookings
	}
	for _, a := range r.appointments {
		if a.SessionID == id {
			return ErrSessionHasBookings
		}
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) ReserveSlot(_ context.Context, sessionID uuid.UUID, now time.Time) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := reservationBlocker(s, now); err != nil {
		return nil, err
	}

	s.BookedCount++
	s.LastQueuePosition++
	s.UpdatedAt = now
	return &Reservation{Session: copySession(s), QueuePosition: s.LastQueuePosition}, nil
}

func (r *MemoryRepository) ReleaseSlot(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.BookedCount > 0 {
		s.BookedCount--
	}
	return nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failInsert != nil {
		return r.failInsert
	}
	s, ok := r.sessions[a.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status.Closed() {
		return &SessionNotAcceptingError{SessionID: s.ID, Status: s.Status}
	}
	if _, dup := r.numbers[a.AppointmentNumber]; dup {
		return ErrStaleState
	}
	r.appointments[a.ID] = copyAppointment(a)
	r.numbers[a.AppointmentNumber] = a.ID
	return nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(a), nil
}

func (r *MemoryRepository) GetAppointmentByNumber(_ context.Context, number string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.numbers[number]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(r.appointments[id]), nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if f.SessionID != nil && a.SessionID != *f.SessionID {
			continue
		}
		if f.PatientEmail != "" && a.Patient.Email != f.PatientEmail {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, *copyAppointment(a))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SessionID != b.SessionID {
			sa, sb := r.sessions[a.SessionID], r.sessions[b.SessionID]
			if sa != nil && sb != nil && !sa.StartTime.Equal(sb.StartTime) {
				return sa.StartTime.Before(sb.StartTime)
			}
			return a.SessionID.String() < b.SessionID.String()
		}
		return a.QueuePosition < b.QueuePosition
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func (r *MemoryRepository) CountAhead(_ context.Context, sessionID uuid.UUID, queuePosition int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.appointments {
		if a.SessionID != sessionID || a.QueuePosition >= queuePosition {
			continue
		}
		if a.Status == StatusWaiting || a.Status == StatusCalled {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) TransitionAppointment(_ context.Context, c StatusChange) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[c.AppointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != c.From {
		return nil, ErrStaleState
	}

	if c.ReleaseSlot {
		if s, ok := r.sessions[a.SessionID]; ok && s.BookedCount > 0 {
			s.BookedCount--
			s.UpdatedAt = c.At
		}
	}

	a.Status = c.To
	if c.Payment != nil {
		a.PaymentStatus = *c.Payment
	}
	if c.To == StatusCancelled {
		at := c.At
		a.CancellationDate = &at
		a.CancellationReason = c.Reason
	}
	if c.To == StatusCalled {
		at := c.At
		a.CalledAt = &at
	}
	a.UpdatedAt = c.At
	return copyAppointment(a), nil
}

func (r *MemoryRepository) SetPaymentStatus(_ context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.PaymentStatus != from {
		return nil, ErrStaleState
	}
	a.PaymentStatus = to
	a.UpdatedAt = time.Now().UTC()
	return copyAppointment(a), nil
}

func (r *MemoryRepository) CallNext(_ context.Context, sessionID uuid.UUID, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *Appointment
	for _, a := range r.appointments {
		if a.SessionID != sessionID || a.Status != StatusWaiting {
			continue
		}
		if next == nil || a.QueuePosition < next.QueuePosition {
			next = a
		}
	}
	if next == nil {
		return nil, ErrNoWaitingAppointments
	}
	next.Status = StatusCalled
	next.CalledAt = &at
	next.UpdatedAt = at
	return copyAppointment(next), nil
}

func (r *MemoryRepository) FindPaymentOverdue(_ context.Context, bookedBefore time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusWaiting && a.Status != StatusConfirmed {
			continue
		}
		if a.PaymentStatus != PaymentPending && a.PaymentStatus != PaymentFailed {
			continue
		}
		if a.CreatedAt.Before(bookedBefore) {
			out = append(out, *copyAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

func (r *MemoryRepository) FindUnpaidBefore(_ context.Context, updatedBefore time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusUnpaid && a.UpdatedAt.Before(updatedBefore) {
			out = append(out, *copyAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return paginate(out, limit, 0), nil
}

// Record keeps audit records in memory so tests can inspect them.
func (r *MemoryRepository) Record(_ context.Context, rec AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, rec)
	return nil
}

func (r *MemoryRepository) AuditRecords() []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditRecord, len(r.audit))
	copy(out, r.audit)
	return out
}

// reservationBlocker explains why a session cannot take one more booking
// at now, or returns nil if it can.
func reservationBlocker(s *Session, now time.Time) error {
	if !s.Status.AcceptsAdmissions() {
		return &SessionNotAcceptingError{SessionID: s.ID, Status: s.Status}
	}
	if !s.EndTime.After(now) {
		return ErrSessionInPast
	}
	if s.BookedCount >= s.Capacity {
		return &CapacityExceededError{SessionID: s.ID, Capacity: s.Capacity, Booked: s.BookedCount}
	}
	return nil
}

func containsSessionStatus(list []SessionStatus, s SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
