package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"

	constraintPractitionerOverlap = "sessions_practitioner_no_overlap"
	constraintNurseOverlap        = "sessions_nurse_no_overlap"
)

const sessionColumns = `id, practitioner_id, nurse_id, hospital_id, location, start_time, end_time,
	capacity, booked_count, last_queue_position, status, created_at, updated_at`

const appointmentColumns = `id, appointment_number, session_id, patient_name, patient_email, patient_phone,
	patient_details, is_new_patient, booking_type, notes, status, payment_status, queue_position,
	consultation_fee, total_amount, cancellation_reason, cancellation_date, called_at, booked_by,
	created_at, updated_at`

var psql = goqu.Dialect("postgres")

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanSession(row pgx.Row) (*Session, error) {
	var s Session

	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.NurseID,
		&s.HospitalID,
		&s.Location,
		&s.StartTime,
		&s.EndTime,
		&s.Capacity,
		&s.BookedCount,
		&s.LastQueuePosition,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var details []byte

	err := row.Scan(
		&a.ID,
		&a.AppointmentNumber,
		&a.SessionID,
		&a.Patient.Name,
		&a.Patient.Email,
		&a.Patient.Phone,
		&details,
		&a.IsNewPatient,
		&a.BookingType,
		&a.Notes,
		&a.Status,
		&a.PaymentStatus,
		&a.QueuePosition,
		&a.ConsultationFee,
		&a.TotalAmount,
		&a.CancellationReason,
		&a.CancellationDate,
		&a.CalledAt,
		&a.BookedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if len(details) > 0 {
		a.Patient.Details = json.RawMessage(details)
	}
	return &a, nil
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()

	var result []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// overlapFromConstraint turns an exclusion violation into the detailed error
// callers expect, listing whichever sessions now hold the window.
func (r *PgRepository) overlapFromConstraint(ctx context.Context, s *Session, constraint string) error {
	kind := ResourcePractitioner
	resourceID := s.PractitionerID
	q := ResourceQuery{PractitionerID: &s.PractitionerID, Window: s.Window(), ExcludeID: &s.ID}
	if constraint == constraintNurseOverlap && s.NurseID != nil {
		kind = ResourceNurse
		resourceID = *s.NurseID
		q = ResourceQuery{NurseID: s.NurseID, Window: s.Window(), ExcludeID: &s.ID}
	}

	candidates, err := r.FindSessionsFor(ctx, q)
	if err != nil {
		return fmt.Errorf("load overlapping sessions: %w", err)
	}
	return &OverlappingSessionError{
		Resource:    kind,
		ResourceID:  resourceID,
		Conflicting: ConflictingSessions(candidates, kind, resourceID, s.Window(), &s.ID),
	}
}

// Sessions

func (r *PgRepository) InsertSession(ctx context.Context, s *Session) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, practitioner_id, nurse_id, hospital_id, location, start_time, end_time,
		                      capacity, booked_count, last_queue_position, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9, $10, $10)
		RETURNING `+sessionColumns,
		s.ID, s.PractitionerID, s.NurseID, s.HospitalID, s.Location, s.StartTime, s.EndTime,
		s.Capacity, s.Status, s.CreatedAt)

	created, err := scanSession(row)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgExclusionViolation {
			return r.overlapFromConstraint(ctx, s, constraint)
		}
		return fmt.Errorf("insert session: %w", err)
	}

	*s = *created
	return nil
}

func (r *PgRepository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *PgRepository) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	ds := psql.From("sessions").Select(goqu.L(sessionColumns))

	if f.PractitionerID != nil {
		ds = ds.Where(goqu.Ex{"practitioner_id": f.PractitionerID.String()})
	}
	if f.HospitalID != nil {
		ds = ds.Where(goqu.Ex{"hospital_id": f.HospitalID.String()})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		ds = ds.Where(goqu.Ex{"status": statuses})
	}
	if f.From != nil {
		ds = ds.Where(goqu.I("start_time").Gte(*f.From))
	}
	if f.To != nil {
		ds = ds.Where(goqu.I("start_time").Lt(*f.To))
	}
	if f.EndsAfter != nil {
		ds = ds.Where(goqu.I("end_time").Gt(*f.EndsAfter))
	}
	if f.OnlyAvailable {
		ds = ds.Where(goqu.L("booked_count < capacity"))
	}
	ds = ds.Order(goqu.I("start_time").Asc(), goqu.I("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build session query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *PgRepository) FindSessionsFor(ctx context.Context, q ResourceQuery) ([]Session, error) {
	var exclude *uuid.UUID
	if q.ExcludeID != nil {
		exclude = q.ExcludeID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status <> 'cancelled'
		  AND (($1::uuid IS NOT NULL AND practitioner_id = $1) OR ($2::uuid IS NOT NULL AND nurse_id = $2))
		  AND start_time < $4
		  AND end_time > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_time
	`, q.PractitionerID, q.NurseID, q.Window.Start, q.Window.End, exclude)
	if err != nil {
		return nil, fmt.Errorf("find sessions for resource: %w", err)
	}
	return collectSessions(rows)
}

func (r *PgRepository) UpdateSession(ctx context.Context, id uuid.UUID, patch SessionPatch) (*Session, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update session: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if current.Status.Closed() {
		return nil, ErrSessionClosed
	}

	next := patch.Apply(*current)
	if next.Capacity < current.BookedCount {
		return nil, &CapacityBelowBookedError{SessionID: id, Requested: next.Capacity, Booked: current.BookedCount}
	}

	updated, err := scanSession(tx.QueryRow(ctx, `
		UPDATE sessions
		SET practitioner_id = $2,
		    nurse_id = $3,
		    hospital_id = $4,
		    location = $5,
		    start_time = $6,
		    end_time = $7,
		    capacity = $8,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count <= $8
		RETURNING `+sessionColumns,
		id, next.PractitionerID, next.NurseID, next.HospitalID, next.Location, next.StartTime, next.EndTime, next.Capacity))
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgExclusionViolation {
			_ = tx.Rollback(ctx)
			return nil, r.overlapFromConstraint(ctx, &next, constraint)
		}
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update session: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) SetSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+sessionColumns,
		id, to, from)

	s, err := scanSession(row)
	if errors.Is(err, ErrSessionNotFound) {
		if _, getErr := r.GetSession(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleState
	}
	return s, err
}

func (r *PgRepository) CancelSessionCascade(ctx context.Context, id uuid.UUID, at time.Time) (*Session, []Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin cancel session: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, `
		UPDATE sessions
		SET status = 'cancelled',
		    updated_at = $2
		WHERE id = $1
		  AND status NOT IN ('ended', 'cancelled')
		RETURNING `+sessionColumns,
		id, at))
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, nil, fmt.Errorf("cancel session: %w", err)
		}
		var exists bool
		if qErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); qErr != nil {
			return nil, nil, fmt.Errorf("check session: %w", qErr)
		}
		if exists {
			return nil, nil, ErrSessionClosed
		}
		return nil, nil, ErrSessionNotFound
	}

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'rescheduled',
		    updated_at = $2
		WHERE session_id = $1
		  AND status IN ('waiting', 'confirmed')
		RETURNING `+appointmentColumns,
		id, at)
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule appointments: %w", err)
	}
	moved, err := collectAppointments(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule appointments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit cancel session: %w", err)
	}

	sort.Slice(moved, func(i, j int) bool { return moved[i].QueuePosition < moved[j].QueuePosition })
	return s, moved, nil
}

func (r *PgRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions s
		WHERE s.id = $1
		  AND s.booked_count = 0
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.session_id = s.id)
	`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return ErrSessionHasBookings
}

// Admission

func (r *PgRepository) ReserveSlot(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Reservation, error) {
	// The row lock taken by UPDATE serialises concurrent reservations and the
	// predicate is re-checked against the latest row version once it is held.
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET booked_count = booked_count + 1,
		    last_queue_position = last_queue_position + 1,
		    updated_at = $2
		WHERE id = $1
		  AND status IN ('scheduled', 'ongoing')
		  AND end_time > $2
		  AND booked_count < capacity
		RETURNING `+sessionColumns,
		sessionID, now)

	s, err := scanSession(row)
	if err == nil {
		return &Reservation{Session: s, QueuePosition: s.LastQueuePosition}, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	current, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if blocker := reservationBlocker(current, now); blocker != nil {
		return nil, blocker
	}
	// A slot was freed between the update and the re-read.
	return nil, ErrStaleState
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET booked_count = booked_count - 1,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count > 0
	`, sessionID)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	var details []byte
	if len(a.Patient.Details) > 0 {
		details = a.Patient.Details
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin insert appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	// The share lock orders this insert against a concurrent cascade cancel,
	// which updates the session row before rescheduling its appointments.
	var status SessionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1 FOR SHARE`, a.SessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}
	if status.Closed() {
		return &SessionNotAcceptingError{SessionID: a.SessionID, Status: status}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, appointment_number, session_id, patient_name, patient_email, patient_phone,
		                          patient_details, is_new_patient, booking_type, notes, status, payment_status,
		                          queue_position, consultation_fee, total_amount, booked_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING `+appointmentColumns,
		a.ID, a.AppointmentNumber, a.SessionID, a.Patient.Name, a.Patient.Email, a.Patient.Phone,
		details, a.IsNewPatient, a.BookingType, a.Notes, a.Status, a.PaymentStatus,
		a.QueuePosition, a.ConsultationFee, a.TotalAmount, a.BookedBy, a.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return fmt.Errorf("insert appointment %s: %w", a.AppointmentNumber, ErrStaleState)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert appointment: %w", err)
	}

	*a = *created
	return nil
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByNumber(ctx context.Context, number string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_number = $1
	`, number)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	ds := psql.From("appointments").Select(goqu.L(appointmentColumns))

	if f.SessionID != nil {
		ds = ds.Where(goqu.Ex{"session_id": f.SessionID.String()})
	}
	if f.PatientEmail != "" {
		ds = ds.Where(goqu.Ex{"patient_email": f.PatientEmail})
	}
	if f.Status != nil {
		ds = ds.Where(goqu.Ex{"status": string(*f.Status)})
	}
	// Session start, then ticket order within a session.
	ds = ds.Order(
		goqu.L(`(SELECT s.start_time FROM sessions s WHERE s.id = appointments.session_id)`).Asc(),
		goqu.I("session_id").Asc(),
		goqu.I("queue_position").Asc(),
	)
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CountAhead(ctx context.Context, sessionID uuid.UUID, queuePosition int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE session_id = $1
		  AND queue_position < $2
		  AND status IN ('waiting', 'called')
	`, sessionID, queuePosition).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ahead: %w", err)
	}
	return n, nil
}

func (r *PgRepository) TransitionAppointment(ctx context.Context, c StatusChange) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var payment *string
	if c.Payment != nil {
		p := string(*c.Payment)
		payment = &p
	}

	a, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2::text,
		    payment_status = COALESCE($3::text, payment_status),
		    cancellation_reason = CASE WHEN $2::text = 'cancelled' THEN $4::text ELSE cancellation_reason END,
		    cancellation_date = CASE WHEN $2::text = 'cancelled' THEN $5::timestamptz ELSE cancellation_date END,
		    called_at = CASE WHEN $2::text = 'called' THEN $5::timestamptz ELSE called_at END,
		    updated_at = $5::timestamptz
		WHERE id = $1
		  AND status = $6::text
		RETURNING `+appointmentColumns,
		c.AppointmentID, string(c.To), payment, c.Reason, c.At, string(c.From)))
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("transition appointment: %w", err)
		}
		var exists bool
		if qErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, c.AppointmentID).Scan(&exists); qErr != nil {
			return nil, fmt.Errorf("check appointment: %w", qErr)
		}
		if exists {
			return nil, ErrStaleState
		}
		return nil, ErrAppointmentNotFound
	}

	if c.ReleaseSlot {
		_, err := tx.Exec(ctx, `
			UPDATE sessions
			SET booked_count = booked_count - 1,
			    updated_at = $2
			WHERE id = $1
			  AND booked_count > 0
		`, a.SessionID, c.At)
		if err != nil {
			return nil, fmt.Errorf("release slot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return a, nil
}

func (r *PgRepository) SetPaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		if _, getErr := r.GetAppointment(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleState
	}
	return a, err
}

func (r *PgRepository) CallNext(ctx context.Context, sessionID uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'called',
		    called_at = $2,
		    updated_at = $2
		WHERE status = 'waiting'
		  AND id = (
		    SELECT id
		    FROM appointments
		    WHERE session_id = $1
		      AND status = 'waiting'
		    ORDER BY queue_position
		    LIMIT 1
		    FOR UPDATE SKIP LOCKED
		  )
		RETURNING `+appointmentColumns,
		sessionID, at)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrNoWaitingAppointments
	}
	if err != nil {
		return nil, fmt.Errorf("call next: %w", err)
	}
	return a, nil
}

func (r *PgRepository) FindPaymentOverdue(ctx context.Context, bookedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('waiting', 'confirmed')
		  AND payment_status IN ('pending', 'failed')
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, bookedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find payment overdue: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindUnpaidBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'unpaid'
		  AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find unpaid: %w", err)
	}
	return collectAppointments(rows)
}

// Collaborators

// ConsultationFee reads the practitioner's current rate.
func (r *PgRepository) ConsultationFee(ctx context.Context, practitionerID uuid.UUID) (decimal.Decimal, error) {
	var fee decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT consultation_fee
		FROM practitioners
		WHERE id = $1
	`, practitionerID).Scan(&fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrPractitionerNotFound
		}
		return decimal.Zero, fmt.Errorf("load consultation fee: %w", err)
	}
	return fee, nil
}

// Record writes an audit entry.
func (r *PgRepository) Record(ctx context.Context, rec AuditRecord) error {
	before, err := marshalSnapshot(rec.Before)
	if err != nil {
		return fmt.Errorf("marshal audit before: %w", err)
	}
	after, err := marshalSnapshot(rec.After)
	if err != nil {
		return fmt.Errorf("marshal audit after: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, actor_id, action, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, rec.EntityType, rec.EntityID, rec.ActorID, rec.Action, before, after, nullableTime(rec.At))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

func marshalSnapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
