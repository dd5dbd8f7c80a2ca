package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-session-scheduling/internal/clock"
)

// Settings are the tunables the core reads from configuration.
type Settings struct {
	DefaultCapacity int
	BookingFee      decimal.Decimal
	AdmitMaxRetries int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultCapacity: 20,
		BookingFee:      decimal.Zero,
		AdmitMaxRetries: 3,
	}
}

type Option func(*deps)

type deps struct {
	clock    clock.Clock
	notifier Notifier
	auditor  Auditor
	rates    RateLookup
	log      zerolog.Logger
}

func WithClock(c clock.Clock) Option {
	return func(d *deps) { d.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(d *deps) { d.notifier = n }
}

func WithAuditor(a Auditor) Option {
	return func(d *deps) { d.auditor = a }
}

func WithRates(r RateLookup) Option {
	return func(d *deps) { d.rates = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *deps) { d.log = l }
}

// Service bundles the three core components over one store.
type Service struct {
	Sessions     *SessionManager
	Admission    *AdmissionController
	Appointments *Lifecycle
}

func NewService(repo Repository, settings Settings, opts ...Option) *Service {
	d := deps{
		clock:    clock.System(),
		notifier: nopNotifier{},
		auditor:  nopAuditor{},
		rates:    StaticRates{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	if settings.DefaultCapacity < 1 {
		settings.DefaultCapacity = DefaultSettings().DefaultCapacity
	}
	if settings.AdmitMaxRetries < 0 {
		settings.AdmitMaxRetries = 0
	}

	fx := &effects{notifier: d.notifier, auditor: d.auditor, clock: d.clock, log: d.log}

	return &Service{
		Sessions: &SessionManager{
			repo:      repo,
			validator: NewOverlapValidator(repo),
			fx:        fx,
			capacity:  settings.DefaultCapacity,
		},
		Admission: &AdmissionController{
			repo:       repo,
			rates:      d.rates,
			fx:         fx,
			bookingFee: settings.BookingFee,
			maxRetries: settings.AdmitMaxRetries,
		},
		Appointments: &Lifecycle{
			repo: repo,
			fx:   fx,
		},
	}
}

// effects delivers notifications and audit records. Failures are logged
// and never returned to the caller.
type effects struct {
	notifier Notifier
	auditor  Auditor
	clock    clock.Clock
	log      zerolog.Logger
}

func (e *effects) now() time.Time {
	return e.clock.Now()
}

func (e *effects) notify(ctx context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now()
	}

	if err := e.notifier.Send(context.WithoutCancel(ctx), ev); err != nil {
		e.log.Warn().Err(err).
			Str("event_type", string(ev.Type)).
			Str("session_id", ev.SessionID.String()).
			Msg("failed to enqueue notification")
	}
}

func (e *effects) audit(ctx context.Context, kind EntityType, id uuid.UUID, action string, before, after any) {
	rec := AuditRecord{
		EntityType: kind,
		EntityID:   id,
		ActorID:    ActorFromContext(ctx),
		Action:     action,
		Before:     snapshot(before),
		After:      snapshot(after),
		At:         e.now(),
	}

	if err := e.auditor.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Warn().Err(err).
			Str("entity_type", string(kind)).
			Str("entity_id", id.String()).
			Str("action", action).
			Msg("failed to record audit entry")
	}
}

// snapshot detaches audit payloads from values the caller keeps using.
func snapshot(v any) any {
	switch x := v.(type) {
	case *Appointment:
		if x == nil {
			return nil
		}
		return *copyAppointment(x)
	case Appointment:
		return *copyAppointment(&x)
	case *Session:
		if x == nil {
			return nil
		}
		return *copySession(x)
	}
	return v
}

func appointmentEvent(t EventType, a *Appointment, payload map[string]any) Event {
	id := a.ID
	return Event{
		Type:              t,
		SessionID:         a.SessionID,
		AppointmentID:     &id,
		AppointmentNumber: a.AppointmentNumber,
		PatientName:       a.Patient.Name,
		PatientEmail:      a.Patient.Email,
		Payload:           payload,
	}
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, Event) error { return nil }

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditRecord) error { return nil }

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
