package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

// LogSink writes notifications and audit records to the log. It stands in
// for the email service when Redis is not configured, and mirrors the audit
// trail into the log stream.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "sink").Logger()}
}

func (s *LogSink) Send(_ context.Context, ev appointment.Event) error {
	e := s.log.Info().
		Str("event_id", ev.ID.String()).
		Str("event_type", string(ev.Type)).
		Str("session_id", ev.SessionID.String())
	if ev.AppointmentID != nil {
		e = e.Str("appointment_id", ev.AppointmentID.String()).
			Str("appointment_number", ev.AppointmentNumber)
	}
	e.Msg("notification")
	return nil
}

func (s *LogSink) Record(_ context.Context, rec appointment.AuditRecord) error {
	s.log.Info().
		Str("entity_type", string(rec.EntityType)).
		Str("entity_id", rec.EntityID.String()).
		Str("actor_id", rec.ActorID).
		Str("action", rec.Action).
		Time("at", rec.At).
		Msg("audit")
	return nil
}

// FanoutNotifier sends each event to every notifier and joins their errors.
type FanoutNotifier []appointment.Notifier

func (f FanoutNotifier) Send(ctx context.Context, ev appointment.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FanoutAuditor records into every auditor and joins their errors.
type FanoutAuditor []appointment.Auditor

func (f FanoutAuditor) Record(ctx context.Context, rec appointment.AuditRecord) error {
	var errs []error
	for _, a := range f {
		if err := a.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
