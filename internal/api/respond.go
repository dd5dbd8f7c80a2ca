package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// errorMappings is checked in order. An empty message falls back to the
// error text.
var errorMappings = []errorMapping{
	{appointment.ErrInvalidWindow, http.StatusBadRequest, "invalid_window", ""},
	{appointment.ErrInvalidCapacity, http.StatusBadRequest, "invalid_capacity", ""},
	{appointment.ErrInvalidBookingType, http.StatusBadRequest, "invalid_booking_type", ""},
	{appointment.ErrPatientNameRequired, http.StatusBadRequest, "patient_name_required", ""},

	{appointment.ErrSessionNotFound, http.StatusNotFound, "session_not_found", ""},
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found", ""},
	{appointment.ErrPractitionerNotFound, http.StatusNotFound, "practitioner_not_found", ""},
	{appointment.ErrNoWaitingAppointments, http.StatusNotFound, "queue_empty", ""},

	{appointment.ErrOverlappingSession, http.StatusConflict, "overlapping_session", "practitioner/nurse already has a session in that window"},
	{appointment.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded", "no slots available"},
	{appointment.ErrCapacityBelowBooked, http.StatusConflict, "capacity_below_booked", ""},
	{appointment.ErrSessionHasBookings, http.StatusConflict, "session_has_bookings", ""},
	{appointment.ErrStaleState, http.StatusConflict, "concurrent_update", "the record changed while processing, please retry"},

	{appointment.ErrSessionNotAccepting, http.StatusUnprocessableEntity, "session_not_accepting", ""},
	{appointment.ErrSessionInPast, http.StatusUnprocessableEntity, "session_in_past", ""},
	{appointment.ErrSessionClosed, http.StatusUnprocessableEntity, "session_closed", ""},
	{appointment.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_status_transition", ""},
}

// handleError maps core errors onto HTTP responses. Anything unrecognised
// is logged and reported as a 500 without leaking its text.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := ErrorResponse{Error: m.code, Message: m.message, Details: err.Error(), Context: errorContext(err)}
		if resp.Message == "" {
			resp.Message = userMessage(err)
		}
		if resp.Message == resp.Details {
			resp.Details = ""
		}
		writeJSON(w, m.status, resp)
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Msg("unhandled error")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func errorContext(err error) map[string]any {
	var (
		overlap    *appointment.OverlappingSessionError
		full       *appointment.CapacityExceededError
		below      *appointment.CapacityBelowBookedError
		accepting  *appointment.SessionNotAcceptingError
		transition *appointment.InvalidTransitionError
	)

	switch {
	case errors.As(err, &overlap):
		return map[string]any{
			"resource":             overlap.Resource,
			"resource_id":          overlap.ResourceID,
			"conflicting_sessions": overlap.Conflicting,
		}
	case errors.As(err, &full):
		return map[string]any{"session_id": full.SessionID, "capacity": full.Capacity, "booked_count": full.Booked, "available_slots": 0}
	case errors.As(err, &below):
		return map[string]any{"session_id": below.SessionID, "requested": below.Requested, "booked_count": below.Booked}
	case errors.As(err, &accepting):
		return map[string]any{"session_id": accepting.SessionID, "status": accepting.Status}
	case errors.As(err, &transition):
		return map[string]any{"machine": transition.Machine, "from": transition.From, "to": transition.To}
	}
	return nil
}

func userMessage(err error) string {
	var transition *appointment.InvalidTransitionError
	if errors.As(err, &transition) && transition.Machine == "visit" {
		return appointment.ErrInvalidTransition.Error()
	}
	return err.Error()
}
