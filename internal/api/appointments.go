package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

func admitHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathID(w, r)
		if !ok {
			return
		}
		var req AdmitRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		adm, err := svc.Admission.Admit(r.Context(), sessionID, appointment.AdmitRequest{
			Patient:      req.Patient,
			IsNewPatient: req.IsNewPatient,
			BookingType:  appointment.BookingType(req.BookingType),
			Notes:        req.Notes,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, AdmissionResponse{
			Appointment:   toAppointmentResponse(adm.Appointment),
			QueuePosition: adm.QueuePosition,
			Session:       toSessionResponse(adm.Session),
		})
	}
}

func listSessionAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathID(w, r)
		if !ok {
			return
		}
		limit, offset, ok := queryPage(w, r)
		if !ok {
			return
		}

		f := appointment.AppointmentFilter{
			SessionID:    &sessionID,
			PatientEmail: r.URL.Query().Get("email"),
			Limit:        limit,
			Offset:       offset,
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := appointment.Status(raw)
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status "+raw)
				return
			}
			f.Status = &st
		}

		list, err := svc.Appointments.ListAppointments(r.Context(), f)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(list))
	}
}

func callNextHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pathID(w, r)
		if !ok {
			return
		}

		a, err := svc.Appointments.CallNext(r.Context(), sessionID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func queueStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		qs, err := svc.Appointments.QueueStatus(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueStatusResponse{
			Appointment: toAppointmentResponse(qs.Appointment),
			Ahead:       qs.Ahead,
		})
	}
}

func getAppointmentByNumberHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Appointments.GetByNumber(r.Context(), chi.URLParam(r, "number"))
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func setAppointmentStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req AppointmentStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		a, err := svc.Appointments.SetStatus(r.Context(), id, appointment.Status(req.Status), req.Reason)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func setPaymentStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req PaymentStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		a, err := svc.Appointments.SetPaymentStatus(r.Context(), id, appointment.PaymentStatus(req.PaymentStatus))
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		a, err := svc.Appointments.CompleteAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}
