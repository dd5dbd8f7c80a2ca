package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, key string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a valid UUID")
		return nil, false
	}
	return &id, true
}

func queryPage(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	for key, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a non-negative integer")
			return 0, 0, false
		}
		*dst = n
	}
	return limit, offset, true
}

func createSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.PractitionerID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id is required")
			return
		}

		s, err := svc.Sessions.CreateSession(r.Context(), appointment.CreateSessionInput{
			PractitionerID: req.PractitionerID,
			NurseID:        req.NurseID,
			HospitalID:     req.HospitalID,
			Location:       req.Location,
			Window:         appointment.Window{Start: req.StartTime, End: req.EndTime},
			Capacity:       req.Capacity,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSessionResponse(s))
	}
}

// listSessionsHandler serves both the plain listing and the bookable view
// (available=true). date is a calendar day, YYYY-MM-DD in UTC.
func listSessionsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		practitionerID, ok := queryUUID(w, r, "practitioner_id")
		if !ok {
			return
		}
		hospitalID, ok := queryUUID(w, r, "hospital_id")
		if !ok {
			return
		}
		limit, offset, ok := queryPage(w, r)
		if !ok {
			return
		}

		var day *time.Time
		if raw := q.Get("date"); raw != "" {
			d, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			day = &d
		}

		var (
			sessions []appointment.Session
			err      error
		)
		if q.Get("available") == "true" {
			sessions, err = svc.Sessions.ListAvailable(r.Context(), appointment.AvailabilityQuery{
				PractitionerID: practitionerID,
				HospitalID:     hospitalID,
				Day:            day,
				Limit:          limit,
				Offset:         offset,
			})
		} else {
			f := appointment.SessionFilter{
				PractitionerID: practitionerID,
				HospitalID:     hospitalID,
				Limit:          limit,
				Offset:         offset,
			}
			if day != nil {
				to := day.AddDate(0, 0, 1)
				f.From, f.To = day, &to
			}
			if raw := q.Get("status"); raw != "" {
				for _, s := range strings.Split(raw, ",") {
					st := appointment.SessionStatus(strings.TrimSpace(s))
					if !st.Valid() {
						writeError(w, http.StatusBadRequest, "invalid_status", "unknown session status "+string(st))
						return
					}
					f.Statuses = append(f.Statuses, st)
				}
			}
			sessions, err = svc.Sessions.ListSessions(r.Context(), f)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponses(sessions))
	}
}

func getSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		s, err := svc.Sessions.GetSession(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(s))
	}
}

func updateSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req UpdateSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		s, err := svc.Sessions.UpdateSession(r.Context(), id, req.patch())
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(s))
	}
}

func setSessionStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req SessionStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		to := appointment.SessionStatus(req.Status)
		if !to.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown session status "+req.Status)
			return
		}
		if to == appointment.SessionCancelled {
			writeError(w, http.StatusBadRequest, "invalid_status", "use POST /sessions/{id}/cancel to cancel a session")
			return
		}

		s, err := svc.Sessions.SetStatus(r.Context(), id, to)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(s))
	}
}

func cancelSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		s, moved, err := svc.Sessions.CancelSession(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelSessionResponse{
			Session:     toSessionResponse(s),
			Rescheduled: toAppointmentResponses(moved),
		})
	}
}

func deleteSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := svc.Sessions.DeleteSession(r.Context(), id); err != nil {
			handleError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
