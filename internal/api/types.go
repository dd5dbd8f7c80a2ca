package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

type CreateSessionRequest struct {
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	NurseID        *uuid.UUID `json:"nurse_id,omitempty"`
	HospitalID     uuid.UUID  `json:"hospital_id"`
	Location       string     `json:"location"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Capacity       *int       `json:"capacity,omitempty"`
}

type UpdateSessionRequest struct {
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty"`
	NurseID        *uuid.UUID `json:"nurse_id,omitempty"`
	HospitalID     *uuid.UUID `json:"hospital_id,omitempty"`
	Location       *string    `json:"location,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Capacity       *int       `json:"capacity,omitempty"`
}

func (r UpdateSessionRequest) patch() appointment.SessionPatch {
	return appointment.SessionPatch{
		PractitionerID: r.PractitionerID,
		NurseID:        r.NurseID,
		HospitalID:     r.HospitalID,
		Location:       r.Location,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Capacity:       r.Capacity,
	}
}

type SessionStatusRequest struct {
	Status string `json:"status"`
}

type AdmitRequest struct {
	Patient      appointment.Patient `json:"patient"`
	IsNewPatient bool                `json:"is_new_patient"`
	BookingType  string              `json:"booking_type"`
	Notes        string              `json:"notes,omitempty"`
}

type AppointmentStatusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

type PaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type SessionResponse struct {
	ID                uuid.UUID  `json:"id"`
	PractitionerID    uuid.UUID  `json:"practitioner_id"`
	NurseID           *uuid.UUID `json:"nurse_id,omitempty"`
	HospitalID        uuid.UUID  `json:"hospital_id"`
	Location          string     `json:"location"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	Capacity          int        `json:"capacity"`
	BookedCount       int        `json:"booked_count"`
	AvailableSlots    int        `json:"available_slots"`
	LastQueuePosition int        `json:"last_queue_position"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toSessionResponse(s *appointment.Session) SessionResponse {
	return SessionResponse{
		ID:                s.ID,
		PractitionerID:    s.PractitionerID,
		NurseID:           s.NurseID,
		HospitalID:        s.HospitalID,
		Location:          s.Location,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		Capacity:          s.Capacity,
		BookedCount:       s.BookedCount,
		AvailableSlots:    s.AvailableSlots(),
		LastQueuePosition: s.LastQueuePosition,
		Status:            string(s.Status),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toSessionResponses(list []appointment.Session) []SessionResponse {
	out := make([]SessionResponse, len(list))
	for i := range list {
		out[i] = toSessionResponse(&list[i])
	}
	return out
}

// AppointmentResponse renders money as decimal strings.
type AppointmentResponse struct {
	ID                 uuid.UUID           `json:"id"`
	AppointmentNumber  string              `json:"appointment_number"`
	SessionID          uuid.UUID           `json:"session_id"`
	Patient            appointment.Patient `json:"patient"`
	IsNewPatient       bool                `json:"is_new_patient"`
	BookingType        string              `json:"booking_type"`
	Notes              string              `json:"notes,omitempty"`
	Status             string              `json:"status"`
	PaymentStatus      string              `json:"payment_status"`
	QueuePosition      int                 `json:"queue_position"`
	ConsultationFee    decimal.Decimal     `json:"consultation_fee"`
	TotalAmount        decimal.Decimal     `json:"total_amount"`
	CancellationReason *string             `json:"cancellation_reason,omitempty"`
	CancellationDate   *time.Time          `json:"cancellation_date,omitempty"`
	CalledAt           *time.Time          `json:"called_at,omitempty"`
	BookedBy           string              `json:"booked_by"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		AppointmentNumber:  a.AppointmentNumber,
		SessionID:          a.SessionID,
		Patient:            a.Patient,
		IsNewPatient:       a.IsNewPatient,
		BookingType:        string(a.BookingType),
		Notes:              a.Notes,
		Status:             string(a.Status),
		PaymentStatus:      string(a.PaymentStatus),
		QueuePosition:      a.QueuePosition,
		ConsultationFee:    a.ConsultationFee,
		TotalAmount:        a.TotalAmount,
		CancellationReason: a.CancellationReason,
		CancellationDate:   a.CancellationDate,
		CalledAt:           a.CalledAt,
		BookedBy:           a.BookedBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toAppointmentResponses(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(list))
	for i := range list {
		out[i] = toAppointmentResponse(&list[i])
	}
	return out
}

type AdmissionResponse struct {
	Appointment   AppointmentResponse `json:"appointment"`
	QueuePosition int                 `json:"queue_position"`
	Session       SessionResponse     `json:"session"`
}

type CancelSessionResponse struct {
	Session     SessionResponse       `json:"session"`
	Rescheduled []AppointmentResponse `json:"rescheduled"`
}

type QueueStatusResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Ahead       int                 `json:"ahead"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details string         `json:"details,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}
