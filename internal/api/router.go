package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	Checks  []Check
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(ActorMiddleware)

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(svc))
		r.Get("/", listSessionsHandler(svc))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getSessionHandler(svc))
			r.Patch("/", updateSessionHandler(svc))
			r.Delete("/", deleteSessionHandler(svc))
			r.Post("/status", setSessionStatusHandler(svc))
			r.Post("/cancel", cancelSessionHandler(svc))

			r.Post("/appointments", admitHandler(svc))
			r.Get("/appointments", listSessionAppointmentsHandler(svc))
			r.Post("/call-next", callNextHandler(svc))
		})
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/by-number/{number}", getAppointmentByNumberHandler(svc))
		r.Get("/{id}", queueStatusHandler(svc))
		r.Post("/{id}/status", setAppointmentStatusHandler(svc))
		r.Post("/{id}/payment-status", setPaymentStatusHandler(svc))
		r.Post("/{id}/complete", completeAppointmentHandler(svc))
	})

	return r
}
