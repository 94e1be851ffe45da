// Package router assembles the HTTP surface of the appointment service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/varaprasadreddy9676/patient-care-sub000/internal/appointment"
	httpmiddleware "github.com/varaprasadreddy9676/patient-care-sub000/internal/http/middleware"
	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	AppointmentHandler *appointment.Handler
	PatientJWTSecret   string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.AppointmentHandler != nil {
		r.Group(func(protected chi.Router) {
			protected.Use(httpmiddleware.PatientJWT(cfg.PatientJWTSecret))
			cfg.AppointmentHandler.Routes(protected)
		})
	}

	return r
}
