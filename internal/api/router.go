package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP router with every endpoint.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	api := r.PathPrefix("/api/v1").Subrouter()

	// System
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")
	api.HandleFunc("/state", h.GetState).Methods("GET")
	api.HandleFunc("/record", h.GetRecord).Methods("GET")

	// Session
	api.HandleFunc("/start", h.StartSession).Methods("POST")
	api.HandleFunc("/advance", h.Advance).Methods("POST")
	api.HandleFunc("/checkpoints/{name}", h.RecordCheckpoint).Methods("POST")
	api.HandleFunc("/finish", h.Finish).Methods("POST")

	// Math task
	api.HandleFunc("/math/start", h.StartMathTask).Methods("POST")
	api.HandleFunc("/math/questions", h.RecordMathQuestion).Methods("POST")
	api.HandleFunc("/math/end", h.EndMathTask).Methods("POST")

	// Speech task
	api.HandleFunc("/speech/start", h.StartSpeechTask).Methods("POST")
	api.HandleFunc("/speech/feedback", h.RecordSpeechFeedback).Methods("POST")
	api.HandleFunc("/speech/end", h.EndSpeechTask).Methods("POST")
	api.HandleFunc("/speech/analysis", h.SetSpeechAnalysis).Methods("POST")

	// Self reports
	api.HandleFunc("/vas/{timepoint}", h.SubmitVAS).Methods("POST")
	api.HandleFunc("/panas/{timepoint}", h.SubmitPANAS).Methods("POST")

	// Participant
	api.HandleFunc("/participant/demographics", h.SetDemographics).Methods("POST")
	api.HandleFunc("/participant/prior-participation", h.SetPriorParticipation).Methods("POST")

	// Video uploads
	api.HandleFunc("/videos", h.RegisterVideo).Methods("POST")
	api.HandleFunc("/videos/{token}/complete", h.CompleteVideo).Methods("POST")

	// Abort dialog
	api.HandleFunc("/abort/open", h.OpenAbort).Methods("POST")
	api.HandleFunc("/abort/close", h.CloseAbort).Methods("POST")
	api.HandleFunc("/abort/toggle", h.ToggleAbort).Methods("POST")

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Accept-Language"},
	})

	return c.Handler(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
