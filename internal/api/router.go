package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/manpreetbhatti/notecollab/backend/internal/auth"
	"github.com/manpreetbhatti/notecollab/backend/internal/ratelimit"
)

type RouterOptions struct {
	CORSAllow []string
	JWT       *auth.JWT

	// Per-IP request limiter, nil disables it
	Limiter *ratelimit.ClientLimiters
}

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(a *API, opts RouterOptions) http.Handler {
	r := mux.NewRouter()

	// WebSocket endpoints
	r.HandleFunc("/ws/notes/{noteId}/", a.ServeWs).Methods(http.MethodGet)
	r.HandleFunc("/ws/notes/{noteId}", a.ServeWs).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{noteId}", a.ServeWs).Methods(http.MethodGet)

	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{noteId}", a.GetRoomHandler).Methods(http.MethodGet)

	// Shared notes are reachable by token alone
	r.HandleFunc("/api/notes/share/{token}", a.GetSharedNoteHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/share/{token}", a.UpdateSharedNoteHandler).Methods(http.MethodPut)

	notes := r.PathPrefix("/api/notes").Subrouter()
	notes.Use(opts.JWT.Middleware)
	notes.HandleFunc("", a.ListNotesHandler).Methods(http.MethodGet)
	notes.HandleFunc("", a.CreateNoteHandler).Methods(http.MethodPost)
	notes.HandleFunc("/{id:[0-9]+}", a.GetNoteHandler).Methods(http.MethodGet)
	notes.HandleFunc("/{id:[0-9]+}", a.UpdateNoteHandler).Methods(http.MethodPut)
	notes.HandleFunc("/{id:[0-9]+}", a.DeleteNoteHandler).Methods(http.MethodDelete)
	notes.HandleFunc("/{id:[0-9]+}/share", a.ShareNoteHandler).Methods(http.MethodPost)

	var h http.Handler = r
	if opts.Limiter != nil {
		h = opts.Limiter.Middleware(h)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.CORSAllow,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}
