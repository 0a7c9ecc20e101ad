// Package server exposes the conversation engine over HTTP: JSON APIs for
// chat management, SSE for generation streaming and WebSocket for viewer
// synchronization.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tfreechat/tfreechat-go/internal/chat"
	"github.com/tfreechat/tfreechat-go/internal/metrics"
)

// Server holds the HTTP surface's dependencies.
type Server struct {
	svc      *chat.Service
	verifier TokenVerifier
	logger   *slog.Logger
	metrics  *metrics.Collector

	// filesDir is served under /files when non-empty.
	filesDir string
}

// New creates the server. metrics and filesDir are optional.
func New(svc *chat.Service, verifier TokenVerifier, log *slog.Logger, mc *metrics.Collector, filesDir string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc:      svc,
		verifier: verifier,
		logger:   log,
		metrics:  mc,
		filesDir: filesDir,
	}
}

// Handler builds the routed handler with logging middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ai/text", s.authed(s.handleText))
	mux.HandleFunc("POST /api/ai/image", s.authed(s.handleImage))

	mux.HandleFunc("GET /api/chats", s.authed(s.handleListChats))
	mux.HandleFunc("GET /api/chats/{id}", s.maybeAuthed(s.handleGetChat))
	mux.HandleFunc("DELETE /api/chats/{id}", s.authed(s.handleDeleteChat))
	mux.HandleFunc("PATCH /api/chats/{id}/public", s.authed(s.handleSetPublic))
	mux.HandleFunc("GET /api/chats/{id}/subscribe", s.maybeAuthed(s.handleSubscribe))

	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	if s.filesDir != "" {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(s.filesDir))))
	}

	return LoggingMiddleware(s.logger, mux)
}

// HTTPServer wraps the handler in an http.Server with timeouts tuned for
// long-lived generation streams.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: SSE and WebSocket connections stay open as long
		// as a generation or viewer session lasts.
		IdleTimeout: 120 * time.Second,
	}
}

// authed verifies the bearer credential and passes the user id through.
func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next(w, r, user)
	}
}

// maybeAuthed resolves the credential when one is presented and lets the
// request through anonymously otherwise. Read routes use it so public
// link sharing works: the engine decides per chat whether an anonymous
// reader may see it.
func (s *Server) maybeAuthed(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			user = ""
		}
		next(w, r, user)
	}
}
