// Package api exposes the relay's HTTP surface: the dialer callback
// endpoints, the validated pass-through relay endpoints, and a small
// JWT-protected admin API for inspecting reconciliation state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"callrelay/internal/auth"
	"callrelay/internal/classifier"
	"callrelay/internal/config"
	"callrelay/internal/dedupe"
	"callrelay/internal/history"
	"callrelay/internal/monitor"
	"callrelay/internal/state"
	"callrelay/internal/upstream"
)

// Server is the REST API server.
type Server struct {
	cfg        *config.Config
	classifier *classifier.Classifier
	gate       *dedupe.Gate
	states     *state.Store
	repo       *history.Repository
	relay      *upstream.Client
	hub        *monitor.Hub
	auth       *auth.Authenticator
}

// NewServer wires the request pipeline together. repo and hub may be nil
// when the history database or monitoring is not configured.
func NewServer(cfg *config.Config, cls *classifier.Classifier, gate *dedupe.Gate,
	states *state.Store, repo *history.Repository, relay *upstream.Client, hub *monitor.Hub) *Server {
	return &Server{
		cfg:        cfg,
		classifier: cls,
		gate:       gate,
		states:     states,
		repo:       repo,
		relay:      relay,
		hub:        hub,
		auth:       auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenHours),
	}
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.API.Address()
	log.Printf("[API] Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler builds the full route tree, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Dialer-facing endpoints (no auth; the dialer platform cannot send
	// custom headers).
	mux.HandleFunc("/callback", s.handleCallback)
	mux.HandleFunc("/callback/start", s.handleCallStart)

	// Validated pass-through relays.
	mux.HandleFunc("/relay/callstart", s.relayHandler(relayCallStart))
	mux.HandleFunc("/relay/callend", s.relayHandler(relayCallEnd))
	mux.HandleFunc("/relay/notanswer", s.relayHandler(relayNotAnswer))

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/login", s.handleLogin)

	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	}

	// Protected admin routes.
	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("/api/v1/state", s.handleStateInspect)
	protectedMux.HandleFunc("/api/v1/state/clear", s.handleStateClear)
	protectedMux.HandleFunc("/api/v1/dedupe", s.handleDedupeInspect)
	protectedMux.HandleFunc("/api/v1/events", s.handleEvents)

	mainHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/login" || !strings.HasPrefix(r.URL.Path, "/api/v1/") {
			mux.ServeHTTP(w, r)
			return
		}
		s.auth.Middleware(protectedMux).ServeHTTP(w, r)
	})

	return s.corsMiddleware(mainHandler)
}

// corsMiddleware adds CORS headers when enabled and recovers panics.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.EnableCORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[API] PANIC RECOVERED: %v", rec)
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error": "Internal Server Error"}`)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports service and backing-store connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"env":    config.NormalizeEnv(s.cfg.Upstream.Env),
		"send":   s.relay.Enabled(),
	}

	if err := s.states.Ping(r.Context()); err != nil {
		status["redis"] = "error"
		status["status"] = "degraded"
	} else {
		status["redis"] = "ok"
	}

	if s.repo != nil {
		if err := s.repo.Ping(r.Context()); err != nil {
			status["database"] = "error"
			status["status"] = "degraded"
		} else {
			status["database"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// logEvent queues an event for the relay event log; a nil repository makes
// this a no-op.
func (s *Server) logEvent(requestID, channel, label, message string, detail map[string]any) {
	line := fmt.Sprintf("[%s] %s %s: %s", requestID, channel, label, message)
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			line += " " + string(raw)
		}
	}
	log.Printf("[Relay] %s", line)

	if s.repo == nil {
		return
	}

	detailJSON := ""
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			detailJSON = string(raw)
		}
	}
	s.repo.LogEvent(history.Event{
		RequestID: requestID,
		Channel:   channel,
		Label:     label,
		Message:   message,
		Detail:    detailJSON,
	})
}

// detachedContext returns a context for work that must finish even after the
// early acknowledgement has been flushed and the dialer has hung up.
func detachedContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
