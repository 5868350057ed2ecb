package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"callrelay/internal/auth"
	"callrelay/internal/dedupe"
)

// handleLogin authenticates the admin user and issues a JWT.
// POST /api/v1/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Username != s.cfg.Auth.AdminUser || s.cfg.Auth.AdminPassHash == "" ||
		auth.VerifyPassword(s.cfg.Auth.AdminPassHash, req.Password) != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.auth.GenerateToken(req.Username, "admin")
	if err != nil {
		http.Error(w, "Could not generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// handleStateInspect returns the stored reconciliation state for a call id.
// GET /api/v1/state?callId=...
func (s *Server) handleStateInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callID := r.URL.Query().Get("callId")
	if callID == "" {
		http.Error(w, "callId is required", http.StatusBadRequest)
		return
	}

	st, err := s.states.Load(r.Context(), callID)
	if err != nil {
		http.Error(w, "State store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"callId": callID,
		"found":  !st.Empty(),
		"state":  st,
	})
}

// handleStateClear deletes the stored state for a call id.
// POST /api/v1/state/clear?callId=...
func (s *Server) handleStateClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callID := r.URL.Query().Get("callId")
	if callID == "" {
		http.Error(w, "callId is required", http.StatusBadRequest)
		return
	}

	if err := s.states.Clear(r.Context(), callID); err != nil {
		http.Error(w, "State store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleDedupeInspect returns the dedup record for a request identity.
// GET /api/v1/dedupe?crtObjectId=...&customerId=...&callId=...
func (s *Server) handleDedupeInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	customerID, _ := strconv.Atoi(q.Get("customerId"))
	key := dedupe.Key(q.Get("crtObjectId"), customerID, q.Get("callId"))

	rec, err := s.gate.Load(r.Context(), key)
	if err != nil {
		http.Error(w, "Dedup store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"key":    key,
		"found":  rec != nil,
		"record": rec,
	})
}

// handleEvents returns the most recent relay events.
// GET /api/v1/events?limit=100
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil {
		http.Error(w, "Event log not configured", http.StatusNotImplemented)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.repo.RecentEvents(r.Context(), limit)
	if err != nil {
		http.Error(w, "Error listing events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
