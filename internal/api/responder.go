package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
)

// responder enforces the two-phase response contract: phase 1 is an optional
// immediate acknowledgement sent before classification (the dialer enforces a
// tight callback timeout), phase 2 is the real result, delivered only if
// nothing has been written yet. At most one body is ever written; later
// writes are logged and dropped.
type responder struct {
	w         http.ResponseWriter
	requestID string
	mu        sync.Mutex
	sent      bool
}

func newResponder(w http.ResponseWriter, requestID string) *responder {
	return &responder{w: w, requestID: requestID}
}

// Ack sends the immediate "Data Received" acknowledgement and flushes it.
func (r *responder) Ack() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return
	}
	r.sent = true

	r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(r.w).Encode(map[string]any{
		"success": true,
		"message": "Data Received",
	})
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Success delivers a phase-2 success result, best effort.
func (r *responder) Success(message string, extra map[string]any) {
	body := map[string]any{
		"result":     "success",
		"message":    message,
		"request_id": r.requestID,
	}
	for k, v := range extra {
		body[k] = v
	}
	r.write(body, message)
}

// Fail delivers a phase-2 failure result, best effort. Logical failures are
// reported in-band with HTTP 200.
func (r *responder) Fail(message string) {
	r.write(map[string]any{
		"result":     "fail",
		"message":    message,
		"request_id": r.requestID,
	}, message)
}

// Raw echoes an upstream response body verbatim, best effort.
func (r *responder) Raw(body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		log.Printf("[API] [%s] Skipped raw response (already responded)", r.requestID)
		return
	}
	r.sent = true

	r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	r.w.Write([]byte(body))
}

func (r *responder) write(body map[string]any, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		log.Printf("[API] [%s] Skipped response (already responded): %s", r.requestID, message)
		return
	}
	r.sent = true

	r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(r.w).Encode(body)
}
