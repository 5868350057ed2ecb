package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"callrelay/internal/payload"
	"callrelay/internal/upstream"
)

// relayKind describes one validated pass-through endpoint.
type relayKind struct {
	wrapperKey   string
	endpointPath string
	channel      string
}

var (
	relayCallStart = relayKind{payload.KeyCallStart, payload.PathCallStart, channelCallStart}
	relayCallEnd   = relayKind{payload.KeyCallEnd, payload.PathCallEnd, channelCallEnd}
	relayNotAnswer = relayKind{payload.KeyNotAnswer, payload.PathNotAnswer, channelNotAnswer}
)

// relayHandler builds the validated pass-through handler for one payload
// kind: callers POST the complete upstream JSON (either as a jsonData form
// field or as the raw body), it is validated for shape and forwarded
// verbatim, and the upstream body is echoed back.
func (s *Server) relayHandler(kind relayKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		rsp := newResponder(w, requestID)

		if r.Method != http.MethodPost {
			rsp.Fail("Only POST is allowed")
			return
		}

		raw, errMsg := readJSONPayload(r)
		if errMsg != "" {
			rsp.Fail(errMsg)
			return
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			rsp.Fail("Invalid JSON in jsonData")
			return
		}

		if err := payload.ValidateRaw(data, kind.wrapperKey); err != nil {
			rsp.Fail(err.Error())
			return
		}

		s.logEvent(requestID, kind.channel, "relay", "Forwarding pass-through payload", map[string]any{
			"endpoint": kind.endpointPath,
		})

		res := s.relay.SendRaw(r.Context(), kind.endpointPath, raw)
		if !res.OK {
			if res.Status == upstream.StatusConfigMissing {
				rsp.Fail("Server configuration missing")
				return
			}
			rsp.Fail("Upstream request failed")
			return
		}
		if res.Status == upstream.StatusSendDisabled {
			rsp.Success("Upstream send disabled; payload prepared and logged.", nil)
			return
		}
		rsp.Raw(res.Body)
	}
}

// readJSONPayload extracts the payload from the jsonData form field, falling
// back to the raw request body.
func readJSONPayload(r *http.Request) (string, string) {
	if err := r.ParseForm(); err == nil {
		if v := r.PostFormValue("jsonData"); v != "" {
			return v, ""
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return "", "Missing jsonData payload"
	}
	return string(body), ""
}
