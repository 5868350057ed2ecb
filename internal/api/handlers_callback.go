package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"callrelay/internal/callback"
	"callrelay/internal/classifier"
	"callrelay/internal/dedupe"
	"callrelay/internal/monitor"
	"callrelay/internal/payload"
	"callrelay/internal/upstream"
)

// Log channels, carried explicitly on every event record.
const (
	channelGeneral   = "general"
	channelCallStart = "call_start"
	channelCallEnd   = "call_end"
	channelNotAnswer = "not_answer"
)

// handleCallback is the main reconciliation flow: ack, dedup gate, normalize,
// classify, relay, and complete the gate.
// GET /callback
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	rsp := newResponder(w, requestID)

	if r.Method != http.MethodGet {
		rsp.Fail("Only GET is allowed")
		return
	}

	p := callback.NewParams(r.URL.Query())

	s.logEvent(requestID, channelGeneral, "incoming_get", "Received dialer callback", map[string]any{
		"ip":    r.RemoteAddr,
		"query": r.URL.RawQuery,
	})
	s.hub.Broadcast(monitor.EventCallbackReceived, map[string]any{
		"request_id": requestID,
		"callId":     p.CallID(),
	})

	if s.cfg.Classifier.EarlyAck {
		rsp.Ack()
	}

	callID := p.CallID()
	if callID == "" {
		rsp.Fail("Missing required fields: unique_id")
		return
	}

	if !s.relay.Configured() {
		rsp.Fail("Server configuration missing")
		return
	}

	customerID := p.CustomerID()
	crtObjectID := p.CRTObjectID()

	ctx := detachedContext(r)

	decision := s.gate.Check(ctx, crtObjectID, customerID, callID)
	if !decision.Admit {
		s.logEvent(requestID, channelGeneral, "dedupe", "Skipped duplicate request", map[string]any{
			"reason":      decision.Reason,
			"crtObjectId": crtObjectID,
			"customerId":  customerID,
			"callId":      callID,
		})
		s.hub.Broadcast(monitor.EventDuplicate, map[string]any{
			"request_id": requestID,
			"callId":     callID,
			"reason":     decision.Reason,
		})
		// Silent no-op toward the caller.
		return
	}

	dialIndex := p.DialIndex()
	now := callback.Now()
	callStartTime, callEndTime, callTime := classifier.ResolveTimes(p, now)

	in := classifier.Input{
		CallID:          callID,
		CustomerID:      customerID,
		StaffID:         p.StaffID(),
		TargetTel:       p.TargetTel(dialIndex),
		SubCtiHistoryID: p.SubCtiHistoryID(),
		DialIndex:       dialIndex,
		NumAttempts:     p.NumAttempts(),
		Phones:          p.PhoneList(),
		IsConnected:     p.IsConnected(),
		StatusNow: classifier.PickStatusNow(
			p.DispositionCode(), p.SystemDisposition(), s.cfg.Classifier.ErrorInfoPrecedence),
		CallStartTime: callStartTime,
		CallEndTime:   callEndTime,
		CallTime:      callTime,
	}

	outcome, err := s.classifier.Classify(ctx, in)
	if err != nil {
		var inputErr *classifier.InputError
		if errors.As(err, &inputErr) {
			s.logEvent(requestID, channelGeneral, "reject", inputErr.Msg, map[string]any{"callId": callID})
			s.gate.Complete(ctx, decision.Key, dedupe.Result{OK: false, Status: "input_error"})
			rsp.Fail(inputErr.Msg)
			return
		}
		s.logEvent(requestID, channelGeneral, "error", err.Error(), map[string]any{"callId": callID})
		s.gate.Complete(ctx, decision.Key, dedupe.Result{OK: false, Status: "internal_error"})
		rsp.Fail("Internal error")
		return
	}

	s.logEvent(requestID, outcome.Channel, "decision", outcome.Decision, map[string]any{
		"callId":      callID,
		"dialIndex":   dialIndex,
		"numAttempts": in.NumAttempts,
		"isConnected": in.IsConnected,
		"phones":      in.Phones,
	})
	s.hub.Broadcast(monitor.EventDecision, map[string]any{
		"request_id": requestID,
		"callId":     callID,
		"decision":   outcome.Decision,
	})

	if outcome.Kind == classifier.KindAwaitPhone2 {
		// Provisional: no upstream call for this request. The gate is left
		// in a non-terminal waiting state so phone2's callback is admitted.
		s.gate.MarkWaiting(ctx, decision.Key)
		rsp.Success("Stored phone1 status; waiting for phone2", nil)
		return
	}

	res := s.relay.Send(ctx, outcome.EndpointPath, outcome.Payload)
	s.finishRelay(ctx, requestID, rsp, outcome, decision.Key, res)

	if outcome.ClearState {
		if err := s.states.Clear(ctx, callID); err != nil {
			s.logEvent(requestID, outcome.Channel, "state", "Failed to clear call state", map[string]any{
				"callId": callID, "error": err.Error(),
			})
		}
	}
}

// handleCallStart relays the call-start notification. Unlike the main flow
// there is no reconciliation here, just alias resolution and validation.
// GET /callback/start
func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	rsp := newResponder(w, requestID)

	if r.Method != http.MethodGet {
		rsp.Fail("Only GET is allowed")
		return
	}

	p := callback.NewParams(r.URL.Query())

	s.logEvent(requestID, channelCallStart, "incoming_get", "Received call start callback", map[string]any{
		"ip":    r.RemoteAddr,
		"query": r.URL.RawQuery,
	})

	if s.cfg.Classifier.EarlyAck {
		rsp.Ack()
	}

	callID, callIDSource := p.StartCallID()
	if callID == "" {
		rsp.Fail("Missing required fields: callId or unique_id or crm_push_generated_time")
		return
	}

	staffID := p.StaffID()
	if staffID == "" {
		rsp.Fail("Missing required fields: userId")
		return
	}

	targetTel := p.StartTargetTel()
	if targetTel == "" {
		rsp.Fail("Missing required fields: phone")
		return
	}

	env := payload.BuildCallStart(callID, staffID, targetTel)
	if err := payload.ValidateCallStart(env); err != nil {
		rsp.Fail(err.Error())
		return
	}

	s.logEvent(requestID, channelCallStart, "decision", "createCallStart", map[string]any{
		"callId":            callID,
		"callIdSource":      callIDSource,
		"predictiveStaffId": staffID,
		"targetTel":         targetTel,
	})

	ctx := detachedContext(r)
	res := s.relay.Send(ctx, payload.PathCallStart, env)
	s.finishRelay(ctx, requestID, rsp, classifier.Outcome{Channel: channelCallStart}, "", res)
}

// finishRelay records the relay result, completes the dedup gate, and
// delivers the phase-2 response.
func (s *Server) finishRelay(ctx context.Context, requestID string, rsp *responder,
	outcome classifier.Outcome, gateKey string, res upstream.Result) {

	detail := map[string]any{
		"ok":        res.OK,
		"status":    res.Status,
		"http_code": res.HTTPCode,
	}
	if res.Err != nil {
		detail["error"] = res.Err.Error()
	}
	message := "Upstream response received"
	if !res.OK {
		message = "Upstream request failed"
	}
	s.logEvent(requestID, outcome.Channel, "upstream_response", message, detail)
	s.hub.Broadcast(monitor.EventRelayResult, map[string]any{
		"request_id": requestID,
		"ok":         res.OK,
		"status":     res.Status,
	})

	if gateKey != "" {
		s.gate.Complete(ctx, gateKey, dedupe.Result{OK: res.OK, Status: res.Status, HTTPCode: res.HTTPCode})
	}

	switch {
	case !res.OK && res.Status == upstream.StatusConfigMissing:
		rsp.Fail("Server configuration missing")
	case !res.OK:
		rsp.Fail("Upstream request failed")
	case res.Status == upstream.StatusSendDisabled:
		rsp.Success("Upstream send disabled; payload prepared and logged.", nil)
	default:
		rsp.Raw(res.Body)
	}
}
