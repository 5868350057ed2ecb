// Package classifier implements the event classification and reconciliation
// decision procedure: given one dialer callback, decide which upstream
// operation to emit (call end, not-answer, or none yet) and what to report
// about the sibling phone attempt that arrived, or will arrive, in a separate
// request.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"callrelay/internal/callback"
	"callrelay/internal/payload"
	"callrelay/internal/state"
)

// StatusUnknown is reported wherever an error-info value is required but no
// real disposition is available.
const StatusUnknown = "UNKNOWN"

const statusConnected = "CONNECTED"

// Kind is the classification outcome.
type Kind int

const (
	// KindCallEndPhone1 — first phone connected, terminal.
	KindCallEndPhone1 Kind = iota
	// KindCallEndPhone2 — second phone connected, terminal, may carry
	// phone1's failure status.
	KindCallEndPhone2
	// KindNotAnswer — no phone connected, terminal.
	KindNotAnswer
	// KindAwaitPhone2 — phone1 did not connect but a second phone is still
	// to be dialed; nothing goes upstream for this request.
	KindAwaitPhone2
)

// Input is one normalized callback, ready for classification.
type Input struct {
	CallID          string
	CustomerID      int
	StaffID         string
	TargetTel       string
	SubCtiHistoryID string
	DialIndex       int
	NumAttempts     int
	Phones          []string
	IsConnected     bool
	StatusNow       string
	CallStartTime   string
	CallEndTime     string
	CallTime        string
}

// Outcome is a classified callback: the payload to relay (nil for the
// provisional await case), where to send it, and what to log.
type Outcome struct {
	Kind         Kind
	EndpointPath string
	Payload      any
	Channel      string
	Decision     string
	ClearState   bool
}

// InputError marks problems with the callback itself: missing required
// fields or an inconsistent phone-connection state. These are reported
// in-band and never reach the upstream API.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func inputErrf(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// Phone1Lookup recovers phone1's last disposition from the call-history
// source when local state has nothing. Implementations return empty on any
// failure.
type Phone1Lookup interface {
	LastDisposition(ctx context.Context, customerID int, phone, callIDHint string) string
}

// Classifier combines the attempt state store with the fallback history
// lookup. The state store is the primary reconciliation source; history is
// enrichment only.
type Classifier struct {
	states *state.Store
	lookup Phone1Lookup
}

// New creates a classifier. lookup may be nil when no history source is
// configured.
func New(states *state.Store, lookup Phone1Lookup) *Classifier {
	return &Classifier{states: states, lookup: lookup}
}

// Classify records the current attempt into state and walks the decision
// table. State mutations happen only after the inconsistency check; terminal
// outcomes clear the call's state.
func (c *Classifier) Classify(ctx context.Context, in Input) (Outcome, error) {
	prior, err := c.states.Load(ctx, in.CallID)
	if err != nil {
		// State store trouble degrades to classify-without-memory; the
		// history lookup still covers the phone1 recovery path.
		prior = state.CallState{}
	}

	// A connected phone1 can never be followed by an unconnected dialIndex 0
	// callback for the same call.
	if in.DialIndex == 0 && !in.IsConnected && prior.Connected(0) {
		return Outcome{}, inputErrf("Inconsistent state: phone1 already connected; NotAnswer not allowed")
	}

	// Input errors must be rejected before any state mutation, so the
	// connected branches validate their required fields up front.
	if in.IsConnected {
		if err := validateConnected(in); err != nil {
			return Outcome{}, err
		}
	}

	attemptStatus := in.StatusNow
	if in.IsConnected {
		attemptStatus = statusConnected
	}
	merged, err := c.states.Merge(ctx, in.CallID, state.Update{
		Phones:      in.Phones,
		DialIndex:   in.DialIndex,
		Status:      attemptStatus,
		Connected:   in.IsConnected,
		NumAttempts: in.NumAttempts,
	})
	if err != nil {
		merged = prior
	}

	hasPhone2 := len(merged.Phones) >= 2 || len(in.Phones) >= 2

	switch {
	case in.DialIndex == 0 && in.IsConnected:
		return c.callEndPhone1(in)

	case hasPhone2 && in.DialIndex >= 1 && in.IsConnected:
		return c.callEndPhone2(ctx, in, merged)

	case !in.IsConnected:
		return c.notAnswer(ctx, in, merged, hasPhone2)
	}

	return Outcome{}, inputErrf("Unable to determine action from parameters")
}

// validateConnected checks the fields the CallEnd payload cannot do without.
func validateConnected(in Input) error {
	if in.StaffID == "" || in.TargetTel == "" {
		return inputErrf("Missing required fields: userId, dialledPhone/dstPhone")
	}
	if in.SubCtiHistoryID == "" {
		return inputErrf("Missing required fields: customerCRTId")
	}
	return nil
}

func (c *Classifier) callEndPhone1(in Input) (Outcome, error) {
	env := payload.BuildCallEnd(in.CallID, in.CallStartTime, in.CallEndTime,
		in.SubCtiHistoryID, in.TargetTel, in.StaffID, "")
	if err := payload.ValidateCallEnd(env); err != nil {
		return Outcome{}, &InputError{Msg: err.Error()}
	}

	return Outcome{
		Kind:         KindCallEndPhone1,
		EndpointPath: payload.PathCallEnd,
		Payload:      env,
		Channel:      "call_end",
		Decision:     "Phone1 connected -> createCallEnd (no phone2)",
		ClearState:   true,
	}, nil
}

func (c *Classifier) callEndPhone2(ctx context.Context, in Input, merged state.CallState) (Outcome, error) {
	errorInfo := c.phone1Failure(ctx, in, merged)

	env := payload.BuildCallEnd(in.CallID, in.CallStartTime, in.CallEndTime,
		in.SubCtiHistoryID, in.TargetTel, in.StaffID, errorInfo)
	if err := payload.ValidateCallEnd(env); err != nil {
		return Outcome{}, &InputError{Msg: err.Error()}
	}

	return Outcome{
		Kind:         KindCallEndPhone2,
		EndpointPath: payload.PathCallEnd,
		Payload:      env,
		Channel:      "call_end",
		Decision:     "Phone2 connected -> createCallEnd (phone1 status: " + displayStatus(errorInfo) + ")",
		ClearState:   true,
	}, nil
}

func (c *Classifier) notAnswer(ctx context.Context, in Input, merged state.CallState, hasPhone2 bool) (Outcome, error) {
	// Provisional: phone1 failed but phone2 is still coming. The memo was
	// already merged above; wait for phone2's callback.
	if hasPhone2 && in.DialIndex == 0 && in.NumAttempts < 2 {
		return Outcome{
			Kind:     KindAwaitPhone2,
			Channel:  "not_answer",
			Decision: "Phone1 not connected; stored status, waiting for phone2",
		}, nil
	}

	var errorInfo1 string
	switch {
	case !hasPhone2:
		errorInfo1 = in.StatusNow
	default:
		errorInfo1 = c.rememberedPhone1(ctx, in, merged)
	}

	errorInfo2 := ""
	if hasPhone2 {
		switch {
		case in.DialIndex >= 1:
			errorInfo2 = in.StatusNow
		case merged.Status(1) != "":
			errorInfo2 = merged.Status(1)
		default:
			errorInfo2 = StatusUnknown
		}
	}

	env := payload.BuildNotAnswer(in.CallID, in.CallTime, errorInfo1, errorInfo2)
	if err := payload.ValidateNotAnswer(env); err != nil {
		return Outcome{}, &InputError{Msg: err.Error()}
	}

	decision := "Not connected -> createNotAnswer (errorInfo1 only)"
	if hasPhone2 {
		decision = "Not connected -> createNotAnswer (errorInfo1+2)"
	}

	return Outcome{
		Kind:         KindNotAnswer,
		EndpointPath: payload.PathNotAnswer,
		Payload:      env,
		Channel:      "not_answer",
		Decision:     decision,
		ClearState:   hasPhone2 && in.DialIndex >= 1,
	}, nil
}

// phone1Failure resolves phone1's non-connected status for the errorInfo
// field: local state first, then the call-history lookup, otherwise omitted.
func (c *Classifier) phone1Failure(ctx context.Context, in Input, merged state.CallState) string {
	if merged.Connected(0) {
		return ""
	}
	if st := merged.Status(0); st != "" && !strings.EqualFold(st, statusConnected) {
		return st
	}

	if c.lookup != nil {
		phone1 := ""
		if len(merged.Phones) > 0 {
			phone1 = merged.Phones[0]
		} else if len(in.Phones) > 0 {
			phone1 = in.Phones[0]
		}
		if phone1 != "" {
			if st := c.lookup.LastDisposition(ctx, in.CustomerID, phone1, in.CallID); st != "" && !strings.EqualFold(st, statusConnected) {
				return st
			}
		}
	}

	return ""
}

// rememberedPhone1 resolves phone1's status for errorInfo1 on a two-phone
// NotAnswer, falling back to UNKNOWN when no memo survives.
func (c *Classifier) rememberedPhone1(ctx context.Context, in Input, merged state.CallState) string {
	if st := merged.Status(0); st != "" {
		return st
	}
	if st := c.phone1Failure(ctx, in, merged); st != "" {
		return st
	}
	if in.DialIndex == 0 {
		return in.StatusNow
	}
	return StatusUnknown
}

func displayStatus(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// PickStatusNow applies the configured precedence between the disposition
// code and the disposition text, collapsing to UNKNOWN when both are blank.
func PickStatusNow(dispositionCode, systemDisposition, precedence string) string {
	first, second := dispositionCode, systemDisposition
	if precedence == "system_disposition" {
		first, second = systemDisposition, dispositionCode
	}
	if first != "" {
		return first
	}
	if second != "" {
		return second
	}
	return StatusUnknown
}

// ResolveTimes fills in the CallEnd/NotAnswer timestamps from the callback,
// defaulting to the connected time and then to now.
func ResolveTimes(p callback.Params, now string) (callStart, callEnd, callTime string) {
	connectedAt := callback.ParseDialerTime(p.Get("callConnectedTime"))

	callStart = p.Get("callStartTime")
	if callStart == "" {
		callStart = connectedAt
	}
	if callStart == "" {
		callStart = now
	}

	callEnd = p.GetDefault(now, "callEndTime")
	callTime = p.GetDefault(now, "callTime")
	return callStart, callEnd, callTime
}
