// Package payload builds the fixed JSON bodies the FastHelp predictive-call
// API accepts. Builders are pure; optional fields are dropped entirely when
// blank rather than sent as null or empty strings.
package payload

import "strings"

// Upstream endpoint paths, rooted at the configured base URL.
const (
	PathCallStart = "/fasthelp5-server/service/callmanage/predictiveCallApiService/createCallStart.json"
	PathCallEnd   = "/fasthelp5-server/service/callmanage/predictiveCallApiService/createCallEnd.json"
	PathNotAnswer = "/fasthelp5-server/service/callmanage/predictiveCallApiService/createNotAnswer.json"
)

// CallEnd is the body of predictiveCallCreateCallEnd.
type CallEnd struct {
	CallID            string `json:"callId"`
	CallStartTime     string `json:"callStartTime"`
	CallEndTime       string `json:"callEndTime"`
	SubCtiHistoryID   string `json:"subCtiHistoryId"`
	TargetTel         string `json:"targetTel"`
	PredictiveStaffID string `json:"predictiveStaffId"`
	// ErrorInfo carries phone1's failure status when phone2 connected instead.
	ErrorInfo string `json:"errorInfo,omitempty"`
}

// NotAnswer is the body of predictiveCallCreateNotAnswer.
type NotAnswer struct {
	CallID     string `json:"callId"`
	CallTime   string `json:"callTime"`
	ErrorInfo1 string `json:"errorInfo1"`
	ErrorInfo2 string `json:"errorInfo2,omitempty"`
}

// CallStart is the body of predictiveCallCreateCallStart.
type CallStart struct {
	CallID            string `json:"callId"`
	PredictiveStaffID string `json:"predictiveStaffId"`
	TargetTel         string `json:"targetTel"`
}

// CallEndEnvelope wraps CallEnd under its upstream object key.
type CallEndEnvelope struct {
	PredictiveCallCreateCallEnd CallEnd `json:"predictiveCallCreateCallEnd"`
}

// NotAnswerEnvelope wraps NotAnswer under its upstream object key.
type NotAnswerEnvelope struct {
	PredictiveCallCreateNotAnswer NotAnswer `json:"predictiveCallCreateNotAnswer"`
}

// CallStartEnvelope wraps CallStart under its upstream object key.
type CallStartEnvelope struct {
	PredictiveCallCreateCallStart CallStart `json:"predictiveCallCreateCallStart"`
}

// BuildCallEnd assembles a CallEnd envelope. errorInfo is trimmed and dropped
// when blank.
func BuildCallEnd(callID, callStartTime, callEndTime, subCtiHistoryID, targetTel, staffID, errorInfo string) CallEndEnvelope {
	return CallEndEnvelope{
		PredictiveCallCreateCallEnd: CallEnd{
			CallID:            callID,
			CallStartTime:     callStartTime,
			CallEndTime:       callEndTime,
			SubCtiHistoryID:   subCtiHistoryID,
			TargetTel:         targetTel,
			PredictiveStaffID: staffID,
			ErrorInfo:         strings.TrimSpace(errorInfo),
		},
	}
}

// BuildNotAnswer assembles a NotAnswer envelope. errorInfo2 is trimmed and
// dropped when blank.
func BuildNotAnswer(callID, callTime, errorInfo1, errorInfo2 string) NotAnswerEnvelope {
	return NotAnswerEnvelope{
		PredictiveCallCreateNotAnswer: NotAnswer{
			CallID:     callID,
			CallTime:   callTime,
			ErrorInfo1: errorInfo1,
			ErrorInfo2: strings.TrimSpace(errorInfo2),
		},
	}
}

// BuildCallStart assembles a CallStart envelope.
func BuildCallStart(callID, staffID, targetTel string) CallStartEnvelope {
	return CallStartEnvelope{
		PredictiveCallCreateCallStart: CallStart{
			CallID:            callID,
			PredictiveStaffID: staffID,
			TargetTel:         targetTel,
		},
	}
}
