package payload

import (
	"fmt"
	"strings"
)

// missingFields returns the names of blank required fields.
func missingFields(fields map[string]string, order []string) []string {
	var missing []string
	for _, name := range order {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func missingErr(missing []string) error {
	return fmt.Errorf("Missing required fields: %s", strings.Join(missing, ", "))
}

// ValidateCallEnd checks the required CallEnd fields.
func ValidateCallEnd(env CallEndEnvelope) error {
	b := env.PredictiveCallCreateCallEnd
	missing := missingFields(map[string]string{
		"callId":            b.CallID,
		"callStartTime":     b.CallStartTime,
		"callEndTime":       b.CallEndTime,
		"subCtiHistoryId":   b.SubCtiHistoryID,
		"targetTel":         b.TargetTel,
		"predictiveStaffId": b.PredictiveStaffID,
	}, []string{"callId", "callStartTime", "callEndTime", "subCtiHistoryId", "targetTel", "predictiveStaffId"})
	if len(missing) > 0 {
		return missingErr(missing)
	}
	return nil
}

// ValidateNotAnswer checks the required NotAnswer fields.
func ValidateNotAnswer(env NotAnswerEnvelope) error {
	b := env.PredictiveCallCreateNotAnswer
	missing := missingFields(map[string]string{
		"callId":     b.CallID,
		"callTime":   b.CallTime,
		"errorInfo1": b.ErrorInfo1,
	}, []string{"callId", "callTime", "errorInfo1"})
	if len(missing) > 0 {
		return missingErr(missing)
	}
	return nil
}

// ValidateCallStart checks the required CallStart fields.
func ValidateCallStart(env CallStartEnvelope) error {
	b := env.PredictiveCallCreateCallStart
	missing := missingFields(map[string]string{
		"callId":            b.CallID,
		"predictiveStaffId": b.PredictiveStaffID,
		"targetTel":         b.TargetTel,
	}, []string{"callId", "predictiveStaffId", "targetTel"})
	if len(missing) > 0 {
		return missingErr(missing)
	}
	return nil
}
