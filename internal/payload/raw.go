package payload

import (
	"fmt"
	"strings"
)

// Wrapper object keys for the pass-through relay endpoints.
const (
	KeyCallStart = "predictiveCallCreateCallStart"
	KeyCallEnd   = "predictiveCallCreateCallEnd"
	KeyNotAnswer = "predictiveCallCreateNotAnswer"
)

var requiredByKey = map[string][]string{
	KeyCallStart: {"callId", "predictiveStaffId", "targetTel"},
	KeyCallEnd:   {"callId", "callStartTime", "callEndTime", "subCtiHistoryId", "targetTel", "predictiveStaffId"},
	KeyNotAnswer: {"callId", "callTime", "errorInfo1"},
}

// ValidateRaw checks a caller-supplied payload for the pass-through relay:
// the wrapper object must exist and its required fields must be non-blank.
// The payload is forwarded verbatim, so only presence is enforced here.
func ValidateRaw(data map[string]any, wrapperKey string) error {
	obj, ok := data[wrapperKey].(map[string]any)
	if !ok {
		return fmt.Errorf("Missing %s object", wrapperKey)
	}

	var missing []string
	for _, field := range requiredByKey[wrapperKey] {
		v, ok := obj[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return missingErr(missing)
	}
	return nil
}
