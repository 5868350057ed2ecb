// Package callback parses dialer callback query parameters into typed fields.
// The dialer platform has gone through several integrations, so most logical
// fields are reachable under more than one historical parameter name.
package callback

import (
	"net/url"
	"strconv"
	"strings"
)

// Params wraps the raw query parameters of one dialer callback.
type Params struct {
	values url.Values
}

// NewParams wraps a parsed query string.
func NewParams(values url.Values) Params {
	return Params{values: values}
}

// Get returns the first non-blank value among the given alias keys, trimmed.
func (p Params) Get(keys ...string) string {
	return p.GetDefault("", keys...)
}

// GetDefault is Get with an explicit fallback value.
func (p Params) GetDefault(def string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p.values.Get(k)); v != "" {
			return v
		}
	}
	return def
}

// GetInt parses the first non-blank alias value as a strict decimal integer.
// Malformed input counts as absent.
func (p Params) GetInt(def int, keys ...string) int {
	raw := p.Get(keys...)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// CallID returns the logical call id for the reconciliation flow.
func (p Params) CallID() string {
	return p.Get("unique_id")
}

// StartCallID resolves the call id for the call-start flow, trying the alias
// chain the dialer has used over time. The second return value names the
// parameter that supplied the id.
func (p Params) StartCallID() (string, string) {
	for _, k := range []string{"callId", "cs_unique_id", "crm_push_generated_time", "sessionId"} {
		if v := strings.TrimSpace(p.values.Get(k)); v != "" {
			return v, k
		}
	}
	return "", ""
}

// CustomerID returns the numeric customer id, 0 when absent or malformed.
func (p Params) CustomerID() int {
	return p.GetInt(0, "customerId")
}

// CRTObjectID returns the external object id used for dedup keying.
func (p Params) CRTObjectID() string {
	return p.Get("crtObjectId", "customerCRTId")
}

// StaffID returns the predictive staff (agent) id.
func (p Params) StaffID() string {
	return p.Get("userId")
}

// SubCtiHistoryID returns the CRT history id carried into CallEnd payloads.
func (p Params) SubCtiHistoryID() string {
	return p.Get("customerCRTId", "subCtiHistoryId")
}

// TargetTel resolves the phone number actually dialed. cstmPhone takes over
// on second-phone attempts, where dialledPhone still carries the first number.
func (p Params) TargetTel(dialIndex int) string {
	tel := p.Get("dialledPhone", "dstPhone")
	if cstm := p.Get("cstmPhone"); cstm != "" && (dialIndex >= 1 || tel == "") {
		tel = cstm
	}
	return tel
}

// StartTargetTel resolves the phone for the call-start flow.
func (p Params) StartTargetTel() string {
	return p.Get("phone", "displayPhone", "dialledPhone", "dstPhone")
}

// DialIndex is the 0-based position within the call's phone list.
func (p Params) DialIndex() int {
	return p.GetInt(0, "shareablePhonesDialIndex")
}

// NumAttempts is the declared attempt count, 1 when absent.
func (p Params) NumAttempts() int {
	return p.GetInt(1, "numAttempts")
}

// SystemDisposition is the platform's disposition text for this attempt.
func (p Params) SystemDisposition() string {
	return p.Get("systemDisposition")
}

// DispositionCode is the platform's disposition code for this attempt.
func (p Params) DispositionCode() string {
	return p.Get("dispositionCode")
}

// IsConnected reports whether this attempt reached a live party: a connected
// timestamp is present, or the disposition/result says so.
func (p Params) IsConnected() bool {
	if p.Get("callConnectedTime") != "" {
		return true
	}
	if strings.EqualFold(p.SystemDisposition(), "CONNECTED") {
		return true
	}
	return strings.EqualFold(p.Get("callResult"), "SUCCESS")
}
