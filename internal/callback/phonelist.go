package callback

import (
	"encoding/json"
	"fmt"
	"strings"
)

// phoneListWrapper matches the structured phoneList parameter:
// phoneList={"phoneList":["p1","p2"]}
type phoneListWrapper struct {
	PhoneList []any `json:"phoneList"`
}

// PhoneList resolves the ordered, deduplicated list of numbers being dialed
// for this logical call. The structured phoneList parameter wins; otherwise
// the individual phone fields are collected in priority order, with the
// dialled/destination phone as the last resort.
func (p Params) PhoneList() []string {
	if raw := p.Get("phoneList"); raw != "" {
		if phones := parseStructuredList(raw); len(phones) > 0 {
			return phones
		}
	}

	var phones []string
	for _, k := range []string{"phone1", "phone2", "cstmPhone"} {
		if v := p.Get(k); v != "" {
			phones = append(phones, v)
		}
	}

	if d := p.Get("dialledPhone", "dstPhone"); d != "" {
		phones = append(phones, d)
	}

	return dedupe(phones)
}

// HasPhone2 reports whether this logical call dials a second number.
func (p Params) HasPhone2() bool {
	return len(p.PhoneList()) >= 2
}

// parseStructuredList accepts both historical encodings of the structured
// parameter: a wrapper object and a bare array. Entries are stringified.
func parseStructuredList(raw string) []string {
	var entries []any

	var wrapper phoneListWrapper
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && len(wrapper.PhoneList) > 0 {
		entries = wrapper.PhoneList
	} else if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}

	phones := make([]string, 0, len(entries))
	for _, e := range entries {
		s := strings.TrimSpace(fmt.Sprint(e))
		if s != "" && s != "<nil>" {
			phones = append(phones, s)
		}
	}
	return dedupe(phones)
}

func dedupe(phones []string) []string {
	seen := make(map[string]bool, len(phones))
	out := make([]string, 0, len(phones))
	for _, ph := range phones {
		if ph == "" || seen[ph] {
			continue
		}
		seen[ph] = true
		out = append(out, ph)
	}
	return out
}
