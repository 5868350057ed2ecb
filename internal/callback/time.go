package callback

import (
	"strings"
	"time"
)

// TimeFormat is the timestamp layout the upstream API expects.
const TimeFormat = "2006-01-02 15:04:05"

// ameyoFormat is what the dialer sends in callConnectedTime,
// e.g. "2026/01/20 11:16:41 +0900".
const ameyoFormat = "2006/01/02 15:04:05 -0700"

var tokyo = mustLoadTokyo()

func mustLoadTokyo() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// ParseDialerTime converts a dialer timestamp to the upstream layout in JST.
// Unparseable input yields the empty string.
func ParseDialerTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if t, err := time.Parse(ameyoFormat, raw); err == nil {
		return t.In(tokyo).Format(TimeFormat)
	}

	// Already in the upstream layout.
	if t, err := time.ParseInLocation(TimeFormat, raw, tokyo); err == nil {
		return t.Format(TimeFormat)
	}

	return ""
}

// Now returns the current JST time in the upstream layout.
func Now() string {
	return time.Now().In(tokyo).Format(TimeFormat)
}
