// Package timezone maps between IANA and legacy Windows zone names and
// renders instants as civil date/time parts in a user's zone. All lookups are
// pure functions over fixed tables and are safe for concurrent use.
package timezone

import (
	"time"
)

const (
	// DateLayout is the civil date format used across the engine.
	DateLayout = "2006-01-02"
	// ClockLayout is the time-of-day format used across the engine.
	ClockLayout = "15:04"
)

// windowsByIANA maps IANA zone identifiers to the Windows display names
// Microsoft Graph expects. The inverse table is derived in init.
var windowsByIANA = map[string]string{
	"Etc/UTC":              "UTC",
	"UTC":                  "UTC",
	"Europe/London":        "GMT Standard Time",
	"Europe/Dublin":        "GMT Standard Time",
	"Europe/Lisbon":        "GMT Standard Time",
	"Europe/Paris":         "Romance Standard Time",
	"Europe/Brussels":      "Romance Standard Time",
	"Europe/Madrid":        "Romance Standard Time",
	"Europe/Berlin":        "W. Europe Standard Time",
	"Europe/Amsterdam":     "W. Europe Standard Time",
	"Europe/Rome":          "W. Europe Standard Time",
	"Europe/Stockholm":     "W. Europe Standard Time",
	"Europe/Vienna":        "W. Europe Standard Time",
	"Europe/Zurich":        "W. Europe Standard Time",
	"Europe/Budapest":      "Central Europe Standard Time",
	"Europe/Prague":        "Central Europe Standard Time",
	"Europe/Warsaw":        "Central European Standard Time",
	"Europe/Athens":        "GTB Standard Time",
	"Europe/Bucharest":     "GTB Standard Time",
	"Europe/Helsinki":      "FLE Standard Time",
	"Europe/Kyiv":          "FLE Standard Time",
	"Europe/Istanbul":      "Turkey Standard Time",
	"Europe/Moscow":        "Russian Standard Time",
	"America/New_York":     "Eastern Standard Time",
	"America/Toronto":      "Eastern Standard Time",
	"America/Chicago":      "Central Standard Time",
	"America/Winnipeg":     "Central Standard Time",
	"America/Denver":       "Mountain Standard Time",
	"America/Phoenix":      "US Mountain Standard Time",
	"America/Los_Angeles":  "Pacific Standard Time",
	"America/Vancouver":    "Pacific Standard Time",
	"America/Anchorage":    "Alaskan Standard Time",
	"Pacific/Honolulu":     "Hawaiian Standard Time",
	"America/Sao_Paulo":    "E. South America Standard Time",
	"America/Buenos_Aires": "Argentina Standard Time",
	"America/Mexico_City":  "Central Standard Time (Mexico)",
	"Africa/Cairo":         "Egypt Standard Time",
	"Africa/Johannesburg":  "South Africa Standard Time",
	"Africa/Lagos":         "W. Central Africa Standard Time",
	"Asia/Jerusalem":       "Israel Standard Time",
	"Asia/Dubai":           "Arabian Standard Time",
	"Asia/Karachi":         "Pakistan Standard Time",
	"Asia/Kolkata":         "India Standard Time",
	"Asia/Dhaka":           "Bangladesh Standard Time",
	"Asia/Bangkok":         "SE Asia Standard Time",
	"Asia/Singapore":       "Singapore Standard Time",
	"Asia/Hong_Kong":       "China Standard Time",
	"Asia/Shanghai":        "China Standard Time",
	"Asia/Taipei":          "Taipei Standard Time",
	"Asia/Seoul":           "Korea Standard Time",
	"Asia/Tokyo":           "Tokyo Standard Time",
	"Australia/Perth":      "W. Australia Standard Time",
	"Australia/Adelaide":   "Cen. Australia Standard Time",
	"Australia/Sydney":     "AUS Eastern Standard Time",
	"Australia/Brisbane":   "E. Australia Standard Time",
	"Pacific/Auckland":     "New Zealand Standard Time",
}

var ianaByWindows = func() map[string]string {
	inverse := make(map[string]string, len(windowsByIANA))
	for iana, win := range windowsByIANA {
		// First IANA name wins for ambiguous Windows zones; the table is
		// ordered so primary city zones come first per Windows name.
		if _, ok := inverse[win]; !ok {
			inverse[win] = iana
		}
	}
	inverse["UTC"] = "UTC"

	return inverse
}()

// ToWindowsZone maps an IANA zone name to its Windows display name. The
// second return is false when no mapping exists, in which case the caller
// lets the provider's default zone apply.
func ToWindowsZone(iana string) (string, bool) {
	win, ok := windowsByIANA[iana]

	return win, ok
}

// ToIANAZone maps a Windows display name back to an IANA zone. Names that are
// already valid IANA identifiers pass through unchanged.
func ToIANAZone(name string) (string, bool) {
	if iana, ok := ianaByWindows[name]; ok {
		return iana, true
	}
	if _, err := time.LoadLocation(name); err == nil && name != "" {
		return name, true
	}

	return "", false
}

// UserLocation resolves the user's stored timezone, falling back to UTC when
// the value is empty or invalid.
func UserLocation(userTZ string) *time.Location {
	if userTZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(userTZ)
	if err != nil {
		return time.UTC
	}

	return loc
}

// ResolveLocation walks a ranked list of candidate zone names (the event's
// own zone first, then fallbacks) and returns the first that resolves,
// accepting Windows display names. Defaults to UTC.
func ResolveLocation(hints ...string) *time.Location {
	for _, hint := range hints {
		if hint == "" {
			continue
		}
		name := hint
		if iana, ok := ToIANAZone(hint); ok {
			name = iana
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}

	return time.UTC
}

// ToUserLocal re-renders an instant as civil date and clock strings in the
// user's zone.
func ToUserLocal(ts time.Time, userTZ string) (date, clock string) {
	local := ts.In(UserLocation(userTZ))

	return local.Format(DateLayout), local.Format(ClockLayout)
}

// ParseCivil interprets civil date/clock strings in the given zone hints and
// returns the instant. An empty clock means midnight.
func ParseCivil(date, clock string, hints ...string) (time.Time, error) {
	loc := ResolveLocation(hints...)
	if clock == "" {
		return time.ParseInLocation(DateLayout, date, loc)
	}

	return time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, loc)
}

// ImportAllDayEnd converts a provider's exclusive all-day end date to the
// engine's inclusive convention by subtracting one day.
func ImportAllDayEnd(date string) string {
	return shiftDate(date, -1)
}

// ExportAllDayEnd converts the engine's inclusive all-day end date to the
// provider's exclusive convention by adding one day.
func ExportAllDayEnd(date string) string {
	return shiftDate(date, 1)
}

func shiftDate(date string, days int) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}

	return t.AddDate(0, 0, days).Format(DateLayout)
}
