// Package units formats instants and durations for display. All internal
// timestamps are kept as time.Time in UTC; conversion to a wall-clock zone
// only happens at the edge, when a human-readable string is produced.
package units

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // embedded zone database for devices without /usr/share/zoneinfo
)

// DefaultTimezone is the zone sale times are rendered in unless configured
// otherwise.
const DefaultTimezone = "America/New_York"

// DisplayLayout renders e.g. "2025-06-23 07:03:46 PM EDT".
const DisplayLayout = "2006-01-02 03:04:05 PM MST"

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// IsTimezoneValid checks if the given timezone is valid by attempting to load
// it from the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := LoadLocation(tz)
	return err == nil
}

// LoadLocation resolves a tz database name, caching successful lookups.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}

	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[tz]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	locCache[tz] = loc
	return loc, nil
}

// ConvertTime converts a time to the specified timezone. On an unknown zone
// the time is returned unchanged alongside the error.
func ConvertTime(t time.Time, targetTimezone string) (time.Time, error) {
	loc, err := LoadLocation(targetTimezone)
	if err != nil {
		return t, err
	}
	return t.In(loc), nil
}

// FormatLocal renders t in the given zone using DisplayLayout. Unknown zones
// fall back to UTC so a display string is always produced.
func FormatLocal(t time.Time, tz string) string {
	local, err := ConvertTime(t, tz)
	if err != nil {
		local = t.UTC()
	}
	return local.Format(DisplayLayout)
}

// UnixSeconds converts t to fractional seconds since the epoch, the timestamp
// representation used on the wire.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FormatElapsed renders a duration the way presence timers are shown:
// "45s" below a minute, "2m 30s" below an hour, "1h 5m" beyond that.
// Fractions are truncated and negative durations clamp to zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", total)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	}
}
