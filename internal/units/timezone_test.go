package units

import (
	"testing"
	"time"
)

func TestIsTimezoneValid(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		expected bool
	}{
		{"valid UTC", "UTC", true},
		{"valid US Eastern", "US/Eastern", true},
		{"valid New York", "America/New_York", true},
		{"invalid", "Invalid/Timezone", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := IsTimezoneValid(tt.timezone)
			if res != tt.expected {
				t.Errorf("IsTimezoneValid(%s) = %v, want %v", tt.timezone, res, tt.expected)
			}
		})
	}
}

func TestConvertTime(t *testing.T) {
	utcTime := time.Date(2025, 9, 13, 12, 0, 0, 0, time.UTC)

	t.Run("UTC to UTC", func(t *testing.T) {
		out, err := ConvertTime(utcTime, "UTC")
		if err != nil {
			t.Fatalf("ConvertTime error: %v", err)
		}
		if !out.Equal(utcTime) {
			t.Fatalf("ConvertTime returned %v, want %v", out, utcTime)
		}
	})

	t.Run("UTC to New York keeps the instant", func(t *testing.T) {
		out, err := ConvertTime(utcTime, "America/New_York")
		if err != nil {
			t.Fatalf("ConvertTime error: %v", err)
		}
		if !out.Equal(utcTime) {
			t.Errorf("instant changed: %v vs %v", out, utcTime)
		}
		if out.Hour() != 8 {
			t.Errorf("local hour = %d, want 8 (EDT)", out.Hour())
		}
	})

	t.Run("unknown zone", func(t *testing.T) {
		out, err := ConvertTime(utcTime, "Nowhere/Special")
		if err == nil {
			t.Fatal("expected error for unknown zone")
		}
		if !out.Equal(utcTime) {
			t.Errorf("unknown zone should return input unchanged")
		}
	})
}

func TestFormatLocal(t *testing.T) {
	ts := time.Date(2025, 6, 23, 23, 3, 46, 0, time.UTC)

	if got, want := FormatLocal(ts, "America/New_York"), "2025-06-23 07:03:46 PM EDT"; got != want {
		t.Errorf("FormatLocal() = %q, want %q", got, want)
	}
	winter := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	if got, want := FormatLocal(winter, "US/Eastern"), "2025-01-10 10:00:00 AM EST"; got != want {
		t.Errorf("FormatLocal() = %q, want %q", got, want)
	}
	if got, want := FormatLocal(ts, "Bad/Zone"), "2025-06-23 11:03:46 PM UTC"; got != want {
		t.Errorf("FormatLocal() fallback = %q, want %q", got, want)
	}
}

func TestUnixSeconds(t *testing.T) {
	ts := time.Unix(1750719826, 467000000)
	got := UnixSeconds(ts)
	if got < 1750719826.466 || got > 1750719826.468 {
		t.Errorf("UnixSeconds() = %f", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-3 * time.Second, "0s"},
		{45*time.Second + 900*time.Millisecond, "45s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1m 0s"},
		{150 * time.Second, "2m 30s"},
		{3599 * time.Second, "59m 59s"},
		{3600 * time.Second, "1h 0m"},
		{3*time.Hour + 25*time.Minute + 10*time.Second, "3h 25m"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
