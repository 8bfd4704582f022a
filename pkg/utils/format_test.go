package utils

import (
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{name: "zero bytes", bytes: 0, expected: "0 B"},
		{name: "bytes", bytes: 500, expected: "500 B"},
		{name: "kilobytes", bytes: 1500, expected: "1.5 KB"},
		{name: "megabytes", bytes: 1500000, expected: "1.4 MB"},
		{name: "gigabytes", bytes: 1500000000, expected: "1.4 GB"},
		{name: "terabytes", bytes: 1500000000000, expected: "1.4 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSize(tt.bytes); got != tt.expected {
				t.Errorf("FormatSize(%d) = %s; want %s", tt.bytes, got, tt.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0s"},
		{in: 1400 * time.Millisecond, want: "1s"},
		{in: 61 * time.Second, want: "1m01s"},
		{in: 2*time.Hour + 3*time.Minute + 4*time.Second, want: "2h03m04s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %s; want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(1, 4); got != "25.0%" {
		t.Errorf("FormatPercent(1, 4) = %s", got)
	}
	if got := FormatPercent(3, 0); got != "0.0%" {
		t.Errorf("FormatPercent(3, 0) = %s", got)
	}
}
