package util

import (
	"log/slog"
	"testing"
)

func TestBoolValue(t *testing.T) {
	if got := BoolValue(nil, true); got != true {
		t.Fatalf("BoolValue(nil, true) = %v, want true", got)
	}
	if got := BoolValue(nil, false); got != false {
		t.Fatalf("BoolValue(nil, false) = %v, want false", got)
	}
	val := true
	if got := BoolValue(&val, false); got != true {
		t.Fatalf("BoolValue(true, false) = %v, want true", got)
	}
	val = false
	if got := BoolValue(&val, true); got != false {
		t.Fatalf("BoolValue(false, true) = %v, want false", got)
	}
}

func TestRound(t *testing.T) {
	cases := []struct {
		in     float64
		places int
		want   float64
	}{
		{49.96, 1, 50.0},
		{12.34, 1, 12.3},
		{12.35, 0, 12},
		{17.5, 0, 18},
		{0, 1, 0},
	}
	for _, tc := range cases {
		if got := Round(tc.in, tc.places); got != tc.want {
			t.Fatalf("Round(%v, %d) = %v, want %v", tc.in, tc.places, got, tc.want)
		}
	}
}

func TestFormatters(t *testing.T) {
	if got := FormatMbps(93.25); got != "93.2 Mbps" && got != "93.3 Mbps" {
		t.Fatalf("FormatMbps(93.25) = %q", got)
	}
	if got := FormatMbps(-1); got != "0.0 Mbps" {
		t.Fatalf("FormatMbps(-1) = %q, want 0.0 Mbps", got)
	}
	if got := FormatMs(18); got != "18 ms" {
		t.Fatalf("FormatMs(18) = %q, want 18 ms", got)
	}
	if got := FormatMs(2.5); got != "2.5 ms" {
		t.Fatalf("FormatMs(2.5) = %q, want 2.5 ms", got)
	}
	if got := FormatBytes(25_000_000); got != "25.0 MB" {
		t.Fatalf("FormatBytes(25e6) = %q, want 25.0 MB", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
