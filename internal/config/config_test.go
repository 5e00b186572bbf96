package config

import (
	"testing"
	"time"
)

func TestParseDurationFallsBackOnGarbage(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{in: "45m", want: 45 * time.Minute},
		{in: "not-a-duration", want: time.Hour},
		{in: "-5m", want: time.Hour},
		{in: "", want: time.Hour},
	}

	for _, tc := range tests {
		if got := parseDuration(tc.in, time.Hour); got != tc.want {
			t.Fatalf("parseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseStringSlice(t *testing.T) {
	got := parseStringSlice("http://a,,http://b")
	if len(got) != 2 || got[0] != "http://a" || got[1] != "http://b" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if len(parseStringSlice("")) != 0 {
		t.Fatal("expected empty slice for empty input")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	t.Setenv("OFFER_TTL", "12h")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg := Load()
	if !cfg.UsesMemoryStorage() {
		t.Fatalf("expected memory storage, got %q", cfg.Storage)
	}
	if cfg.OfferTTL != 12*time.Hour {
		t.Fatalf("expected 12h offer ttl, got %v", cfg.OfferTTL)
	}
	if cfg.SweepInterval != 30*time.Minute {
		t.Fatalf("expected default sweep interval, got %v", cfg.SweepInterval)
	}
}
