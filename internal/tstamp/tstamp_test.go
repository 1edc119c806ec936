package tstamp

import (
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	serialized := Format(now)
	parsed, ok := Parse(serialized)
	if !ok {
		t.Fatalf("expected Parse to succeed on %q", serialized)
	}
	if !parsed.Equal(now) {
		t.Fatalf("round trip mismatch: got %v, want %v", parsed, now)
	}
}

func TestParseAcceptsPlusOffsetSuffix(t *testing.T) {
	_, ok := Parse("2026-01-15T10:30:00+00:00")
	if !ok {
		t.Fatal("expected Parse to accept a +00:00 suffix")
	}
}

func TestParseAcceptsNativeTime(t *testing.T) {
	now := time.Now()
	parsed, ok := Parse(now)
	if !ok || !parsed.Equal(now) {
		t.Fatalf("expected native time.Time to pass through, got ok=%v parsed=%v", ok, parsed)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, ok := Parse("not-a-timestamp"); ok {
		t.Fatal("expected Parse to reject a malformed string")
	}
	if _, ok := Parse(nil); ok {
		t.Fatal("expected Parse to reject nil")
	}
}

func TestIsString(t *testing.T) {
	if !IsString("2026-01-15T10:30:00Z") {
		t.Fatal("expected IsString(true) for a string timestamp")
	}
	if IsString(time.Now()) {
		t.Fatal("expected IsString(false) for a native time.Time")
	}
}
