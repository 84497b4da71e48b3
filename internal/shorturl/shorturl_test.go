package shorturl

import (
	"testing"
	"time"
)

func TestShortenAndLookupRoundTrip(t *testing.T) {
	tbl := NewTable(time.Hour, nil)
	hash := tbl.Shorten("https://ex.com/page")
	got, ok := tbl.Lookup(hash)
	if !ok || got != "https://ex.com/page" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestShortenDedupesSameURL(t *testing.T) {
	tbl := NewTable(time.Hour, nil)
	h1 := tbl.Shorten("https://ex.com/page")
	h2 := tbl.Shorten("https://ex.com/page")
	if h1 != h2 {
		t.Fatalf("expected same hash for same URL, got %q and %q", h1, h2)
	}
}

func TestShortenDifferentURLsDifferentHashes(t *testing.T) {
	tbl := NewTable(time.Hour, nil)
	h1 := tbl.Shorten("https://ex.com/a")
	h2 := tbl.Shorten("https://ex.com/b")
	if h1 == h2 {
		t.Fatalf("expected different hashes for different URLs")
	}
}

func TestLookupMissReturnsFalse(t *testing.T) {
	tbl := NewTable(time.Hour, nil)
	if _, ok := tbl.Lookup("doesnotexist"); ok {
		t.Fatalf("expected miss")
	}
}

func TestLookupExpiredEvicts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tbl := NewTable(time.Minute, clock)
	hash := tbl.Shorten("https://ex.com/page")
	now = now.Add(2 * time.Minute)
	if _, ok := tbl.Lookup(hash); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestShortenReissuesAfterExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tbl := NewTable(time.Minute, clock)
	h1 := tbl.Shorten("https://ex.com/page")
	now = now.Add(2 * time.Minute)
	h2 := tbl.Shorten("https://ex.com/page")
	if h1 != h2 {
		t.Fatalf("blake2b hash should be stable across reissue, got %q and %q", h1, h2)
	}
	if _, ok := tbl.Lookup(h2); !ok {
		t.Fatalf("expected reissued entry to be live")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tbl := NewTable(time.Minute, clock)
	tbl.Shorten("https://ex.com/page")
	now = now.Add(2 * time.Minute)
	tbl.Sweep()
	if got := tbl.Len(); got != 0 {
		t.Fatalf("expected table to be empty after sweep, got %d entries", got)
	}
}

func TestLenReflectsLiveEntries(t *testing.T) {
	tbl := NewTable(time.Hour, nil)
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table, got %d", tbl.Len())
	}
	tbl.Shorten("https://ex.com/a")
	tbl.Shorten("https://ex.com/b")
	tbl.Shorten("https://ex.com/a") // dedupe, should not grow count
	if got := tbl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestLooksLikeHash(t *testing.T) {
	if !LooksLikeHash("abc123XYZ_-") {
		t.Fatalf("expected plausible hash to pass")
	}
	if LooksLikeHash("") {
		t.Fatalf("expected empty string to fail")
	}
	if LooksLikeHash("has/slash") {
		t.Fatalf("expected path with slash to fail")
	}
}
