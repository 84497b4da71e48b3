package session

import (
	"testing"
	"time"
)

func TestGetOrCreateFreshWhenEmpty(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	s := st.GetOrCreate("")
	if s.ID == "" {
		t.Fatalf("expected a generated id")
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", st.Len())
	}
}

func TestGetOrCreateReusesLiveID(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	first := st.GetOrCreate("")
	again := st.GetOrCreate(first.ID)
	if again != first {
		t.Fatalf("expected same session instance for the same id")
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", st.Len())
	}
}

func TestGetOrCreateReplacesExpiredID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := NewStore(10*time.Minute, clock)
	first := st.GetOrCreate("")
	now = now.Add(20 * time.Minute)
	again := st.GetOrCreate(first.ID)
	if again.ID == first.ID {
		t.Fatalf("expected a fresh session id after expiry")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	if st.Get("does-not-exist") != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	s := st.GetOrCreate("")
	st.Delete(s.ID)
	if st.Get(s.ID) != nil {
		t.Fatalf("expected session to be gone after Delete")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := NewStore(10*time.Minute, clock)
	s := st.GetOrCreate("")
	now = now.Add(20 * time.Minute)
	st.Sweep()
	if st.Len() != 0 {
		t.Fatalf("expected sweep to evict expired session, still have %d", st.Len())
	}
	_ = s
}

func TestStoreCookiesAndCookiesFor(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	s := st.GetOrCreate("")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.StoreCookies("example.com", []string{
		"sid=abc123; Path=/; HttpOnly",
		"theme=dark; Domain=.example.com; Path=/app",
	}, now)

	got := s.CookiesFor("example.com", "/", now)
	if got != "sid=abc123" {
		t.Fatalf("got %q, want sid only at /", got)
	}

	got = s.CookiesFor("sub.example.com", "/app/page", now)
	if got != "theme=dark" {
		t.Fatalf("got %q, want theme cookie for subdomain at /app/page", got)
	}
}

func TestCookiesForExpiredExcluded(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	s := st.GetOrCreate("")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.StoreCookies("example.com", []string{"gone=1; Max-Age=0"}, now)
	got := s.CookiesFor("example.com", "/", now)
	if got != "" {
		t.Fatalf("expected expired cookie to be excluded, got %q", got)
	}
}

// TestMaxAgeExpiryUsesInjectedClock exercises spec.md §8.6's "after 60s the
// cookie is gone" scenario under a fake clock: a cookie with Max-Age=60
// should still be present just before the deadline and gone just after it,
// with no dependency on wall-clock time.Now().
func TestMaxAgeExpiryUsesInjectedClock(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	s := st.GetOrCreate("")
	setAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.StoreCookies("example.com", []string{"sid=abc123; Max-Age=60"}, setAt)

	almostExpired := setAt.Add(59 * time.Second)
	if got := s.CookiesFor("example.com", "/", almostExpired); got != "sid=abc123" {
		t.Fatalf("got %q, want cookie still live at 59s", got)
	}

	expired := setAt.Add(61 * time.Second)
	if got := s.CookiesFor("example.com", "/", expired); got != "" {
		t.Fatalf("got %q, want cookie gone after 60s Max-Age elapses", got)
	}
}

func TestStatsReportsLiveSessionCount(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	st.GetOrCreate("")
	st.GetOrCreate("")
	if got := st.Stats(); got != 2 {
		t.Fatalf("Stats() = %d, want 2", got)
	}
}

func TestSetCurrentPage(t *testing.T) {
	st := NewStore(30*time.Minute, nil)
	s := st.GetOrCreate("")
	s.SetCurrentPage("https://example.com/article")
	if s.CurrentPage() != "https://example.com/article" {
		t.Fatalf("got %q", s.CurrentPage())
	}
}
