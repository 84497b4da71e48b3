package upstream

import (
	"net/http"
	"testing"
	"time"
)

func TestStickyUserFormat(t *testing.T) {
	d := NewDispatcher(Config{
		BaseUser:     "relay",
		Zone:         "eu",
		Region:       "de",
		SessTimeMins: 120,
	})
	got := d.StickyUser("abc-123!!")
	want := "relay-zone-eu-region-de-sessid-abc123-sessTime-120"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStickyUserDefaultsSessTime(t *testing.T) {
	d := NewDispatcher(Config{BaseUser: "relay", Zone: "z", Region: "r"})
	got := d.StickyUser("s1")
	if got != "relay-zone-z-region-r-sessid-s1-sessTime-120" {
		t.Fatalf("got %q", got)
	}
}

func TestStickyUserEmptySessionFallsBack(t *testing.T) {
	d := NewDispatcher(Config{BaseUser: "relay", Zone: "z", Region: "r"})
	got := d.StickyUser("!!!")
	if got != "relay-zone-z-region-r-sessid-nosession-sessTime-120" {
		t.Fatalf("got %q", got)
	}
}

func TestRetryPolicyDelayMatchesSpecSequence(t *testing.T) {
	p := DefaultRetryPolicy
	d1 := p.delay(1)
	d2 := p.delay(2)
	d3 := p.delay(3)
	if d1 != 500*time.Millisecond {
		t.Fatalf("expected first retry delay of 500ms, got %v", d1)
	}
	if d2 != time.Second {
		t.Fatalf("expected second retry delay of 1s, got %v", d2)
	}
	if d3 != 2*time.Second {
		t.Fatalf("expected third retry delay of 2s, got %v", d3)
	}
	big := p.delay(20)
	if big != p.CapDelay {
		t.Fatalf("expected delay to cap at %v, got %v", p.CapDelay, big)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests}
	for _, s := range retryable {
		if !isRetryableStatus(s) {
			t.Fatalf("expected %d to be retryable", s)
		}
	}
	nonRetryable := []int{http.StatusOK, http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError}
	for _, s := range nonRetryable {
		if isRetryableStatus(s) {
			t.Fatalf("expected %d to not be retryable", s)
		}
	}
}

func TestApplyDefaultHeadersDoesNotOverrideCaller(t *testing.T) {
	dst := http.Header{}
	caller := http.Header{}
	caller.Set("User-Agent", "custom-agent")
	applyDefaultHeaders(dst, caller)
	if dst.Get("User-Agent") != "custom-agent" {
		t.Fatalf("expected caller User-Agent to survive, got %q", dst.Get("User-Agent"))
	}
	if dst.Get("Accept") == "" {
		t.Fatalf("expected a default Accept header to be filled in")
	}
}

func TestCleanSessionIDStripsPunctuation(t *testing.T) {
	if got := cleanSessionID("a-b_c.d!e"); got != "abcde" {
		t.Fatalf("got %q", got)
	}
}
