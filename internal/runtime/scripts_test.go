package runtime

import (
	"strings"
	"testing"
)

func TestPageScriptBakesInTrueURL(t *testing.T) {
	s := PageScript("https://ex.com/page", "/p/")
	if !strings.Contains(s, "https://ex.com/page") {
		t.Fatalf("expected true URL baked into script")
	}
	if strings.Contains(s, "__RELAY_TRUE_URL__") {
		t.Fatalf("placeholder was not substituted")
	}
}

func TestJSEscapeNeutralizesScriptClose(t *testing.T) {
	s := PageScript(`https://ex.com/</script><script>alert(1)`, "/p/")
	if strings.Contains(s, "</script><script>alert(1)") {
		t.Fatalf("script-closing sequence was not neutralized: %s", s)
	}
}

func TestAdFrameScriptBakesInTrueURL(t *testing.T) {
	s := AdFrameScript("https://ads.example.com/x")
	if !strings.Contains(s, "https://ads.example.com/x") {
		t.Fatalf("expected true URL baked into ad frame script")
	}
}

func TestWebRTCNeutralizationNonEmpty(t *testing.T) {
	if WebRTCNeutralizationScript() == "" {
		t.Fatalf("expected non-empty script")
	}
}

func TestServiceWorkerScriptNonEmpty(t *testing.T) {
	if ServiceWorkerScript == "" {
		t.Fatalf("expected non-empty service worker script")
	}
}

func TestServiceWorkerScriptImplementsDispatchPolicy(t *testing.T) {
	want := []string{
		"PROXY_PREFIX",
		"EXTERNAL_PREFIX",
		"handlePreEncoded",
		"proxyInline",
		"looksLikeToken",
		"isAdHost",
		"X-Original-UA",
		"req.destination",
		"req.mode",
		"Response.redirect(PROXY_PREFIX",
		"caches.delete",
	}
	for _, s := range want {
		if !strings.Contains(ServiceWorkerScript, s) {
			t.Errorf("expected service worker script to contain %q", s)
		}
	}
}

func TestServiceWorkerFetchNeverFallsThroughToBareFetch(t *testing.T) {
	if strings.Contains(ServiceWorkerScript, "event.respondWith(fetch(req));") {
		t.Fatalf("service worker must not blindly respondWith(fetch(req)) for cross-origin requests")
	}
}
