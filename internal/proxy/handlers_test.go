package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relayproxy/internal/codec"
	"relayproxy/internal/proxyconfig"
	"relayproxy/internal/session"
	"relayproxy/internal/shorturl"
	"relayproxy/internal/upstream"
)

func newTestServer() *Server {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cfg := Config{
		Proxy: proxyconfig.Config{
			SessionCookie: "proxy_session",
			SessionTTL:    30 * time.Minute,
			TargetSite:    "https://example.com/",
			ProxyHost:     "socks.example.net",
			ProxyRegion:   "us",
			UseProxy:      true,
		},
		Clock: clock,
	}
	return &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		clock:      clock,
		sessions:   session.NewStore(cfg.Proxy.SessionTTL, clock),
		dispatcher: upstream.NewDispatcher(upstream.Config{}),
		shortURLs:  shorturl.NewTable(shorturl.DefaultTTL, clock),
	}
}

func TestHandleRootServesLanding(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleRoot(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), codec.Encode("https://example.com/")) {
		t.Fatalf("landing page should link the encoded target, got %s", w.Body.String())
	}
}

func TestHandleRootUnknownPath404s(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	s.handleRoot(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleServiceWorkerHeaders(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/sw.js", nil)
	w := httptest.NewRecorder()
	s.handleServiceWorker(w, r)
	if got := w.Header().Get("Service-Worker-Allowed"); got != "/" {
		t.Fatalf("Service-Worker-Allowed = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestHandleShortPathRedirectsWithToken(t *testing.T) {
	s := newTestServer()
	token := codec.Encode("https://example.com/page")
	r := httptest.NewRequest(http.MethodGet, "/p/"+token, nil)
	w := httptest.NewRecorder()
	s.handleShortPath(w, r)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/api/proxy?") || !strings.Contains(loc, token) {
		t.Fatalf("Location = %q", loc)
	}
}

func TestHandleShortPathResolvesShortHash(t *testing.T) {
	s := newTestServer()
	hash := s.shortURLs.Shorten("https://example.com/long/path")
	r := httptest.NewRequest(http.MethodGet, "/p/s/"+hash, nil)
	w := httptest.NewRecorder()
	s.handleShortPath(w, r)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, codec.Encode("https://example.com/long/path")) {
		t.Fatalf("Location = %q, expected encoded resolved URL", loc)
	}
}

func TestHandleShortPathUnknownHash404s(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/p/s/doesnotexist", nil)
	w := httptest.NewRecorder()
	s.handleShortPath(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestBoundSessionIssuesCookieOnce(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/api/proxy", nil)
	w := httptest.NewRecorder()
	sess := s.boundSession(w, r)
	if sess == nil {
		t.Fatal("expected a session")
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "proxy_session" {
		t.Fatalf("expected one proxy_session cookie, got %v", cookies)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/api/proxy", nil)
	r2.AddCookie(cookies[0])
	w2 := httptest.NewRecorder()
	sess2 := s.boundSession(w2, r2)
	if sess2.ID != sess.ID {
		t.Fatalf("expected same session to be reused, got %q vs %q", sess2.ID, sess.ID)
	}
	if len(w2.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie reissued for a live session")
	}
}

func TestHandleAPIProxyRejectsMalformedToken(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/api/proxy?url=not-valid-base64!!!", nil)
	w := httptest.NewRecorder()
	s.handleAPIProxy(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleAPIProxyRejectsSSRFTarget(t *testing.T) {
	s := newTestServer()
	token := codec.Encode("http://127.0.0.1/admin")
	r := httptest.NewRequest(http.MethodGet, "/api/proxy?url="+token, nil)
	w := httptest.NewRecorder()
	s.handleAPIProxy(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleAPISessionLifecycle(t *testing.T) {
	s := newTestServer()

	r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	w := httptest.NewRecorder()
	s.handleAPISession(w, r)
	if !strings.Contains(w.Body.String(), `"hasSession":false`) {
		t.Fatalf("expected no session yet, got %s", w.Body.String())
	}

	rPost := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	wPost := httptest.NewRecorder()
	s.handleAPISession(wPost, rPost)
	cookies := wPost.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected a session cookie, got %v", cookies)
	}

	rGet := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rGet.AddCookie(cookies[0])
	wGet := httptest.NewRecorder()
	s.handleAPISession(wGet, rGet)
	if !strings.Contains(wGet.Body.String(), `"hasSession":true`) {
		t.Fatalf("expected hasSession true, got %s", wGet.Body.String())
	}

	rDel := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	rDel.AddCookie(cookies[0])
	wDel := httptest.NewRecorder()
	s.handleAPISession(wDel, rDel)
	if s.sessions.Get(cookies[0].Value) != nil {
		t.Fatalf("expected session to be deleted")
	}
}

func TestHandleAPIShorten(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"url":"https://example.com/a/very/long/path"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/shorten", body)
	w := httptest.NewRecorder()
	s.handleAPIShorten(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"shortUrl":"/p/s/`) {
		t.Fatalf("expected a /p/s/ shortUrl, got %s", w.Body.String())
	}
}

func TestHandleAPIShortenRejectsMissingURL(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodPost, "/api/shorten", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleAPIShorten(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleAPIURLStatsReflectsTableSize(t *testing.T) {
	s := newTestServer()
	s.shortURLs.Shorten("https://example.com/one")
	s.shortURLs.Shorten("https://example.com/two")
	r := httptest.NewRequest(http.MethodGet, "/api/url-stats", nil)
	w := httptest.NewRecorder()
	s.handleAPIURLStats(w, r)
	if !strings.Contains(w.Body.String(), `"totalUrls":2`) {
		t.Fatalf("expected totalUrls 2, got %s", w.Body.String())
	}
}

func TestHandleAPIStatusReportsConfig(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.handleAPIStatus(w, r)
	if !strings.Contains(w.Body.String(), `"host":"socks.example.net"`) {
		t.Fatalf("expected configured host, got %s", w.Body.String())
	}
}

func TestHandleAPIHealthOK(t *testing.T) {
	s := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.handleAPIHealth(w, r)
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected status ok, got %s", w.Body.String())
	}
}

func TestHandleAPIClickBeaconFallsBackToAdurlOnFailure(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"clickUrl":"https://doubleclick.net/aclk?adurl=https://advertiser.example.com","adurl":"https://advertiser.example.com"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/click-beacon", body)
	w := httptest.NewRecorder()
	s.handleAPIClickBeacon(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "advertiser.example.com") {
		t.Fatalf("expected advertiser destination in fallback, got %s", w.Body.String())
	}
}

func TestIsAdHost(t *testing.T) {
	cases := map[string]bool{
		"https://doubleclick.net/aclk":             true,
		"https://sub.doubleclick.net/aclk":         true,
		"https://googleadservices.com/pagead/aclk": true,
		"https://example.com/":                     false,
	}
	for u, want := range cases {
		if got := isAdHost(u); got != want {
			t.Errorf("isAdHost(%q) = %v, want %v", u, got, want)
		}
	}
}

func TestHostOfAndPathOf(t *testing.T) {
	if got := hostOf("https://example.com:8443/a/b"); got != "example.com" {
		t.Fatalf("hostOf = %q", got)
	}
	if got := pathOf("https://example.com/a/b"); got != "/a/b" {
		t.Fatalf("pathOf = %q", got)
	}
	if got := pathOf("https://example.com"); got != "/" {
		t.Fatalf("pathOf root = %q", got)
	}
}
