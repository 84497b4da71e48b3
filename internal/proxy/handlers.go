package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relayproxy/internal/classify"
	"relayproxy/internal/codec"
	"relayproxy/internal/proxyerr"
	"relayproxy/internal/rewrite"
	"relayproxy/internal/runtime"
	"relayproxy/internal/session"
	"relayproxy/internal/shorturl"
	"relayproxy/internal/upstream"
)

const landingPageTemplate = `<!DOCTYPE html>
<html><head><link rel="stylesheet" href="/assets/style.css"></head><body>
<h1>relayproxy</h1>
<p>Browse through the proxy by visiting <code>/p/&lt;base64(url)&gt;</code>, or fetch
<a href="/p/%s">%s</a> to get started.</p>
</body></html>`

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeErr(w, proxyerr.NotFound("not found"))
		return
	}
	target := firstNonEmpty(s.cfg.Proxy.TargetSite, "https://example.com/")
	token := codec.Encode(target)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, landingPageTemplate, token, target)
}

func (s *Server) handleServiceWorker(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Service-Worker-Allowed", "/")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(runtime.ServiceWorkerScript))
}

// handleShortPath implements GET /p/<token> (spec.md §4.9, §6): a 302 to
// /api/proxy?url=<token>, preserving any extra query parameters on the
// request itself; /p/s/<hash> is resolved through the short-URL table
// first.
func (s *Server) handleShortPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/p/")

	if strings.HasPrefix(rest, "s/") {
		hash := strings.TrimPrefix(rest, "s/")
		target, ok := s.shortURLs.Lookup(hash)
		if !ok {
			writeErr(w, proxyerr.NotFound("short URL not found or expired"))
			return
		}
		rest = codec.Encode(target)
	}

	if rest == "" {
		writeErr(w, proxyerr.BadRequest("missing token"))
		return
	}

	q := r.URL.Query()
	q.Set("url", rest)
	http.Redirect(w, r, "/api/proxy?"+q.Encode(), http.StatusFound)
}

// boundSession resolves the session from the request's cookie, creating a
// fresh one if absent, and sets the cookie on first issuance (spec.md
// §4.9 step 3, §6).
func (s *Server) boundSession(w http.ResponseWriter, r *http.Request) *session.Session {
	cookieName := s.cfg.Proxy.SessionCookie
	var existingID string
	if c, err := r.Cookie(cookieName); err == nil {
		existingID = c.Value
	}
	sess := s.sessions.GetOrCreate(existingID)
	if sess.ID != existingID {
		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   s.cfg.Proxy.ProductionMode,
			MaxAge:   int(s.cfg.Proxy.SessionTTL.Seconds()),
		})
	}
	return sess
}

// forbiddenResponseHeaders are never forwarded from upstream, regardless
// of classification (spec.md §4.9 step 7, §8 invariant 6).
var forbiddenResponseHeaders = []string{
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Frame-Options",
	"X-XSS-Protection",
	"Set-Cookie", // captured into the session jar, never forwarded to the browser
	"Transfer-Encoding",
	"Content-Encoding",
}

// binaryHeaderWhitelist is forwarded verbatim on the binary path (spec.md
// §4.9 step 5).
var binaryHeaderWhitelist = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

const permissiveCSP = "default-src * 'unsafe-inline' 'unsafe-eval' data: blob:; script-src * 'unsafe-inline' 'unsafe-eval' data: blob:"

func copyWhitelisted(dst, src http.Header, names []string) {
	for _, name := range names {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
}

func writeErr(w http.ResponseWriter, e *proxyerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.AsBody())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleAPIProxy implements the core pipeline of spec.md §4.9.
func (s *Server) handleAPIProxy(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("url")
	targetURL, err := codec.Decode(token)
	if err != nil {
		writeErr(w, proxyerr.BadRequestURL("invalid encoded URL", token))
		return
	}

	if ok, reason := validateURL(targetURL); !ok {
		writeErr(w, proxyerr.BadRequestURL(reason, targetURL))
		return
	}

	sess := s.boundSession(w, r)

	opts := upstream.FetchOptions{
		Method:  r.Method,
		Referer: sess.CurrentPage(),
		Cookie:  sess.CookiesFor(hostOf(targetURL), pathOf(targetURL), s.clock()),
		Header:  http.Header{},
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		opts.Header.Set("User-Agent", ua)
		opts.Header.Set("X-Original-UA", ua)
	}
	if al := r.Header.Get("Accept-Language"); al != "" {
		opts.Header.Set("Accept-Language", al)
	}
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		opts.Body = body
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := s.dispatcher.Fetch(ctx, sess.ID, targetURL, opts)
	if err != nil {
		writeErr(w, proxyerr.Upstream(err.Error()))
		return
	}
	sess.StoreCookies(hostOf(targetURL), result.Header.Values("Set-Cookie"), s.clock())

	if loc, ok := redirectLocation(result); ok {
		s.respondRedirect(w, result.StatusCode, targetURL, loc)
		return
	}

	kind := classify.ClassifyByContentType(result.Header.Get("Content-Type"))
	if suffixKind, ok := classify.ClassifyBySuffix(pathOf(targetURL)); ok && kind != classify.KindHTML {
		kind = suffixKind
	}

	switch kind {
	case classify.KindHTML:
		s.respondHTML(w, sess, targetURL, result)
	case classify.KindCSS:
		rewritten := rewrite.RewriteStylesheet(string(result.Body), targetURL)
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		copyWhitelisted(w.Header(), result.Header, binaryHeaderWhitelist)
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write([]byte(rewritten))
	case classify.KindJS:
		rewritten := rewrite.RewriteScript(string(result.Body))
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		copyWhitelisted(w.Header(), result.Header, binaryHeaderWhitelist)
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write([]byte(rewritten))
	default:
		copyWhitelisted(w.Header(), result.Header, binaryHeaderWhitelist)
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write(result.Body)
	}
}

func (s *Server) respondHTML(w http.ResponseWriter, sess *session.Session, targetURL string, result *upstream.Result) {
	mode := rewrite.ModePage
	if isAdHost(targetURL) {
		mode = rewrite.ModeAdFrame
	}
	rewritten, err := rewrite.RewriteHTML(string(result.Body), targetURL, mode)
	if err != nil {
		writeErr(w, proxyerr.Internal("failed to rewrite document"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if mode == rewrite.ModePage {
		w.Header().Set("Content-Security-Policy", permissiveCSP)
	}
	copyWhitelisted(w.Header(), result.Header, binaryHeaderWhitelist)
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write([]byte(rewritten))
	sess.SetCurrentPage(targetURL)
}

func redirectLocation(result *upstream.Result) (string, bool) {
	if result.StatusCode < 300 || result.StatusCode >= 400 {
		return "", false
	}
	loc := result.Header.Get("Location")
	if loc == "" {
		return "", false
	}
	return loc, true
}

func (s *Server) respondRedirect(w http.ResponseWriter, status int, base, location string) {
	resolved, ok := codec.ResolveAgainst(base, location)
	if !ok {
		resolved = location
	}
	w.Header().Set("Location", codec.ProxyPrefix+codec.Encode(resolved))
	w.WriteHeader(status)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

var adHosts = []string{"googleadservices.com", "doubleclick.net", "googlesyndication.com"}

// isAdHost decides page vs adFrame mode from the target host (spec.md
// §4.9 step 6, §4.11).
func isAdHost(rawURL string) bool {
	host := strings.ToLower(hostOf(rawURL))
	for _, h := range adHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	cookieName := s.cfg.Proxy.SessionCookie
	switch r.Method {
	case http.MethodPost:
		sess := s.boundSession(w, r)
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": truncateID(sess.ID),
			"expiresIn": int(s.cfg.Proxy.SessionTTL.Seconds()),
		})
	case http.MethodGet:
		c, err := r.Cookie(cookieName)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"hasSession": false})
			return
		}
		sess := s.sessions.Get(c.Value)
		if sess == nil {
			writeJSON(w, http.StatusOK, map[string]any{"hasSession": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"hasSession":  true,
			"sessionId":   truncateID(sess.ID),
			"currentPage": sess.CurrentPage(),
		})
	case http.MethodDelete:
		if c, err := r.Cookie(cookieName); err == nil {
			s.sessions.Delete(c.Value)
		}
		http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeErr(w, proxyerr.NotFound("method not allowed"))
	}
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"proxy": map[string]any{
			"configured": s.cfg.Proxy.ProxyHost != "" && s.cfg.Proxy.UseProxy,
			"host":       s.cfg.Proxy.ProxyHost,
			"region":     s.cfg.Proxy.ProxyRegion,
		},
		"targetSite": s.cfg.Proxy.TargetSite,
	})
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"timestamp":    s.clock().UTC().Format(time.RFC3339),
		"liveSessions": s.sessions.Stats(),
	})
}

func (s *Server) handleAPIShorten(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, proxyerr.NotFound("method not allowed"))
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeErr(w, proxyerr.BadRequest("missing url"))
		return
	}
	hash := s.shortURLs.Shorten(body.URL)
	writeJSON(w, http.StatusOK, map[string]any{
		"hash":     hash,
		"shortUrl": codec.ProxyPrefix + "s/" + hash,
	})
}

func (s *Server) handleAPIURLStats(w http.ResponseWriter, r *http.Request) {
	total := s.shortURLs.Len()
	writeJSON(w, http.StatusOK, map[string]any{
		"totalUrls":     total,
		"activeEntries": total,
		"maxPathLength": 1500,
		"ttlMinutes":    int(shorturl.DefaultTTL.Minutes()),
	})
}

// clickBeaconRequest is the JSON body of spec.md §4.11.
type clickBeaconRequest struct {
	ClickURL  string `json:"clickUrl"`
	Cookies   string `json:"cookies"`
	UserAgent string `json:"userAgent"`
	Referrer  string `json:"referrer"`
	Language  string `json:"language"`
	Adurl     string `json:"adurl"`
}

const maxClickRedirects = 10

// handleAPIClickBeacon follows an ad-click redirect chain through the
// upstream dispatcher and hands the browser a proxied destination (spec.md
// §4.11).
func (s *Server) handleAPIClickBeacon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, proxyerr.NotFound("method not allowed"))
		return
	}
	var req clickBeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClickURL == "" {
		writeErr(w, proxyerr.BadRequest("missing clickUrl"))
		return
	}

	sess := s.boundSession(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	current := req.ClickURL
	registered := false
	var lastErr error

	for hop := 0; hop < maxClickRedirects; hop++ {
		if !isAdHost(current) {
			break
		}
		opts := upstream.FetchOptions{
			Method:  http.MethodGet,
			Referer: req.Referrer,
			Cookie:  req.Cookies,
			Header:  http.Header{},
		}
		if req.UserAgent != "" {
			opts.Header.Set("User-Agent", req.UserAgent)
		}
		if req.Language != "" {
			opts.Header.Set("Accept-Language", req.Language)
		}

		result, err := s.dispatcher.Fetch(ctx, sess.ID, current, opts)
		if err != nil {
			lastErr = err
			break
		}
		sess.StoreCookies(hostOf(current), result.Header.Values("Set-Cookie"), s.clock())
		registered = true

		loc, ok := redirectLocation(result)
		if !ok {
			break
		}
		resolved, ok := codec.ResolveAgainst(current, loc)
		if !ok {
			break
		}
		current = resolved
	}

	if lastErr != nil && req.Adurl != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"clickRegistered": false,
			"destination":     req.Adurl,
			"proxyUrl":        codec.ProxyPrefix + codec.Encode(req.Adurl),
		})
		return
	}
	if lastErr != nil {
		writeErr(w, proxyerr.Upstream(lastErr.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"clickRegistered": registered,
		"destination":     current,
		"proxyUrl":        codec.ProxyPrefix + codec.Encode(current),
	})
}

func (s *Server) handleHCDNForward(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSuffix(s.cfg.Proxy.TargetSite, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body, _ := io.ReadAll(r.Body)
	r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	sess := s.boundSession(w, r)
	result, err := s.dispatcher.Fetch(ctx, sess.ID, target, upstream.FetchOptions{
		Method: r.Method,
		Body:   body,
		Header: r.Header.Clone(),
	})
	if err != nil {
		writeErr(w, proxyerr.Upstream(err.Error()))
		return
	}
	for _, h := range forbiddenResponseHeaders {
		result.Header.Del(h)
	}
	copyHeader(w.Header(), result.Header)
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}
