// Package upstream dispatches fetches through the SOCKS5 gateway on behalf
// of a session (spec.md §3 C3, §4.3). The SOCKS5 dialer plumbing follows
// the proxy.SOCKS5 + proxy.ContextDialer + http.Transport.DialContext idiom
// used throughout the example pack's SOCKS-fronting HTTP proxies; the
// decompression and default-header handling generalizes the teacher's
// LoadPageWithHeaders (oms/oms.go).
package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// RetryPolicy controls the dispatcher's backoff (spec.md §4.3: base 500ms,
// factor 2, cap 5s, up to maxRetries=3 retries after the first attempt).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	CapDelay   time.Duration
}

// DefaultRetryPolicy matches spec.md §4.3.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  500 * time.Millisecond,
	Factor:     2,
	CapDelay:   5 * time.Second,
}

// delay returns the back-off before the given retry attempt (1-indexed: the
// first retry gets the base delay, i.e. factor^0, not factor^1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * pow(p.Factor, attempt-1)
	if d > float64(p.CapDelay) {
		d = float64(p.CapDelay)
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	r := 1.0
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

// Config describes how to reach the SOCKS5 gateway and how to derive the
// sticky per-session username (spec.md §4.3, §6).
type Config struct {
	ProxyHost     string
	ProxyPort     string
	BaseUser      string
	Password      string
	Zone          string
	Region        string
	SessTimeMins  int
	AttemptTimeout time.Duration
	Retry         RetryPolicy
}

// Dispatcher fetches resources through the SOCKS5 gateway, one
// http.Transport per distinct sticky username so TCP connections for the
// same session/zone/region combination are pooled and reused.
type Dispatcher struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Dispatcher{cfg: cfg, clients: make(map[string]*http.Client)}
}

// StickyUser renders the upstream SOCKS5 username spec.md §4.3 specifies:
// <user>-zone-<zone>-region-<region>-sessid-<cleaned id>-sessTime-<mins>.
// Session ids are cleaned to [A-Za-z0-9] so the username stays a single
// token acceptable to the SOCKS5 auth exchange.
func (d *Dispatcher) StickyUser(sessionID string) string {
	cleaned := cleanSessionID(sessionID)
	sessTime := d.cfg.SessTimeMins
	if sessTime <= 0 {
		sessTime = 120
	}
	return fmt.Sprintf("%s-zone-%s-region-%s-sessid-%s-sessTime-%d",
		d.cfg.BaseUser, d.cfg.Zone, d.cfg.Region, cleaned, sessTime)
}

func cleanSessionID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "nosession"
	}
	return b.String()
}

func (d *Dispatcher) clientFor(sessionID string) (*http.Client, error) {
	user := d.StickyUser(sessionID)

	d.mu.Lock()
	if c, ok := d.clients[user]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	auth := &proxy.Auth{User: user, Password: d.cfg.Password}
	addr := net.JoinHostPort(d.cfg.ProxyHost, d.cfg.ProxyPort)
	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support DialContext")
	}

	client := &http.Client{
		Timeout: d.cfg.AttemptTimeout,
		Transport: &http.Transport{
			DialContext:           ctxDialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		// Redirects are captured, not followed, so the rewriter can decide
		// whether to hand the browser a redirect or chase it itself
		// (spec.md §4.3, §4.9, click-beacon in §4.11).
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	d.mu.Lock()
	d.clients[user] = client
	d.mu.Unlock()
	return client, nil
}

// Result is what Fetch returns: status, headers (including any Set-Cookie
// lines), and the decompressed body.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// FetchOptions lets a caller override the method, body, and headers sent
// upstream (spec.md §4.3: default headers are applied only when the
// caller hasn't already set them).
type FetchOptions struct {
	Method  string
	Body    []byte
	Header  http.Header
	Referer string
	Cookie  string
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return netErr.Timeout()
	}
	return true
}

func asNetError(err error, target *net.Error) bool {
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}

// Fetch performs the GET/POST through the SOCKS5 gateway for sessionID,
// retrying on transport errors and retryable statuses per RetryPolicy.
// It never follows redirects: a 3xx is returned to the caller as-is.
func (d *Dispatcher) Fetch(ctx context.Context, sessionID, targetURL string, opts FetchOptions) (*Result, error) {
	client, err := d.clientFor(sessionID)
	if err != nil {
		return nil, err
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.cfg.Retry.delay(attempt) + jitter):
			}
		}

		var bodyReader io.Reader
		if opts.Body != nil {
			bodyReader = bytes.NewReader(opts.Body)
		}
		req, rerr := http.NewRequestWithContext(ctx, method, targetURL, bodyReader)
		if rerr != nil {
			return nil, fmt.Errorf("build request: %w", rerr)
		}
		applyDefaultHeaders(req.Header, opts.Header)
		if opts.Referer != "" && req.Header.Get("Referer") == "" {
			req.Header.Set("Referer", opts.Referer)
		}
		if opts.Cookie != "" {
			req.Header.Set("Cookie", opts.Cookie)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if isRetryableErr(err) {
				continue
			}
			return nil, fmt.Errorf("upstream request: %w", err)
		}

		body, rerr := readBody(resp)
		resp.Body.Close()
		if rerr != nil {
			lastErr = rerr
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < d.cfg.Retry.MaxRetries {
			lastErr = fmt.Errorf("retryable upstream status %d", resp.StatusCode)
			continue
		}

		return &Result{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			FinalURL:   targetURL,
		}, nil
	}
	return nil, fmt.Errorf("upstream fetch exhausted retries: %w", lastErr)
}

// applyDefaultHeaders fills in a browser-plausible User-Agent/Accept set
// only where the caller hasn't already supplied one, mirroring
// LoadPageWithHeaders's header defaulting. Accept-Encoding is always set
// to gzip, deflate, whatever the caller sent.
func applyDefaultHeaders(dst, caller http.Header) {
	for k, vs := range caller {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", "Mozilla/5.0 (Linux; Android 12) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36")
	}
	if dst.Get("Accept") == "" {
		dst.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	}
	if dst.Get("Accept-Language") == "" {
		dst.Set("Accept-Language", "en-US,en;q=0.9")
	}
	// Never negotiate brotli: Go's transport can't transparently decode it
	// and the manual path below only handles gzip/deflate.
	dst.Set("Accept-Encoding", "gzip, deflate")
}

// readBody decompresses gzip/deflate bodies; identity bodies pass through
// unchanged. Binary assets (images, fonts, video) pass through byte-for-
// byte regardless of encoding (spec.md §8 invariant 5).
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gr.Close()
		reader = gr
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			defer zr.Close()
			reader = zr
		} else {
			fr := flate.NewReader(resp.Body)
			defer fr.Close()
			reader = fr
		}
	}
	return io.ReadAll(reader)
}

// ParseContentLength reads a response's Content-Length header, reporting
// false when it is absent or not a number.
func ParseContentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
