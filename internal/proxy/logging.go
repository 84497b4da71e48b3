package proxy

import (
	"log"
	"net/http"
	"time"

	"relayproxy/internal/classify"
)

// statusRecorder captures the status and byte count the wrapped handler
// wrote, since net/http gives the middleware no other way to observe them.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// withLogging logs one summary line per request - method, path, session,
// status, response classification, size, and duration (spec.md §7). The
// per-header request dump is gated on verbose (tied to
// proxyconfig.Config.ProductionMode: off in production, on otherwise) since
// it is only useful while developing against a live target. cookieName
// names the session cookie so the logged session id can be truncated to the
// 8-char form also surfaced by /api/session, never the raw id.
func withLogging(logger *log.Logger, verbose bool, cookieName string, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sessionID := "-"
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			sessionID = truncateID(c.Value)
		}

		if verbose {
			logger.Printf("REQ %s %s Host=%s UA=%q From=%s Session=%s", r.Method, r.URL.String(), r.Host, r.UserAgent(), r.RemoteAddr, sessionID)
			logHeader := func(name string) {
				if v := r.Header.Get(name); v != "" {
					logger.Printf("HDR %s: %s", name, v)
				}
			}
			logHeader("Connection")
			logHeader("Content-Type")
			logHeader("Content-Length")
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		kind := classify.ClassifyByContentType(rec.Header().Get("Content-Type"))
		logger.Printf("RES %s %s session=%s status=%d kind=%s bytes=%d duration=%s",
			r.Method, r.URL.Path, sessionID, rec.status, kind, rec.bytes, time.Since(start))
	})
}
