// Package session implements the per-browser session store (spec.md §3,
// §4.2): identity, a domain-scoped cookie jar, and the last-visited page
// used as Referer on the next upstream request. The map-of-mutexes shape
// mirrors the teacher's cookieJarStore (internal/proxy/cookiejar_store.go)
// and the clock-injectable TTL of its authStore
// (internal/proxy/auth_store.go), generalized from a single cookie jar per
// remote-addr key to a full Session tuple keyed by an opaque id.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the tuple (id, createdAt, lastAccessAt, currentPage, jar) of
// spec.md §3. All mutation goes through its own mutex so a session's
// cookie jar can be updated concurrently from multiple in-flight requests
// without serializing the whole store.
type Session struct {
	ID           string
	CreatedAt    time.Time
	lastAccessAt time.Time
	currentPage  string

	mu  sync.RWMutex
	jar map[string]map[string]Cookie // domain -> cookie name -> Cookie
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		lastAccessAt: now,
		jar:          make(map[string]map[string]Cookie),
	}
}

// LastAccess returns the last time this session was touched.
func (s *Session) LastAccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccessAt
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccessAt = now
	s.mu.Unlock()
}

// CurrentPage returns the last page this session successfully rendered,
// used as the upstream Referer (spec.md §4.3).
func (s *Session) CurrentPage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPage
}

// SetCurrentPage is called only after a successful HTML response has been
// emitted to the browser (spec.md §4.2, §4.9 step 6).
func (s *Session) SetCurrentPage(u string) {
	s.mu.Lock()
	s.currentPage = u
	s.mu.Unlock()
}

// StoreCookies parses each Set-Cookie header and stores it under both the
// declared Domain attribute (if any) and the origin host that emitted it,
// so a later lookup by either name succeeds (spec.md §3, §4.2). now anchors
// relative Max-Age attributes; callers pass the store's injected clock so
// expiry stays deterministic under a fake clock (spec.md §8.6).
func (s *Session) StoreCookies(originHost string, setCookieHeaders []string, now time.Time) {
	if len(setCookieHeaders) == 0 {
		return
	}
	originHost = strings.ToLower(originHost)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range setCookieHeaders {
		c, ok := ParseSetCookie(raw, now)
		if !ok || c.Name == "" {
			continue
		}
		keys := []string{originHost}
		if c.Domain != "" && c.Domain != originHost {
			keys = append(keys, c.Domain)
		} else if c.Domain == "" {
			c.Domain = originHost
		}
		for _, key := range keys {
			bucket := s.jar[key]
			if bucket == nil {
				bucket = make(map[string]Cookie)
				s.jar[key] = bucket
			}
			bucket[c.Name] = c
		}
	}
}

// CookiesFor renders the Cookie header value for a request to host/path:
// domain-match AND path-prefix-match AND non-expired, deduplicated by
// name with the first (most specific) match winning (spec.md §3, §8
// invariant 8).
func (s *Session) CookiesFor(host, path string, now time.Time) string {
	host = strings.ToLower(host)
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var parts []string
	// Exact-host bucket first (most specific), then any domain bucket that
	// matches via RFC 6265 domain-match.
	order := make([]string, 0, len(s.jar))
	if _, ok := s.jar[host]; ok {
		order = append(order, host)
	}
	for domain := range s.jar {
		if domain == host {
			continue
		}
		if DomainMatches(domain, host) {
			order = append(order, domain)
		}
	}
	for _, domain := range order {
		for name, c := range s.jar[domain] {
			if seen[name] {
				continue
			}
			if c.Expired(now) {
				continue
			}
			if !PathMatches(c.Path, path) {
				continue
			}
			seen[name] = true
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return strings.Join(parts, "; ")
}

// sweepExpiredCookies drops cookies whose Max-Age/Expires has passed so the
// jar doesn't grow unbounded within a long-lived session.
func (s *Session) sweepExpiredCookies(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for domain, bucket := range s.jar {
		for name, c := range bucket {
			if c.Expired(now) {
				delete(bucket, name)
			}
		}
		if len(bucket) == 0 {
			delete(s.jar, domain)
		}
	}
}

// Store is the process-wide session map. A session is valid iff
// now-lastAccessAt <= ttl; expired sessions are removed lazily on Get and
// eagerly by Sweep (spec.md §3, §5).
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	clock    func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewStore builds a Store with the given TTL. clock defaults to time.Now;
// tests inject a deterministic one.
func NewStore(ttl time.Duration, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		clock:    clock,
	}
}

// GetOrCreate resolves id to a live session, creating a fresh one (with a
// freshly generated id) if id is empty, unknown, or expired.
func (st *Store) GetOrCreate(id string) *Session {
	now := st.clock()
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if s, ok := st.sessions[id]; ok {
			if now.Sub(s.LastAccess()) <= st.ttl {
				s.touch(now)
				return s
			}
			delete(st.sessions, id)
		}
	}
	newID := uuid.NewString()
	newID = strings.ReplaceAll(newID, "-", "")
	s := newSession(newID, now)
	st.sessions[newID] = s
	return s
}

// Get is the non-creating variant: nil on miss or expiry.
func (st *Store) Get(id string) *Session {
	if id == "" {
		return nil
	}
	now := st.clock()
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil
	}
	if now.Sub(s.LastAccess()) > st.ttl {
		delete(st.sessions, id)
		return nil
	}
	s.touch(now)
	return s
}

// Delete idempotently removes a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len reports the number of live (not-yet-swept) sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Stats reports the live-session count, served as liveSessions by
// /api/health, mirroring the introspection the teacher's
// renderPrefStore/pageCache exposed for its own diagnostics.
func (st *Store) Stats() (liveSessions int) {
	return st.Len()
}

// Sweep drops every session whose last access exceeds the TTL and prunes
// expired cookies from the survivors. Call periodically (spec.md §5: every
// few minutes).
func (st *Store) Sweep() {
	now := st.clock()
	st.mu.Lock()
	var expired []string
	for id, s := range st.sessions {
		if now.Sub(s.LastAccess()) > st.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(st.sessions, id)
	}
	survivors := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		survivors = append(survivors, s)
	}
	st.mu.Unlock()
	for _, s := range survivors {
		s.sweepExpiredCookies(now)
	}
}

// StartSweeper launches a background goroutine sweeping every interval
// until Stop is called. Safe to call once per Store.
func (st *Store) StartSweeper(interval time.Duration) {
	st.stop = make(chan struct{})
	st.done = make(chan struct{})
	go func() {
		defer close(st.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.Sweep()
			case <-st.stop:
				return
			}
		}
	}()
}

// Stop halts the sweeper goroutine started by StartSweeper, if any.
func (st *Store) Stop() {
	if st.stop == nil {
		return
	}
	close(st.stop)
	<-st.done
}
