// Package shorturl implements the short-URL side table (spec.md §4.10,
// C10): a TTL'd hash->URL table deduped by URL, used by /p/s/<hash> to
// produce a compact link for contexts that can't carry a full /p/<enc>
// token. blake2b is the teacher's pack's hash of choice for short,
// URL-safe identifiers (golang.org/x/crypto), used here in place of the
// plain SHA behind most URL shorteners in the example pack.
package shorturl

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultTTL is the ~1 hour lifetime of spec.md §4.10.
const DefaultTTL = time.Hour

// hashLen is the number of URL-safe base64 characters kept from the
// blake2b digest — enough entropy to make collisions practically
// irrelevant for a short-lived side table.
const hashLen = 12

type entry struct {
	url       string
	expiresAt time.Time
}

// Table is the process-wide short-URL map.
type Table struct {
	mu    sync.Mutex
	byURL map[string]string
	byHash map[string]*entry
	ttl   time.Duration
	clock func() time.Time
}

func NewTable(ttl time.Duration, clock func() time.Time) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Table{
		byURL:  make(map[string]string),
		byHash: make(map[string]*entry),
		ttl:    ttl,
		clock:  clock,
	}
}

func hashURL(u string) string {
	sum := blake2b.Sum256([]byte(u))
	enc := base64.RawURLEncoding.EncodeToString(sum[:])
	if len(enc) > hashLen {
		enc = enc[:hashLen]
	}
	return enc
}

// Shorten dedupes against any non-expired entry for the same URL,
// refreshing its timestamp; otherwise it mints a fresh hash.
func (t *Table) Shorten(u string) string {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if hash, ok := t.byURL[u]; ok {
		if e, ok := t.byHash[hash]; ok && now.Before(e.expiresAt) {
			e.expiresAt = now.Add(t.ttl)
			return hash
		}
		delete(t.byURL, u)
		delete(t.byHash, hash)
	}

	hash := hashURL(u)
	for {
		if _, collide := t.byHash[hash]; !collide {
			break
		}
		hash = hash + "x"
	}
	t.byURL[u] = hash
	t.byHash[hash] = &entry{url: u, expiresAt: now.Add(t.ttl)}
	return hash
}

// Lookup returns the URL for hash, refreshing its timestamp; ("", false)
// on miss or expiry.
func (t *Table) Lookup(hash string) (string, bool) {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byHash[hash]
	if !ok {
		return "", false
	}
	if !now.Before(e.expiresAt) {
		delete(t.byHash, hash)
		delete(t.byURL, e.url)
		return "", false
	}
	e.expiresAt = now.Add(t.ttl)
	return e.url, true
}

// Sweep drops every expired entry. Call periodically (spec.md §4.10).
func (t *Table) Sweep() {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for hash, e := range t.byHash {
		if !now.Before(e.expiresAt) {
			delete(t.byHash, hash)
			delete(t.byURL, e.url)
		}
	}
}

// StartSweeper launches a background goroutine sweeping every interval.
func (t *Table) StartSweeper(interval time.Duration) (stop func()) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-stopCh:
				return
			}
		}
	}()
	return func() {
		close(stopCh)
		<-done
	}
}

// Len reports the number of live entries, consumed by /api/url-stats.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byHash)
}

// LooksLikeHash is a light sanity check for a short-URL hash path segment:
// non-empty, at most hashLen+4 characters, and free of '/', '?' and '#'.
func LooksLikeHash(s string) bool {
	if len(s) == 0 || len(s) > hashLen+4 {
		return false
	}
	return !strings.ContainsAny(s, "/?#")
}
