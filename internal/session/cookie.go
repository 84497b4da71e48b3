package session

import (
	"strconv"
	"strings"
	"time"
)

// Cookie is the tagged record spec.md §9 calls for in place of the
// dynamically-typed cookie jars found in JS proxies: every attribute is a
// named field, parsed through explicit states rather than split-on-;-then-
// guess.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HasMax   bool
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// parseState names the cookie-parser's explicit states (spec.md §9).
type parseState int

const (
	stateReadName parseState = iota
	stateReadValue
	stateReadAttr
)

// ParseSetCookie parses one Set-Cookie header value into a Cookie. Unknown
// attributes are ignored; Domain/Path default to "" and "/" respectively
// so the caller can fill in origin-derived defaults. now anchors a
// relative Max-Age to an absolute expiry; callers pass the store's
// injected clock so expiry is deterministic under a fake clock in tests
// (spec.md §8.6).
func ParseSetCookie(raw string, now time.Time) (Cookie, bool) {
	var c Cookie
	c.Path = "/"
	state := stateReadName
	segments := strings.Split(raw, ";")
	if len(segments) == 0 {
		return c, false
	}

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		switch state {
		case stateReadName:
			name, value, ok := splitPair(seg)
			if !ok || name == "" {
				return c, false
			}
			c.Name = name
			state = stateReadValue
			// value is consumed in the same segment as the name/value pair.
			c.Value = value
			state = stateReadAttr
		case stateReadValue:
			// unreachable: name=value is parsed together above, kept for
			// fidelity with the explicit three-state design.
			c.Value = seg
			state = stateReadAttr
		case stateReadAttr:
			applyAttr(&c, seg, now)
		}
		_ = i
	}
	return c, true
}

func splitPair(seg string) (name, value string, ok bool) {
	idx := strings.IndexByte(seg, '=')
	if idx < 0 {
		return seg, "", true
	}
	return strings.TrimSpace(seg[:idx]), strings.TrimSpace(seg[idx+1:]), true
}

func applyAttr(c *Cookie, seg string, now time.Time) {
	key, value, _ := splitPair(seg)
	switch strings.ToLower(key) {
	case "domain":
		d := strings.TrimSpace(value)
		if d != "" && !strings.HasPrefix(d, ".") {
			d = "." + d
		}
		c.Domain = d
	case "path":
		if value != "" {
			c.Path = value
		}
	case "max-age":
		if n, err := strconv.Atoi(value); err == nil {
			c.HasMax = true
			if n <= 0 {
				c.Expires = time.Unix(0, 0)
			} else {
				c.Expires = now.Add(time.Duration(n) * time.Second)
			}
		}
	case "expires":
		if !c.HasMax {
			if t, err := time.Parse(time.RFC1123, value); err == nil {
				c.Expires = t
			} else if t, err := time.Parse(time.RFC1123Z, value); err == nil {
				c.Expires = t
			}
		}
	case "secure":
		c.Secure = true
	case "httponly":
		c.HTTPOnly = true
	case "samesite":
		c.SameSite = value
	}
}

// Expired reports whether c has a non-zero expiry in the past relative to
// now.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// DomainMatches implements RFC 6265 domain-match: exact match, or a
// dot-prefixed stored domain matching host as a suffix on a label
// boundary.
func DomainMatches(stored, host string) bool {
	stored = strings.ToLower(stored)
	host = strings.ToLower(host)
	if stored == "" {
		return false
	}
	if !strings.HasPrefix(stored, ".") {
		return stored == host
	}
	suffix := stored[1:]
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, stored)
}

// PathMatches implements RFC 6265 path-match: stored is a prefix of path,
// and either they're equal, stored ends in "/", or the next char in path
// is "/".
func PathMatches(stored, path string) bool {
	if stored == "" {
		stored = "/"
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, stored) {
		return false
	}
	if len(stored) == len(path) {
		return true
	}
	if strings.HasSuffix(stored, "/") {
		return true
	}
	return path[len(stored)] == '/'
}
