package rewrite

import (
	"regexp"
	"strings"

	"relayproxy/internal/codec"
)

// jsAllowListedDomains is the fixed set of high-value third-party domains
// whose absolute URLs get rewritten inside string/template literals
// (spec.md §4.7): ad networks, major CDNs, analytics. Everything else is
// left for the runtime layer (C8) to intercept client-side.
var jsAllowListedDomains = []string{
	"googlesyndication.com",
	"googleadservices.com",
	"doubleclick.net",
	"google-analytics.com",
	"googletagmanager.com",
	"googletagservices.com",
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"ajax.googleapis.com",
	"unpkg.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"connect.facebook.net",
	"platform.twitter.com",
}

// jsStringLiteralPattern matches single-quoted, double-quoted, or
// template-literal strings so the rewriter can inspect their contents
// without touching identifiers or comments.
var jsStringLiteralPattern = regexp.MustCompile("'(?:\\\\.|[^\\\\'])*'|\"(?:\\\\.|[^\\\\\"])*\"|`(?:\\\\.|[^\\\\`])*`")

func hostIsAllowListed(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, domain := range jsAllowListedDomains {
		idx := strings.Index(lower, domain)
		if idx < 0 {
			continue
		}
		// Require the domain to appear right after the scheme separator or a
		// subdomain dot so
		// "evilgoogle-analytics.com.attacker.tld" doesn't match.
		before := lower[:idx]
		if strings.HasSuffix(before, "//") || strings.HasSuffix(before, ".") {
			return true
		}
	}
	return false
}

// RewriteScript rewrites absolute (and protocol-relative) URL occurrences
// inside string and template literals whose hostname is allow-listed.
// Dynamically assembled URLs (string concatenation, template
// interpolation of variables) are structurally invisible to this
// line-level pass and are intentionally left alone, per spec.md §4.7.
func RewriteScript(js string) string {
	return jsStringLiteralPattern.ReplaceAllStringFunc(js, func(match string) string {
		quote := match[:1]
		inner := match[1 : len(match)-1]
		if quote == "`" && strings.Contains(inner, "${") {
			return match
		}
		if !hostIsAllowListed(inner) {
			return match
		}
		candidate := inner
		if strings.HasPrefix(candidate, "//") {
			candidate = "https:" + candidate
		}
		if strings.HasPrefix(candidate, codec.ProxyPrefix) {
			return match
		}
		if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
			return match
		}
		encoded := codec.ProxyPrefix + codec.Encode(candidate)
		return quote + encoded + quote
	})
}
