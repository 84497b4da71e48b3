package proxy

import (
	"net"
	"net/url"
	"strings"
)

// validateURL is the SSRF allow/deny predicate spec.md §1 treats as an
// opaque `validate(url) -> ok|reason` external collaborator. It is
// implemented here (rather than left as a stub) since no example repo
// ships one the teacher's domain could plausibly reuse; grounded on the
// general shape of Go SSRF guards that resolve the host and reject
// loopback/private/link-local ranges before a fetch is attempted.
func validateURL(raw string) (ok bool, reason string) {
	u, err := url.Parse(raw)
	if err != nil {
		return false, "unparsable URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, "scheme must be http or https"
	}
	host := u.Hostname()
	if host == "" {
		return false, "missing host"
	}
	if strings.EqualFold(host, "localhost") {
		return false, "target host is not allowed"
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Let the dispatcher's own DNS resolution surface the real error;
		// we only reject what we can already prove is unsafe.
		return true, ""
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return false, "target resolves to a disallowed address"
		}
	}
	return true, ""
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		// Carrier-grade NAT range (100.64.0.0/10), commonly used for
		// internal cloud metadata endpoints.
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return true
		}
		// 169.254.169.254 cloud metadata is already caught by
		// IsLinkLocalUnicast above; kept here for readability.
	}
	return false
}
