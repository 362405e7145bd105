package proxy

import (
	"net"
	"net/http"
	"sort"
	"strings"
)

// InboundDeletedHeaders are caller and transport specific request headers.
// They are moved into InboundRequest.DeletedHeaders instead of being
// forwarded as request headers.
var InboundDeletedHeaders = []string{
	"host",
	"connection",
	"accept-encoding",
	"user-agent",
	"referer",
	"sec-fetch-mode",
	"sec-fetch-site",
	"origin",
	"sec-fetch-user",
	"cookie",
}

// OutboundDeniedHeaders are result headers never copied to the caller.
// The broker frames the response body itself.
var OutboundDeniedHeaders = []string{
	"content-encoding",
	"transfer-encoding",
}

var (
	inboundDeleted = toSet(InboundDeletedHeaders)
	outboundDenied = toSet(OutboundDeniedHeaders)
)

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// SplitInboundHeaders flattens r's headers into lowercase name -> value and
// separates the deleted set. Repeated headers are joined with ", ".
func SplitInboundHeaders(r *http.Request) (headers, deleted map[string]string) {
	headers = make(map[string]string, len(r.Header)+1)
	deleted = make(map[string]string)

	all := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		all[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		all["host"] = r.Host
	}

	for name, value := range all {
		if _, drop := inboundDeleted[name]; drop {
			deleted[name] = value
			continue
		}
		headers[name] = value
	}
	return headers, deleted
}

// IsDeniedOutbound reports whether a result header must be dropped
func IsDeniedOutbound(name string) bool {
	_, ok := outboundDenied[strings.ToLower(name)]
	return ok
}

// CopyResultHeaders copies result headers onto dst, skipping denied names
func CopyResultHeaders(dst http.Header, src map[string][]string) {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if IsDeniedOutbound(name) {
			continue
		}
		dst.Del(name)
		for _, v := range src[name] {
			dst.Add(name, v)
		}
	}
}

// hostLabels lowercases host, strips any port and splits it into labels.
// IP literals yield nil.
func hostLabels(host string) []string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if host == "" || net.ParseIP(host) != nil {
		return nil
	}
	return strings.Split(host, ".")
}

// IsRootHost reports whether host addresses the root site rather than a
// tunnel: two or fewer labels, a www prefix, or an IP literal.
func IsRootHost(host string) bool {
	labels := hostLabels(host)
	return len(labels) <= 2 || labels[0] == "www"
}

// ExtractSubdomain returns the leftmost label of a tunnel host, or "" for
// root hosts.
func ExtractSubdomain(host string) string {
	if IsRootHost(host) {
		return ""
	}
	return hostLabels(host)[0]
}

// IsChallengePath reports whether path targets the certificate challenge
func IsChallengePath(path string) bool {
	return strings.Contains(path, ".well-known")
}

// clientIP returns the caller's address without the port
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
