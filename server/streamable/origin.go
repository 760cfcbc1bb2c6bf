package streamable

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ClientHost returns the browser-visible host, considering proxies.
// It looks at Forwarded, X-Forwarded-Host, then falls back to r.Host.
func ClientHost(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		for _, part := range strings.Split(fwd, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "host=") {
				value := strings.Trim(strings.TrimPrefix(part, "host="), "\"")
				if value != "" {
					return stripPort(value)
				}
			}
		}
	}
	if xfh := r.Header.Get("X-Forwarded-Host"); xfh != "" {
		value := strings.TrimSpace(strings.Split(xfh, ",")[0])
		if value != "" {
			return stripPort(value)
		}
	}
	return stripPort(r.Host)
}

// TopDomain returns eTLD+1 for a host (e.g. app.example.co.uk -> example.co.uk).
func TopDomain(host string) (string, error) {
	if host == "" || isIP(host) || isLocalhost(host) {
		return "", nil
	}
	host = stripPort(host)
	top, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", err
	}
	if top == host || top == "" {
		return "", nil
	}
	return top, nil
}

func isIP(h string) bool { return net.ParseIP(stripPort(h)) != nil }

func isLocalhost(h string) bool {
	h = strings.ToLower(stripPort(h))
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}

func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i > -1 {
		return h[:i]
	}
	return h
}
