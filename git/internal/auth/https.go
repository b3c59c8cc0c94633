// Package auth scopes the source-control token to the remotes allowed to
// receive it.
package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultTokenUser is sent as the username of token logins. Hosted forges
// ignore it but reject an empty one.
const DefaultTokenUser = "x-access-token"

// TokenAuth returns go-git basic auth carrying token, or nil when the remote
// must not see it: non-https remotes and hosts outside allowedHosts.
// An empty allowedHosts admits every https host.
func TokenAuth(remoteURL, token string, allowedHosts []string) (*http.BasicAuth, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, nil
	}
	if len(allowedHosts) > 0 && !HostAllowed(u.Hostname(), allowedHosts) {
		return nil, nil
	}
	return &http.BasicAuth{Username: DefaultTokenUser, Password: token}, nil
}

// HostAllowed reports whether host matches one of patterns. A pattern is an
// exact host, "*.domain" (the domain and all its subdomains) or "name.*".
func HostAllowed(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if hostMatches(host, p) {
			return true
		}
	}
	return false
}

func hostMatches(host, pattern string) bool {
	switch {
	case host == pattern:
		return true
	case strings.Count(pattern, "*") != 1:
		return false
	}
	if domain, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == domain || strings.HasSuffix(host, "."+domain)
	}
	if name, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(host, name+".")
	}
	return false
}
