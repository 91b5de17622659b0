package router

import (
	"fmt"
	"net/url"
	"strings"
)

// Route represents a routing configuration
type Route struct {
	Host        string
	Destination string
}

// NormalizeDestination turns a configured destination into a
// scheme+authority string that request paths can be appended to.
// A bare host:port gets the http scheme.
func NormalizeDestination(dest string) (string, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return "", fmt.Errorf("empty destination")
	}
	if !strings.Contains(dest, "://") {
		dest = "http://" + dest
	}
	dest = strings.TrimRight(dest, "/")

	u, err := url.Parse(dest)
	if err != nil {
		return "", fmt.Errorf("invalid destination %q: %w", dest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid destination %q: unsupported scheme %q", dest, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid destination %q: missing host", dest)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid destination %q: must not contain a path", dest)
	}

	return dest, nil
}
