// Package origin parses, normalizes and matches web origins.
//
// An origin is the (scheme, host, port) triple of a URL. Default ports
// (80 for http, 443 for https) are always stripped, so "https://a.test:443"
// and "https://a.test" compare equal. Hosts are lower-cased and converted to
// their ASCII (Punycode) form.
package origin

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrNoScheme = errors.New("origin has no scheme")
	ErrNoHost   = errors.New("origin has no host")
)

// Origin identifies a scheme://host[:port] tuple. Port is empty when it is
// the scheme's default port.
type Origin struct {
	Scheme string
	Host   string
	Port   string
}

// DefaultPort returns the implicit port of a scheme, or "" if there is none.
func DefaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	default:
		return ""
	}
}

// Parse extracts the origin of a URL string.
func Parse(raw string) (Origin, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("failed to parse url: %w", err)
	}
	return FromURL(u)
}

// FromURL extracts the origin of a parsed URL.
func FromURL(u *url.URL) (Origin, error) {
	if u == nil || u.Scheme == "" {
		return Origin{}, ErrNoScheme
	}
	scheme := strings.ToLower(u.Scheme)

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return Origin{}, err
	}

	port, err := normalizePort(scheme, u.Port())
	if err != nil {
		return Origin{}, err
	}

	return Origin{Scheme: scheme, Host: host, Port: port}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level values.
func MustParse(raw string) Origin {
	o, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return o
}

// String serializes the origin in its canonical form.
func (o Origin) String() string {
	if o.IsZero() {
		return "null"
	}
	if o.Port == "" {
		return o.Scheme + "://" + o.Host
	}
	return o.Scheme + "://" + o.Host + ":" + o.Port
}

// IsZero reports whether the origin is unset.
func (o Origin) IsZero() bool {
	return o.Scheme == "" && o.Host == ""
}

// SameOrigin reports whether two origins are identical.
func SameOrigin(a, b Origin) bool {
	return !a.IsZero() && a == b
}

// normalizeHost lower-cases a host and converts it to ASCII. IPv6 literals
// are returned in compressed, bracketed form.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return "", ErrNoHost
	}

	if strings.Contains(host, ":") {
		addr, err := netip.ParseAddr(host)
		if err != nil || !addr.Is6() {
			return "", fmt.Errorf("invalid IPv6 host %q", host)
		}
		return "[" + addr.String() + "]", nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}

	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	return ascii, nil
}

// normalizePort validates a port and drops it when it is the default one.
func normalizePort(scheme, port string) (string, error) {
	if port == "" {
		return "", nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	port = strconv.Itoa(n)
	if port == DefaultPort(scheme) {
		return "", nil
	}
	return port, nil
}

// isIPLiteral reports whether a normalized host is an IP address.
func isIPLiteral(host string) bool {
	if strings.HasPrefix(host, "[") {
		return true
	}
	_, err := netip.ParseAddr(host)
	return err == nil
}
