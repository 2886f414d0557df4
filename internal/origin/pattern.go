package origin

import (
	"fmt"
	"strings"
)

// PatternError reports an origin pattern that could not be parsed.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid origin pattern %q: %s", e.Pattern, e.Reason)
}

// Pattern matches a set of origins.
//
// Supported forms:
//
//	*                        every origin
//	https://example.com      exactly that origin
//	https://example.com:8443 explicit non-default port
//	https://*.example.com    example.com and every subdomain of it
type Pattern struct {
	Scheme   string
	Host     string
	Port     string
	Wildcard bool
	Any      bool
}

// ParsePattern parses and normalizes an origin pattern.
func ParsePattern(s string) (Pattern, error) {
	if s == "*" {
		return Pattern{Any: true}, nil
	}

	idx := strings.Index(s, "://")
	if idx <= 0 {
		return Pattern{}, &PatternError{Pattern: s, Reason: "missing scheme"}
	}
	scheme := strings.ToLower(s[:idx])
	if !validScheme(scheme) {
		return Pattern{}, &PatternError{Pattern: s, Reason: "invalid scheme"}
	}

	rest := s[idx+3:]
	if strings.ContainsAny(rest, "/?#@") {
		return Pattern{}, &PatternError{Pattern: s, Reason: "patterns must not contain a path, query, fragment or userinfo"}
	}

	host, port, err := splitHostPort(rest)
	if err != nil {
		return Pattern{}, &PatternError{Pattern: s, Reason: err.Error()}
	}

	p := Pattern{Scheme: scheme}
	if strings.HasPrefix(host, "*.") {
		p.Wildcard = true
		host = host[2:]
	}
	if strings.Contains(host, "*") {
		return Pattern{}, &PatternError{Pattern: s, Reason: "wildcard is only allowed as a leading \"*.\" label"}
	}

	p.Host, err = normalizeHost(host)
	if err != nil {
		return Pattern{}, &PatternError{Pattern: s, Reason: err.Error()}
	}
	if p.Wildcard && isIPLiteral(p.Host) {
		return Pattern{}, &PatternError{Pattern: s, Reason: "wildcard cannot be combined with an IP address"}
	}

	p.Port, err = normalizePort(scheme, port)
	if err != nil {
		return Pattern{}, &PatternError{Pattern: s, Reason: err.Error()}
	}

	return p, nil
}

// ParsePatterns parses every pattern or returns the first error.
func ParsePatterns(patterns []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(patterns))
	for _, s := range patterns {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Matches reports whether the origin is covered by the pattern.
func (p Pattern) Matches(o Origin) bool {
	if o.IsZero() {
		return false
	}
	if p.Any {
		return true
	}
	if p.Scheme != o.Scheme || p.Port != o.Port {
		return false
	}
	if o.Host == p.Host {
		return true
	}
	return p.Wildcard && strings.HasSuffix(o.Host, "."+p.Host)
}

// String serializes the normalized pattern.
func (p Pattern) String() string {
	if p.Any {
		return "*"
	}
	var sb strings.Builder
	sb.WriteString(p.Scheme)
	sb.WriteString("://")
	if p.Wildcard {
		sb.WriteString("*.")
	}
	sb.WriteString(p.Host)
	if p.Port != "" {
		sb.WriteByte(':')
		sb.WriteString(p.Port)
	}
	return sb.String()
}

func splitHostPort(hostport string) (host, port string, err error) {
	if hostport == "" {
		return "", "", ErrNoHost
	}

	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 literal")
		}
		host = hostport[:end+1]
		rest := hostport[end+1:]
		if rest == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("unexpected %q after IPv6 literal", rest)
		}
		return host, rest[1:], nil
	}

	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		if i == len(hostport)-1 {
			return "", "", fmt.Errorf("empty port")
		}
		return hostport[:i], hostport[i+1:], nil
	}
	return hostport, "", nil
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
