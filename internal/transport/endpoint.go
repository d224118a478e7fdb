package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/bft-labs/peerlink/internal/domain"
)

// Supported endpoint schemes.
const (
	SchemeTCP       = "tcp"
	SchemeWebSocket = "ws"
	SchemeMemory    = "mem"
)

// DefaultWebSocketPath is the HTTP path ws endpoints are served on.
const DefaultWebSocketPath = "/peerlink"

// Endpoint identifies where to listen or connect.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseEndpoint parses "host:port", "tcp://host:port", "ws://host:port/path"
// or "mem://name".
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint: %w", domain.ErrInvalidEndpoint)
	}
	if !strings.Contains(s, "://") {
		s = SchemeTCP + "://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse %q: %v: %w", s, err, domain.ErrInvalidEndpoint)
	}

	ep := Endpoint{Scheme: u.Scheme}
	switch u.Scheme {
	case SchemeMemory:
		ep.Host = u.Host
		if ep.Host == "" {
			return Endpoint{}, fmt.Errorf("%q has no name: %w", s, domain.ErrInvalidEndpoint)
		}
		return ep, nil
	case SchemeTCP, SchemeWebSocket:
	default:
		return Endpoint{}, fmt.Errorf("%q: %w", u.Scheme, domain.ErrUnsupportedScheme)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse %q: %v: %w", s, err, domain.ErrInvalidEndpoint)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("port %q: %w", port, domain.ErrInvalidEndpoint)
	}
	ep.Host, ep.Port = host, p
	if ep.Scheme == SchemeWebSocket {
		ep.Path = u.Path
		if ep.Path == "" {
			ep.Path = DefaultWebSocketPath
		}
	}
	return ep, nil
}

// MustParseEndpoint is ParseEndpoint for literals known to be valid.
func MustParseEndpoint(s string) Endpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

// HostPort returns the host:port form used by socket drivers.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint in the form ParseEndpoint accepts.
func (e Endpoint) String() string {
	switch e.Scheme {
	case SchemeMemory:
		return e.Scheme + "://" + e.Host
	case SchemeWebSocket:
		return e.Scheme + "://" + e.HostPort() + e.Path
	default:
		return e.Scheme + "://" + e.HostPort()
	}
}
