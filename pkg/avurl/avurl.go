// Package avurl splits and rebuilds FFmpeg-style media URLs.
//
// Unlike net/url it accepts everything FFmpeg accepts as an input: plain
// paths ("/dev/video0", "clip.mp4"), device schemes ("v4l2:/dev/video0") and
// network URLs ("rtsp://user:pass@[::1]:554/stream"). Split and join are exact
// inverses, so rebuilding an unmodified URL yields the input byte for byte.
package avurl

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

type URL struct {
	Schema   string `json:"schema"`
	Userinfo string `json:"userinfo"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Path     string `json:"path"`
}

// Parse splits raw and validates host and port when present.
func Parse(raw string) (*URL, error) {
	p := split(raw)

	if raw != p.join() {
		return nil, errors.New("unable to parse URL")
	}
	if p.junk != "" {
		return nil, errors.New("invalid URL")
	}
	if p.host != "" {
		if err := ValidateHost(p.host); err != nil {
			return nil, err
		}
	}
	if p.hasPort && !isPort(p.port) {
		return nil, fmt.Errorf("bad port: '%s'", p.port)
	}

	return &URL{Schema: p.schema, Userinfo: p.userinfo, Host: p.host, Port: p.port, Path: p.path}, nil
}

// IsNetwork reports whether the URL addresses a remote host.
func (u *URL) IsNetwork() bool { return u.Host != "" }

// WithDefaultPort returns raw with port inserted when raw names a host but no
// explicit port. Plain paths, device URLs and URLs that already carry a port
// are returned unchanged. port <= 0 is a no-op.
func WithDefaultPort(raw string, port int) string {
	if port <= 0 || port > 65535 {
		return raw
	}
	p := split(raw)
	if p.host == "" || p.hasPort || p.junk != "" {
		return raw
	}
	p.hasPort = true
	p.port = strconv.Itoa(port)
	return p.join()
}

// Redact masks the password part of the userinfo, for logging.
func Redact(raw string) string {
	p := split(raw)
	if !p.hasAtSign {
		return raw
	}
	if user, _, ok := strings.Cut(p.userinfo, ":"); ok {
		p.userinfo = user + ":xxxxx"
	}
	return p.join()
}

// ValidateHost accepts IPv4/IPv6 literals and RFC 1123 host names.
func ValidateHost(raw string) error {
	switch {
	case looksLikeIPv4(raw):
		if ip := net.ParseIP(raw); ip == nil || ip.To4() == nil {
			return fmt.Errorf("bad IP: '%s'", raw)
		}
	case strings.Contains(raw, ":"):
		if ip := net.ParseIP(raw); ip == nil || ip.To4() != nil {
			return fmt.Errorf("bad IPv6: '%s'", raw)
		}
	default:
		if !validHostname(raw) {
			return fmt.Errorf("bad hostname: '%s'", raw)
		}
	}
	return nil
}

func looksLikeIPv4(raw string) bool {
	labels := strings.Split(raw, ".")
	if len(labels) != 4 {
		return false
	}
	for _, l := range labels {
		if l == "" || strings.IndexFunc(l, func(r rune) bool { return !unicode.IsDigit(r) }) != -1 {
			return false
		}
	}
	return true
}

func validHostname(raw string) bool {
	if len(raw) > 253 {
		return false
	}
	for _, label := range strings.Split(raw, ".") {
		if len(label) < 1 || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
				return false
			}
		}
	}
	return true
}

// isPort checks for a decimal port in [0, 65535] without leading zeros.
func isPort(s string) bool {
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	port, err := strconv.Atoi(s)
	return err == nil && port >= 0 && port <= 65535
}
