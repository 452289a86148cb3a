package handoff

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Route styles for the phone page.
const (
	RouteScan   = "scan"
	RouteLegacy = "legacy"
)

// NetworkInfoer reports the LAN address of the backend host.
type NetworkInfoer interface {
	NetworkInfo(ctx context.Context) (string, error)
}

// Options configure a Resolver.
type Options struct {
	// PublicOrigin, when set, is used as is.
	PublicOrigin string
	FrontendPort string
	APIBaseURL   string
	Route        string
}

// Resolver builds the URL a phone opens to join a session.
type Resolver struct {
	opts   Options
	info   NetworkInfoer
	logger *zap.Logger
}

// NewResolver creates a Resolver. info may be nil to skip discovery.
func NewResolver(opts Options, info NetworkInfoer, logger *zap.Logger) *Resolver {
	return &Resolver{opts: opts, info: info, logger: logger}
}

// Origin returns the origin phones should use: the configured one, the
// discovered LAN IP with the front-end port, or the API host as a fallback.
func (r *Resolver) Origin(ctx context.Context) string {
	if r.opts.PublicOrigin != "" {
		return strings.TrimRight(r.opts.PublicOrigin, "/")
	}

	if r.info != nil {
		ip, err := r.info.NetworkInfo(ctx)
		if err == nil {
			return "http://" + net.JoinHostPort(ip, r.opts.FrontendPort)
		}
		r.logger.Warn("network info unavailable, falling back to the API host", zap.Error(err))
	}

	host := "localhost"
	if u, err := url.Parse(r.opts.APIBaseURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return "http://" + net.JoinHostPort(host, r.opts.FrontendPort)
}

// URL returns the phone URL for sessionID.
func (r *Resolver) URL(ctx context.Context, sessionID string) string {
	return MobileURL(r.Origin(ctx), r.opts.Route, sessionID)
}

// MobileURL joins origin, route style and session id.
func MobileURL(origin, route, sessionID string) string {
	id := url.PathEscape(sessionID)
	if route == RouteLegacy {
		return fmt.Sprintf("%s/mobile/%s", origin, id)
	}
	return fmt.Sprintf("%s/mobile/scan/%s", origin, id)
}

// Terminal renders content as a QR code made of half-block characters.
func Terminal(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// PNG renders content as a size x size PNG image.
func PNG(content string, size int) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
