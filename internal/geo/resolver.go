// Package geo resolves request origins to ISO 3166-1 alpha-2 country codes.
package geo

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Resolver maps an IP to a country code. A nil result means unknown and is
// never an error for the caller.
type Resolver interface {
	ResolveCountry(ip string) *string
}

// MaxMindResolver reads a GeoLite2/GeoIP2 Country database.
type MaxMindResolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	logger *slog.Logger
}

func OpenMaxMind(path string, logger *slog.Logger) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMindResolver{reader: reader, logger: logger}, nil
}

func (r *MaxMindResolver) ResolveCountry(raw string) *string {
	ip := parsePublicIP(raw)
	if ip == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return nil
	}
	rec, err := r.reader.Country(ip)
	if err != nil {
		r.logger.Debug("geoip lookup failed", "error", err)
		return nil
	}
	return normalizeCode(rec.Country.IsoCode)
}

func (r *MaxMindResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

// NoopResolver is used when no database is configured.
type NoopResolver struct{}

func (NoopResolver) ResolveCountry(string) *string { return nil }

// StaticResolver answers from a fixed table; private and unparseable
// addresses still resolve to nil.
type StaticResolver map[string]string

func (s StaticResolver) ResolveCountry(raw string) *string {
	ip := parsePublicIP(raw)
	if ip == nil {
		return nil
	}
	return normalizeCode(s[ip.String()])
}

// New opens the configured database or falls back to NoopResolver.
func New(path string, logger *slog.Logger) (Resolver, func() error) {
	if strings.TrimSpace(path) == "" {
		logger.Info("geoip database not configured; country resolution disabled")
		return NoopResolver{}, func() error { return nil }
	}
	r, err := OpenMaxMind(path, logger)
	if err != nil {
		logger.Warn("geoip database unavailable; country resolution disabled", "path", path, "error", err)
		return NoopResolver{}, func() error { return nil }
	}
	return r, r.Close
}

func parsePublicIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return nil
	}
	return ip
}

func normalizeCode(code string) *string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return nil
	}
	return &code
}
