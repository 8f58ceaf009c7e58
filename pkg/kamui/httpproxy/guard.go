package httpproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// alwaysBlocked hostnames are refused regardless of configuration.
var alwaysBlocked = []string{
	"localhost",
	"localhost.localdomain",
	"metadata.google.internal",
}

// GuardConfig controls which destinations the preprocessor may fetch.
type GuardConfig struct {
	// AllowPrivate permits RFC 1918 and unique-local destinations.
	AllowPrivate bool `yaml:"allow_private"`

	// AllowedHosts, when non-empty, is the only set of hosts that may be
	// fetched.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// BlockedHosts are refused even when they appear in AllowedHosts.
	BlockedHosts []string `yaml:"blocked_hosts"`
}

// URLChecker decides whether a URL may be fetched.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Guard is the default URLChecker. It resolves the host before deciding so a
// public name pointing at an internal address is refused.
type Guard struct {
	cfg    GuardConfig
	lookup func(ctx context.Context, host string) ([]netip.Addr, error)
	logger *slog.Logger
}

var _ URLChecker = (*Guard)(nil)

// NewGuard creates a guard that resolves hosts with the default resolver.
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		cfg: cfg,
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
		logger: logger.With("component", "url_guard"),
	}
}

// Check returns an error describing why rawURL must not be fetched.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return g.deny(rawURL, "scheme %q is not allowed", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return g.deny(rawURL, "URL has no host")
	}
	if err := strictIPv4(host); err != nil {
		return g.deny(rawURL, "%v", err)
	}
	for _, h := range alwaysBlocked {
		if host == h {
			return g.deny(rawURL, "host %s is not allowed", host)
		}
	}
	for _, h := range g.cfg.BlockedHosts {
		if strings.EqualFold(host, h) {
			return g.deny(rawURL, "host %s is blocked", host)
		}
	}
	if len(g.cfg.AllowedHosts) > 0 && !containsFold(g.cfg.AllowedHosts, host) {
		return g.deny(rawURL, "host %s is not in the allowed list", host)
	}

	addrs, err := g.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return g.deny(rawURL, "host %s did not resolve", host)
	}
	for _, addr := range addrs {
		if reason := g.blockedAddr(addr); reason != "" {
			return g.deny(rawURL, "%s address %s is not allowed", reason, addr)
		}
	}
	return nil
}

func (g *Guard) deny(rawURL, format string, args ...any) error {
	err := fmt.Errorf("blocked: "+format, args...)
	g.logger.Warn("outbound request refused", "url", rawURL, "reason", err.Error())
	return err
}

// blockedAddr returns a short reason when addr is not a public destination.
func (g *Guard) blockedAddr(addr netip.Addr) string {
	addr = addr.Unmap()
	if embedded, ok := embeddedIPv4(addr); ok {
		if reason := g.blockedAddr(embedded); reason != "" {
			return "tunnelled " + reason
		}
	}
	switch {
	case addr.IsLoopback():
		return "loopback"
	case addr.IsUnspecified():
		return "unspecified"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local"
	case addr.IsMulticast():
		return "multicast"
	case addr.IsPrivate() && !g.cfg.AllowPrivate:
		return "private"
	}
	return ""
}

// embeddedIPv4 extracts the IPv4 address carried by NAT64 (64:ff9b::/96),
// 6to4 (2002::/16) and Teredo (2001::/32) addresses.
func embeddedIPv4(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() {
		return netip.Addr{}, false
	}
	b := addr.As16()
	switch {
	case b[0] == 0x00 && b[1] == 0x64 && b[2] == 0xff && b[3] == 0x9b && isZero(b[4:12]):
		return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
	case b[0] == 0x20 && b[1] == 0x02:
		return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), true
	case b[0] == 0x20 && b[1] == 0x01 && b[2] == 0x00 && b[3] == 0x00:
		return netip.AddrFrom4([4]byte{^b[12], ^b[13], ^b[14], ^b[15]}), true
	}
	return netip.Addr{}, false
}

// strictIPv4 rejects numeric hosts that are not plain dotted-quad, such as
// octal (0177.0.0.1), hex (0x7f.1), short (127.1) or packed (2130706433)
// forms some resolvers still accept.
func strictIPv4(host string) error {
	if strings.HasPrefix(host, "0x") || strings.Contains(host, ".0x") {
		return fmt.Errorf("hex IPv4 notation is not allowed")
	}
	if strings.Trim(host, "0123456789.") != "" {
		return nil
	}
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return fmt.Errorf("IPv4 address %s must have four octets", host)
	}
	for _, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return fmt.Errorf("IPv4 address %s is not dotted-decimal", host)
		}
	}
	if _, err := netip.ParseAddr(host); err != nil {
		return fmt.Errorf("invalid IPv4 address %s", host)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
