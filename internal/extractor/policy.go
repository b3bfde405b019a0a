package extractor

import (
	"net/netip"
	"time"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBytes     = 1 << 20 // 1 MiB
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "RecipeBoxBot/1.0 (+https://github.com/IliaW/recipe-box)"
)

// Policy is the fixed, read-only configuration shared by every extraction call.
// It is passed by value and never mutated after construction.
type Policy struct {
	Timeout        time.Duration
	MaxBytes       int64
	MaxRedirects   int
	UserAgent      string
	AllowedSchemes []string
	LoopbackHosts  []string
	LoopbackRanges []netip.Prefix
	PrivateRanges  []netip.Prefix
	// DialGuard re-checks the resolved address of every outbound connection against the
	// loopback and private ranges.
	DialGuard bool
}

// DefaultPolicy returns the production SSRF policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        DefaultTimeout,
		MaxBytes:       DefaultMaxBytes,
		MaxRedirects:   DefaultMaxRedirects,
		UserAgent:      DefaultUserAgent,
		AllowedSchemes: []string{"http", "https"},
		LoopbackHosts:  []string{"localhost", "127.0.0.1", "::1"},
		LoopbackRanges: []netip.Prefix{
			netip.MustParsePrefix("127.0.0.0/8"),
			netip.MustParsePrefix("::1/128"),
		},
		PrivateRanges: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("172.16.0.0/12"),
			netip.MustParsePrefix("192.168.0.0/16"),
			netip.MustParsePrefix("169.254.0.0/16"), // link-local
			netip.MustParsePrefix("0.0.0.0/8"),
			netip.MustParsePrefix("::/128"),
			netip.MustParsePrefix("fc00::/7"),
			netip.MustParsePrefix("fe80::/10"),
		},
		DialGuard: true,
	}
}

// withDefaults fills zero limits so a partially built Policy stays bounded.
func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultMaxBytes
	}
	if p.MaxRedirects < 0 {
		p.MaxRedirects = 0
	}
	if p.UserAgent == "" {
		p.UserAgent = DefaultUserAgent
	}
	if len(p.AllowedSchemes) == 0 {
		p.AllowedSchemes = []string{"http", "https"}
	}
	return p
}

// blockedAddr reports why addr must not be contacted, if at all.
func (p Policy) blockedAddr(addr netip.Addr) (Reason, bool) {
	addr = addr.Unmap()
	for _, prefix := range p.LoopbackRanges {
		if prefix.Contains(addr) {
			return ReasonLoopback, true
		}
	}
	for _, prefix := range p.PrivateRanges {
		if prefix.Contains(addr) {
			return ReasonPrivateRange, true
		}
	}
	return "", false
}
