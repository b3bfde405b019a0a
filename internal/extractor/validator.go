package extractor

import (
	"net/netip"
	netUrl "net/url"
	"slices"
	"strings"
)

// Reason explains why a URL was rejected.
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonScheme       Reason = "scheme"
	ReasonLoopback     Reason = "loopback"
	ReasonPrivateRange Reason = "private_range"
)

// Verdict is the outcome of validating a single URL.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

// Err returns a *ValidationError for a rejected verdict and nil otherwise.
func (v Verdict) Err(rawURL string) error {
	if v.Allowed {
		return nil
	}
	return &ValidationError{URL: rawURL, Reason: v.Reason}
}

// Validator classifies URLs under an SSRF policy. Hostnames that are not IP literals are
// accepted without resolving them; the Fetcher's dial guard checks the resolved address.
type Validator struct {
	policy Policy
}

func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy.withDefaults()}
}

func (v *Validator) Validate(rawURL string) Verdict {
	u, err := netUrl.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() {
		return reject(ReasonMalformed)
	}
	if !slices.Contains(v.policy.AllowedSchemes, strings.ToLower(u.Scheme)) {
		return reject(ReasonScheme)
	}
	if u.Opaque != "" {
		return reject(ReasonMalformed)
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return reject(ReasonMalformed)
	}
	if slices.Contains(v.policy.LoopbackHosts, host) {
		return reject(ReasonLoopback)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if reason, blocked := v.policy.blockedAddr(addr); blocked {
			return reject(reason)
		}
	}

	return Verdict{Allowed: true}
}

func reject(reason Reason) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ".")
	// zone identifiers never reach a public host
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return host
}
