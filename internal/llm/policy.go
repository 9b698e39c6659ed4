package llm

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointPolicy restricts which endpoints a provider may call.
type EndpointPolicy struct {
	// AllowedHosts, when non-empty, lists the only hosts permitted. Entries
	// may start with "*." to match any subdomain.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	// AllowHosted permits public (non-local) endpoints.
	AllowHosted bool `mapstructure:"allow_hosted"`
	// AllowLocal permits loopback, private-network and .local endpoints.
	AllowLocal bool `mapstructure:"allow_local"`
}

// Check validates endpoint against the policy.
func (p EndpointPolicy) Check(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: cannot parse endpoint %q", ErrEndpointNotAllowed, endpoint)
	}
	host := strings.ToLower(u.Hostname())

	local := IsLocalHost(host)
	if local && !p.AllowLocal {
		return fmt.Errorf("%w: local endpoint %s", ErrEndpointNotAllowed, host)
	}
	if !local && !p.AllowHosted {
		return fmt.Errorf("%w: hosted endpoint %s", ErrEndpointNotAllowed, host)
	}
	if len(p.AllowedHosts) > 0 && !hostListed(host, p.AllowedHosts) {
		return fmt.Errorf("%w: %s is not in the host allowlist", ErrEndpointNotAllowed, host)
	}
	return nil
}

// IsLocalHost reports whether host is loopback, private, link-local or mDNS.
func IsLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func hostListed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == host {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(host, a[1:]) {
			return true
		}
	}
	return false
}
