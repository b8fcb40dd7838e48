// Package dns resolves reverse-DNS (PTR) names for connecting SMTP
// clients. Results are diagnostic input only: they are attached to
// session logs and offered to a ConnectionPolicy, never consulted for
// mail routing, relaying, or MX resolution.
package dns

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ErrNotFound indicates the query returned no records.
var ErrNotFound = errors.New("dns: not found")

// Resolver resolves the PTR record of an IP address.
type Resolver interface {
	// LookupPTR returns the reverse-DNS hostnames for ip. Implementations
	// should return ErrNotFound when no PTR record exists.
	LookupPTR(ctx context.Context, ip net.IP) ([]string, error)
}

// NoopResolver never resolves anything. It is the default when a host
// does not configure a Resolver.
type NoopResolver struct{}

// LookupPTR always returns ErrNotFound.
func (NoopResolver) LookupPTR(context.Context, net.IP) ([]string, error) {
	return nil, ErrNotFound
}

// MiekgResolver resolves PTR records using github.com/miekg/dns against a
// configured set of nameservers, with retries.
type MiekgResolver struct {
	client      *mdns.Client
	nameservers []string
	retries     int
}

// ResolverConfig configures a MiekgResolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, servers from /etc/resolv.conf are used, falling back to
	// public resolvers.
	Nameservers []string

	// Timeout is the timeout for an individual query. Default 5s.
	Timeout time.Duration

	// Retries is the number of retries per nameserver on failure. Default 1.
	Retries int
}

// NewMiekgResolver creates a resolver backed by github.com/miekg/dns.
func NewMiekgResolver(cfg ResolverConfig) *MiekgResolver {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 1
	}
	if len(cfg.Nameservers) == 0 {
		cfg.Nameservers = systemNameservers()
	}
	return &MiekgResolver{
		client:      &mdns.Client{Timeout: cfg.Timeout},
		nameservers: cfg.Nameservers,
		retries:     cfg.Retries,
	}
}

func systemNameservers() []string {
	cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if !strings.Contains(s, ":") {
			s += ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

// LookupPTR resolves the PTR record for ip, retrying across the
// configured nameservers before giving up.
func (r *MiekgResolver) LookupPTR(ctx context.Context, ip net.IP) ([]string, error) {
	if ip == nil {
		return nil, errors.New("dns: nil IP address")
	}

	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return nil, err
	}

	m := new(mdns.Msg)
	m.SetQuestion(arpa, mdns.TypePTR)
	m.RecursionDesired = true

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		for _, server := range r.nameservers {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Rcode == mdns.RcodeNameError {
				return nil, ErrNotFound
			}
			if resp.Rcode != mdns.RcodeSuccess {
				lastErr = errUnexpectedRcode(resp.Rcode)
				continue
			}

			names := make([]string, 0, len(resp.Answer))
			for _, rr := range resp.Answer {
				if ptr, ok := rr.(*mdns.PTR); ok {
					names = append(names, strings.TrimSuffix(ptr.Ptr, "."))
				}
			}
			if len(names) == 0 {
				return nil, ErrNotFound
			}
			return names, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotFound
}

type errUnexpectedRcode int

func (e errUnexpectedRcode) Error() string {
	return "dns: unexpected rcode"
}
