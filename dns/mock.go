package dns

import (
	"context"
	"net"
)

// MockResolver is a Resolver for tests. PTR maps an IP string to the
// hostnames that would be returned for it.
type MockResolver struct {
	PTR map[string][]string

	// Fail contains IP strings that return the given error instead of
	// consulting PTR.
	Fail map[string]error
}

var _ Resolver = MockResolver{}

// LookupPTR returns the configured hostnames for ip, or ErrNotFound.
func (r MockResolver) LookupPTR(ctx context.Context, ip net.IP) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := ip.String()
	if err, ok := r.Fail[key]; ok {
		return nil, err
	}

	names, ok := r.PTR[key]
	if !ok || len(names) == 0 {
		return nil, ErrNotFound
	}
	return names, nil
}
