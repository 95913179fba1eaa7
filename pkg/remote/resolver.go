package remote

import (
    "context"
    "fmt"
    "net"
    "strconv"

    "github.com/amirimatin/go-minions/pkg/membership"
    "github.com/amirimatin/go-minions/pkg/minion"
)

// Resolver maps a minion to the address of its management endpoint.
type Resolver interface {
    Resolve(ctx context.Context, m minion.Minion) (string, error)
}

// DefaultAgentPort is the management port agents listen on by default.
const DefaultAgentPort = 17946

// FQDNResolver addresses a minion at its FQDN and a fixed port.
type FQDNResolver struct {
    Port int
}

func (r FQDNResolver) Resolve(_ context.Context, m minion.Minion) (string, error) {
    if m.FQDN == "" { return "", fmt.Errorf("%w: %s has no fqdn", ErrNoAddress, m.MinionID) }
    port := r.Port
    if port == 0 { port = DefaultAgentPort }
    return net.JoinHostPort(m.FQDN, strconv.Itoa(port)), nil
}

// MembershipResolver looks up the management address a minion advertises over
// gossip under membership.MetaMgmt. Minions not found in the gossip ring are
// passed to Fallback when set.
type MembershipResolver struct {
    Membership membership.Membership
    Fallback   Resolver
}

func (r MembershipResolver) Resolve(ctx context.Context, m minion.Minion) (string, error) {
    if r.Membership != nil {
        if mi, ok := membership.Find(r.Membership, m.MinionID); ok && mi.Meta[membership.MetaMgmt] != "" {
            return mi.Meta[membership.MetaMgmt], nil
        }
    }
    if r.Fallback != nil { return r.Fallback.Resolve(ctx, m) }
    return "", fmt.Errorf("%w: %s not in gossip ring", ErrNoAddress, m.MinionID)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, m minion.Minion) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, m minion.Minion) (string, error) { return f(ctx, m) }
