// Package remote propagates role changes to minions over the management RPC.
package remote

//go:generate mockgen -destination=mock/remote_mock.go -package=mock github.com/amirimatin/go-minions/pkg/remote Remote

import (
    "context"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/minion"
    obsmetrics "github.com/amirimatin/go-minions/pkg/observability/metrics"
    "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/transport"
)

// Remote applies a role on the minion itself. It returns true when the minion
// accepted the role. Failures to reach the minion wrap ErrConnection.
type Remote interface {
    AssignRole(ctx context.Context, target minion.Minion, role minion.Role) (bool, error)
}

// DefaultTimeout bounds a single remote role call.
const DefaultTimeout = 5 * time.Second

// RPC implements Remote on top of a management RPC client.
type RPC struct {
    Client   transport.RPCClient
    Resolver Resolver
    Timeout  time.Duration
    Logger   *log.Logger
}

func (r *RPC) AssignRole(ctx context.Context, m minion.Minion, role minion.Role) (bool, error) {
    if r.Client == nil || r.Resolver == nil { return false, fmt.Errorf("remote: client and resolver are required") }
    ctx, end := tracing.StartSpan(ctx, "remote.AssignRole", "minion_id", m.MinionID, "role", role.String())
    defer end()
    logger := r.Logger
    if logger == nil { logger = log.Default() }

    addr, err := r.Resolver.Resolve(ctx, m)
    if err != nil {
        obsmetrics.RemoteFailures.WithLabelValues("connection").Inc()
        return false, fmt.Errorf("%w: %s: %v", ErrConnection, m.MinionID, err)
    }
    timeout := r.Timeout
    if timeout <= 0 { timeout = DefaultTimeout }
    cctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()

    resp, err := r.Client.PostAssignRole(cctx, addr, transport.AssignRoleRequest{MinionID: m.MinionID, Role: role})
    if err != nil {
        obsmetrics.RemoteFailures.WithLabelValues("connection").Inc()
        logutil.Warnf(logger, "remote: assign %s to %s at %s failed: %v", role, m.MinionID, addr, err)
        return false, fmt.Errorf("%w: %s at %s: %v", ErrConnection, m.MinionID, addr, err)
    }
    if !resp.Accepted {
        obsmetrics.RemoteFailures.WithLabelValues("rejected").Inc()
        logutil.Warnf(logger, "remote: %s rejected role %s: %s", m.MinionID, role, resp.Error)
        return false, nil
    }
    return true, nil
}

var _ Remote = (*RPC)(nil)

// Func adapts a function to Remote.
type Func func(ctx context.Context, m minion.Minion, role minion.Role) (bool, error)

func (f Func) AssignRole(ctx context.Context, m minion.Minion, role minion.Role) (bool, error) {
    return f(ctx, m, role)
}
