package roles

import (
    "context"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-minions/pkg/internal/lockmap"
    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/minion"
    obsmetrics "github.com/amirimatin/go-minions/pkg/observability/metrics"
    "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/remote"
)

// Applier changes the role of a single minion.
type Applier struct {
    reg     registry.Registry
    rem     remote.Remote
    timeout time.Duration
    log     *log.Logger
    locks   *lockmap.Map[uint64]
}

func NewApplier(opts Options) (*Applier, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.setDefaults()
    return &Applier{reg: opts.Registry, rem: opts.Remote, timeout: opts.RemoteTimeout, log: opts.Logger, locks: lockmap.New[uint64]()}, nil
}

// AssignRole gives role to m. With remoteCall the minion is asked first and
// the registry is only written once it accepted; an unreachable or refusing
// minion yields false and leaves the registry untouched. On success the role
// is stored together with a pending highstate in a single update.
//
// An unassignable role is an input error. A failed registry write returns
// false with the error.
func (a *Applier) AssignRole(ctx context.Context, m minion.Minion, role minion.Role, remoteCall bool) (bool, error) {
    if !role.Assignable() {
        return false, fmt.Errorf("%w: %s", minion.ErrInvalidRole, role)
    }
    ctx, end := tracing.StartSpan(ctx, "roles.AssignRole", "minion_id", m.MinionID, "role", role.String())
    defer end()

    // the remote call and the write for one minion must not interleave with
    // another assignment to the same minion
    a.locks.Lock(m.ID)
    defer a.locks.Unlock(m.ID)

    if remoteCall && !a.propagate(ctx, m, role) {
        obsmetrics.RoleAssignments.WithLabelValues(role.String(), "rejected").Inc()
        return false, nil
    }

    hs := minion.HighstatePending
    if _, err := a.reg.Update(ctx, m.ID, registry.Fields{Role: &role, Highstate: &hs}); err != nil {
        obsmetrics.RoleAssignments.WithLabelValues(role.String(), "error").Inc()
        return false, fmt.Errorf("roles: store %s for %s: %w", role, m.MinionID, err)
    }
    obsmetrics.RoleAssignments.WithLabelValues(role.String(), "ok").Inc()
    return true, nil
}

func (a *Applier) propagate(ctx context.Context, m minion.Minion, role minion.Role) bool {
    if a.rem == nil {
        logutil.Warnf(a.log, "roles: no remote configured, cannot propagate %s to %s", role, m.MinionID)
        return false
    }
    rctx, cancel := context.WithTimeout(ctx, a.timeout)
    defer cancel()
    ok, err := a.rem.AssignRole(rctx, m, role)
    if err != nil {
        logutil.Warnf(a.log, "roles: propagating %s to %s failed: %v", role, m.MinionID, err)
        return false
    }
    if !ok { logutil.Warnf(a.log, "roles: %s refused role %s", m.MinionID, role) }
    return ok
}
