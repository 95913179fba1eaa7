package replicated

import (
    "context"
    "time"

    "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/registry/memory"
)

// Registry routes writes through the consensus log and serves reads from the
// local store the log is applied to. Writes therefore only succeed on the
// leader.
type Registry struct {
    cons    consensus.Consensus
    local   *memory.Store
    timeout time.Duration
}

// New returns a replicated registry. local must be the state machine driven
// by cons.
func New(cons consensus.Consensus, local *memory.Store, applyTimeout time.Duration) *Registry {
    if applyTimeout <= 0 { applyTimeout = 3 * time.Second }
    return &Registry{cons: cons, local: local, timeout: applyTimeout}
}

func (r *Registry) Create(ctx context.Context, m minion.Minion) (minion.Minion, error) {
    if err := m.Validate(); err != nil { return minion.Minion{}, err }
    cmd, err := memory.CreateCommand(m)
    if err != nil { return minion.Minion{}, err }
    if err := r.apply(ctx, cmd); err != nil { return minion.Minion{}, err }
    // the leader has applied the entry once Apply returns
    return r.local.FindByMinionID(ctx, m.MinionID)
}

func (r *Registry) Update(ctx context.Context, id uint64, f registry.Fields) (minion.Minion, error) {
    cmd, err := memory.UpdateCommand(id, f)
    if err != nil { return minion.Minion{}, err }
    if err := r.apply(ctx, cmd); err != nil { return minion.Minion{}, err }
    return r.local.Find(ctx, id)
}

func (r *Registry) apply(ctx context.Context, cmd consensus.Command) error {
    if err := ctx.Err(); err != nil { return err }
    t := r.timeout
    if dl, ok := ctx.Deadline(); ok {
        if left := time.Until(dl); left < t { t = left }
    }
    return r.cons.Apply(cmd, t)
}

func (r *Registry) Find(ctx context.Context, id uint64) (minion.Minion, error) {
    return r.local.Find(ctx, id)
}

func (r *Registry) FindByMinionID(ctx context.Context, minionID string) (minion.Minion, error) {
    return r.local.FindByMinionID(ctx, minionID)
}

func (r *Registry) All(ctx context.Context) ([]minion.Minion, error) {
    return r.local.All(ctx)
}

var _ registry.Registry = (*Registry)(nil)
