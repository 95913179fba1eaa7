package roles

import (
    "context"
    "fmt"
    "log"
    "sync"

    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/registry"
)

// Result is the outcome of one minion's assignment within a batch.
type Result struct {
    Minion minion.Minion
    Role   minion.Role
    OK     bool
    Err    error
}

// Orchestrator applies batch role assignments across the registry.
type Orchestrator struct {
    reg      registry.Registry
    applier  *Applier
    parallel int
    onResult func(Result)
    log      *log.Logger
}

func New(opts Options) (*Orchestrator, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.setDefaults()
    a, err := NewApplier(opts)
    if err != nil { return nil, err }
    return &Orchestrator{reg: opts.Registry, applier: a, parallel: opts.Parallelism, onResult: opts.OnResult, log: opts.Logger}, nil
}

// Applier returns the single-minion applier used by o.
func (o *Orchestrator) Applier() *Applier { return o.applier }

type task struct {
    m    minion.Minion
    role minion.Role
}

// AssignRoles assigns every listed minion its role and, when req.DefaultRole
// is set, gives the default to every other registered minion. The returned
// map holds one entry per processed minion keyed by MinionID; false means
// that minion's assignment did not happen. One minion's failure never stops
// the others.
//
// The request is validated completely before anything is written: an
// invalid role or an ID missing from the registry fails the whole batch.
func (o *Orchestrator) AssignRoles(ctx context.Context, req Request) (map[string]bool, error) {
    ctx, end := tracing.StartSpan(ctx, "roles.AssignRoles")
    defer end()

    tasks, err := o.plan(ctx, req)
    if err != nil { return nil, err }

    results := make(map[string]bool, len(tasks))
    var (
        mu  sync.Mutex
        wg  sync.WaitGroup
        sem = make(chan struct{}, o.parallel)
    )
    for _, t := range tasks {
        wg.Add(1)
        sem <- struct{}{}
        go func(t task) {
            defer wg.Done()
            defer func() { <-sem }()
            ok, err := o.applier.AssignRole(ctx, t.m, t.role, req.Remote)
            if err != nil {
                logutil.Errorf(o.log, "roles: assigning %s to %s: %v", t.role, t.m.MinionID, err)
            }
            mu.Lock()
            results[t.m.MinionID] = ok
            mu.Unlock()
            if o.onResult != nil { o.onResult(Result{Minion: t.m, Role: t.role, OK: ok, Err: err}) }
        }(t)
    }
    wg.Wait()
    return results, nil
}

// plan resolves the request into one task per minion. Listed minions come
// first in role order; a minion listed under several roles keeps the first.
func (o *Orchestrator) plan(ctx context.Context, req Request) ([]task, error) {
    if err := req.Validate(); err != nil { return nil, err }

    var tasks []task
    listed := make(map[uint64]bool)
    for _, role := range req.sortedRoles() {
        for _, id := range req.Roles[role] {
            m, err := o.reg.Find(ctx, id)
            if err != nil { return nil, fmt.Errorf("roles: %s minion %d: %w", role, id, err) }
            if listed[id] {
                logutil.Warnf(o.log, "roles: minion %s listed more than once, keeping first role", m.MinionID)
                continue
            }
            listed[id] = true
            tasks = append(tasks, task{m: m, role: role})
        }
    }

    if req.DefaultRole == minion.RoleUnassigned { return tasks, nil }
    all, err := o.reg.All(ctx)
    if err != nil { return nil, fmt.Errorf("roles: list minions: %w", err) }
    for _, m := range all {
        if !listed[m.ID] { tasks = append(tasks, task{m: m, role: req.DefaultRole}) }
    }
    return tasks, nil
}
