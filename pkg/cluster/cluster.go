package cluster

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/membership"
    "github.com/amirimatin/go-minions/pkg/minion"
    obsmetrics "github.com/amirimatin/go-minions/pkg/observability/metrics"
    "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/roles"
    "github.com/amirimatin/go-minions/pkg/transport"
)

// Cluster is the minion control plane. It ties the registry, the role
// orchestrator, the optional raft engine and gossip view, and the management
// RPC server together.
type Cluster struct {
    opts Options
    mu   sync.Mutex
    run  struct {
        started bool
        closed  bool
    }
    orch *roles.Orchestrator
    eb   eventBus
}

// New constructs a Cluster from validated options. It performs no network
// activity; call Start to launch the node.
func New(opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.LeaderWait <= 0 { opts.LeaderWait = 10 * time.Second }
    c := &Cluster{opts: opts}
    orch, err := roles.New(roles.Options{
        Registry:      opts.Registry,
        Remote:        opts.Remote,
        RemoteTimeout: opts.RemoteTimeout,
        Parallelism:   opts.Parallelism,
        OnResult:      c.onResult,
        Logger:        opts.Logger,
    })
    if err != nil { return nil, err }
    c.orch = orch
    return c, nil
}

// Start launches consensus, gossip and the management endpoint.
func (c *Cluster) Start(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed { return ErrStopped }
    if c.run.started { return nil }
    c.run.started = true
    obsmetrics.Register()

    if cons := c.opts.Consensus; cons != nil {
        if err := cons.Start(ctx); err != nil { return err }
        if ln, ok := cons.(consensus.LeaderNotifier); ok { go c.leaderLoop(ctx, ln.LeaderCh()) }
        c.awaitLeader(ctx)
    }
    if mem := c.opts.Membership; mem != nil {
        if err := mem.Start(ctx); err != nil { return err }
        if c.opts.Discovery != nil {
            if seeds := c.opts.Discovery.Seeds(); len(seeds) > 0 {
                logutil.Infof(c.opts.Logger, "joining gossip seeds: %v", seeds)
                if err := mem.Join(seeds); err != nil { logutil.Warnf(c.opts.Logger, "gossip join failed: %v", err) }
            }
        }
        go c.membershipEventsLoop(ctx, mem.Events())
    }
    c.refreshGauges(ctx)

    if s := c.opts.RPCServer; s != nil {
        if err := s.Start(ctx, c.Handlers()); err != nil { return err }
        logutil.Infof(c.opts.Logger, "management endpoint listening at %s (status/roles/minions/metrics/healthz)", s.Addr())
    }
    return nil
}

// awaitLeader waits up to LeaderWait for a leader. A single bootstrapped
// voter normally elects itself within a few heartbeats.
func (c *Cluster) awaitLeader(ctx context.Context) {
    wctx, cancel := context.WithTimeout(ctx, c.opts.LeaderWait)
    defer cancel()
    ticker := time.NewTicker(50 * time.Millisecond)
    defer ticker.Stop()
    for {
        if _, _, ok := c.opts.Consensus.Leader(); ok { return }
        select {
        case <-wctx.Done():
            logutil.Warnf(c.opts.Logger, "no raft leader after %s; registry writes will fail until one is elected", c.opts.LeaderWait)
            return
        case <-ticker.C:
        }
    }
}

// Handlers returns the management handlers served by the control plane.
func (c *Cluster) Handlers() transport.Handlers {
    return transport.Handlers{
        Status: func(ctx context.Context) ([]byte, error) {
            st, err := c.Status(ctx)
            if err != nil { return nil, err }
            return json.Marshal(st)
        },
        AssignRoles: func(ctx context.Context, req transport.AssignRolesRequest) (transport.AssignRolesResponse, error) {
            res, err := c.AssignRoles(ctx, roles.Request{Roles: req.Roles, DefaultRole: req.DefaultRole, Remote: req.Remote})
            if err != nil { return transport.AssignRolesResponse{Error: err.Error()}, err }
            return transport.AssignRolesResponse{Results: res}, nil
        },
        Register: func(ctx context.Context, req transport.RegisterRequest) (transport.RegisterResponse, error) {
            m, err := c.Register(ctx, req.MinionID, req.FQDN)
            if err != nil { return transport.RegisterResponse{Error: err.Error()}, err }
            return transport.RegisterResponse{Minion: m}, nil
        },
        Minions: func(ctx context.Context) (transport.MinionsResponse, error) {
            ms, err := c.Minions(ctx)
            if err != nil { return transport.MinionsResponse{Error: err.Error()}, err }
            return transport.MinionsResponse{Minions: ms}, nil
        },
    }
}

func (c *Cluster) writable() error {
    if cons := c.opts.Consensus; cons != nil && !cons.IsLeader() {
        if id, _, ok := cons.Leader(); ok { return fmt.Errorf("%w: leader is %s", ErrNotLeader, id) }
        return ErrNotLeader
    }
    return nil
}

// AssignRoles runs a batch role assignment; see roles.Orchestrator.
func (c *Cluster) AssignRoles(ctx context.Context, req roles.Request) (map[string]bool, error) {
    ctx, end := tracing.StartSpan(ctx, "cluster.AssignRoles")
    defer end()
    if err := c.writable(); err != nil { return nil, err }
    res, err := c.orch.AssignRoles(ctx, req)
    if err != nil { return nil, err }
    failed := 0
    for _, ok := range res { if !ok { failed++ } }
    logutil.Infof(c.opts.Logger, "role assignment finished: minions=%d failed=%d remote=%t", len(res), failed, req.Remote)
    c.refreshGauges(ctx)
    return res, nil
}

// AssignRole assigns role to the minion with registry ID id.
func (c *Cluster) AssignRole(ctx context.Context, id uint64, role minion.Role, remoteCall bool) (bool, error) {
    if err := c.writable(); err != nil { return false, err }
    m, err := c.opts.Registry.Find(ctx, id)
    if err != nil { return false, err }
    ok, err := c.orch.Applier().AssignRole(ctx, m, role, remoteCall)
    c.onResult(roles.Result{Minion: m, Role: role, OK: ok, Err: err})
    c.refreshGauges(ctx)
    return ok, err
}

// Register records a new minion. Minion ids are unique; a second registration
// with the same id fails with registry.ErrDuplicateMinionID.
func (c *Cluster) Register(ctx context.Context, minionID, fqdn string) (minion.Minion, error) {
    ctx, end := tracing.StartSpan(ctx, "cluster.Register", "minion_id", minionID)
    defer end()
    if err := c.writable(); err != nil { return minion.Minion{}, err }
    m, err := c.opts.Registry.Create(ctx, minion.Minion{MinionID: strings.TrimSpace(minionID), FQDN: strings.TrimSpace(fqdn)})
    if err != nil {
        obsmetrics.Registrations.WithLabelValues("error").Inc()
        return minion.Minion{}, err
    }
    obsmetrics.Registrations.WithLabelValues("ok").Inc()
    logutil.Infof(c.opts.Logger, "minion registered: id=%d minion_id=%s fqdn=%s", m.ID, m.MinionID, m.FQDN)
    mc := m
    c.eb.publish(Event{Type: EventMinionRegistered, Minion: &mc})
    c.refreshGauges(ctx)
    return m, nil
}

// Minions lists every registered minion ordered by ID.
func (c *Cluster) Minions(ctx context.Context) ([]minion.Minion, error) {
    return c.opts.Registry.All(ctx)
}

// Status returns a snapshot of the registry and, when configured, of raft
// leadership and the gossip view.
func (c *Cluster) Status(ctx context.Context) (*Status, error) {
    ms, err := c.opts.Registry.All(ctx)
    if err != nil { return nil, err }
    s := &Status{NodeID: c.opts.NodeID, Healthy: true, Leader: true, Minions: len(ms), ByRole: map[string]int{}, ByHighstate: map[string]int{}}
    for _, m := range ms {
        s.ByRole[m.Role.String()]++
        s.ByHighstate[m.Highstate.String()]++
    }
    if cons := c.opts.Consensus; cons != nil {
        s.Term = cons.Term()
        s.Leader = cons.IsLeader()
        s.Healthy = s.Leader
        if id, _, ok := cons.Leader(); ok {
            s.LeaderID = id
        } else {
            s.Warnings = append(s.Warnings, "no raft leader")
        }
    }
    if mem := c.opts.Membership; mem != nil {
        s.Agents = len(mem.Members())
        if hr, ok := mem.(membership.HealthReporter); ok && hr.HealthScore() > 0 {
            s.Warnings = append(s.Warnings, fmt.Sprintf("gossip health degraded: score=%d", hr.HealthScore()))
        }
    }
    return s, nil
}

// Stop shuts down the management server, gossip and consensus.
func (c *Cluster) Stop(ctx context.Context) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.run.closed { return nil }
    c.run.closed = true
    if s := c.opts.RPCServer; s != nil { _ = s.Stop(ctx) }
    if mem := c.opts.Membership; mem != nil {
        _ = mem.Leave()
        _ = mem.Stop()
    }
    if cons := c.opts.Consensus; cons != nil { _ = cons.Stop() }
    return nil
}

func (c *Cluster) onResult(r roles.Result) {
    m := r.Minion
    ev := Event{Type: EventRoleAssigned, Minion: &m, Role: r.Role}
    if !r.OK {
        ev.Type = EventRoleRejected
        if r.Err != nil { ev.Error = r.Err.Error() }
    }
    c.eb.publish(ev)
}

func (c *Cluster) refreshGauges(ctx context.Context) {
    ms, err := c.opts.Registry.All(ctx)
    if err != nil { return }
    obsmetrics.Minions.Set(float64(len(ms)))
    counts := make(map[minion.Role]int)
    for _, m := range ms { counts[m.Role]++ }
    for _, r := range append([]minion.Role{minion.RoleUnassigned}, minion.Roles()...) {
        obsmetrics.MinionsByRole.WithLabelValues(r.String()).Set(float64(counts[r]))
    }
}

func (c *Cluster) leaderLoop(ctx context.Context, ch <-chan consensus.LeaderInfo) {
    for {
        select {
        case <-ctx.Done():
            return
        case li, ok := <-ch:
            if !ok { return }
            logutil.Infof(c.opts.Logger, "leader change observed: id=%s term=%d", li.ID, li.Term)
            lc := li
            c.eb.publish(Event{Type: EventLeaderChanged, Leader: &lc})
        }
    }
}

func (c *Cluster) membershipEventsLoop(ctx context.Context, evch <-chan membership.Event) {
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok { return }
            m := e.Member
            switch e.Type {
            case membership.EventJoin:
                logutil.Infof(c.opts.Logger, "agent visible: id=%s mgmt=%s", m.ID, m.Meta[membership.MetaMgmt])
                c.eb.publish(Event{Type: EventAgentJoin, At: e.At, Agent: &m})
            case membership.EventLeave:
                logutil.Infof(c.opts.Logger, "agent gone: id=%s", m.ID)
                c.eb.publish(Event{Type: EventAgentLeave, At: e.At, Agent: &m})
            }
        }
    }
}
