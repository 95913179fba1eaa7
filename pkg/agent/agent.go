// Package agent runs on a minion and accepts role assignments from the
// control plane.
package agent

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-minions/pkg/discovery"
    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/membership"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/transport"
)

var (
    ErrWrongMinion = errors.New("agent: request addressed to another minion")
    ErrStopped     = errors.New("agent: stopped")
)

// Options configures an Agent.
type Options struct {
    // MinionID defaults to a random UUID.
    MinionID string
    // FQDN defaults to the host name.
    FQDN string
    // Server serves the management API (required).
    Server transport.RPCServer
    // Advertise is the management address announced over gossip. Empty
    // uses Server.Addr() after start.
    Advertise string
    // NewMembership, when set, builds the gossip membership once the
    // management address is known. meta carries membership.MetaMgmt.
    NewMembership func(meta map[string]string) (membership.Membership, error)
    Discovery     discovery.Discovery
    // Apply, when set, runs for every accepted role; an error rejects it.
    Apply  func(ctx context.Context, role minion.Role) error
    Logger *log.Logger
}

func (o *Options) setDefaults() error {
    if o.Server == nil { return fmt.Errorf("agent: nil Server") }
    if o.MinionID == "" { o.MinionID = uuid.NewString() }
    if o.FQDN == "" {
        h, err := os.Hostname()
        if err != nil { return fmt.Errorf("agent: resolve hostname: %w", err) }
        o.FQDN = h
    }
    if o.Logger == nil { o.Logger = log.Default() }
    return nil
}

// Status is reported at the agent's /status endpoint.
type Status struct {
    MinionID   string      `json:"minion_id"`
    FQDN       string      `json:"fqdn"`
    Role       minion.Role `json:"role"`
    AssignedAt time.Time   `json:"assigned_at"`
    Mgmt       string      `json:"mgmt"`
    Peers      int         `json:"peers,omitempty"`
    Health     int         `json:"health,omitempty"`
}

// Agent holds the minion's current role in memory.
type Agent struct {
    opts Options

    mu         sync.RWMutex
    role       minion.Role
    assignedAt time.Time
    mem        membership.Membership
    started    bool
    stopped    bool
}

func New(opts Options) (*Agent, error) {
    if err := opts.setDefaults(); err != nil { return nil, err }
    return &Agent{opts: opts}, nil
}

func (a *Agent) MinionID() string { return a.opts.MinionID }
func (a *Agent) FQDN() string     { return a.opts.FQDN }

// Addr returns the management address.
func (a *Agent) Addr() string { return a.opts.Server.Addr() }

func (a *Agent) Role() minion.Role {
    a.mu.RLock(); defer a.mu.RUnlock()
    return a.role
}

// Start serves the management API and, when configured, joins the gossip ring.
func (a *Agent) Start(ctx context.Context) error {
    a.mu.Lock()
    defer a.mu.Unlock()
    if a.stopped { return ErrStopped }
    if a.started { return nil }
    a.started = true

    h := transport.Handlers{Status: a.statusJSON, AssignRole: a.AssignRole}
    if err := a.opts.Server.Start(ctx, h); err != nil { return err }
    mgmt := a.opts.Advertise
    if mgmt == "" { mgmt = a.opts.Server.Addr() }
    logutil.Infof(a.opts.Logger, "agent %s (%s) listening at %s", a.opts.MinionID, a.opts.FQDN, mgmt)

    if a.opts.NewMembership == nil { return nil }
    mem, err := a.opts.NewMembership(map[string]string{membership.MetaMgmt: mgmt})
    if err != nil { return err }
    if err := mem.Start(ctx); err != nil { return err }
    a.mem = mem
    if a.opts.Discovery != nil {
        if seeds := a.opts.Discovery.Seeds(); len(seeds) > 0 {
            if err := mem.Join(seeds); err != nil { logutil.Warnf(a.opts.Logger, "agent: gossip join %v failed: %v", seeds, err) }
        }
    }
    return nil
}

// AssignRole handles a role request from the control plane. Requests for
// another minion and the unassigned role are refused.
func (a *Agent) AssignRole(ctx context.Context, req transport.AssignRoleRequest) (transport.AssignRoleResponse, error) {
    if req.MinionID != a.opts.MinionID {
        logutil.Warnf(a.opts.Logger, "agent: refusing role for %q", req.MinionID)
        return transport.AssignRoleResponse{Error: ErrWrongMinion.Error()}, nil
    }
    if !req.Role.Assignable() {
        return transport.AssignRoleResponse{Error: fmt.Sprintf("%v: %s", minion.ErrInvalidRole, req.Role)}, nil
    }
    if a.opts.Apply != nil {
        if err := a.opts.Apply(ctx, req.Role); err != nil {
            logutil.Warnf(a.opts.Logger, "agent: applying role %s failed: %v", req.Role, err)
            return transport.AssignRoleResponse{Error: err.Error()}, nil
        }
    }
    a.mu.Lock()
    prev := a.role
    a.role = req.Role
    a.assignedAt = time.Now().UTC()
    a.mu.Unlock()
    logutil.Infof(a.opts.Logger, "agent: role %s -> %s", prev, req.Role)
    return transport.AssignRoleResponse{Accepted: true}, nil
}

// Status returns the agent's current view of itself.
func (a *Agent) Status() Status {
    a.mu.RLock()
    defer a.mu.RUnlock()
    st := Status{MinionID: a.opts.MinionID, FQDN: a.opts.FQDN, Role: a.role, AssignedAt: a.assignedAt, Mgmt: a.opts.Advertise}
    if st.Mgmt == "" { st.Mgmt = a.opts.Server.Addr() }
    if a.mem != nil {
        st.Peers = len(a.mem.Members())
        if hr, ok := a.mem.(membership.HealthReporter); ok { st.Health = hr.HealthScore() }
    }
    return st
}

func (a *Agent) statusJSON(context.Context) ([]byte, error) { return json.Marshal(a.Status()) }

// Stop leaves the gossip ring and stops the management server.
func (a *Agent) Stop(ctx context.Context) error {
    a.mu.Lock()
    if a.stopped { a.mu.Unlock(); return nil }
    a.stopped = true
    mem := a.mem
    a.mu.Unlock()
    if mem != nil {
        _ = mem.Leave()
        _ = mem.Stop()
    }
    return a.opts.Server.Stop(ctx)
}
