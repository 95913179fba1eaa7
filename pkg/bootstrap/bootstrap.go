// Package bootstrap assembles control planes and agents from flat configs.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "os"
    "os/exec"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-minions/pkg/agent"
    "github.com/amirimatin/go-minions/pkg/cluster"
    "github.com/amirimatin/go-minions/pkg/consensus"
    raftcons "github.com/amirimatin/go-minions/pkg/consensus/raft"
    "github.com/amirimatin/go-minions/pkg/discovery"
    dStatic "github.com/amirimatin/go-minions/pkg/discovery/static"
    "github.com/amirimatin/go-minions/pkg/membership"
    ml "github.com/amirimatin/go-minions/pkg/membership/memberlist"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/registry/memory"
    "github.com/amirimatin/go-minions/pkg/registry/replicated"
    "github.com/amirimatin/go-minions/pkg/remote"
    tlsx "github.com/amirimatin/go-minions/pkg/security/tlsconfig"
    "github.com/amirimatin/go-minions/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-minions/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-minions/pkg/transport/httpjson"
)

// Management protocols.
const (
    ProtoHTTP = "http"
    ProtoGRPC = "grpc"
)

// Config defines the inputs of a control plane process.
type Config struct {
    NodeID string

    // MgmtAddr is where the management API listens (host:port).
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    // Registry persistence. An empty RaftAddr keeps the registry in memory
    // without raft; otherwise a single-voter raft log backs it, stored in
    // DataDir when set.
    RaftAddr     string
    DataDir      string
    Bootstrap    bool
    RaftLogLevel string

    // Gossip. An empty MemBind disables it and minions are reached at
    // fqdn:AgentPort only.
    MemBind  string
    MemAdv   string
    SeedsCSV string

    AgentPort     int
    RemoteTimeout time.Duration
    Parallelism   int
    LeaderWait    time.Duration

    TLS tlsx.Options

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

// AgentConfig defines the inputs of an agent process running on a minion.
type AgentConfig struct {
    MinionID string
    FQDN     string

    MgmtAddr  string
    MgmtProto string
    // Advertise overrides the management address announced over gossip.
    Advertise string

    MemBind  string
    MemAdv   string
    SeedsCSV string

    // ApplyCommand, when set, runs through "sh -c" for every accepted role
    // with MINION_ROLE in its environment. A non-zero exit rejects the role.
    ApplyCommand string

    TLS    tlsx.Options
    Logger *log.Logger
}

func tlsPair(o tlsx.Options) (srv, cli *tls.Config, err error) {
    if srv, err = o.Server(); err != nil { return nil, nil, fmt.Errorf("tls server config: %w", err) }
    if cli, err = o.Client(); err != nil { return nil, nil, fmt.Errorf("tls client config: %w", err) }
    return srv, cli, nil
}

// NewServer returns a management server for proto.
func NewServer(proto, addr string, cfg *tls.Config, logger *log.Logger) (transport.RPCServer, error) {
    switch proto {
    case ProtoGRPC:
        s := mgmtgrpc.NewServer(addr)
        if cfg != nil { s.UseTLS(cfg) }
        return s, nil
    case "", ProtoHTTP:
        s := httpjson.NewServer(addr, logger)
        if cfg != nil { s.UseTLS(cfg) }
        return s, nil
    default:
        return nil, fmt.Errorf("bootstrap: unknown management protocol %q", proto)
    }
}

// NewClient returns a management client for proto.
func NewClient(proto string, timeout time.Duration, cfg *tls.Config) (transport.RPCClient, error) {
    switch proto {
    case ProtoGRPC:
        c := mgmtgrpc.NewClient(timeout)
        if cfg != nil { c.UseTLS(cfg) }
        return c, nil
    case "", ProtoHTTP:
        c := httpjson.NewClient(timeout)
        if cfg != nil { c.UseTLS(cfg) }
        return c, nil
    default:
        return nil, fmt.Errorf("bootstrap: unknown management protocol %q", proto)
    }
}

// BuildControlPlane assembles a cluster.Cluster from cfg without starting it.
func BuildControlPlane(cfg Config) (*cluster.Cluster, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.NodeID == "" { return nil, fmt.Errorf("bootstrap: empty NodeID") }
    srvTLS, cliTLS, err := tlsPair(cfg.TLS)
    if err != nil { return nil, err }

    srv, err := NewServer(cfg.MgmtProto, cfg.MgmtAddr, srvTLS, cfg.Logger)
    if err != nil { return nil, err }
    timeout := cfg.RemoteTimeout
    if timeout <= 0 { timeout = remote.DefaultTimeout }
    cli, err := NewClient(cfg.MgmtProto, timeout, cliTLS)
    if err != nil { return nil, err }

    var (
        reg  registry.Registry
        cons consensus.Consensus
    )
    store := memory.New()
    if cfg.RaftAddr != "" {
        node, err := raftcons.New(raftcons.Options{
            NodeID:    cfg.NodeID,
            Logger:    cfg.Logger,
            Machine:   store,
            Bootstrap: cfg.Bootstrap,
            BindAddr:  cfg.RaftAddr,
            DataDir:   cfg.DataDir,
            LogLevel:  cfg.RaftLogLevel,
        })
        if err != nil { return nil, err }
        cons = node
        reg = replicated.New(node, store, 0)
    } else {
        reg = store
    }

    var (
        mem  membership.Membership
        disc discovery.Discovery
    )
    if cfg.MemBind != "" {
        g, err := ml.New(ml.Options{
            NodeID:    cfg.NodeID,
            Bind:      cfg.MemBind,
            Advertise: cfg.MemAdv,
            Logger:    cfg.Logger,
            Meta:      map[string]string{membership.MetaMgmt: cfg.MgmtAddr},
        })
        if err != nil { return nil, err }
        mem = g
        disc = dStatic.Parse(cfg.SeedsCSV)
    }

    rem := &remote.RPC{
        Client:   cli,
        Resolver: remote.MembershipResolver{Membership: mem, Fallback: remote.FQDNResolver{Port: cfg.AgentPort}},
        Timeout:  timeout,
        Logger:   cfg.Logger,
    }
    return cluster.New(cluster.Options{
        NodeID:        cfg.NodeID,
        Registry:      reg,
        Consensus:     cons,
        LeaderWait:    cfg.LeaderWait,
        Remote:        rem,
        RemoteTimeout: timeout,
        Parallelism:   cfg.Parallelism,
        Membership:    mem,
        Discovery:     disc,
        RPCServer:     srv,
        Logger:        cfg.Logger,
    })
}

// RunControlPlane builds and starts a control plane. The caller stops it.
func RunControlPlane(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
    cl, err := BuildControlPlane(cfg)
    if err != nil { return nil, err }
    if err := cl.Start(ctx); err != nil {
        _ = cl.Stop(context.Background())
        return nil, err
    }
    return cl, nil
}

// BuildAgent assembles an agent.Agent from cfg without starting it.
func BuildAgent(cfg AgentConfig) (*agent.Agent, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.MinionID == "" { cfg.MinionID = uuid.NewString() }
    srvTLS, _, err := tlsPair(cfg.TLS)
    if err != nil { return nil, err }
    srv, err := NewServer(cfg.MgmtProto, cfg.MgmtAddr, srvTLS, cfg.Logger)
    if err != nil { return nil, err }

    opts := agent.Options{
        MinionID:  cfg.MinionID,
        FQDN:      cfg.FQDN,
        Server:    srv,
        Advertise: cfg.Advertise,
        Logger:    cfg.Logger,
    }
    if cfg.MemBind != "" {
        opts.Discovery = dStatic.Parse(cfg.SeedsCSV)
        opts.NewMembership = func(meta map[string]string) (membership.Membership, error) {
            return ml.New(ml.Options{NodeID: cfg.MinionID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Meta: meta, Logger: cfg.Logger})
        }
    }
    if cfg.ApplyCommand != "" { opts.Apply = shellApply(cfg.ApplyCommand) }
    return agent.New(opts)
}

// RunAgent builds and starts an agent. The caller stops it.
func RunAgent(ctx context.Context, cfg AgentConfig) (*agent.Agent, error) {
    a, err := BuildAgent(cfg)
    if err != nil { return nil, err }
    if err := a.Start(ctx); err != nil {
        _ = a.Stop(context.Background())
        return nil, err
    }
    return a, nil
}

func shellApply(command string) func(context.Context, minion.Role) error {
    return func(ctx context.Context, role minion.Role) error {
        cmd := exec.CommandContext(ctx, "sh", "-c", command)
        cmd.Env = append(os.Environ(), "MINION_ROLE="+role.String())
        if out, err := cmd.CombinedOutput(); err != nil {
            return fmt.Errorf("apply %s: %w: %s", role, err, out)
        }
        return nil
    }
}
