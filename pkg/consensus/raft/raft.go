package raftcons

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "log"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/internal/logutil"
)

var (
    ErrNotStarted = errors.New("raftcons: not started")
    ErrNotLeader  = errors.New("raftcons: not leader")
)

// Node implements consensus.Consensus using HashiCorp Raft. Committed
// commands are applied to the state.Machine given in Options.
type Node struct {
    opts Options
    log  *log.Logger
    hlog hclog.Logger
    lch  chan c.LeaderInfo

    mu      sync.Mutex
    r       *raft.Raft
    obs     *raft.Observer
    obsDone chan struct{}
    closers []io.Closer
}

func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.SnapshotsRetained <= 0 { opts.SnapshotsRetained = 2 }
    level := hclog.LevelFromString(opts.LogLevel)
    if level == hclog.NoLevel { level = hclog.Warn }
    return &Node{
        opts: opts,
        log:  opts.Logger,
        hlog: hclog.New(&hclog.LoggerOptions{Name: "raft", Output: opts.Logger.Writer(), Level: level}),
        lch:  make(chan c.LeaderInfo, 16),
    }, nil
}

func (n *Node) config() *raft.Config {
    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.Logger = n.hlog
    if hb := n.opts.HeartbeatTimeout; hb > 0 {
        cfg.HeartbeatTimeout = hb
        // raft rejects a lease longer than the heartbeat
        if cfg.LeaderLeaseTimeout > hb { cfg.LeaderLeaseTimeout = hb / 2 }
    }
    if n.opts.ElectionTimeout > 0 { cfg.ElectionTimeout = n.opts.ElectionTimeout }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }
    if n.opts.SnapshotThreshold > 0 { cfg.SnapshotThreshold = n.opts.SnapshotThreshold }
    return cfg
}

// openStores returns bolt and file stores under DataDir, or in-memory ones.
func (n *Node) openStores() (raft.LogStore, raft.StableStore, raft.SnapshotStore, error) {
    if n.opts.DataDir == "" {
        return raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), nil
    }
    if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil { return nil, nil, nil, err }
    bolt, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
    if err != nil { return nil, nil, nil, err }
    n.closers = append(n.closers, bolt)
    snaps, err := raft.NewFileSnapshotStoreWithLogger(n.opts.DataDir, n.opts.SnapshotsRetained, n.hlog.Named("snapshots"))
    if err != nil { return nil, nil, nil, err }
    return bolt, bolt, snaps, nil
}

func (n *Node) openTransport() (raft.ServerAddress, raft.Transport, error) {
    if n.opts.BindAddr == "" {
        addr, trans := raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
        return addr, trans, nil
    }
    nt, err := raft.NewTCPTransportWithLogger(n.opts.BindAddr, nil, 3, time.Second, n.hlog.Named("transport"))
    if err != nil { return "", nil, err }
    n.closers = append(n.closers, nt)
    return nt.LocalAddr(), nt, nil
}

func (n *Node) closeAll() {
    for i := len(n.closers) - 1; i >= 0; i-- { _ = n.closers[i].Close() }
    n.closers = nil
}

// Start opens the stores and transport, starts raft and, with Bootstrap,
// forms a single-voter cluster. The node stops when ctx is done.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r != nil { return nil }

    logs, stable, snaps, err := n.openStores()
    if err != nil { n.closeAll(); return err }
    addr, trans, err := n.openTransport()
    if err != nil { n.closeAll(); return err }
    r, err := raft.NewRaft(n.config(), newMachineFSM(n.opts.Machine), logs, stable, snaps, trans)
    if err != nil { n.closeAll(); return err }
    n.r = r
    n.watchLeader(r)

    if n.opts.Bootstrap {
        voters := raft.Configuration{Servers: []raft.Server{{ID: raft.ServerID(n.opts.NodeID), Address: addr}}}
        if err := r.BootstrapCluster(voters).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
            return err
        }
    }
    logutil.Infof(n.log, "raft started: id=%s addr=%s data=%q", n.opts.NodeID, addr, n.opts.DataDir)

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

// watchLeader forwards leader observations to LeaderCh until Stop.
func (n *Node) watchLeader(r *raft.Raft) {
    ch := make(chan raft.Observation, 32)
    done := make(chan struct{})
    n.obs = raft.NewObserver(ch, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    n.obsDone = done
    r.RegisterObserver(n.obs)
    go func() {
        for {
            select {
            case <-done:
                return
            case <-ch:
                if id, addr, ok := n.Leader(); ok {
                    n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
                }
            }
        }
    }()
}

func (n *Node) raft() *raft.Raft {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.r
}

// Apply replicates cmd and returns once the local machine applied it. A
// machine error, such as a duplicate minion id, is returned as is.
func (n *Node) Apply(cmd c.Command, timeout time.Duration) error {
    r := n.raft()
    if r == nil { return ErrNotStarted }
    if r.State() != raft.Leader { return ErrNotLeader }
    data, err := json.Marshal(cmd)
    if err != nil { return err }
    if timeout <= 0 { timeout = n.opts.ApplyTimeout }
    f := r.Apply(data, timeout)
    if err := f.Error(); err != nil {
        if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) { return ErrNotLeader }
        return err
    }
    if e, ok := f.Response().(error); ok && e != nil { return e }
    return nil
}

// Snapshot forces a snapshot of the state machine.
func (n *Node) Snapshot() error {
    r := n.raft()
    if r == nil { return ErrNotStarted }
    return r.Snapshot().Error()
}

func (n *Node) IsLeader() bool {
    r := n.raft()
    return r != nil && r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    r := n.raft()
    if r == nil { return "", "", false }
    a, sid := r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    r := n.raft()
    if r == nil { return 0 }
    return r.CurrentTerm()
}

// WaitLeader blocks until this node is the leader or ctx is done.
func (n *Node) WaitLeader(ctx context.Context) error {
    ticker := time.NewTicker(50 * time.Millisecond)
    defer ticker.Stop()
    for {
        if n.IsLeader() { return nil }
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-ticker.C:
        }
    }
}

// Stop shuts raft down and releases the stores so DataDir can be reopened.
func (n *Node) Stop() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r == nil { return nil }
    err := n.r.Shutdown().Error()
    n.r.DeregisterObserver(n.obs)
    close(n.obsDone)
    n.r = nil
    n.closeAll()
    return err
}

var _ c.Consensus = (*Node)(nil)
var _ c.LeaderNotifier = (*Node)(nil)

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
        // coalesced; Leader() always has the latest state
    }
}
