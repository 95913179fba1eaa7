package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    base "github.com/amirimatin/go-minions/pkg/membership"
)

// Options configures the memberlist-based gossip membership.
type Options struct {
    // NodeID is the member name; agents use their minion id.
    NodeID string
    // Bind is host:port; port 0 picks a free port.
    Bind string
    // Advertise is the address peers use to reach this node. Empty derives it from Bind.
    Advertise string
    // Meta is gossiped with the node, e.g. {"mgmt": "10.0.0.5:17946"}.
    Meta   map[string]string
    Logger *log.Logger

    // Zero means memberlist defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

func (o Options) Validate() error {
    if o.NodeID == "" { return fmt.Errorf("memberlist: empty NodeID") }
    if o.Bind == "" { return fmt.Errorf("memberlist: empty Bind address") }
    return nil
}

// Gossip implements membership.Membership using HashiCorp memberlist.
type Gossip struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    closed bool

    // evMu guards the event channel. memberlist delivers the local join
    // from inside Create while Start still holds mu.
    evMu     sync.Mutex
    evts     chan base.Event
    evClosed bool
}

func New(opts Options) (*Gossip, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &Gossip{opts: opts, evts: make(chan base.Event, 64)}, nil
}

func splitHostPort(addr string) (string, int, error) {
    host, ps, err := net.SplitHostPort(addr)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err) }
    port, err := strconv.Atoi(ps)
    if err != nil || port < 0 || port > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port %q", ps) }
    return host, port, nil
}

func (g *Gossip) Start(ctx context.Context) error {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.ml != nil { return nil }
    if g.closed { return fmt.Errorf("memberlist: stopped") }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = g.opts.NodeID
    host, port, err := splitHostPort(g.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if g.opts.Advertise != "" {
        ah, ap, err := splitHostPort(g.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ah, ap
    }
    if g.opts.ProbeInterval > 0 { cfg.ProbeInterval = g.opts.ProbeInterval }
    if g.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = g.opts.ProbeTimeout }
    if g.opts.SuspicionMult > 0 { cfg.SuspicionMult = g.opts.SuspicionMult }
    cfg.LogOutput = g.opts.Logger.Writer()

    meta, err := json.Marshal(g.opts.Meta)
    if err != nil { return err }
    if len(meta) > memberlist.MetaMaxSize { return fmt.Errorf("memberlist: meta exceeds %d bytes", memberlist.MetaMaxSize) }
    cfg.Events = &eventDelegate{emit: g.emit}
    cfg.Delegate = &metaDelegate{meta: meta}

    ml, err := memberlist.Create(cfg)
    if err != nil { return err }
    g.ml = ml
    logutil.Infof(g.opts.Logger, "gossip started: id=%s addr=%s", g.opts.NodeID, toInfo(ml.LocalNode()).Addr)

    go func() {
        <-ctx.Done()
        _ = g.Stop()
    }()
    return nil
}

func (g *Gossip) list() *memberlist.Memberlist {
    g.mu.RLock(); defer g.mu.RUnlock()
    return g.ml
}

func (g *Gossip) Join(seeds []string) error {
    ml := g.list()
    if ml == nil { return fmt.Errorf("memberlist: not started") }
    if len(seeds) == 0 { return nil }
    n, err := ml.Join(seeds)
    if err != nil { return err }
    logutil.Infof(g.opts.Logger, "gossip joined %d of %d seeds", n, len(seeds))
    return nil
}

func (g *Gossip) Local() base.MemberInfo {
    ml := g.list()
    if ml == nil { return base.MemberInfo{ID: g.opts.NodeID, Meta: g.opts.Meta} }
    return toInfo(ml.LocalNode())
}

func (g *Gossip) Members() []base.MemberInfo {
    ml := g.list()
    if ml == nil { return nil }
    nodes := ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, toInfo(n)) }
    return out
}

func (g *Gossip) Events() <-chan base.Event { return g.evts }

// Leave broadcasts an intent to leave and waits up to a second for it to spread.
func (g *Gossip) Leave() error {
    ml := g.list()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

func (g *Gossip) Stop() error {
    g.mu.Lock()
    if g.closed { g.mu.Unlock(); return nil }
    g.closed = true
    ml := g.ml
    g.ml = nil
    g.mu.Unlock()

    g.evMu.Lock()
    g.evClosed = true
    close(g.evts)
    g.evMu.Unlock()
    if ml != nil { return ml.Shutdown() }
    return nil
}

// HealthScore exposes memberlist's awareness score.
func (g *Gossip) HealthScore() int {
    ml := g.list()
    if ml == nil { return -1 }
    return ml.GetHealthScore()
}

func (g *Gossip) emit(e base.Event) {
    g.evMu.Lock()
    defer g.evMu.Unlock()
    if g.evClosed { return }
    select {
    case g.evts <- e:
    default:
        logutil.Warnf(g.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func toInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

type eventDelegate struct{ emit func(base.Event) }

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if n == nil { return }
    d.emit(base.Event{Type: t, Member: toInfo(n), At: time.Now()})
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

// metaDelegate gossips the static node metadata.
type metaDelegate struct{ meta []byte }

func (d *metaDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) > limit { return nil }
    return d.meta
}

func (d *metaDelegate) NotifyMsg([]byte)                  {}
func (d *metaDelegate) GetBroadcasts(int, int) [][]byte   { return nil }
func (d *metaDelegate) LocalState(bool) []byte            { return nil }
func (d *metaDelegate) MergeRemoteState([]byte, bool)     {}

var (
    _ base.Membership     = (*Gossip)(nil)
    _ base.HealthReporter = (*Gossip)(nil)
)
