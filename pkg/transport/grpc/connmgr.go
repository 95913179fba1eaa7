package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-minions/pkg/observability/metrics"
)

// Dialer opens a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches one client connection per minion or control-plane
// address and evicts connections idle for longer than ttl.
type ConnManager struct {
    mu     sync.Mutex
    conns  map[string]*managedConn
    ttl    time.Duration
    dial   Dialer
    stop   chan struct{}
    closed sync.Once
}

type managedConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    ref      int
}

// NewConnManager creates a manager with the given idle TTL and dialer.
func NewConnManager(ttl time.Duration, dial Dialer) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dial: dial, conns: make(map[string]*managedConn), stop: make(chan struct{})}
    go m.janitor()
    return m
}

// Get returns a connection for target and a release func to be called when done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok := m.acquire(target); ok {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, func() { m.release(target) }, nil
    }

    cc, err := m.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    if existing, ok := m.conns[target]; ok {
        // lost the dial race
        existing.ref++
        existing.lastUsed = time.Now()
        m.mu.Unlock()
        _ = cc.Close()
        obsmetrics.GRPCConnReuse.Inc()
        return existing.cc, func() { m.release(target) }, nil
    }
    m.conns[target] = &managedConn{cc: cc, lastUsed: time.Now(), ref: 1}
    m.mu.Unlock()
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { m.release(target) }, nil
}

func (m *ConnManager) acquire(target string) (*grpc.ClientConn, bool) {
    m.mu.Lock(); defer m.mu.Unlock()
    mc, ok := m.conns[target]
    if !ok { return nil, false }
    mc.ref++
    mc.lastUsed = time.Now()
    return mc.cc, true
}

func (m *ConnManager) release(target string) {
    m.mu.Lock(); defer m.mu.Unlock()
    if mc, ok := m.conns[target]; ok {
        if mc.ref > 0 { mc.ref-- }
        mc.lastUsed = time.Now()
    }
}

// Len returns the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock(); defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes all cached connections and stops the janitor. It is safe to
// call more than once.
func (m *ConnManager) Close() {
    m.closed.Do(func() {
        close(m.stop)
        m.mu.Lock()
        for k, mc := range m.conns {
            _ = mc.cc.Close()
            obsmetrics.GRPCConnActive.Dec()
            delete(m.conns, k)
        }
        m.mu.Unlock()
    })
}

func (m *ConnManager) evictIdle(now time.Time) {
    cutoff := now.Add(-m.ttl)
    m.mu.Lock(); defer m.mu.Unlock()
    for addr, mc := range m.conns {
        if mc.ref == 0 && mc.lastUsed.Before(cutoff) {
            _ = mc.cc.Close()
            obsmetrics.GRPCConnEvictions.Inc()
            obsmetrics.GRPCConnActive.Dec()
            delete(m.conns, addr)
        }
    }
}

func (m *ConnManager) janitor() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.stop:
            return
        case now := <-ticker.C:
            m.evictIdle(now)
        }
    }
}
