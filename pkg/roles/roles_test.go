package roles

import (
    "context"
    "errors"
    "strings"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/registry/memory"
    "github.com/amirimatin/go-minions/pkg/remote"
)

// fixture registers a master, two workers and one unlisted minion, the last
// one with an applied highstate.
type fixture struct {
    reg     *memory.Store
    master  minion.Minion
    worker0 minion.Minion
    worker1 minion.Minion
    other   minion.Minion
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    reg := memory.New()
    create := func(fqdn string, hs minion.Highstate) minion.Minion {
        m, err := reg.Create(context.Background(), minion.Minion{MinionID: uuid.NewString(), FQDN: fqdn, Highstate: hs})
        require.NoError(t, err)
        return m
    }
    return &fixture{
        reg:     reg,
        master:  create("master.example.com", minion.HighstateNotApplied),
        worker0: create("worker0.example.com", minion.HighstateNotApplied),
        worker1: create("worker1.example.com", minion.HighstateNotApplied),
        other:   create("other.example.com", minion.HighstateApplied),
    }
}

func (f *fixture) get(t *testing.T, m minion.Minion) minion.Minion {
    t.Helper()
    got, err := f.reg.Find(context.Background(), m.ID)
    require.NoError(t, err)
    return got
}

func (f *fixture) request(remoteCall bool) Request {
    return Request{
        Roles: map[minion.Role][]uint64{
            minion.RoleMaster: {f.master.ID},
            minion.RoleWorker: {f.worker0.ID, f.worker1.ID},
        },
        Remote: remoteCall,
    }
}

// remoteStub answers per FQDN; unknown FQDNs are accepted.
type remoteStub struct {
    mu     sync.Mutex
    answer map[string]bool
    fail   map[string]error
    calls  []string
}

func (r *remoteStub) AssignRole(_ context.Context, m minion.Minion, _ minion.Role) (bool, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.calls = append(r.calls, m.FQDN)
    if err := r.fail[m.FQDN]; err != nil { return false, err }
    if v, ok := r.answer[m.FQDN]; ok { return v, nil }
    return true, nil
}

func newOrchestrator(t *testing.T, reg registry.Registry, rem remote.Remote, parallelism int) *Orchestrator {
    t.Helper()
    o, err := New(Options{Registry: reg, Remote: rem, Parallelism: parallelism, RemoteTimeout: time.Second})
    require.NoError(t, err)
    return o
}

func TestAssignRoles_Local(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, nil, 1)

    res, err := o.AssignRoles(context.Background(), f.request(false))
    require.NoError(t, err)
    assert.Equal(t, map[string]bool{f.master.MinionID: true, f.worker0.MinionID: true, f.worker1.MinionID: true}, res)

    assert.Equal(t, minion.RoleMaster, f.get(t, f.master).Role)
    assert.Equal(t, minion.RoleWorker, f.get(t, f.worker0).Role)
    assert.Equal(t, minion.RoleWorker, f.get(t, f.worker1).Role)
    for _, m := range []minion.Minion{f.master, f.worker0, f.worker1} {
        assert.Equal(t, minion.HighstatePending, f.get(t, m).Highstate)
    }
}

func TestAssignRoles_WithoutDefaultLeavesOthersUntouched(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, nil, 1)

    res, err := o.AssignRoles(context.Background(), f.request(false))
    require.NoError(t, err)
    assert.NotContains(t, res, f.other.MinionID)
    other := f.get(t, f.other)
    assert.Equal(t, minion.RoleUnassigned, other.Role)
    assert.Equal(t, minion.HighstateApplied, other.Highstate)
}

func TestAssignRoles_DefaultRole(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, nil, 1)
    req := f.request(false)
    req.DefaultRole = minion.RoleAdmin

    res, err := o.AssignRoles(context.Background(), req)
    require.NoError(t, err)
    assert.Len(t, res, 4)
    assert.True(t, res[f.other.MinionID])
    assert.Equal(t, minion.RoleAdmin, f.get(t, f.other).Role)
    assert.Equal(t, minion.HighstatePending, f.get(t, f.other).Highstate)
    // explicit lists take precedence over the default
    assert.Equal(t, minion.RoleMaster, f.get(t, f.master).Role)
    assert.Equal(t, minion.RoleWorker, f.get(t, f.worker0).Role)
}

func TestAssignRoles_Remote(t *testing.T) {
    f := newFixture(t)
    rem := &remoteStub{}
    o := newOrchestrator(t, f.reg, rem, 1)

    res, err := o.AssignRoles(context.Background(), f.request(true))
    require.NoError(t, err)
    assert.Equal(t, map[string]bool{f.master.MinionID: true, f.worker0.MinionID: true, f.worker1.MinionID: true}, res)
    assert.ElementsMatch(t, []string{"master.example.com", "worker0.example.com", "worker1.example.com"}, rem.calls)
    assert.Equal(t, minion.RoleMaster, f.get(t, f.master).Role)
}

func TestAssignRoles_RemoteFailureOnMaster(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, &remoteStub{answer: map[string]bool{"master.example.com": false}}, 1)

    res, err := o.AssignRoles(context.Background(), f.request(true))
    require.NoError(t, err)
    assert.Equal(t, map[string]bool{f.master.MinionID: false, f.worker0.MinionID: true, f.worker1.MinionID: true}, res)

    master := f.get(t, f.master)
    assert.Equal(t, minion.RoleUnassigned, master.Role)
    assert.Equal(t, minion.HighstateNotApplied, master.Highstate)
    assert.Equal(t, minion.RoleWorker, f.get(t, f.worker0).Role)
    assert.Equal(t, minion.RoleWorker, f.get(t, f.worker1).Role)
}

func TestAssignRoles_RemoteFailureOnWorkers(t *testing.T) {
    f := newFixture(t)
    rem := &remoteStub{answer: map[string]bool{"worker0.example.com": false, "worker1.example.com": false}}
    o := newOrchestrator(t, f.reg, rem, 1)

    res, err := o.AssignRoles(context.Background(), f.request(true))
    require.NoError(t, err)
    assert.Equal(t, map[string]bool{f.master.MinionID: true, f.worker0.MinionID: false, f.worker1.MinionID: false}, res)
    assert.Equal(t, minion.RoleMaster, f.get(t, f.master).Role)
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.worker0).Role)
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.worker1).Role)
}

func TestAssignRoles_RemoteFailureOnDefaultRole(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, &remoteStub{answer: map[string]bool{"other.example.com": false}}, 1)
    req := f.request(true)
    req.DefaultRole = minion.RoleAdmin

    res, err := o.AssignRoles(context.Background(), req)
    require.NoError(t, err)
    assert.False(t, res[f.other.MinionID])
    assert.True(t, res[f.master.MinionID])
    other := f.get(t, f.other)
    assert.Equal(t, minion.RoleUnassigned, other.Role)
    assert.Equal(t, minion.HighstateApplied, other.Highstate)
}

func TestAssignRoles_ConnectionErrorIsIsolated(t *testing.T) {
    f := newFixture(t)
    rem := &remoteStub{fail: map[string]error{"worker0.example.com": remote.ErrConnection}}
    o := newOrchestrator(t, f.reg, rem, 1)

    res, err := o.AssignRoles(context.Background(), f.request(true))
    require.NoError(t, err)
    assert.Len(t, res, 3)
    assert.False(t, res[f.worker0.MinionID])
    assert.True(t, res[f.worker1.MinionID])
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.worker0).Role)
}

func TestAssignRoles_FailFastOnUnknownID(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, nil, 1)
    req := f.request(false)
    req.Roles[minion.RoleWorker] = append(req.Roles[minion.RoleWorker], 999)

    res, err := o.AssignRoles(context.Background(), req)
    assert.ErrorIs(t, err, registry.ErrNotFound)
    assert.Nil(t, res)
    // nothing was written, not even for valid ids
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.master).Role)
}

func TestAssignRoles_InvalidRole(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, nil, 1)

    _, err := o.AssignRoles(context.Background(), Request{Roles: map[minion.Role][]uint64{minion.RoleUnassigned: {f.master.ID}}})
    assert.ErrorIs(t, err, minion.ErrInvalidRole)

    _, err = o.AssignRoles(context.Background(), Request{Roles: map[minion.Role][]uint64{minion.Role(42): {f.master.ID}}})
    assert.ErrorIs(t, err, minion.ErrInvalidRole)

    _, err = o.AssignRoles(context.Background(), Request{DefaultRole: minion.Role(42)})
    assert.ErrorIs(t, err, minion.ErrInvalidRole)
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.master).Role)
}

func TestAssignRoles_DuplicateListingKeepsFirstRole(t *testing.T) {
    f := newFixture(t)
    o := newOrchestrator(t, f.reg, nil, 1)
    req := Request{Roles: map[minion.Role][]uint64{
        minion.RoleMaster: {f.master.ID},
        minion.RoleWorker: {f.master.ID, f.worker0.ID},
    }}

    res, err := o.AssignRoles(context.Background(), req)
    require.NoError(t, err)
    assert.Len(t, res, 2)
    assert.Equal(t, minion.RoleMaster, f.get(t, f.master).Role)
}

func TestAssignRoles_Parallel(t *testing.T) {
    f := newFixture(t)
    var inflight, peak int32
    rem := remote.Func(func(_ context.Context, m minion.Minion, _ minion.Role) (bool, error) {
        n := atomic.AddInt32(&inflight, 1)
        defer atomic.AddInt32(&inflight, -1)
        for {
            p := atomic.LoadInt32(&peak)
            if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) { break }
        }
        time.Sleep(20 * time.Millisecond)
        return !strings.HasPrefix(m.FQDN, "worker1"), nil
    })
    o := newOrchestrator(t, f.reg, rem, 2)
    req := f.request(true)
    req.DefaultRole = minion.RoleAdmin

    res, err := o.AssignRoles(context.Background(), req)
    require.NoError(t, err)
    assert.Equal(t, map[string]bool{
        f.master.MinionID:  true,
        f.worker0.MinionID: true,
        f.worker1.MinionID: false,
        f.other.MinionID:   true,
    }, res)
    assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestAssignRoles_OnResult(t *testing.T) {
    f := newFixture(t)
    var mu sync.Mutex
    seen := map[string]Result{}
    o, err := New(Options{Registry: f.reg, OnResult: func(r Result) {
        mu.Lock(); defer mu.Unlock()
        seen[r.Minion.MinionID] = r
    }})
    require.NoError(t, err)

    _, err = o.AssignRoles(context.Background(), f.request(false))
    require.NoError(t, err)
    require.Len(t, seen, 3)
    assert.Equal(t, minion.RoleWorker, seen[f.worker1.MinionID].Role)
    assert.True(t, seen[f.worker1.MinionID].OK)
}

func TestApplier_SetsPendingFromApplied(t *testing.T) {
    f := newFixture(t)
    a, err := NewApplier(Options{Registry: f.reg})
    require.NoError(t, err)

    ok, err := a.AssignRole(context.Background(), f.other, minion.RoleWorker, false)
    require.NoError(t, err)
    assert.True(t, ok)
    got := f.get(t, f.other)
    assert.Equal(t, minion.RoleWorker, got.Role)
    assert.Equal(t, minion.HighstatePending, got.Highstate)

    // assigning the same role again still yields pending
    hs := minion.HighstateApplied
    _, err = f.reg.Update(context.Background(), f.other.ID, registry.Fields{Highstate: &hs})
    require.NoError(t, err)
    ok, err = a.AssignRole(context.Background(), f.other, minion.RoleWorker, false)
    require.NoError(t, err)
    assert.True(t, ok)
    assert.Equal(t, minion.HighstatePending, f.get(t, f.other).Highstate)
}

func TestApplier_ConnectionErrorLeavesRoleUnassigned(t *testing.T) {
    f := newFixture(t)
    rem := remote.Func(func(context.Context, minion.Minion, minion.Role) (bool, error) {
        return false, errors.Join(remote.ErrConnection, errors.New("no route to host"))
    })
    a, err := NewApplier(Options{Registry: f.reg, Remote: rem})
    require.NoError(t, err)

    ok, err := a.AssignRole(context.Background(), f.master, minion.RoleMaster, true)
    require.NoError(t, err)
    assert.False(t, ok)
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.master).Role)
}

func TestApplier_RemoteRunsUnderTimeout(t *testing.T) {
    f := newFixture(t)
    rem := remote.Func(func(ctx context.Context, _ minion.Minion, _ minion.Role) (bool, error) {
        <-ctx.Done()
        return false, ctx.Err()
    })
    a, err := NewApplier(Options{Registry: f.reg, Remote: rem, RemoteTimeout: 50 * time.Millisecond})
    require.NoError(t, err)

    start := time.Now()
    ok, err := a.AssignRole(context.Background(), f.worker0, minion.RoleWorker, true)
    require.NoError(t, err)
    assert.False(t, ok)
    assert.Less(t, time.Since(start), 2*time.Second)
    assert.Equal(t, minion.RoleUnassigned, f.get(t, f.worker0).Role)
}

func TestApplier_NoRemoteConfigured(t *testing.T) {
    f := newFixture(t)
    a, err := NewApplier(Options{Registry: f.reg})
    require.NoError(t, err)
    ok, err := a.AssignRole(context.Background(), f.master, minion.RoleMaster, true)
    require.NoError(t, err)
    assert.False(t, ok)
}

func TestApplier_InvalidRole(t *testing.T) {
    f := newFixture(t)
    called := false
    a, err := NewApplier(Options{Registry: f.reg, Remote: remote.Func(func(context.Context, minion.Minion, minion.Role) (bool, error) {
        called = true
        return true, nil
    })})
    require.NoError(t, err)

    ok, err := a.AssignRole(context.Background(), f.master, minion.RoleUnassigned, true)
    assert.ErrorIs(t, err, minion.ErrInvalidRole)
    assert.False(t, ok)
    assert.False(t, called)
}

type failingRegistry struct {
    registry.Registry
}

func (failingRegistry) Update(context.Context, uint64, registry.Fields) (minion.Minion, error) {
    return minion.Minion{}, errors.New("disk full")
}

func TestApplier_RegistryWriteError(t *testing.T) {
    f := newFixture(t)
    a, err := NewApplier(Options{Registry: failingRegistry{f.reg}})
    require.NoError(t, err)
    ok, err := a.AssignRole(context.Background(), f.master, minion.RoleMaster, false)
    assert.Error(t, err)
    assert.False(t, ok)

    // within a batch the failure is recorded as false
    o := newOrchestrator(t, failingRegistry{f.reg}, nil, 1)
    res, err := o.AssignRoles(context.Background(), f.request(false))
    require.NoError(t, err)
    assert.Equal(t, map[string]bool{f.master.MinionID: false, f.worker0.MinionID: false, f.worker1.MinionID: false}, res)
}

func TestOptions_Validate(t *testing.T) {
    _, err := New(Options{})
    assert.Error(t, err)
    _, err = New(Options{Registry: memory.New(), Parallelism: -1})
    assert.Error(t, err)
}

func TestDecodeRequest(t *testing.T) {
    req, err := DecodeRequest(strings.NewReader("roles:\n  master: [1]\n  worker: [2, 3]\ndefault_role: admin\nremote: true\n"))
    require.NoError(t, err)
    assert.Equal(t, Request{
        Roles:       map[minion.Role][]uint64{minion.RoleMaster: {1}, minion.RoleWorker: {2, 3}},
        DefaultRole: minion.RoleAdmin,
        Remote:      true,
    }, req)

    _, err = DecodeRequest(strings.NewReader("roles:\n  bogus: [1]\n"))
    assert.ErrorIs(t, err, minion.ErrInvalidRole)

    _, err = DecodeRequest(strings.NewReader("rolez: {}\n"))
    assert.Error(t, err)
}
