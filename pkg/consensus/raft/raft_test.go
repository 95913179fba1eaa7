package raftcons

import (
    "context"
    "errors"
    "testing"
    "time"

    c "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/registry/memory"
)

func TestRaft_SingleNodeLeadership(t *testing.T) {
    n, err := New(Options{NodeID: "n1", Machine: memory.New(), Bootstrap: true, ApplyTimeout: 2 * time.Second})
    if err != nil { t.Fatalf("new: %v", err) }

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()

    if err := n.WaitLeader(ctx); err != nil { t.Fatalf("node did not become leader: %v", err) }
    if term := n.Term(); term == 0 { t.Fatalf("leader reports term 0") }

    select {
    case li, ok := <-n.LeaderCh():
        if !ok { t.Fatalf("leader channel closed unexpectedly") }
        if li.ID != "n1" { t.Fatalf("leader id = %q, want n1", li.ID) }
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for leader event")
    }
}

func TestRaft_ApplyOnDisk(t *testing.T) {
    st := memory.New()
    n, err := New(Options{
        NodeID:            "n1",
        Machine:           st,
        Bootstrap:         true,
        DataDir:           t.TempDir(),
        SnapshotsRetained: 1,
        HeartbeatTimeout:  150 * time.Millisecond,
        ElectionTimeout:   300 * time.Millisecond,
        CommitTimeout:     50 * time.Millisecond,
    })
    if err != nil { t.Fatalf("new: %v", err) }
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Stop()
    if err := n.WaitLeader(ctx); err != nil { t.Fatalf("leader: %v", err) }

    cmd, _ := memory.CreateCommand(minion.Minion{MinionID: "m1"})
    if err := n.Apply(cmd, 2*time.Second); err != nil { t.Fatalf("apply: %v", err) }
    if err := n.Apply(cmd, 2*time.Second); !errors.Is(err, registry.ErrDuplicateMinionID) {
        t.Fatalf("duplicate apply err = %v", err)
    }
    if _, err := st.FindByMinionID(ctx, "m1"); err != nil { t.Fatalf("state: %v", err) }
}

func TestRaft_ApplyBeforeStart(t *testing.T) {
    n, _ := New(Options{NodeID: "n1", Machine: memory.New()})
    if err := n.Apply(c.Command{Op: "Noop"}, time.Second); !errors.Is(err, ErrNotStarted) {
        t.Fatalf("err = %v, want ErrNotStarted", err)
    }
    if _, err := New(Options{NodeID: "n1"}); err == nil {
        t.Fatalf("expected error for nil machine")
    }
}

func TestRaft_RestartRestoresRegistry(t *testing.T) {
    dir := t.TempDir()
    start := func(st *memory.Store) *Node {
        t.Helper()
        n, err := New(Options{NodeID: "n1", Machine: st, Bootstrap: true, DataDir: dir, LogLevel: "error"})
        if err != nil { t.Fatalf("new: %v", err) }
        ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := n.Start(context.Background()); err != nil { t.Fatalf("start: %v", err) }
        if err := n.WaitLeader(ctx); err != nil { t.Fatalf("leader: %v", err) }
        return n
    }

    n := start(memory.New())
    m1, _ := memory.CreateCommand(minion.Minion{MinionID: "m1"})
    if err := n.Apply(m1, 2*time.Second); err != nil { t.Fatalf("apply m1: %v", err) }
    if err := n.Snapshot(); err != nil { t.Fatalf("snapshot: %v", err) }
    m2, _ := memory.CreateCommand(minion.Minion{MinionID: "m2"})
    if err := n.Apply(m2, 2*time.Second); err != nil { t.Fatalf("apply m2: %v", err) }
    if err := n.Stop(); err != nil { t.Fatalf("stop: %v", err) }

    st := memory.New()
    n = start(st)
    defer n.Stop()
    deadline := time.Now().Add(5 * time.Second)
    for {
        all, _ := st.All(context.Background())
        if len(all) == 2 { break }
        if time.Now().After(deadline) { t.Fatalf("restored minions = %#v, want m1 and m2", all) }
        time.Sleep(50 * time.Millisecond)
    }
}
