package raftcons

import (
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-minions/pkg/state"
)

// Options configure a raft-backed registry log.
type Options struct {
    NodeID string
    Logger *log.Logger
    // LogLevel filters raft's own log lines (trace|debug|info|warn|error).
    // Defaults to warn.
    LogLevel string

    // Machine receives every committed command. Required.
    Machine state.Machine

    // Bootstrap forms a single-voter cluster on first start. It is a no-op
    // once DataDir holds raft state.
    Bootstrap bool

    // Zero means raft defaults.
    HeartbeatTimeout  time.Duration
    ElectionTimeout   time.Duration
    CommitTimeout     time.Duration
    ApplyTimeout      time.Duration
    SnapshotThreshold uint64

    // BindAddr selects a TCP transport bound to this address; empty means an
    // in-memory transport.
    BindAddr string

    // DataDir selects a bolt log/stable store and a file snapshot store;
    // empty means in-memory stores.
    DataDir           string
    SnapshotsRetained int
}

func (o Options) Validate() error {
    if o.NodeID == "" { return fmt.Errorf("raftcons: empty NodeID") }
    if o.Machine == nil { return fmt.Errorf("raftcons: nil Machine") }
    return nil
}
