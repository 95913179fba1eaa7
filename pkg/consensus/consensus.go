package consensus

import (
    "context"
    "time"
)

// Command is a single entry of the replicated log. Op selects the state
// transition and Payload carries its JSON-encoded arguments.
type Command struct {
    Op      string
    Payload []byte
}

// Consensus replicates registry writes across control-plane nodes. Only the
// leader accepts Apply; reads are served from the local state machine.
type Consensus interface {
    Start(ctx context.Context) error
    Apply(cmd Command, timeout time.Duration) error
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}
