package cluster

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/discovery"
    "github.com/amirimatin/go-minions/pkg/membership"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/remote"
    "github.com/amirimatin/go-minions/pkg/transport"
)

// Options carries the components assembled into a control plane. Instances
// are typically produced by bootstrap.BuildControlPlane.
type Options struct {
    // NodeID identifies this control plane in raft and gossip.
    NodeID string
    // Registry stores minions (required).
    Registry registry.Registry
    // Consensus backs a replicated Registry. When set, writes are only
    // accepted while this node leads.
    Consensus consensus.Consensus
    // LeaderWait bounds how long Start waits for leadership. Defaults to 10s.
    LeaderWait time.Duration

    // Remote propagates roles to minions for remote assignments.
    Remote        remote.Remote
    RemoteTimeout time.Duration
    Parallelism   int

    // Membership is an optional gossip view of the agents; Discovery seeds it.
    Membership membership.Membership
    Discovery  discovery.Discovery

    // RPCServer exposes the management API when set.
    RPCServer transport.RPCServer

    Logger *log.Logger
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("cluster: empty NodeID")
    }
    if o.Registry == nil {
        return errors.New("cluster: nil Registry")
    }
    if o.Logger == nil {
        return errors.New("cluster: nil Logger")
    }
    if o.Parallelism < 0 {
        return errors.New("cluster: negative Parallelism")
    }
    return nil
}
