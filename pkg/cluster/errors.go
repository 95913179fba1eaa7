package cluster

import "errors"

var (
    ErrNotLeader = errors.New("cluster: not leader")
    ErrStopped   = errors.New("cluster: stopped")
)
