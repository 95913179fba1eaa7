package state

import "github.com/amirimatin/go-minions/pkg/consensus"

// Machine is the replicated state driven by consensus log commands. Apply
// must be deterministic so every replica reaches the same state.
type Machine interface {
    Apply(cmd consensus.Command) error
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}
