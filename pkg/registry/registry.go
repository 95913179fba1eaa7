package registry

import (
    "context"

    "github.com/amirimatin/go-minions/pkg/minion"
)

// Fields carries a partial update of a minion. Nil fields are left untouched.
// MinionID is immutable and therefore not part of an update.
type Fields struct {
    FQDN      *string           `json:"fqdn,omitempty"`
    Role      *minion.Role      `json:"role,omitempty"`
    Highstate *minion.Highstate `json:"highstate,omitempty"`
}

// Apply returns a copy of m with the non-nil fields applied.
func (f Fields) Apply(m minion.Minion) minion.Minion {
    if f.FQDN != nil { m.FQDN = *f.FQDN }
    if f.Role != nil { m.Role = *f.Role }
    if f.Highstate != nil { m.Highstate = *f.Highstate }
    return m
}

// Registry is the store of registered minions. Implementations enforce the
// uniqueness of MinionID at write time and serialize writes to the same
// minion.
type Registry interface {
    // Create registers a new minion and returns it with its assigned ID.
    Create(ctx context.Context, m minion.Minion) (minion.Minion, error)
    // Find returns the minion with the given registry ID.
    Find(ctx context.Context, id uint64) (minion.Minion, error)
    // FindByMinionID returns the minion with the given unique minion id.
    FindByMinionID(ctx context.Context, minionID string) (minion.Minion, error)
    // All returns every registered minion ordered by ID.
    All(ctx context.Context) ([]minion.Minion, error)
    // Update applies fields to the minion with the given ID.
    Update(ctx context.Context, id uint64, f Fields) (minion.Minion, error)
}
