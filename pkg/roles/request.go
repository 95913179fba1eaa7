package roles

import (
    "fmt"
    "io"
    "sort"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-minions/pkg/minion"
)

// Request is a batch role assignment. Roles maps a role to the registry IDs
// that should receive it; lists are expected to be disjoint. DefaultRole, when
// not RoleUnassigned, goes to every registered minion not listed. Remote asks
// each minion before its role is stored.
type Request struct {
    Roles       map[minion.Role][]uint64 `json:"roles" yaml:"roles"`
    DefaultRole minion.Role              `json:"default_role,omitempty" yaml:"default_role"`
    Remote      bool                     `json:"remote" yaml:"remote"`
}

// Validate checks the role names of the request.
func (r Request) Validate() error {
    for role := range r.Roles {
        if !role.Assignable() { return fmt.Errorf("%w: %s", minion.ErrInvalidRole, role) }
    }
    if r.DefaultRole != minion.RoleUnassigned && !r.DefaultRole.Assignable() {
        return fmt.Errorf("%w: default %s", minion.ErrInvalidRole, r.DefaultRole)
    }
    return nil
}

// sortedRoles returns the roles of r in enum order.
func (r Request) sortedRoles() []minion.Role {
    out := make([]minion.Role, 0, len(r.Roles))
    for role := range r.Roles { out = append(out, role) }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// DecodeRequest reads a YAML request:
//
//  roles:
//    master: [1]
//    worker: [2, 3]
//  default_role: admin
//  remote: true
func DecodeRequest(r io.Reader) (Request, error) {
    var req Request
    dec := yaml.NewDecoder(r)
    dec.KnownFields(true)
    if err := dec.Decode(&req); err != nil && err != io.EOF {
        return Request{}, fmt.Errorf("roles: decode request: %w", err)
    }
    return req, req.Validate()
}
