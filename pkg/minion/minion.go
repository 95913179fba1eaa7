package minion

import (
    "fmt"
    "strings"
)

// Minion is a managed machine as recorded by the registry. ID is assigned by
// the registry on create; MinionID is the globally unique identifier reported
// by the machine itself and never changes after registration.
type Minion struct {
    ID        uint64    `json:"id"`
    MinionID  string    `json:"minion_id"`
    FQDN      string    `json:"fqdn"`
    Role      Role      `json:"role"`
    Highstate Highstate `json:"highstate"`
}

// Role is the operational designation of a minion.
type Role uint8

const (
    // RoleUnassigned means the minion has no role yet.
    RoleUnassigned Role = iota
    RoleMaster
    RoleWorker
    RoleAdmin
)

var roleNames = map[Role]string{
    RoleUnassigned: "",
    RoleMaster:     "master",
    RoleWorker:     "worker",
    RoleAdmin:      "admin",
}

// Roles lists every assignable role.
func Roles() []Role { return []Role{RoleMaster, RoleWorker, RoleAdmin} }

func (r Role) String() string {
    if n, ok := roleNames[r]; ok {
        if n == "" { return "unassigned" }
        return n
    }
    return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid reports whether r is a member of the enumeration, including
// RoleUnassigned.
func (r Role) Valid() bool {
    _, ok := roleNames[r]
    return ok
}

// Assignable reports whether r can be given to a minion.
func (r Role) Assignable() bool { return r != RoleUnassigned && r.Valid() }

// ParseRole converts a role name into a Role. The empty string and
// "unassigned" map to RoleUnassigned.
func ParseRole(s string) (Role, error) {
    s = strings.ToLower(strings.TrimSpace(s))
    if s == "unassigned" { return RoleUnassigned, nil }
    for r, n := range roleNames {
        if n == s { return r, nil }
    }
    return RoleUnassigned, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
    n, ok := roleNames[r]
    if !ok { return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r)) }
    return []byte(n), nil
}

func (r *Role) UnmarshalText(b []byte) error {
    v, err := ParseRole(string(b))
    if err != nil { return err }
    *r = v
    return nil
}

// Highstate tracks whether the configuration of a minion still has to be
// applied.
type Highstate uint8

const (
    HighstateNotApplied Highstate = iota
    HighstatePending
    HighstateFailed
    HighstateApplied
)

var highstateNames = map[Highstate]string{
    HighstateNotApplied: "not_applied",
    HighstatePending:    "pending",
    HighstateFailed:     "failed",
    HighstateApplied:    "applied",
}

func (h Highstate) String() string {
    if n, ok := highstateNames[h]; ok { return n }
    return fmt.Sprintf("highstate(%d)", uint8(h))
}

// ParseHighstate converts a highstate name into a Highstate.
func ParseHighstate(s string) (Highstate, error) {
    s = strings.ToLower(strings.TrimSpace(s))
    for h, n := range highstateNames {
        if n == s { return h, nil }
    }
    return HighstateNotApplied, fmt.Errorf("%w: %q", ErrInvalidHighstate, s)
}

func (h Highstate) MarshalText() ([]byte, error) {
    n, ok := highstateNames[h]
    if !ok { return nil, fmt.Errorf("%w: %d", ErrInvalidHighstate, uint8(h)) }
    return []byte(n), nil
}

func (h *Highstate) UnmarshalText(b []byte) error {
    v, err := ParseHighstate(string(b))
    if err != nil { return err }
    *h = v
    return nil
}

// Validate checks the attributes required to register a minion.
func (m Minion) Validate() error {
    if strings.TrimSpace(m.MinionID) == "" { return ErrEmptyMinionID }
    if !m.Role.Valid() { return fmt.Errorf("%w: %d", ErrInvalidRole, uint8(m.Role)) }
    if _, ok := highstateNames[m.Highstate]; !ok { return fmt.Errorf("%w: %d", ErrInvalidHighstate, uint8(m.Highstate)) }
    return nil
}
