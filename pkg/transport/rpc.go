package transport

import (
    "context"

    "github.com/amirimatin/go-minions/pkg/minion"
)

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on cluster and agent types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// AssignRoleRequest asks a minion agent to take on a role.
type AssignRoleRequest struct {
    MinionID string      `json:"minion_id"`
    Role     minion.Role `json:"role"`
}

// AssignRoleResponse reports whether the agent accepted the role.
type AssignRoleResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// AssignRoleFunc handles role requests on the agent side.
type AssignRoleFunc func(ctx context.Context, req AssignRoleRequest) (AssignRoleResponse, error)

// AssignRolesRequest is a batch role assignment keyed by registry IDs.
type AssignRolesRequest struct {
    Roles       map[minion.Role][]uint64 `json:"roles"`
    DefaultRole minion.Role              `json:"default_role,omitempty"`
    Remote      bool                     `json:"remote"`
}

// AssignRolesResponse carries per-minion outcomes keyed by MinionID.
type AssignRolesResponse struct {
    Results map[string]bool `json:"results,omitempty"`
    Error   string          `json:"error,omitempty"`
}

// AssignRolesFunc handles batch assignments on the control plane.
type AssignRolesFunc func(ctx context.Context, req AssignRolesRequest) (AssignRolesResponse, error)

// RegisterRequest registers a minion with the control plane.
type RegisterRequest struct {
    MinionID string `json:"minion_id"`
    FQDN     string `json:"fqdn"`
}

// RegisterResponse returns the registered minion including its registry ID.
type RegisterResponse struct {
    Minion minion.Minion `json:"minion"`
    Error  string        `json:"error,omitempty"`
}

// RegisterFunc handles registrations on the control plane.
type RegisterFunc func(ctx context.Context, req RegisterRequest) (RegisterResponse, error)

// MinionsResponse lists registered minions ordered by ID.
type MinionsResponse struct {
    Minions []minion.Minion `json:"minions"`
    Error   string          `json:"error,omitempty"`
}

// MinionsFunc lists registered minions.
type MinionsFunc func(ctx context.Context) (MinionsResponse, error)

// Handlers bundles the management endpoints a server exposes. A nil handler
// is reported to callers as not supported.
type Handlers struct {
    Status      StatusFunc
    AssignRole  AssignRoleFunc
    AssignRoles AssignRolesFunc
    Register    RegisterFunc
    Minions     MinionsFunc
}

// RPCServer exposes management endpoints for the control plane and agents.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls against a control plane or an agent
// using the chosen protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostAssignRole(ctx context.Context, addr string, req AssignRoleRequest) (AssignRoleResponse, error)
    PostAssignRoles(ctx context.Context, addr string, req AssignRolesRequest) (AssignRolesResponse, error)
    PostRegister(ctx context.Context, addr string, req RegisterRequest) (RegisterResponse, error)
    GetMinions(ctx context.Context, addr string) (MinionsResponse, error)
}
