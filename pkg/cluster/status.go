package cluster

// Status is a JSON-serializable snapshot of the control plane served at
// /status and printed by minionctl.
type Status struct {
    NodeID string `json:"node_id"`
    // Healthy is true once the registry accepts writes on this node.
    Healthy  bool   `json:"healthy"`
    Leader   bool   `json:"leader"`
    LeaderID string `json:"leader_id,omitempty"`
    Term     uint64 `json:"term,omitempty"`
    // Minions is the number of registered minions.
    Minions     int            `json:"minions"`
    ByRole      map[string]int `json:"by_role"`
    ByHighstate map[string]int `json:"by_highstate"`
    // Agents is the number of gossip members visible to this node.
    Agents   int      `json:"agents,omitempty"`
    Warnings []string `json:"warnings,omitempty"`
}
