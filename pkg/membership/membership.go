package membership

import (
    "context"
    "time"
)

// MetaMgmt is the metadata key under which an agent advertises its
// management RPC address.
const MetaMgmt = "mgmt"

// MemberInfo describes a gossip member. ID is the minion id for agents and
// the node id for control planes.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

type EventType string

const (
    EventJoin   EventType = "join"
    EventLeave  EventType = "leave"
    EventUpdate EventType = "update"
)

// Event is a translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the gossip layer agents use to advertise their management
// address and the control plane uses to look it up.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// HealthReporter is implemented by memberships that expose a health score.
// -1 means not started; higher values mean degraded.
type HealthReporter interface {
    HealthScore() int
}

// Find returns the member with the given id.
func Find(m Membership, id string) (MemberInfo, bool) {
    for _, mi := range m.Members() {
        if mi.ID == id { return mi, true }
    }
    return MemberInfo{}, false
}
