package cluster

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/membership"
    "github.com/amirimatin/go-minions/pkg/minion"
)

type EventType string

const (
    EventRoleAssigned     EventType = "role_assigned"
    EventRoleRejected     EventType = "role_rejected"
    EventMinionRegistered EventType = "minion_registered"
    EventLeaderChanged    EventType = "leader_changed"
    EventAgentJoin        EventType = "agent_join"
    EventAgentLeave       EventType = "agent_leave"
)

// Event describes a control-plane change. Only the fields relevant to Type are
// populated.
type Event struct {
    Type   EventType
    At     time.Time
    Minion *minion.Minion
    Role   minion.Role
    Error  string
    Leader *consensus.LeaderInfo
    Agent  *membership.MemberInfo
}

// Subscribe returns a buffered channel of events that is closed when ctx is
// done. Delivery is best-effort: events are dropped for slow consumers.
func (c *Cluster) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    c.eb.add(ch)
    go func() {
        <-ctx.Done()
        c.eb.remove(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock(); defer e.mu.Unlock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
}

// remove unsubscribes and closes ch under the bus lock so publish never sends
// on a closed channel.
func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock(); defer e.mu.Unlock()
    if _, ok := e.subs[ch]; ok {
        delete(e.subs, ch)
        close(ch)
    }
}

func (e *eventBus) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock(); defer e.mu.Unlock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
}
