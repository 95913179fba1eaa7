package memory

import (
    "context"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
    "sync"

    "github.com/amirimatin/go-minions/pkg/consensus"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/state"
)

// Log operations understood by Store.Apply.
const (
    OpCreate = "CreateMinion"
    OpUpdate = "UpdateMinion"
)

// Store is an in-memory minion registry. It is used directly by single-node
// deployments and tests, and as the raft state machine behind the
// replicated registry.
type Store struct {
    mu     sync.RWMutex
    nextID uint64
    byID   map[uint64]minion.Minion
    byMID  map[string]uint64
}

func New() *Store {
    return &Store{nextID: 1, byID: make(map[uint64]minion.Minion), byMID: make(map[string]uint64)}
}

func (s *Store) Create(_ context.Context, m minion.Minion) (minion.Minion, error) {
    return s.create(m)
}

func (s *Store) create(m minion.Minion) (minion.Minion, error) {
    m.MinionID = strings.TrimSpace(m.MinionID)
    if err := m.Validate(); err != nil { return minion.Minion{}, err }
    s.mu.Lock(); defer s.mu.Unlock()
    if _, ok := s.byMID[m.MinionID]; ok {
        return minion.Minion{}, fmt.Errorf("%w: %s", registry.ErrDuplicateMinionID, m.MinionID)
    }
    m.ID = s.nextID
    s.nextID++
    s.byID[m.ID] = m
    s.byMID[m.MinionID] = m.ID
    return m, nil
}

func (s *Store) Find(_ context.Context, id uint64) (minion.Minion, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    m, ok := s.byID[id]
    if !ok { return minion.Minion{}, fmt.Errorf("%w: id %d", registry.ErrNotFound, id) }
    return m, nil
}

func (s *Store) FindByMinionID(_ context.Context, minionID string) (minion.Minion, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    id, ok := s.byMID[minionID]
    if !ok { return minion.Minion{}, fmt.Errorf("%w: minion id %s", registry.ErrNotFound, minionID) }
    return s.byID[id], nil
}

func (s *Store) All(_ context.Context) ([]minion.Minion, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.sorted(), nil
}

func (s *Store) sorted() []minion.Minion {
    out := make([]minion.Minion, 0, len(s.byID))
    for _, m := range s.byID { out = append(out, m) }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

func (s *Store) Update(_ context.Context, id uint64, f registry.Fields) (minion.Minion, error) {
    return s.update(id, f)
}

func (s *Store) update(id uint64, f registry.Fields) (minion.Minion, error) {
    if f.Role != nil && !f.Role.Valid() { return minion.Minion{}, fmt.Errorf("%w: %d", minion.ErrInvalidRole, uint8(*f.Role)) }
    s.mu.Lock(); defer s.mu.Unlock()
    m, ok := s.byID[id]
    if !ok { return minion.Minion{}, fmt.Errorf("%w: id %d", registry.ErrNotFound, id) }
    m = f.Apply(m)
    if err := m.Validate(); err != nil { return minion.Minion{}, err }
    s.byID[id] = m
    return m, nil
}

// updatePayload is the JSON payload of an OpUpdate command.
type updatePayload struct {
    ID     uint64          `json:"id"`
    Fields registry.Fields `json:"fields"`
}

// CreateCommand encodes a create as a log command.
func CreateCommand(m minion.Minion) (consensus.Command, error) {
    b, err := json.Marshal(m)
    if err != nil { return consensus.Command{}, err }
    return consensus.Command{Op: OpCreate, Payload: b}, nil
}

// UpdateCommand encodes an update as a log command.
func UpdateCommand(id uint64, f registry.Fields) (consensus.Command, error) {
    b, err := json.Marshal(updatePayload{ID: id, Fields: f})
    if err != nil { return consensus.Command{}, err }
    return consensus.Command{Op: OpUpdate, Payload: b}, nil
}

// Apply executes a log command against the store. Unknown ops are ignored so
// newer log entries do not break older replicas.
func (s *Store) Apply(cmd consensus.Command) error {
    switch cmd.Op {
    case OpCreate:
        var m minion.Minion
        if err := json.Unmarshal(cmd.Payload, &m); err != nil { return err }
        _, err := s.create(m)
        return err
    case OpUpdate:
        var p updatePayload
        if err := json.Unmarshal(cmd.Payload, &p); err != nil { return err }
        _, err := s.update(p.ID, p.Fields)
        return err
    default:
        return nil
    }
}

type snapshot struct {
    Version int             `json:"version"`
    NextID  uint64          `json:"next_id"`
    Minions []minion.Minion `json:"minions"`
}

// Snapshot encodes the registry as stable JSON ordered by ID.
func (s *Store) Snapshot() ([]byte, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    return json.Marshal(snapshot{Version: 1, NextID: s.nextID, Minions: s.sorted()})
}

func (s *Store) Restore(buf []byte) error {
    var snap snapshot
    if err := json.Unmarshal(buf, &snap); err != nil {
        return err
    }
    if snap.Version != 1 { return fmt.Errorf("memory: unsupported snapshot version %d", snap.Version) }
    s.mu.Lock(); defer s.mu.Unlock()
    s.byID = make(map[uint64]minion.Minion, len(snap.Minions))
    s.byMID = make(map[string]uint64, len(snap.Minions))
    s.nextID = snap.NextID
    for _, m := range snap.Minions {
        if m.ID == 0 || m.MinionID == "" { continue }
        s.byID[m.ID] = m
        s.byMID[m.MinionID] = m.ID
        if m.ID >= s.nextID { s.nextID = m.ID + 1 }
    }
    if s.nextID == 0 { s.nextID = 1 }
    return nil
}

var (
    _ registry.Registry = (*Store)(nil)
    _ state.Machine     = (*Store)(nil)
)
