package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "testing"

    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/transport"
    "github.com/amirimatin/go-minions/pkg/transport/httpjson"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
    t.Helper()
    root := &cobra.Command{Use: "minionctl", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetIn(strings.NewReader(stdin))
    root.SetArgs(args)
    err := root.Execute()
    return out.String(), err
}

// fakeControlPlane records the requests it receives.
type fakeControlPlane struct {
    mu       sync.Mutex
    assigned []transport.AssignRolesRequest
    minions  []minion.Minion
}

func (f *fakeControlPlane) start(t *testing.T) string {
    t.Helper()
    srv := httptest.NewServer(httpjson.Handler(transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return []byte(`{"node_id":"cp-1"}`), nil },
        AssignRoles: func(_ context.Context, req transport.AssignRolesRequest) (transport.AssignRolesResponse, error) {
            f.mu.Lock()
            defer f.mu.Unlock()
            f.assigned = append(f.assigned, req)
            return transport.AssignRolesResponse{Results: map[string]bool{"m-1": true}}, nil
        },
        Register: func(_ context.Context, req transport.RegisterRequest) (transport.RegisterResponse, error) {
            f.mu.Lock()
            defer f.mu.Unlock()
            m := minion.Minion{ID: uint64(len(f.minions) + 1), MinionID: req.MinionID, FQDN: req.FQDN}
            f.minions = append(f.minions, m)
            return transport.RegisterResponse{Minion: m}, nil
        },
        Minions: func(context.Context) (transport.MinionsResponse, error) {
            f.mu.Lock()
            defer f.mu.Unlock()
            return transport.MinionsResponse{Minions: append([]minion.Minion(nil), f.minions...)}, nil
        },
    }))
    t.Cleanup(srv.Close)
    return strings.TrimPrefix(srv.URL, "http://")
}

func TestAddAll_Commands(t *testing.T) {
    root := NewCommand("minions")
    var names []string
    for _, c := range root.Commands() { names = append(names, c.Name()) }
    assert.ElementsMatch(t, []string{"serve", "agent", "register", "assign", "minions", "status", "computed-status"}, names)
}

func TestComputedStatus(t *testing.T) {
    out, err := run(t, `{"needed":[{"highstate":true}],"failed":[]}`, "computed-status", "--field", "highstate")
    require.NoError(t, err)
    assert.Equal(t, "update_needed\n", out)

    path := filepath.Join(t.TempDir(), "reports.json")
    require.NoError(t, os.WriteFile(path, []byte(`{"needed":[{"highstate":true}],"failed":[{"highstate":true}]}`), 0o600))
    out, err = run(t, "", "computed-status", "--field", "highstate", "--file", path)
    require.NoError(t, err)
    assert.Equal(t, "update_failed\n", out)

    out, err = run(t, `{"needed":[{"highstate":"yes"}]}`, "computed-status", "--field", "highstate")
    require.NoError(t, err)
    assert.Equal(t, "unknown\n", out)

    _, err = run(t, `not json`, "computed-status", "--field", "highstate")
    assert.Error(t, err)
    _, err = run(t, `{}`, "computed-status")
    assert.Error(t, err, "--field is required")
}

func TestAssign_Flags(t *testing.T) {
    cp := &fakeControlPlane{}
    addr := cp.start(t)

    out, err := run(t, "", "assign", "--addr", addr, "--master", "1", "--worker", "2,3", "--default-role", "admin", "--remote")
    require.NoError(t, err)
    var res map[string]bool
    require.NoError(t, json.Unmarshal([]byte(out), &res))
    assert.Equal(t, map[string]bool{"m-1": true}, res)

    require.Len(t, cp.assigned, 1)
    got := cp.assigned[0]
    assert.Equal(t, []uint64{1}, got.Roles[minion.RoleMaster])
    assert.Equal(t, []uint64{2, 3}, got.Roles[minion.RoleWorker])
    assert.NotContains(t, got.Roles, minion.RoleAdmin)
    assert.Equal(t, minion.RoleAdmin, got.DefaultRole)
    assert.True(t, got.Remote)
}

func TestAssign_File(t *testing.T) {
    cp := &fakeControlPlane{}
    addr := cp.start(t)
    yml := "roles:\n  master: [1]\n  worker: [2]\ndefault_role: admin\nremote: true\n"

    _, err := run(t, yml, "assign", "--addr", addr, "-f", "-")
    require.NoError(t, err)
    require.Len(t, cp.assigned, 1)
    assert.True(t, cp.assigned[0].Remote)
    assert.Equal(t, []uint64{1}, cp.assigned[0].Roles[minion.RoleMaster])

    // an explicit --remote=false overrides the file
    path := filepath.Join(t.TempDir(), "roles.yaml")
    require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
    _, err = run(t, "", "assign", "--addr", addr, "--file", path, "--remote=false")
    require.NoError(t, err)
    require.Len(t, cp.assigned, 2)
    assert.False(t, cp.assigned[1].Remote)
}

func TestAssign_InvalidInput(t *testing.T) {
    cp := &fakeControlPlane{}
    addr := cp.start(t)
    _, err := run(t, "", "assign", "--addr", addr, "--default-role", "janitor")
    require.ErrorIs(t, err, minion.ErrInvalidRole)
    _, err = run(t, "roles:\n  janitor: [1]\n", "assign", "--addr", addr, "-f", "-")
    require.ErrorIs(t, err, minion.ErrInvalidRole)
    assert.Empty(t, cp.assigned)
}

func TestRegisterMinionsAndStatus(t *testing.T) {
    cp := &fakeControlPlane{}
    addr := cp.start(t)

    _, err := run(t, "", "register", "--addr", addr)
    require.Error(t, err)

    out, err := run(t, "", "register", "--addr", addr, "--minion-id", "m-1", "--fqdn", "master.example.com")
    require.NoError(t, err)
    var m minion.Minion
    require.NoError(t, json.Unmarshal([]byte(out), &m))
    assert.Equal(t, uint64(1), m.ID)
    assert.Equal(t, "master.example.com", m.FQDN)

    out, err = run(t, "", "minions", "--addr", addr)
    require.NoError(t, err)
    var all []minion.Minion
    require.NoError(t, json.Unmarshal([]byte(out), &all))
    require.Len(t, all, 1)
    assert.Equal(t, "m-1", all[0].MinionID)

    out, err = run(t, "", "status", "--addr", addr)
    require.NoError(t, err)
    assert.JSONEq(t, `{"node_id":"cp-1"}`, strings.TrimSpace(out))
}

func TestServe_RequiresID(t *testing.T) {
    _, err := run(t, "", "serve")
    assert.Error(t, err)
}
