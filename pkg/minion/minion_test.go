package minion

import (
    "encoding/json"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
    cases := []struct {
        in   string
        want Role
    }{
        {"", RoleUnassigned},
        {"unassigned", RoleUnassigned},
        {"master", RoleMaster},
        {" Worker ", RoleWorker},
        {"admin", RoleAdmin},
    }
    for _, c := range cases {
        got, err := ParseRole(c.in)
        require.NoError(t, err, c.in)
        assert.Equal(t, c.want, got, c.in)
    }

    _, err := ParseRole("another_role")
    require.ErrorIs(t, err, ErrInvalidRole)
}

func TestRole_Assignable(t *testing.T) {
    assert.False(t, RoleUnassigned.Assignable())
    assert.True(t, RoleMaster.Assignable())
    assert.True(t, RoleWorker.Assignable())
    assert.True(t, RoleAdmin.Assignable())
    assert.False(t, Role(42).Assignable())
    assert.False(t, Role(42).Valid())
}

func TestMinion_JSON(t *testing.T) {
    m := Minion{ID: 7, MinionID: "abc", FQDN: "master.example.com", Role: RoleMaster, Highstate: HighstatePending}
    b, err := json.Marshal(m)
    require.NoError(t, err)
    assert.JSONEq(t, `{"id":7,"minion_id":"abc","fqdn":"master.example.com","role":"master","highstate":"pending"}`, string(b))

    var got Minion
    require.NoError(t, json.Unmarshal(b, &got))
    assert.Equal(t, m, got)
}

func TestRoleMapKeys_JSON(t *testing.T) {
    in := map[Role][]uint64{RoleMaster: {1}, RoleWorker: {2, 3}}
    b, err := json.Marshal(in)
    require.NoError(t, err)

    var out map[Role][]uint64
    require.NoError(t, json.Unmarshal(b, &out))
    assert.Equal(t, in, out)

    err = json.Unmarshal([]byte(`{"bogus":[1]}`), &out)
    require.ErrorIs(t, err, ErrInvalidRole)
}

func TestMinion_Validate(t *testing.T) {
    require.ErrorIs(t, Minion{}.Validate(), ErrEmptyMinionID)
    require.ErrorIs(t, Minion{MinionID: "a", Role: Role(9)}.Validate(), ErrInvalidRole)
    require.ErrorIs(t, Minion{MinionID: "a", Highstate: Highstate(9)}.Validate(), ErrInvalidHighstate)
    require.NoError(t, Minion{MinionID: "a"}.Validate())
}
