package store

import (
	"strings"
	"testing"

	"github.com/lguibr/lockstep/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidUsername(t *testing.T) {
	valid := []string{"abc", "Alice", "bob99", "Sixteen16Chars00"}
	for _, name := range valid {
		assert.True(t, ValidUsername(name), "%q should be valid", name)
	}

	invalid := []string{"", "ab", "1abc", "alice!", "has space", "Seventeen17Chars0", "héllo"}
	for _, name := range invalid {
		assert.False(t, ValidUsername(name), "%q should be invalid", name)
	}
}

func TestUsers_CreateAndAuthenticate(t *testing.T) {
	u := NewUsers()
	require.NoError(t, u.Create("alice", "pw", "cfg", "127.0.0.1:9999", false))

	user, err := u.Authenticate("alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "cfg", user.Config)
	assert.Equal(t, "127.0.0.1:9999", user.SelfServeOrigin)
	assert.False(t, user.Admin)

	_, err = u.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = u.Authenticate("nobody", "pw")
	assert.ErrorIs(t, err, ErrAuth, "missing user and wrong password are indistinguishable")
}

func TestUsers_CreateRejects(t *testing.T) {
	u := NewUsers()
	require.NoError(t, u.Create("alice", "pw", "", "", false))

	assert.Error(t, u.Create("alice", "pw2", "", "", false), "duplicate username")
	assert.Error(t, u.Create("1bad", "pw", "", "", false), "invalid username")
	assert.Error(t, u.Create("carol", "pw", strings.Repeat("x", utils.MaxConfigBytes+1), "", false), "config too long")
}

func TestUsers_SetPassword(t *testing.T) {
	u := NewUsers()
	require.NoError(t, u.Create("alice", "old", "", "", false))
	require.NoError(t, u.SetPassword("alice", "new"))

	_, err := u.Authenticate("alice", "old")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = u.Authenticate("alice", "new")
	assert.NoError(t, err)

	assert.ErrorIs(t, u.SetPassword("nobody", "x"), ErrAuth)
}

func TestUsers_Config(t *testing.T) {
	u := NewUsers()
	require.NoError(t, u.Create("alice", "pw", "", "", false))

	require.NoError(t, u.SetConfig("alice", "settings"))
	cfg, err := u.Config("alice")
	require.NoError(t, err)
	assert.Equal(t, "settings", cfg)

	assert.Error(t, u.SetConfig("alice", strings.Repeat("x", utils.MaxConfigBytes+1)))
	_, err = u.Config("nobody")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestUsers_MapIsACopy(t *testing.T) {
	u := NewUsers()
	require.NoError(t, u.Create("alice", "pw", "original", "", false))

	snapshot := u.Map()
	require.NoError(t, u.SetConfig("alice", "changed"))
	assert.Equal(t, "original", snapshot["alice"].Config, "snapshot copies must not see later mutations")
}
