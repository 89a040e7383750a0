package test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE2E_PreloginList(t *testing.T) {
	h := SetupE2E(t, nil)
	ws := h.Dial(t)

	sendWire(t, ws, map[string]any{"k": "prelogin"})
	msg := expectWire(t, ws, "U")
	assert.Equal(t, "room", msg["n"])
	assert.Equal(t, []any{"room"}, msg["l"])
}

func TestE2E_LoginAndSnapshot(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	ws := h.Login(t, "alice", "pw")

	snap := expectWire(t, ws, "S")
	assert.Equal(t, "dots", snap["p"])
	assert.Equal(t, float64(1), snap["c"])
	assert.Equal(t, float64(1), snap["f"])
	assert.JSONEq(t, `{"dots":[]}`, snap["g"].(string))
	assert.Equal(t, float64(30), snap["r"])
	assert.Equal(t, map[string]any{}, snap["x"])
}

func TestE2E_BadLoginFails(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})

	ws := h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "l", "u": "alice", "p": "wrong", "n": "room"})
	msg := expectWire(t, ws, "E")
	assert.Equal(t, "bad username or password", msg["e"])

	ws = h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "l", "u": "alice", "p": "pw", "n": "nowhere"})
	msg = expectWire(t, ws, "E")
	assert.Equal(t, "no such instance", msg["e"])
}

func TestE2E_SelfServeCreateAndLogin(t *testing.T) {
	h := SetupE2E(t, nil)

	ws := h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "selfServeCreateUser", "u": "carol", "p": "pw", "d": "mycfg"})
	expectWire(t, ws, "D")

	login := h.Login(t, "carol", "pw")
	expectWire(t, login, "S")
}

func TestE2E_FrameEchoCarriesPong(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	ws := h.Login(t, "alice", "pw")
	expectWire(t, ws, "S")

	sendWire(t, ws, map[string]any{"k": "f", "f": 40, "i": "r"})
	echo := awaitWire(t, ws, "f")
	assert.Equal(t, float64(40), echo["f"])
	assert.Equal(t, "r", echo["i"])
	assert.Greater(t, echo["t"].(float64), float64(0))
}

func TestE2E_MessageBatchDispatch(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	ws := h.Login(t, "alice", "pw")
	expectWire(t, ws, "S")

	sendWire(t, ws, []map[string]any{
		{"k": "o", "f": 40, "s": 1, "o": "fire"},
		{"k": "f", "f": 40, "i": "r"},
	})
	command := awaitWire(t, ws, "o")
	assert.Equal(t, "fire", command["o"])
	echo := awaitWire(t, ws, "f")
	assert.Equal(t, float64(40), echo["f"])
}

func TestE2E_PipelinedMessageDuringLogin(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	ws := h.Dial(t)

	// A message batched behind the login is a violation, but it must not be
	// answered until the login handoff settles: after that the instance owns
	// the socket and is the one that error-closes it.
	sendWire(t, ws, []map[string]any{
		{"k": "l", "u": "alice", "p": "pw", "n": "room"},
		{"k": "f", "f": 40, "i": "r"},
	})
	expectWire(t, ws, "W")
	msg := awaitWire(t, ws, "E")
	assert.Equal(t, "message before login completed", msg["e"])
}

func TestE2E_ChatFanOut(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw", "bob": "pw"})
	alice := h.Login(t, "alice", "pw")
	expectWire(t, alice, "S")
	bob := h.Login(t, "bob", "pw")
	expectWire(t, bob, "S")

	sendWire(t, alice, map[string]any{"k": "g", "m": "hello"})

	msg := awaitWire(t, bob, "g")
	assert.Equal(t, "alice", msg["u"])
	assert.Equal(t, "hello", msg["m"])
	msg = awaitWire(t, alice, "g")
	assert.Equal(t, "hello", msg["m"])
}

func TestE2E_UnknownVerbCloses(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	ws := h.Login(t, "alice", "pw")
	expectWire(t, ws, "S")

	sendWire(t, ws, map[string]any{"k": "o", "f": 40, "s": 1, "o": "warp"})
	msg := awaitWire(t, ws, "E")
	assert.Equal(t, "unknown command verb", msg["e"])
}

func TestE2E_UnknownKindCloses(t *testing.T) {
	h := SetupE2E(t, nil)
	ws := h.Dial(t)

	sendWire(t, ws, map[string]any{"k": "bogus"})
	msg := expectWire(t, ws, "E")
	assert.Equal(t, "unknown message kind", msg["e"])
}

func TestE2E_ConfigRoundTrip(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})

	ws := h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "setMyConfig", "u": "alice", "p": "pw", "d": "prefs"})
	expectWire(t, ws, "D")

	ws = h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "getMyConfig", "u": "alice", "p": "pw"})
	msg := expectWire(t, ws, "D")
	assert.Equal(t, "prefs", msg["d"])
}

func TestE2E_PasswordChange(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "old"})

	ws := h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "changeMyPassword", "u": "alice", "p": "old", "n": "new"})
	expectWire(t, ws, "D")

	login := h.Login(t, "alice", "new")
	expectWire(t, login, "S")
}

func TestE2E_ReconnectThroughOutbox(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	first := h.Login(t, "alice", "pw")
	expectWire(t, first, "S")

	require.NoError(t, first.Close())
	time.Sleep(200 * time.Millisecond)

	// The prior session sits in the outbox until its Disconnect crosses the
	// horizon; the new login waits in the inbox and then gets its snapshot.
	second := h.Login(t, "alice", "pw")
	snap := awaitWire(t, second, "S")
	assert.Equal(t, "dots", snap["p"])
}

func TestE2E_NonAdminShutdownRejected(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	ws := h.Dial(t)

	sendWire(t, ws, map[string]any{"k": "cleanShutdown", "u": "alice", "p": "pw", "r": "nope"})
	msg := expectWire(t, ws, "E")
	assert.Equal(t, "not an admin", msg["e"])
}

func TestE2E_CleanShutdownWritesSnapshot(t *testing.T) {
	h := SetupE2E(t, map[string]string{"alice": "pw"})
	alice := h.Login(t, "alice", "pw")
	expectWire(t, alice, "S")

	ws := h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "cleanShutdown", "u": "admin", "p": "admin", "r": "maintenance"})
	expectWire(t, ws, "D")

	select {
	case reason := <-h.ShutdownCh:
		assert.Equal(t, "maintenance", reason)
	case <-time.After(e2eTimeout):
		t.Fatal("shutdown callback never fired")
	}

	_, err := os.Stat(h.Cfg.SnapshotPath)
	assert.NoError(t, err, "clean shutdown writes the canonical snapshot")
}
