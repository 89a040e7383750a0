package test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/playset"
	"github.com/lguibr/lockstep/server"
	"github.com/lguibr/lockstep/store"
	"github.com/lguibr/lockstep/utils"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

const e2eTimeout = 10 * time.Second

// E2EHarness is one full server over an httptest listener.
type E2EHarness struct {
	Engine     *bollywood.Engine
	ServerPID  *bollywood.PID
	WsURL      string
	Cfg        utils.Config
	ShutdownCh chan string
}

// SetupE2E starts a seeded server (admin/admin, instance "room" on dots)
// with the extra users created on top.
func SetupE2E(t *testing.T, extraUsers map[string]string) *E2EHarness {
	t.Helper()

	cfg := utils.DefaultConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "lockstep.json")

	registry := playset.NewRegistry()
	require.NoError(t, registry.Register(playset.Dots{}))

	snap, err := store.Seed()
	require.NoError(t, err)
	users := store.UsersFrom(snap.Users)
	for name, password := range extraUsers {
		require.NoError(t, users.Create(name, password, "", "", false))
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := bollywood.NewEngine(log)
	t.Cleanup(func() { engine.Shutdown(2 * time.Second) })

	shutdownCh := make(chan string, 1)
	serverPID := engine.Spawn(bollywood.NewProps(server.NewServerProducer(server.ServerArgs{
		Engine:   engine,
		Log:      log,
		Cfg:      cfg,
		Registry: registry,
		Snapshot: snap,
		OnShutdown: func(clean bool, reason string) {
			select {
			case shutdownCh <- reason:
			default:
			}
		},
	})))
	require.NotNil(t, serverPID)

	ws := server.New(engine, log, cfg, serverPID)
	s := httptest.NewServer(ws.WebsocketServer())
	t.Cleanup(s.Close)

	return &E2EHarness{
		Engine:     engine,
		ServerPID:  serverPID,
		WsURL:      "ws" + strings.TrimPrefix(s.URL, "http") + "/subscribe",
		Cfg:        cfg,
		ShutdownCh: shutdownCh,
	}
}

// Dial opens a fresh client connection.
func (h *E2EHarness) Dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, err := websocket.Dial(h.WsURL, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// Login dials, logs the user into "room", and consumes the W notice. The
// snapshot (and anything after it) stays on the wire for the test to read.
func (h *E2EHarness) Login(t *testing.T, username, password string) *websocket.Conn {
	t.Helper()
	ws := h.Dial(t)
	sendWire(t, ws, map[string]any{"k": "l", "u": username, "p": password, "n": "room"})
	wait := expectWire(t, ws, "W")
	require.GreaterOrEqual(t, wait["t"].(float64), float64(0))
	return ws
}

func sendWire(t *testing.T, ws *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, websocket.JSON.Send(ws, msg))
}

func readWire(t *testing.T, ws *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(timeout)))
	var msg map[string]any
	err := websocket.JSON.Receive(ws, &msg)
	return msg, err
}

// expectWire reads exactly one message and requires its kind.
func expectWire(t *testing.T, ws *websocket.Conn, kind string) map[string]any {
	t.Helper()
	msg, err := readWire(t, ws, e2eTimeout)
	require.NoError(t, err)
	require.Equal(t, kind, msg["k"], "unexpected message %v", msg)
	return msg
}

// awaitWire reads messages until one of the kind arrives, skipping frame
// advance notices and relayed events along the way.
func awaitWire(t *testing.T, ws *websocket.Conn, kind string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(e2eTimeout)
	for time.Now().Before(deadline) {
		msg, err := readWire(t, ws, time.Until(deadline))
		require.NoError(t, err)
		if msg["k"] == kind {
			return msg
		}
	}
	t.Fatalf("no %q message arrived within %v", kind, e2eTimeout)
	return nil
}
