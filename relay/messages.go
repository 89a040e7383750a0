package relay

import (
	"github.com/lguibr/lockstep/bollywood"
	"golang.org/x/net/websocket"
)

// --- Connection/server -> instance actor ---

// AttachController hands a freshly authenticated login to the instance. The
// instance replies to ReplyTo with a LoginResult.
type AttachController struct {
	ReplyTo  *bollywood.PID
	Conn     *websocket.Conn
	CtrlID   int64
	Username string
	Profile  string
}

// LoginResult tells the connection actor whether the login was admitted and
// which instance now owns its messages. Err is empty on success.
type LoginResult struct {
	Err      string
	Instance *bollywood.PID
	CtrlID   int64
}

// ClientFrame is a parsed frame-input message ("f") from a controller.
type ClientFrame struct {
	CtrlID int64
	Frame  int64
	Input  string
}

// ClientCommand is a parsed one-shot command ("o") from a controller.
type ClientCommand struct {
	CtrlID int64
	Frame  int64
	Serial int64
	Verb   string
	Arg    string
}

// ClientChat is a parsed global chat message ("g") from a controller.
type ClientChat struct {
	CtrlID int64
	Text   string
}

// ClientBad reports a post-login protocol violation detected at parse time;
// the instance error-closes the controller.
type ClientBad struct {
	CtrlID int64
	Reason string
}

// SocketClosed reports that a controller's socket is gone.
type SocketClosed struct {
	CtrlID int64
}

// GlobalChat fans one chat message into the instance's subscribers.
type GlobalChat struct {
	CtrlID   int64
	Username string
	Text     string
}

// SnapshotRequest asks (via Ask) for the instance's persistent form.
type SnapshotRequest struct{}

// SnapshotResult is the reply to SnapshotRequest.
type SnapshotResult struct {
	PlaysetName string
	State       string
	Status      map[int64]ControllerStatus
}

// --- Instance-internal timer messages ---

type advanceTick struct{}

type inactivityTimeout struct{ CtrlID int64 }

type chatRefill struct{ CtrlID int64 }

// --- Instance -> server actor (username index upkeep) ---

// UsernameOutbox marks the username's controller as OUTBOX: departed, but
// its Disconnect has not crossed the horizon.
type UsernameOutbox struct{ Username string }

// UsernameLive marks the username as LIVE again (an INBOX promotion).
type UsernameLive struct{ Username string }

// UsernameReleased frees the username for fresh logins.
type UsernameReleased struct{ Username string }

// ChatBroadcastRequest asks the server to fan a chat message out to every
// instance.
type ChatBroadcastRequest struct {
	CtrlID   int64
	Username string
	Text     string
}
