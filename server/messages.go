package server

import (
	"github.com/lguibr/lockstep/bollywood"
	"golang.org/x/net/websocket"
)

// LoginRequest hands an l message to the server actor. The instance (or the
// server itself on early failure) replies to ReplyTo with a
// relay.LoginResult.
type LoginRequest struct {
	ReplyTo  *bollywood.PID
	Conn     *websocket.Conn
	Username string
	Password string
	Instance string
}

// ListInstancesRequest asks (via Ask) for the instance directory listing.
type ListInstancesRequest struct{}

// InstanceList is the reply to ListInstancesRequest.
type InstanceList struct {
	Names []string
}

// SelfServeRequest asks to create an account from an unauthenticated
// connection.
type SelfServeRequest struct {
	Username string
	Password string
	Config   string
	Origin   string
}

// PasswordChangeRequest asks to replace the account's password. The old
// password authenticates the call.
type PasswordChangeRequest struct {
	Username    string
	Password    string
	NewPassword string
}

// ConfigGetRequest asks for the account's opaque config string.
type ConfigGetRequest struct {
	Username string
	Password string
}

// ConfigValue is the reply to ConfigGetRequest.
type ConfigValue struct {
	Config string
}

// ConfigSetRequest asks to replace the account's opaque config string.
type ConfigSetRequest struct {
	Username string
	Password string
	Config   string
}

// ShutdownRequest asks an admin shutdown. Clean writes the canonical
// snapshot besides the timestamped backup; dirty writes only the backup.
type ShutdownRequest struct {
	Username string
	Password string
	Reason   string
	Clean    bool
}

// CollectSnapshotRequest asks (via Ask) for the whole-server snapshot,
// gathered from every instance. Used by autosave and the shutdown path.
type CollectSnapshotRequest struct{}

// Ack is the empty success reply for Asks with no payload.
type Ack struct{}
