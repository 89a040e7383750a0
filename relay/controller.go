package relay

import (
	"time"

	"github.com/lguibr/lockstep/utils"
	"golang.org/x/net/websocket"
)

// Lifecycle is a controller's session state.
type Lifecycle int

const (
	// StateNew is a socket that has not logged in yet.
	StateNew Lifecycle = iota
	// StateInbox is a login held back until the username's prior Disconnect
	// crosses the horizon.
	StateInbox
	// StateLive is a logged-in controller receiving broadcasts.
	StateLive
	// StateOutbox is a departed controller whose Disconnect has not crossed
	// the horizon yet; the username stays indexed until it does.
	StateOutbox
	// StateDead is fully destroyed.
	StateDead
)

func (l Lifecycle) String() string {
	switch l {
	case StateNew:
		return "new"
	case StateInbox:
		return "inbox"
	case StateLive:
		return "live"
	case StateOutbox:
		return "outbox"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// Controller is one login session inside an instance: a connection, the
// admission window counters, and the session timers.
type Controller struct {
	ID       int64
	Username string
	Profile  string
	Conn     *websocket.Conn
	State    Lifecycle

	// MinFrame is the earliest frame at which subsequent events from this
	// controller may be stamped.
	MinFrame int64
	// LastSerial is the highest command serial admitted in the current
	// frame window.
	LastSerial int64
	// RateCounts tracks per-verb admissions in the current frame window.
	RateCounts map[string]int
	// LastFrameInput dedups consecutive identical frame inputs.
	LastFrameInput string

	ChatTokens int

	idleTimer  *time.Timer
	chatTimers []*time.Timer
}

// NewController makes a session record in the NEW state.
func NewController(id int64, username, profile string, conn *websocket.Conn) *Controller {
	return &Controller{
		ID:         id,
		Username:   username,
		Profile:    profile,
		Conn:       conn,
		State:      StateNew,
		RateCounts: make(map[string]int),
		ChatTokens: utils.ChatTokenMax,
	}
}

// OpenWindow starts a new frame-grouping window at the given frame: the
// command serial counter and per-verb rate counters reset.
func (c *Controller) OpenWindow(frame int64) {
	c.MinFrame = frame
	c.LastSerial = 0
	clear(c.RateCounts)
}

// StopTimers cancels the inactivity timeout and any pending chat token
// refills. Called on every transition out of LIVE.
func (c *Controller) StopTimers() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	for _, t := range c.chatTimers {
		t.Stop()
	}
	c.chatTimers = nil
}
