package server

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/relay"
	"golang.org/x/net/websocket"
)

// inboundMessage carries one raw text frame from the read loop into the
// actor's mailbox.
type inboundMessage struct {
	Data []byte
}

// readLoopDone signals that the read loop goroutine exited, normally or not.
type readLoopDone struct{}

// ConnectionActor owns one websocket from accept to close. Before login it
// parses and answers messages itself (via server actor Asks); after a
// successful login it degrades to a forwarder, handing frame, command and
// chat messages to the owning instance loop.
type ConnectionActor struct {
	conn      *websocket.Conn
	engine    *bollywood.Engine
	log       *slog.Logger
	serverPID *bollywood.PID
	selfPID   *bollywood.PID
	connAddr  string

	stopReadLoop   chan struct{}
	readLoopExited chan struct{}
	done           chan struct{}
	closeOnce      sync.Once

	instancePID  *bollywood.PID
	ctrlID       int64
	loggedIn     bool
	loginPending bool

	// pendingViolation holds a protocol violation seen while the login
	// handoff is in flight. The instance owns the socket from the moment
	// AttachController is sent, so the violation is surfaced through it once
	// the LoginResult arrives instead of being written here.
	pendingViolation string
}

// ConnectionArgs holds arguments for creating a ConnectionActor.
type ConnectionArgs struct {
	Conn      *websocket.Conn
	Engine    *bollywood.Engine
	Log       *slog.Logger
	ServerPID *bollywood.PID
	// Done is closed when the actor has fully stopped; the websocket handler
	// blocks on it.
	Done chan struct{}
}

// NewConnectionProducer creates a producer for a ConnectionActor.
func NewConnectionProducer(args ConnectionArgs) bollywood.Producer {
	return func() bollywood.Actor {
		addr := "unknown"
		if args.Conn != nil && args.Conn.Request() != nil {
			addr = args.Conn.Request().RemoteAddr
		}
		return &ConnectionActor{
			conn:           args.Conn,
			engine:         args.Engine,
			log:            args.Log.With(slog.String("remote", addr)),
			serverPID:      args.ServerPID,
			connAddr:       addr,
			stopReadLoop:   make(chan struct{}),
			readLoopExited: make(chan struct{}),
			done:           args.Done,
		}
	}
}

// Receive handles messages for the ConnectionActor.
func (a *ConnectionActor) Receive(ctx bollywood.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in connection actor",
				slog.Any("reason", r),
				slog.String("stack", string(debug.Stack())))
			a.cleanup()
		}
	}()

	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	switch msg := ctx.Message().(type) {
	case bollywood.Started:
		go a.readLoop(a.engine, a.selfPID)

	case inboundMessage:
		a.handleInbound(msg.Data)

	case relay.LoginResult:
		a.loginPending = false
		if msg.Err != "" {
			a.protocolError(msg.Err)
			return
		}
		a.instancePID = msg.Instance
		a.ctrlID = msg.CtrlID
		a.loggedIn = true
		if a.pendingViolation != "" {
			a.engine.Send(a.instancePID, relay.ClientBad{CtrlID: a.ctrlID, Reason: a.pendingViolation}, a.selfPID)
			a.pendingViolation = ""
		}

	case readLoopDone:
		if a.loggedIn && a.instancePID != nil {
			a.engine.Send(a.instancePID, relay.SocketClosed{CtrlID: a.ctrlID}, a.selfPID)
		}
		a.cleanup()

	case bollywood.Stopping:
		a.signalAndWaitForReadLoop()
		if a.loggedIn && a.instancePID != nil {
			a.engine.Send(a.instancePID, relay.SocketClosed{CtrlID: a.ctrlID}, a.selfPID)
			a.loggedIn = false
		}
		a.closeConn()

	case bollywood.Stopped:
		a.closeOnce.Do(func() {
			if a.done != nil {
				close(a.done)
			}
		})

	default:
		a.log.Warn("unknown message", slog.Any("type", msg))
	}
}

// handleInbound parses one text frame and dispatches its messages. A JSON
// array body runs element by element, aborting on the first failure.
func (a *ConnectionActor) handleInbound(data []byte) {
	msgs, err := ParseClientMessages(data)
	if err != nil {
		if a.loggedIn {
			a.engine.Send(a.instancePID, relay.ClientBad{CtrlID: a.ctrlID, Reason: err.Error()}, a.selfPID)
			return
		}
		if a.loginPending {
			a.recordViolation(err.Error())
			return
		}
		a.protocolError(err.Error())
		return
	}
	for _, msg := range msgs {
		if !a.dispatch(msg) {
			return
		}
	}
}

// dispatch handles one message; false stops the rest of the batch.
func (a *ConnectionActor) dispatch(msg ClientMessage) bool {
	if a.loggedIn {
		return a.dispatchLive(msg)
	}
	if a.loginPending {
		a.recordViolation("message before login completed")
		return false
	}

	switch msg.K {
	case "prelogin":
		return a.handlePrelogin()

	case "l":
		a.loginPending = true
		a.engine.Send(a.serverPID, LoginRequest{
			ReplyTo:  a.selfPID,
			Conn:     a.conn,
			Username: msg.U,
			Password: msg.P,
			Instance: msg.N,
		}, a.selfPID)
		return true

	case "selfServeCreateUser":
		return a.oneShot(SelfServeRequest{
			Username: msg.U,
			Password: msg.P,
			Config:   msg.D,
			Origin:   a.connAddr,
		}, "user created", askTimeout)

	case "changeMyPassword":
		return a.oneShot(PasswordChangeRequest{
			Username:    msg.U,
			Password:    msg.P,
			NewPassword: msg.N,
		}, "password changed", askTimeout)

	case "getMyConfig":
		res, err := a.engine.Ask(a.serverPID, ConfigGetRequest{Username: msg.U, Password: msg.P}, askTimeout)
		if err != nil {
			a.protocolError(err.Error())
			return false
		}
		value, _ := res.(ConfigValue)
		a.finish(value.Config)
		return false

	case "setMyConfig":
		return a.oneShot(ConfigSetRequest{
			Username: msg.U,
			Password: msg.P,
			Config:   msg.D,
		}, "config saved", askTimeout)

	// The shutdown kinds block on snapshot collection across every
	// instance, so they get a wider deadline.
	case "cleanShutdown":
		return a.oneShot(ShutdownRequest{
			Username: msg.U,
			Password: msg.P,
			Reason:   msg.R,
			Clean:    true,
		}, "shutting down", shutdownTimeout)

	case "dirtyShutdown":
		return a.oneShot(ShutdownRequest{
			Username: msg.U,
			Password: msg.P,
			Reason:   msg.R,
		}, "shutting down", shutdownTimeout)

	case "f", "o", "g":
		a.protocolError("not logged in")
		return false

	default:
		a.protocolError("unknown message kind")
		return false
	}
}

// dispatchLive forwards a post-login message to the owning instance loop.
// One-shot kinds are not valid on a live session.
func (a *ConnectionActor) dispatchLive(msg ClientMessage) bool {
	bad := func(reason string) bool {
		a.engine.Send(a.instancePID, relay.ClientBad{CtrlID: a.ctrlID, Reason: reason}, a.selfPID)
		return false
	}

	switch msg.K {
	case "f":
		frame, err := msg.FrameNumber()
		if err != nil {
			return bad(err.Error())
		}
		a.engine.Send(a.instancePID, relay.ClientFrame{
			CtrlID: a.ctrlID,
			Frame:  frame,
			Input:  msg.I,
		}, a.selfPID)
		return true

	case "o":
		frame, err := msg.FrameNumber()
		if err != nil {
			return bad(err.Error())
		}
		serial, err := msg.SerialNumber()
		if err != nil {
			return bad(err.Error())
		}
		a.engine.Send(a.instancePID, relay.ClientCommand{
			CtrlID: a.ctrlID,
			Frame:  frame,
			Serial: serial,
			Verb:   msg.O,
			Arg:    msg.A,
		}, a.selfPID)
		return true

	case "g":
		a.engine.Send(a.instancePID, relay.ClientChat{CtrlID: a.ctrlID, Text: msg.M}, a.selfPID)
		return true

	default:
		return bad("unexpected message kind on live session")
	}
}

func (a *ConnectionActor) handlePrelogin() bool {
	res, err := a.engine.Ask(a.serverPID, ListInstancesRequest{}, askTimeout)
	if err != nil {
		a.protocolError(err.Error())
		return false
	}
	list, _ := res.(InstanceList)
	first := ""
	if len(list.Names) > 0 {
		first = list.Names[0]
	}
	if websocket.JSON.Send(a.conn, PreloginList{K: "U", N: first, L: list.Names}) != nil {
		a.cleanup()
		return false
	}
	return true
}

// recordViolation remembers the first violation seen during the login
// handoff; it surfaces once LoginResult decides who owns the socket.
func (a *ConnectionActor) recordViolation(reason string) {
	if a.pendingViolation == "" {
		a.pendingViolation = reason
	}
}

const shutdownTimeout = 30 * time.Second

// oneShot runs an account API call against the server actor, then reports
// and closes either way.
func (a *ConnectionActor) oneShot(req any, success string, timeout time.Duration) bool {
	if _, err := a.engine.Ask(a.serverPID, req, timeout); err != nil {
		a.protocolError(err.Error())
		return false
	}
	a.finish(success)
	return false
}

// finish sends the D success notice and closes the connection.
func (a *ConnectionActor) finish(detail string) {
	_ = websocket.JSON.Send(a.conn, relay.DoneNotice{K: "D", D: detail})
	a.cleanup()
}

// protocolError sends the E notice and closes the connection.
func (a *ConnectionActor) protocolError(reason string) {
	_ = websocket.JSON.Send(a.conn, relay.ErrorNotice{K: "E", E: reason})
	a.cleanup()
}

// readLoop pulls text frames off the socket into the mailbox. Runs as its
// own goroutine; everything stateful happens back in Receive.
func (a *ConnectionActor) readLoop(engine *bollywood.Engine, selfPID *bollywood.PID) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in read loop",
				slog.Any("reason", r),
				slog.String("stack", string(debug.Stack())))
		}
		close(a.readLoopExited)
		engine.Send(selfPID, readLoopDone{}, nil)
	}()

	conn := a.conn
	for {
		select {
		case <-a.stopReadLoop:
			return
		default:
		}

		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return
		}
		engine.Send(selfPID, inboundMessage{Data: data}, nil)
	}
}

// signalAndWaitForReadLoop tells the read loop to exit and waits for it.
func (a *ConnectionActor) signalAndWaitForReadLoop() {
	select {
	case <-a.stopReadLoop:
	default:
		close(a.stopReadLoop)
	}

	a.closeConn()

	select {
	case <-a.readLoopExited:
	case <-time.After(2 * time.Second):
		a.log.Warn("timeout waiting for read loop to exit")
	}
}

func (a *ConnectionActor) closeConn() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// cleanup tears the connection down and stops the actor. A logged-in
// session's socket now belongs to the instance loop for writes, but closing
// is idempotent both ways.
func (a *ConnectionActor) cleanup() {
	a.signalAndWaitForReadLoop()
	a.engine.Stop(a.selfPID)
}
