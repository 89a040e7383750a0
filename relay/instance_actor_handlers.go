package relay

import (
	"errors"
	"log/slog"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/utils"
)

var errInstanceHalted = errors.New("instance halted")

// handleAttach admits an authenticated login handed over by the server
// actor. The username conflict rules ran there already; this re-checks the
// instance-local ones and decides LIVE versus INBOX.
func (a *InstanceActor) handleAttach(ctx bollywood.Context, msg AttachController) {
	reply := func(res LoginResult) {
		a.engine.Send(msg.ReplyTo, res, a.selfPID)
	}

	if a.live[msg.Username] != nil || a.inbox[msg.Username] != nil {
		reply(LoginResult{Err: "already logged in"})
		return
	}

	ctrl := NewController(msg.CtrlID, msg.Username, msg.Profile, msg.Conn)
	a.controllers[ctrl.ID] = ctrl

	// The wait confirmation carries the initial pong either way. An INBOX
	// controller then hears nothing until its predecessor's Disconnect
	// crosses the horizon, so its inactivity timeout stays disarmed.
	a.sendTo(ctrl, WaitNotice{K: "W", T: a.inst.Clock.Pong(a.now())})

	if a.outbox[msg.Username] != nil {
		ctrl.State = StateInbox
		a.inbox[msg.Username] = ctrl
		a.log.Info("login waiting on outbox",
			slog.String("username", msg.Username), slog.Int64("controller", ctrl.ID))
	} else {
		a.goLive(ctrl)
	}

	reply(LoginResult{Instance: a.selfPID, CtrlID: ctrl.ID})
}

// goLive makes the controller a subscriber: unsuspends the instance, stamps
// its Connect at the present frame, and sends the initial snapshot.
func (a *InstanceActor) goLive(ctrl *Controller) {
	a.unsuspend()

	frame := a.inst.Clock.PresentFrame()
	ev := Event{
		Kind:       KindConnect,
		Frame:      frame,
		Controller: ctrl.ID,
		Username:   ctrl.Username,
		Profile:    ctrl.Profile,
	}
	a.inst.AddEvent(ev)
	a.broadcastNotice(ev.Notice(0))

	ctrl.State = StateLive
	ctrl.OpenWindow(frame)
	a.live[ctrl.Username] = ctrl
	a.refreshIdle(ctrl)

	a.sendSnapshot(ctrl)
	a.log.Info("controller live",
		slog.String("username", ctrl.Username),
		slog.Int64("controller", ctrl.ID),
		slog.Int64("frame", frame))
}

// handleFrame runs the admission cascade for a frame-input event. Lagged
// frames (below the horizon) are silently discarded; every other failure
// error-closes the controller.
func (a *InstanceActor) handleFrame(m ClientFrame) {
	ctrl := a.controllers[m.CtrlID]
	if ctrl == nil {
		return
	}
	if ctrl.State != StateLive {
		a.errorClose(ctrl, "controller is not live")
		return
	}
	if m.Frame < a.inst.Clock.HorizonFrame {
		return // too lagged to admit; client learns from the next F notice
	}
	if m.Frame < ctrl.MinFrame {
		a.errorClose(ctrl, "frame below controller minimum")
		return
	}
	if m.Frame > a.inst.Clock.PresentFrame()+utils.FutureHorizonFrames {
		a.errorClose(ctrl, "frame too far ahead")
		return
	}
	if len(m.Input) > a.inst.Module.MaxInputBytes() {
		a.errorClose(ctrl, "input too long")
		return
	}

	duplicate := m.Input == ctrl.LastFrameInput
	ev := Event{Kind: KindFrame, Frame: m.Frame, Controller: ctrl.ID, Input: m.Input}
	a.inst.AddEvent(ev)

	ctrl.LastFrameInput = m.Input
	ctrl.OpenWindow(m.Frame + 1)
	a.refreshIdle(ctrl)

	a.broadcastEvent(ev, ctrl, duplicate)
}

// handleCommand runs the admission cascade for a one-shot command.
func (a *InstanceActor) handleCommand(m ClientCommand) {
	ctrl := a.controllers[m.CtrlID]
	if ctrl == nil {
		return
	}
	if ctrl.State != StateLive {
		a.errorClose(ctrl, "controller is not live")
		return
	}
	if m.Frame < a.inst.Clock.HorizonFrame {
		return
	}
	if m.Frame < ctrl.MinFrame {
		a.errorClose(ctrl, "frame below controller minimum")
		return
	}
	if m.Frame > a.inst.Clock.PresentFrame()+utils.FutureHorizonFrames {
		a.errorClose(ctrl, "frame too far ahead")
		return
	}
	limit, known := a.inst.Module.CommandLimit(m.Verb)
	if !known {
		a.errorClose(ctrl, "unknown command verb")
		return
	}
	// A frame past the window start opens a new window: serials and rate
	// counters reset, so serial reuse across frames is legitimate.
	if m.Frame > ctrl.MinFrame {
		ctrl.OpenWindow(m.Frame)
	}
	if m.Serial <= 0 || m.Serial <= ctrl.LastSerial {
		a.errorClose(ctrl, "command serial not increasing")
		return
	}
	if ctrl.RateCounts[m.Verb]+1 > limit {
		a.errorClose(ctrl, "command rate exceeded")
		return
	}
	if len(m.Arg) > a.inst.Module.MaxArgBytes() {
		a.errorClose(ctrl, "command argument too long")
		return
	}

	ctrl.LastSerial = m.Serial
	ctrl.RateCounts[m.Verb]++
	ev := Event{Kind: KindCommand, Frame: m.Frame, Controller: ctrl.ID, Serial: m.Serial, Verb: m.Verb, Arg: m.Arg}
	a.inst.AddEvent(ev)
	a.refreshIdle(ctrl)

	a.broadcastEvent(ev, ctrl, false)
}

// handleChat spends a chat token and forwards the message to the server for
// the global fan-out.
func (a *InstanceActor) handleChat(m ClientChat) {
	ctrl := a.controllers[m.CtrlID]
	if ctrl == nil {
		return
	}
	if ctrl.State != StateLive {
		a.errorClose(ctrl, "controller is not live")
		return
	}
	if len(m.Text) > utils.ChatMessageMax {
		a.errorClose(ctrl, "chat message too long")
		return
	}
	if ctrl.ChatTokens <= 0 {
		a.errorClose(ctrl, "chat too fast")
		return
	}

	ctrl.ChatTokens--
	ctrl.chatTimers = append(ctrl.chatTimers,
		a.engine.SendLater(utils.ChatTokenRefill, a.selfPID, chatRefill{CtrlID: ctrl.ID}))
	a.engine.Send(a.serverPID, ChatBroadcastRequest{CtrlID: ctrl.ID, Username: ctrl.Username, Text: m.Text}, a.selfPID)
}

// handleChatRefill returns one spent token and tells the client.
func (a *InstanceActor) handleChatRefill(ctrlID int64) {
	ctrl := a.controllers[ctrlID]
	if ctrl == nil || ctrl.State != StateLive {
		return
	}
	if len(ctrl.chatTimers) > 0 {
		ctrl.chatTimers = ctrl.chatTimers[1:]
	}
	if ctrl.ChatTokens < utils.ChatTokenMax {
		ctrl.ChatTokens++
		a.sendTo(ctrl, ChatTokenNotice{K: "G"})
	}
}

// refreshIdle re-arms the controller's inactivity timeout.
func (a *InstanceActor) refreshIdle(ctrl *Controller) {
	if ctrl.idleTimer != nil {
		ctrl.idleTimer.Stop()
	}
	ctrl.idleTimer = a.engine.SendLater(utils.InactivityTimeout, a.selfPID, inactivityTimeout{CtrlID: ctrl.ID})
}

// errorClose surfaces a protocol error as an E notice, closes the socket,
// and detaches the controller.
func (a *InstanceActor) errorClose(ctrl *Controller, reason string) {
	a.log.Info("error close",
		slog.String("username", ctrl.Username),
		slog.Int64("controller", ctrl.ID),
		slog.String("reason", reason))
	a.sendTo(ctrl, ErrorNotice{K: "E", E: reason})
	a.dropController(ctrl)
}

// dropController handles a departed socket according to lifecycle state: a
// LIVE controller gets a Disconnect stamped at the present frame and waits
// in OUTBOX for it to cross the horizon; an INBOX controller simply dies.
func (a *InstanceActor) dropController(ctrl *Controller) {
	if ctrl.Conn != nil {
		_ = ctrl.Conn.Close()
		ctrl.Conn = nil
	}
	ctrl.StopTimers()

	switch ctrl.State {
	case StateLive:
		delete(a.live, ctrl.Username)
		ctrl.State = StateOutbox
		a.outbox[ctrl.Username] = ctrl

		// No admitted event may outlive the roster entry. A controller may
		// have stamped events up to the future horizon, so the Disconnect
		// goes at its window start when that is ahead of the present: a
		// frame input at f leaves MinFrame at f+1, and a command at f sorts
		// before a Disconnect at f.
		frame := a.inst.Clock.PresentFrame()
		if ctrl.MinFrame > frame {
			frame = ctrl.MinFrame
		}
		ev := Event{Kind: KindDisconnect, Frame: frame, Controller: ctrl.ID}
		a.inst.AddEvent(ev)
		a.broadcastNotice(ev.Notice(0))
		a.engine.Send(a.serverPID, UsernameOutbox{Username: ctrl.Username}, a.selfPID)
		a.log.Info("controller to outbox",
			slog.String("username", ctrl.Username),
			slog.Int64("controller", ctrl.ID),
			slog.Int64("frame", ev.Frame))

	case StateInbox:
		delete(a.inbox, ctrl.Username)
		delete(a.controllers, ctrl.ID)
		ctrl.State = StateDead
		// The predecessor's OUTBOX record still holds the username.
		a.engine.Send(a.serverPID, UsernameOutbox{Username: ctrl.Username}, a.selfPID)

	case StateOutbox:
		// Already detached; the Disconnect is still in flight.
	}
}

// handleSnapshotRequest serializes the instance for persistence.
func (a *InstanceActor) handleSnapshotRequest(ctx bollywood.Context) {
	data, err := a.inst.Module.Serialize(a.inst.State)
	if err != nil {
		ctx.Reply(err)
		return
	}
	status := make(map[int64]ControllerStatus, len(a.inst.Status))
	for id, st := range a.inst.Status {
		status[id] = *st
	}
	ctx.Reply(SnapshotResult{
		PlaysetName: a.inst.Module.Name(),
		State:       data,
		Status:      status,
	})
}
