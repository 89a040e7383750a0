package relay

import (
	"fmt"
	"log/slog"

	"github.com/lguibr/lockstep/playset"
)

// handleAdvanceTick advances the horizon for every frame whose deadline has
// passed, then either re-arms the timer or suspends the instance.
func (a *InstanceActor) handleAdvanceTick() {
	if a.inst.Suspended {
		return
	}

	now := a.now()
	for a.inst.Clock.Due(now) {
		a.advanceFrame()
		if a.halted {
			return
		}
	}

	if !a.inst.HasEvents() && len(a.live) == 0 {
		a.suspend()
		return
	}
	a.scheduleTick()
}

// advanceFrame folds the horizon frame's event bucket into the past-horizon
// state and moves the horizon forward one frame.
func (a *InstanceActor) advanceFrame() {
	inst := a.inst
	folded := inst.Clock.HorizonFrame

	bucket := inst.TakeBucket(folded)
	SortEvents(bucket)

	var (
		connects    []playset.Connect
		commands    []playset.Command
		frames      []Event
		disconnects []playset.Disconnect
	)
	for _, ev := range bucket {
		switch ev.Kind {
		case KindConnect:
			connects = append(connects, playset.Connect{
				Controller: ev.Controller,
				Username:   ev.Username,
				Profile:    ev.Profile,
			})
			// The roster entry exists before the playset runs, so the
			// connecting member is visible to Advance.
			inst.Status[ev.Controller] = &ControllerStatus{Username: ev.Username}
		case KindCommand:
			commands = append(commands, playset.Command{
				Controller: ev.Controller,
				Serial:     ev.Serial,
				Verb:       ev.Verb,
				Arg:        ev.Arg,
			})
		case KindFrame:
			frames = append(frames, ev)
		case KindDisconnect:
			disconnects = append(disconnects, playset.Disconnect{Controller: ev.Controller})
		}
	}

	for _, ev := range frames {
		status, present := inst.Status[ev.Controller]
		if !present {
			// A frame input from a controller the roster never saw means the
			// canonical ordering or the lifecycle machine is broken.
			a.halt(fmt.Sprintf("frame event from unknown controller %d at frame %d", ev.Controller, folded))
			return
		}
		status.LastInput = ev.Input
	}

	inst.State = inst.Module.Advance(inst.State, connects, commands, inst.Inputs(), disconnects)

	for _, d := range disconnects {
		delete(inst.Status, d.Controller)
		a.retireController(d.Controller)
	}

	inst.Clock.Tick()
	a.emitFrameNotice(folded)
}

// retireController destroys the OUTBOX record whose Disconnect just crossed
// the horizon and promotes a waiting INBOX login for the same username.
func (a *InstanceActor) retireController(ctrlID int64) {
	ctrl := a.controllers[ctrlID]
	if ctrl == nil || ctrl.State != StateOutbox {
		// Synthesised frame-1 disconnects have no session behind them.
		return
	}
	username := ctrl.Username
	delete(a.outbox, username)
	delete(a.controllers, ctrl.ID)
	ctrl.State = StateDead

	if waiting := a.inbox[username]; waiting != nil {
		delete(a.inbox, username)
		a.goLive(waiting)
		a.engine.Send(a.serverPID, UsernameLive{Username: username}, a.selfPID)
		a.log.Info("inbox promoted",
			slog.String("username", username),
			slog.Int64("controller", waiting.ID))
		return
	}
	a.engine.Send(a.serverPID, UsernameReleased{Username: username}, a.selfPID)
}

// emitFrameNotice sends the scheduled F notice for the frame that was just
// folded: a hash sync on hash-sync frames, a plain advance notice on
// frame-notice frames, nothing otherwise.
func (a *InstanceActor) emitFrameNotice(folded int64) {
	frame := a.inst.Clock.HorizonFrame
	if folded%a.hashSyncInterval == 0 {
		hash, err := a.inst.Module.Hash(a.inst.State)
		if err != nil {
			a.halt("hashing horizon state: " + err.Error())
			return
		}
		a.broadcastNotice(FrameNotice{K: "F", F: frame, H: &hash})
		return
	}
	if folded%a.frameNoticeInterval == 0 {
		a.broadcastNotice(FrameNotice{K: "F", F: frame})
	}
}
