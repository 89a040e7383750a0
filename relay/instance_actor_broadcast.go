package relay

import (
	"github.com/lguibr/lockstep/utils"
	"golang.org/x/net/websocket"
)

// sendTo writes one JSON message to a controller's socket. Returns false on
// failure; the caller decides whether that kills the controller.
func (a *InstanceActor) sendTo(ctrl *Controller, v any) bool {
	if ctrl.Conn == nil {
		return false
	}
	return websocket.JSON.Send(ctrl.Conn, v) == nil
}

// broadcastNotice fans one message out to every live subscriber. Send
// failures mark the target for error-close but never abort the fan-out.
func (a *InstanceActor) broadcastNotice(v any) {
	var failed []*Controller
	for _, ctrl := range a.live {
		if !a.sendTo(ctrl, v) {
			failed = append(failed, ctrl)
		}
	}
	a.dropFailed(failed)
}

// broadcastEvent relays an admitted event. The sender's copy of its own
// frame event carries a fresh timing pong; that one copy is re-serialised
// per recipient. When echoOnly is set (a duplicate frame input) only the
// sender hears the echo.
func (a *InstanceActor) broadcastEvent(ev Event, sender *Controller, echoOnly bool) {
	pong := a.inst.Clock.Pong(a.now())

	var failed []*Controller
	for _, ctrl := range a.live {
		if echoOnly && ctrl != sender {
			continue
		}
		var v any
		if ev.Kind == KindFrame && ctrl == sender {
			v = ev.Notice(pong)
		} else {
			v = ev.Notice(0)
		}
		if !a.sendTo(ctrl, v) {
			failed = append(failed, ctrl)
		}
	}
	a.dropFailed(failed)
}

func (a *InstanceActor) dropFailed(failed []*Controller) {
	for _, ctrl := range failed {
		a.dropController(ctrl)
	}
}

// sendSnapshot sends the initial S message: the roster and serialized state
// as of the horizon, plus every pending event (unsorted) so the client can
// replay itself up to the present.
func (a *InstanceActor) sendSnapshot(ctrl *Controller) {
	data, err := a.inst.Module.Serialize(a.inst.State)
	if err != nil {
		a.halt("serializing horizon state: " + err.Error())
		return
	}

	status := make(map[string]StatusWire, len(a.inst.Status))
	for id, st := range a.inst.Status {
		status[formatID(id)] = StatusWire{U: st.Username, I: st.LastInput}
	}

	pending := a.inst.PendingEvents()
	wireEvents := make([]any, 0, len(pending))
	for _, ev := range pending {
		wireEvents = append(wireEvents, ev.Notice(0))
	}

	ok := a.sendTo(ctrl, SnapshotNotice{
		K: "S",
		P: a.inst.Module.Name(),
		C: ctrl.ID,
		X: status,
		G: data,
		F: a.inst.Clock.HorizonFrame,
		E: wireEvents,
		R: utils.FrameRate,
		L: utils.ChatMessageMax,
		M: ctrl.ChatTokens,
	})
	if !ok {
		a.dropController(ctrl)
	}
}
