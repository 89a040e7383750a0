package relay

import (
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/playset"
	"github.com/lguibr/lockstep/utils"
)

// InstanceActor owns one instance: its past-horizon state, its controllers,
// and the advancer timer. All mutation happens inside this actor's loop, so
// event ordering between controllers is decided solely by the canonical sort
// at advance time.
type InstanceActor struct {
	engine    *bollywood.Engine
	log       *slog.Logger
	serverPID *bollywood.PID
	selfPID   *bollywood.PID

	inst *Instance

	// controllers indexes every non-DEAD controller by ID; live, inbox and
	// outbox index the same records by username per lifecycle state.
	controllers map[int64]*Controller
	live        map[string]*Controller
	inbox       map[string]*Controller
	outbox      map[string]*Controller

	hashSyncInterval    int64
	frameNoticeInterval int64

	tickTimer *time.Timer
	halted    bool

	now func() time.Time
}

// InstanceArgs holds arguments for creating an InstanceActor.
type InstanceArgs struct {
	Engine    *bollywood.Engine
	Log       *slog.Logger
	ServerPID *bollywood.PID

	Name   string
	Module *playset.Module
	State  any
	Status map[int64]*ControllerStatus

	HashSyncInterval    int64
	FrameNoticeInterval int64

	// Now overrides the clock source in tests.
	Now func() time.Time
}

// NewInstanceProducer creates a producer for an InstanceActor.
func NewInstanceProducer(args InstanceArgs) bollywood.Producer {
	return func() bollywood.Actor {
		hashSync := args.HashSyncInterval
		if hashSync <= 0 {
			hashSync = utils.HashSyncInterval
		}
		frameNotice := args.FrameNoticeInterval
		if frameNotice <= 0 {
			frameNotice = utils.FrameNoticeInterval
		}
		now := args.Now
		if now == nil {
			now = time.Now
		}
		return &InstanceActor{
			engine:              args.Engine,
			log:                 args.Log.With(slog.String("instance", args.Name)),
			serverPID:           args.ServerPID,
			inst:                NewInstance(args.Name, args.Module, args.State, args.Status, now()),
			controllers:         make(map[int64]*Controller),
			live:                make(map[string]*Controller),
			inbox:               make(map[string]*Controller),
			outbox:              make(map[string]*Controller),
			hashSyncInterval:    hashSync,
			frameNoticeInterval: frameNotice,
			now:                 now,
		}
	}
}

// Receive is the main message handler for the InstanceActor.
func (a *InstanceActor) Receive(ctx bollywood.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in instance actor",
				slog.Any("reason", r),
				slog.String("stack", string(debug.Stack())))
			a.halt("internal error")
		}
	}()

	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	if a.halted {
		if _, ok := ctx.Message().(bollywood.Stopping); ok {
			a.shutdown()
		}
		if ctx.IsAsk() {
			ctx.Reply(errInstanceHalted)
		}
		return
	}

	switch msg := ctx.Message().(type) {
	case bollywood.Started:
		a.log.Info("instance started",
			slog.String("playset", a.inst.Module.Name()),
			slog.Int("roster", len(a.inst.Status)))

	case AttachController:
		a.handleAttach(ctx, msg)

	case ClientFrame:
		a.handleFrame(msg)

	case ClientCommand:
		a.handleCommand(msg)

	case ClientChat:
		a.handleChat(msg)

	case ClientBad:
		if ctrl := a.controllers[msg.CtrlID]; ctrl != nil {
			a.errorClose(ctrl, msg.Reason)
		}

	case SocketClosed:
		if ctrl := a.controllers[msg.CtrlID]; ctrl != nil {
			a.dropController(ctrl)
		}

	case inactivityTimeout:
		if ctrl := a.controllers[msg.CtrlID]; ctrl != nil && ctrl.State == StateLive {
			a.errorClose(ctrl, "inactivity timeout")
		}

	case chatRefill:
		a.handleChatRefill(msg.CtrlID)

	case advanceTick:
		a.handleAdvanceTick()

	case GlobalChat:
		a.broadcastNotice(ChatRelay{K: "g", C: msg.CtrlID, U: msg.Username, M: msg.Text})

	case SnapshotRequest:
		a.handleSnapshotRequest(ctx)

	case bollywood.Stopping:
		a.shutdown()

	case bollywood.Stopped:

	default:
		a.log.Warn("unknown message", slog.Any("type", msg))
	}
}

// scheduleTick arms the advancer timer for the next frame deadline, clamped
// to now (no pacing-ahead).
func (a *InstanceActor) scheduleTick() {
	if a.tickTimer != nil {
		a.tickTimer.Stop()
	}
	d := a.inst.Clock.NextDeadline().Sub(a.now())
	if d < 0 {
		d = 0
	}
	a.tickTimer = a.engine.SendLater(d, a.selfPID, advanceTick{})
}

// suspend parks the advancer: no timer is pending and HorizonTime goes
// stale until the next login rebases it.
func (a *InstanceActor) suspend() {
	a.inst.Suspended = true
	if a.tickTimer != nil {
		a.tickTimer.Stop()
		a.tickTimer = nil
	}
	a.log.Info("instance suspended", slog.Int64("frame", a.inst.Clock.HorizonFrame))
}

// unsuspend rebases the clock and arms the timer. Safe to call when already
// running.
func (a *InstanceActor) unsuspend() {
	if !a.inst.Suspended {
		return
	}
	a.inst.Suspended = false
	a.inst.Clock.Rebase(a.now())
	a.scheduleTick()
	a.log.Info("instance resumed", slog.Int64("frame", a.inst.Clock.HorizonFrame))
}

// halt stops the instance after an internal invariant violation. This is
// fatal: it indicates a sort-order or lifecycle bug, not a client mistake.
func (a *InstanceActor) halt(reason string) {
	if a.halted {
		return
	}
	a.halted = true
	a.log.Error("instance halted", slog.String("reason", reason))
	for _, ctrl := range a.live {
		a.sendTo(ctrl, ErrorNotice{K: "E", E: "instance halted"})
	}
	a.shutdown()
	a.engine.Stop(a.selfPID)
}

// shutdown cancels timers and closes every connection.
func (a *InstanceActor) shutdown() {
	if a.tickTimer != nil {
		a.tickTimer.Stop()
		a.tickTimer = nil
	}
	for _, ctrl := range a.controllers {
		ctrl.StopTimers()
		if ctrl.Conn != nil {
			_ = ctrl.Conn.Close()
			ctrl.Conn = nil
		}
		ctrl.State = StateDead
	}
}
